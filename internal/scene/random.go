package scene

import (
	"math/rand/v2"
	"sort"
	"time"
)

// Weighted is one entry of a scene pool.
type Weighted struct {
	Scene  string
	Weight int
}

// StartOfDay returns local midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayStable picks from pool by weight. The choice depends only on seed, the calendar
// day of now and the pool contents, so every call during one day returns the same
// scene. Entries with a non-positive weight are never picked.
func DayStable(seed int64, now time.Time, pool []Weighted) string {
	entries := make([]Weighted, 0, len(pool))
	total := 0
	for _, w := range pool {
		if w.Weight > 0 {
			entries = append(entries, w)
			total += w.Weight
		}
	}
	if total == 0 {
		return ""
	}
	// Map iteration in config decoding has no stable order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Scene < entries[j].Scene })

	day := uint64(StartOfDay(now).Unix())
	rng := rand.New(rand.NewPCG(splitmix(day), splitmix(day^splitmix(uint64(seed)))))

	n := rng.IntN(total)
	for _, w := range entries {
		if n < w.Weight {
			return w.Scene
		}
		n -= w.Weight
	}
	return entries[len(entries)-1].Scene
}

// splitmix spreads nearby seeds (consecutive days) across the PCG state space.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Package geo computes sunrise and sunset for the configured home location.
package geo

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AstroTimes contains astronomical times for a day
type AstroTimes struct {
	Dawn     time.Time `json:"dawn"`
	Sunrise  time.Time `json:"sunrise"`
	Noon     time.Time `json:"noon"`
	Sunset   time.Time `json:"sunset"`
	Dusk     time.Time `json:"dusk"`
	Midnight time.Time `json:"midnight"`
}

// Event names accepted by AstroTimes.Get.
const (
	EventDawn     = "dawn"
	EventSunrise  = "sunrise"
	EventNoon     = "noon"
	EventSunset   = "sunset"
	EventDusk     = "dusk"
	EventMidnight = "midnight"
)

// Get returns the time of a named event.
func (a *AstroTimes) Get(event string) (time.Time, error) {
	switch event {
	case EventDawn:
		return a.Dawn, nil
	case EventSunrise:
		return a.Sunrise, nil
	case EventNoon:
		return a.Noon, nil
	case EventSunset:
		return a.Sunset, nil
	case EventDusk:
		return a.Dusk, nil
	case EventMidnight:
		return a.Midnight, nil
	}
	return time.Time{}, fmt.Errorf("unknown astronomical event %q", event)
}

// Calculator calculates astronomical times for one location
type Calculator struct {
	lat, lon float64
	tz       *time.Location

	mu    sync.RWMutex
	cache map[string]*AstroTimes // by date
}

// NewCalculator creates a calculator for the given coordinates.
func NewCalculator(lat, lon float64, tz *time.Location) *Calculator {
	if tz == nil {
		tz = time.UTC
	}
	log.Info().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("timezone", tz.String()).
		Msg("Geo calculator initialized")

	return &Calculator{lat: lat, lon: lon, tz: tz, cache: make(map[string]*AstroTimes)}
}

// Location returns the calculator's time zone.
func (c *Calculator) Location() *time.Location {
	return c.tz
}

// Times returns astronomical times for the calendar day of date in the home time zone.
func (c *Calculator) Times(date time.Time) *AstroTimes {
	date = date.In(c.tz)
	key := date.Format("2006-01-02")

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	times := c.calculate(date)

	c.mu.Lock()
	c.cache[key] = times
	c.mu.Unlock()
	return times
}

// SunUp reports whether now is between the day's sunrise and sunset.
func (c *Calculator) SunUp(now time.Time) bool {
	t := c.Times(now)
	return !now.Before(t.Sunrise) && now.Before(t.Sunset)
}

func (c *Calculator) calculate(date time.Time) *AstroTimes {
	// The NOAA sunrise equation expects JD at noon, not midnight.
	jd := toJulianDay(date) + 0.5
	s := solarPosition(jd, c.lon)

	return &AstroTimes{
		Dawn:     c.at(date, s.hourAngle(c.lat, -6.0, true)),
		Sunrise:  c.at(date, s.hourAngle(c.lat, -0.833, true)),
		Noon:     c.at(date, s.transit),
		Sunset:   c.at(date, s.hourAngle(c.lat, -0.833, false)),
		Dusk:     c.at(date, s.hourAngle(c.lat, -6.0, false)),
		Midnight: time.Date(date.Year(), date.Month(), date.Day()+1, 0, 0, 0, 0, c.tz),
	}
}

// toJulianDay converts a date to Julian day number
func toJulianDay(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
}

type solar struct {
	transit     float64 // Julian date of solar noon
	declination float64 // radians
}

func solarPosition(jd, lon float64) solar {
	jStar := jd - 2451545.0 + 0.0008 - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	c := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambdaRad := math.Mod(m+c+180+102.9372, 360.0) * math.Pi / 180.0

	return solar{
		transit:     2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad),
		declination: math.Asin(math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0)),
	}
}

// hourAngle returns the Julian date at which the sun crosses angle degrees of altitude.
// Polar day and night clamp to noon/midnight.
func (s solar) hourAngle(lat, angle float64, rising bool) float64 {
	latRad := lat * math.Pi / 180.0
	angleRad := angle * math.Pi / 180.0

	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(s.declination)) /
		(math.Cos(latRad) * math.Cos(s.declination))
	cosOmega = math.Max(-1, math.Min(1, cosOmega))

	omega := math.Acos(cosOmega) * 180.0 / math.Pi
	if rising {
		return s.transit - omega/360.0
	}
	return s.transit + omega/360.0
}

// at converts a Julian date to a wall-clock time on the reference day.
func (c *Calculator) at(day time.Time, jd float64) time.Time {
	unix := (jd - 2440587.5) * 86400.0
	sec, frac := math.Modf(unix)
	t := time.Unix(int64(sec), int64(frac*1e9)).In(c.tz)
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, c.tz)
}

package scene

// BetweenHours reports whether hour falls in [start, end). When start >= end the
// window wraps past midnight, so BetweenHours(23, 22, 5) is true.
func BetweenHours(hour, start, end int) bool {
	if start < end {
		return start <= hour && hour < end
	}
	return hour >= start || hour < end
}

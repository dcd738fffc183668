package mqtt

import "strings"

// Matcher checks if a value matches a pattern.
// Implementations are immutable and safe for concurrent use.
type Matcher interface {
	Matches(value string) bool
	String() string
}

type matchAny struct{}

func (matchAny) Matches(string) bool { return true }
func (matchAny) String() string      { return "*" }

type matchExact string

func (m matchExact) Matches(value string) bool { return string(m) == value }
func (m matchExact) String() string            { return string(m) }

type matchOneOf []string

func (m matchOneOf) Matches(value string) bool {
	for _, v := range m {
		if v == value {
			return true
		}
	}
	return false
}

func (m matchOneOf) String() string {
	if len(m) == 0 {
		return "(none)"
	}
	return strings.Join(m, "|")
}

// ParseMatcher builds the domain filter for ingested states.
//   - "" or "*" matches everything
//   - "light|switch" matches any listed value
//   - anything else matches exactly
func ParseMatcher(pattern string) Matcher {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return matchAny{}
	}
	if !strings.Contains(pattern, "|") {
		return matchExact(pattern)
	}
	var values []string
	for _, v := range strings.Split(pattern, "|") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return matchOneOf(values)
}

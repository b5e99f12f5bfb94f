package config

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind is the matching strategy of an output rule.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPrefix  MatchKind = "prefix"
	MatchSuffix  MatchKind = "suffix"
	MatchRegex   MatchKind = "regex"
	MatchGlob    MatchKind = "glob"
	MatchDefault MatchKind = "default"
)

// Match is a parsed "kind:pattern" rule selector.
type Match struct {
	Kind    MatchKind
	Pattern string
}

func (m Match) String() string {
	if m.Kind == MatchDefault {
		return string(MatchDefault)
	}
	return string(m.Kind) + ":" + m.Pattern
}

// ParseMatch parses a selector such as "prefix:DP-". A bare name without a
// kind is an exact match; "default" (or "*") is the fallback rule.
func ParseMatch(s string) (Match, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Match{}, fmt.Errorf("match must not be empty")
	}
	if s == string(MatchDefault) || s == "*" {
		return Match{Kind: MatchDefault}, nil
	}

	kind, pattern, ok := strings.Cut(s, ":")
	if !ok {
		return Match{Kind: MatchExact, Pattern: s}, nil
	}

	m := Match{Kind: MatchKind(strings.ToLower(kind)), Pattern: pattern}
	switch m.Kind {
	case MatchExact, MatchPrefix, MatchSuffix:
	case MatchRegex:
		if _, err := regexp.Compile(pattern); err != nil {
			return Match{}, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
	case MatchGlob:
		if _, err := regexp.Compile(GlobToRegexp(pattern)); err != nil {
			return Match{}, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
	default:
		// Output names never contain ':' in practice; treat unknown kinds as
		// a typo rather than an exact name.
		return Match{}, fmt.Errorf("unknown match kind %q (want exact, prefix, suffix, regex, glob or default)", kind)
	}
	if m.Pattern == "" {
		return Match{}, fmt.Errorf("%s match requires a pattern", m.Kind)
	}
	return m, nil
}

// GlobToRegexp converts a glob with '*' and '?' into an anchored regexp.
func GlobToRegexp(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

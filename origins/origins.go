// Package origins implements trusted-origin matching for the guest/host
// channel. A guest only applies messages whose sender origin matches one of
// a finite list of externally owned patterns; everything else is dropped as
// noise. The Matcher interface is the injection point (any predicate
// works); PatternList is the stock implementation.
package origins

import (
	"net/url"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Matcher reports whether a resolved sender origin is trusted.
type Matcher interface {
	Matches(origin string) bool
}

// MatcherFunc adapts a plain function to the Matcher interface.
type MatcherFunc func(origin string) bool

func (f MatcherFunc) Matches(origin string) bool { return f(origin) }

// None matches no origin. It is the safe default when no pattern list has
// been configured: every inbound message is dropped.
var None Matcher = MatcherFunc(func(string) bool { return false })

// Config for the stock pattern list. Defaults can be loaded via envdecode.
type Config struct {
	// AllowedOrigins is a ;-separated list of hostname patterns, each an
	// exact hostname, a wildcard pattern like *.example.com, or a full URL
	// whose hostname is used. ENV: HOSTCOMM_ALLOWED_ORIGINS
	AllowedOrigins []string `env:"HOSTCOMM_ALLOWED_ORIGINS"`
}

// PatternList matches origins against an ordered list of hostname patterns.
// Matching is case-insensitive. Each candidate is checked against every
// pattern in turn; the first match wins.
//
// A pattern may be:
//   - an exact hostname or raw origin string ("editor.example.com", "null")
//   - a wildcard hostname, where "*" spans one or more labels
//     ("*.example.com" matches "a.example.com" and "a.b.example.com")
//   - a full URL, in which case its hostname is the effective pattern
type PatternList struct {
	patterns []string
}

// NewPatternList builds a PatternList. Patterns that are full URLs are
// reduced to their hostname; empty patterns are discarded.
func NewPatternList(patterns ...string) *PatternList {
	l := &PatternList{}
	l.patterns = normalize(patterns)
	return l
}

// NewFromEnv builds a PatternList using envdecode to populate Config.
func NewFromEnv() *PatternList {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return NewPatternList(cfg.AllowedOrigins...)
}

// Patterns returns the normalized pattern set, in match order.
func (l *PatternList) Patterns() []string {
	return append([]string(nil), l.patterns...)
}

// Matches implements Matcher.
func (l *PatternList) Matches(origin string) bool {
	candidate := strings.ToLower(strings.TrimSpace(origin))
	if candidate == "" {
		return false
	}
	for _, pat := range l.patterns {
		if matchPattern(pat, candidate) {
			return true
		}
	}
	return false
}

func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		// Full-URL patterns are reduced to their hostname.
		if host := hostnameOf(p); host != "" {
			p = host
		}
		out = append(out, p)
	}
	return out
}

// hostnameOf returns the hostname of a well-formed absolute URL, or "" when
// the value is not one. Bare hostnames and wildcard patterns fall through
// unchanged via the "" return.
func hostnameOf(raw string) string {
	if !strings.Contains(raw, "://") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// matchPattern matches a single hostname pattern against a candidate.
// "*" spans one or more dot-separated labels; everything else is literal.
func matchPattern(pattern, candidate string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == candidate
	}

	// Split on wildcards and require the literal chunks to appear in order,
	// anchored at both ends.
	chunks := strings.Split(pattern, "*")
	rest := candidate
	for i, chunk := range chunks {
		if chunk == "" {
			continue
		}
		idx := strings.Index(rest, chunk)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		rest = rest[idx+len(chunk):]
	}
	if last := chunks[len(chunks)-1]; last != "" && !strings.HasSuffix(candidate, last) {
		return false
	}
	return true
}

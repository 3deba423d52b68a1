// Package normalize holds the pure text/URL/time helpers shared by every
// extraction path. Nothing here touches the network or the DOM.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Whitespace collapses runs of whitespace to single spaces and trims.
func Whitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// ResolveURL resolves raw against origin and returns the absolute URL string.
// javascript: URLs and unparseable input return "" — fail closed, never panic.
func ResolveURL(raw, origin string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme == "javascript" {
		return ""
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return ""
		}
		return u.String()
	}

	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" {
		return ""
	}
	return base.ResolveReference(u).String()
}

// FindID returns the first regex match across a prioritized pattern list,
// or "" when nothing matches. Patterns with a capture group return the
// group; plain patterns return the whole match.
func FindID(text string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1]
		}
		if m[0] != "" {
			return m[0]
		}
	}
	return ""
}

// RelativeTime renders a timestamp as "just now", "Nm ago", "Nh ago" or
// "Nd ago". It accepts epoch seconds, epoch milliseconds, or anything
// dateparse understands (ISO-8601 and friends). Unparseable input yields "".
func RelativeTime(value string) string {
	t := ParseTimestamp(value)
	if t.IsZero() {
		return ""
	}
	return SinceText(time.Since(t))
}

// ParseTimestamp parses epoch seconds, epoch millis, or a textual date.
// Returns the zero time when nothing parses.
func ParseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return EpochToTime(n)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return EpochToTime(int64(f))
	}

	t, err := dateparse.ParseAny(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EpochToTime interprets n as epoch seconds or milliseconds, whichever is
// plausible. Values past the year ~33658 in seconds are taken as millis.
func EpochToTime(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// SinceText buckets a duration into the hub's relative-time vocabulary.
func SinceText(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// Slug lowercases s and reduces it to [a-z0-9-], used to synthesize an id
// from a title when a provider exposes no stable identifier.
func Slug(s string) string {
	s = strings.ToLower(Whitespace(s))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

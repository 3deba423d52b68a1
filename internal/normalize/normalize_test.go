package normalize

import (
	"regexp"
	"strconv"
	"testing"
	"time"
)

func TestWhitespace(t *testing.T) {
	cases := map[string]string{
		"  hello   world ":   "hello world",
		"a\n\tb":              "a b",
		"":                    "",
		"   ":                 "",
		"no change":           "no change",
	}
	for in, want := range cases {
		if got := Whitespace(in); got != want {
			t.Errorf("Whitespace(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	if got := ResolveURL("javascript:alert(1)", "https://example.com"); got != "" {
		t.Errorf("javascript: URL should resolve to empty, got %q", got)
	}
	if got := ResolveURL("JavaScript:void(0)", "https://example.com"); got != "" {
		t.Errorf("mixed-case javascript: URL should resolve to empty, got %q", got)
	}
	if got := ResolveURL("/c/123", "https://example.com"); got != "https://example.com/c/123" {
		t.Errorf("relative resolve = %q", got)
	}
	if got := ResolveURL("https://other.com/x", "https://example.com"); got != "https://other.com/x" {
		t.Errorf("absolute passthrough = %q", got)
	}
	if got := ResolveURL("ftp://example.com/x", "https://example.com"); got != "" {
		t.Errorf("non-http scheme should be rejected, got %q", got)
	}
	if got := ResolveURL("/c/1", "not a url"); got != "" {
		t.Errorf("bad origin should fail closed, got %q", got)
	}
	if got := ResolveURL("", "https://example.com"); got != "" {
		t.Errorf("empty input should stay empty, got %q", got)
	}
}

func TestFindID(t *testing.T) {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`/c/([0-9a-f-]{36})`),
		regexp.MustCompile(`conversation-([a-z0-9]+)`),
	}

	id := FindID("/c/6ba7b810-9dad-11d1-80b4-00c04fd430c8?x=1", patterns)
	if id != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("uuid pattern: got %q", id)
	}

	if id := FindID("data-id=conversation-abc123", patterns); id != "abc123" {
		t.Errorf("fallback pattern: got %q", id)
	}

	if id := FindID("nothing here", patterns); id != "" {
		t.Errorf("no match should return empty, got %q", id)
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Now()

	if got := RelativeTime(strconv.FormatInt(now.Unix(), 10)); got != "just now" {
		t.Errorf("epoch seconds now: got %q", got)
	}
	millis := now.Add(-30 * time.Minute).UnixMilli()
	if got := RelativeTime(strconv.FormatInt(millis, 10)); got != "30m ago" {
		t.Errorf("epoch millis 30m: got %q", got)
	}
	iso := now.Add(-49 * time.Hour).UTC().Format(time.RFC3339)
	if got := RelativeTime(iso); got != "2d ago" {
		t.Errorf("iso 2d: got %q", got)
	}
	if got := RelativeTime("not a date"); got != "" {
		t.Errorf("garbage should yield empty, got %q", got)
	}
	if got := RelativeTime(""); got != "" {
		t.Errorf("empty should yield empty, got %q", got)
	}
}

func TestSlug(t *testing.T) {
	if got := Slug("  How do I  (quickly) sort?! "); got != "how-do-i-quickly-sort" {
		t.Errorf("Slug = %q", got)
	}
	if got := Slug("___"); got != "" {
		t.Errorf("symbol-only slug should be empty, got %q", got)
	}
}

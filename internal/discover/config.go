package discover

import (
	"regexp"
	"time"
)

// ClimbRule is the broadest candidate fallback: match title nodes, then climb
// a fixed number of ancestor levels to reach the item element.
type ClimbRule struct {
	Selector string
	Levels   int
}

// Config drives one discovery run inside a conversation-list page. All knobs
// are optional; Engine applies the defaults below.
type Config struct {
	// Origin overrides the document URL as the base for resolving relative
	// conversation links.
	Origin string

	// Marker is a provider-specific substring ("/c/", "conversation-id", ...)
	// whose presence identifies history UI and boosts ID-match scores.
	Marker string

	// ItemSelectors are tried in order; the first selector producing any
	// candidates wins. ClimbSelectors run only when all of them fail.
	ItemSelectors  []string
	ClimbSelectors []ClimbRule

	// TitleSelectors are tried in order against each item; fallback is
	// aria-label, then the title attribute, then full text content.
	TitleSelectors []string

	// URL acceptance: a candidate link must contain at least one PathHint
	// (when set), every Include substring, and no Exclude substring.
	PathHints []string
	Include   []string
	Exclude   []string

	// IDRegexes mine an identifier from attribute blobs when no usable href
	// exists. AllowMissingURL permits emitting items with an empty URL
	// (click-to-open providers).
	IDRegexes       []*regexp.Regexp
	AllowMissingURL bool

	// Placeholders extends the built-in UI-chrome title filter.
	Placeholders []string

	// Attribute bag bounds, kept small to avoid pathological scans.
	AttributeSelectors []string
	AttributeScanLimit int // descendant nodes inspected, default 6
	AncestorLevels     int // ancestors inspected, default 2

	// Wait loop: poll until WaitForMinItems found; with WaitForStableItems
	// the count must also hold for StableIntervals consecutive polls.
	WaitForMinItems    int
	WaitForStableItems bool
	StableIntervals    int
	PollInterval       time.Duration // default 250ms
	WaitBudget         time.Duration // default 4s

	// Scroll-assisted discovery: drive the list container until DesiredItems
	// are found (0 disables scrolling).
	DesiredItems             int
	ScrollContainerSelectors []string
	MaxScrollSteps           int           // default 12
	NoGrowthLimit            int           // default 3
	ScrollBudget             time.Duration // default 6s

	MaxShadowRoots int // bounded shadow-DOM BFS frontier, default 64
	MaxItems       int // result truncation, default 200
}

func (c Config) withDefaults() Config {
	if c.AttributeScanLimit == 0 {
		c.AttributeScanLimit = 6
	}
	if c.AncestorLevels == 0 {
		c.AncestorLevels = 2
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.WaitBudget == 0 {
		c.WaitBudget = 4 * time.Second
	}
	if c.StableIntervals == 0 {
		c.StableIntervals = 2
	}
	if c.MaxScrollSteps == 0 {
		c.MaxScrollSteps = 12
	}
	if c.NoGrowthLimit == 0 {
		c.NoGrowthLimit = 3
	}
	if c.ScrollBudget == 0 {
		c.ScrollBudget = 6 * time.Second
	}
	if c.MaxShadowRoots == 0 {
		c.MaxShadowRoots = 64
	}
	if c.MaxItems == 0 {
		c.MaxItems = 200
	}
	return c
}

// placeholderTitles is UI chrome that shows up inside conversation lists and
// must never be reported as a conversation.
var placeholderTitles = []string{
	"new chat",
	"new conversation",
	"settings",
	"search chats",
	"explore gpts",
	"upgrade plan",
	"library",
	"help",
}

// isPlaceholder reports whether a normalized lower-case title is (or starts
// a phrase of) known list chrome.
func isPlaceholder(title string, extra []string) bool {
	for _, set := range [][]string{placeholderTitles, extra} {
		for _, p := range set {
			if title == p || len(title) > len(p) && title[:len(p)] == p && title[len(p)] == ' ' {
				return true
			}
		}
	}
	return false
}

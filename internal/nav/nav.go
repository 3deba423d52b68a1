// Package nav implements the in-page conversation navigator: it segments an
// open chat page into turns, extracts headings from AI answers, and keeps a
// jumpable outline in sync with the page.
package nav

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bep/debounce"
	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/bridge"
	"github.com/lotas/convhub/internal/dom"
	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

// State is the navigator lifecycle. Disabled is terminal: once torn down, a
// navigator never comes back for the same page visit.
type State int

const (
	Detecting State = iota
	Mounted
	Open
	Disabled
)

func (s State) String() string {
	switch s {
	case Detecting:
		return "detecting"
	case Mounted:
		return "mounted"
	case Open:
		return "open"
	case Disabled:
		return "disabled"
	}
	return "unknown"
}

// Rule tells the scanner how one host's chat page is shaped.
type Rule struct {
	Host          string
	UserSelectors []string
	AISelectors   []string
	// previewLen caps the turn text carried into the outline.
	PreviewLen int
}

var rules = []Rule{
	{
		Host:          "chatgpt.com",
		UserSelectors: []string{`[data-message-author-role="user"]`},
		AISelectors:   []string{`[data-message-author-role="assistant"]`},
	},
	{
		Host:          "claude.ai",
		UserSelectors: []string{`[data-testid="user-message"]`},
		AISelectors:   []string{`[data-is-streaming]`, `.font-claude-message`},
	},
	{
		Host:          "gemini.google.com",
		UserSelectors: []string{"user-query"},
		AISelectors:   []string{"model-response"},
	},
	{
		Host:          "chat.deepseek.com",
		UserSelectors: []string{`[class*="user-message"]`},
		AISelectors:   []string{".ds-markdown"},
	},
}

// RuleFor returns the scanning rule for a hostname, false when the host has
// no navigator support.
func RuleFor(host string) (Rule, bool) {
	host = strings.ToLower(host)
	for _, r := range rules {
		if host == r.Host || strings.HasSuffix(host, "."+r.Host) {
			return r, true
		}
	}
	return Rule{}, false
}

var headingSelector = "h1, h2, h3, h4"

// Scan segments the document into conversation turns in page order. Headings
// are collected from AI turns only; user prompts are kept as one-line items.
func Scan(doc *dom.Document, rule Rule) []types.NavItem {
	previewLen := rule.PreviewLen
	if previewLen == 0 {
		previewLen = 80
	}

	userPaths := map[string]bool{}
	for _, sel := range rule.UserSelectors {
		for _, n := range doc.QueryAll(sel) {
			userPaths[n.Path()] = true
		}
	}

	all := strings.Join(append(append([]string{}, rule.UserSelectors...), rule.AISelectors...), ", ")

	seen := map[string]bool{}
	var items []types.NavItem
	for _, n := range doc.QueryAll(all) {
		path := n.Path()
		if seen[path] {
			continue
		}
		seen[path] = true

		role := "ai"
		if userPaths[path] {
			role = "user"
		}

		text := normalize.Whitespace(n.Text())
		if text == "" {
			continue
		}
		if len(text) > previewLen {
			cut := previewLen
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}

		item := types.NavItem{
			Role:  role,
			Text:  text,
			Index: len(items),
			ID:    fmt.Sprintf("nav-item-%d", len(items)),
			Path:  path,
		}
		if role == "ai" {
			for _, h := range n.QueryAll(headingSelector) {
				htext := normalize.Whitespace(h.Text())
				if htext == "" {
					continue
				}
				item.Headings = append(item.Headings, types.NavHeading{
					Text:  htext,
					Level: int(h.Tag()[1] - '0'),
					Path:  h.Path(),
				})
			}
		}
		items = append(items, item)
	}
	return items
}

// FilterItems narrows nav items by a case-insensitive substring query and,
// optionally, to user prompts only. Heading text counts as a match.
func FilterItems(items []types.NavItem, query string, promptsOnly bool) []types.NavItem {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []types.NavItem
	for _, it := range items {
		if promptsOnly && it.Role != "user" {
			continue
		}
		if query != "" && !matchesQuery(it, query) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func matchesQuery(it types.NavItem, query string) bool {
	if strings.Contains(strings.ToLower(it.Text), query) {
		return true
	}
	for _, h := range it.Headings {
		if strings.Contains(strings.ToLower(h.Text), query) {
			return true
		}
	}
	return false
}

// PageSource supplies fresh snapshots of the tracked page.
type PageSource interface {
	Snapshot(ctx context.Context) (*dom.Document, error)
}

// Navigator tracks one page visit.
type Navigator struct {
	source PageSource
	rule   Rule

	mu       sync.Mutex
	state    State
	items    []types.NavItem
	activeID string

	requestRescan func(func())
}

// New builds a navigator for the page at host. An unsupported host yields a
// navigator already in the Disabled state.
func New(source PageSource, host string) *Navigator {
	n := &Navigator{
		source:        source,
		state:         Detecting,
		requestRescan: debounce.New(250 * time.Millisecond),
	}
	rule, ok := RuleFor(host)
	if !ok {
		n.state = Disabled
		applog.Info("nav.unsupported", "host", host)
		return n
	}
	n.rule = rule
	return n
}

// State returns the current lifecycle state.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Items returns the current outline.
func (n *Navigator) Items() []types.NavItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.NavItem, len(n.items))
	copy(out, n.items)
	return out
}

// ActiveID returns the item currently in the viewport.
func (n *Navigator) ActiveID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeID
}

// Rescan snapshots the page and rebuilds the outline wholesale. A vanished
// bridge tears the navigator down for good; any other failure keeps the last
// outline and waits for the next trigger.
func (n *Navigator) Rescan(ctx context.Context) error {
	n.mu.Lock()
	if n.state == Disabled {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	doc, err := n.source.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, bridge.ErrNoClient) || errors.Is(err, bridge.ErrTimeout) {
			n.Disable()
			return err
		}
		applog.Error("nav.rescan", err)
		return err
	}

	items := Scan(doc, n.rule)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Disabled {
		return nil
	}
	n.items = items
	if n.state == Detecting && len(items) > 0 {
		n.state = Mounted
	}
	// The rebuild invalidates positional ids.
	if n.activeID != "" && !hasID(items, n.activeID) {
		n.activeID = ""
	}
	return nil
}

func hasID(items []types.NavItem, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// RequestRescan schedules a debounced rescan; bursts of DOM mutations
// collapse into one scan.
func (n *Navigator) RequestRescan(ctx context.Context) {
	n.requestRescan(func() {
		if err := n.Rescan(ctx); err != nil {
			applog.Error("nav.debounced-rescan", err)
		}
	})
}

// SetViewport records which item is on screen. Viewport changes never
// rebuild the outline; only the active marker moves.
func (n *Navigator) SetViewport(activeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Disabled {
		return
	}
	if hasID(n.items, activeID) {
		n.activeID = activeID
	}
}

// Open expands the panel. No-op unless mounted.
func (n *Navigator) Open() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Mounted {
		n.state = Open
	}
}

// Close collapses the panel back to the mounted pill.
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Open {
		n.state = Mounted
	}
}

// Disable tears the navigator down permanently for this page visit.
func (n *Navigator) Disable() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Disabled {
		return
	}
	n.state = Disabled
	n.items = nil
	n.activeID = ""
	applog.Info("nav.disabled")
}

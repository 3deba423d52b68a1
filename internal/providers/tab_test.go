package providers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/lotas/convhub/internal/discover"
	"github.com/lotas/convhub/internal/dom"
	"github.com/lotas/convhub/internal/types"
)

// fakeBrowser serves canned documents per tab and records activations.
type fakeBrowser struct {
	mu        sync.Mutex
	connected bool
	tabs      []types.Tab
	docs      map[int]string // tabID -> html, re-parsed per snapshot
	activated []int
	// onActivate lets a test swap a tab's document when it gains focus.
	onActivate func(tabID int)
}

func (f *fakeBrowser) Connected() bool { return f.connected }

func (f *fakeBrowser) Tabs(ctx context.Context, pattern string) ([]types.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Tab
	for _, t := range f.tabs {
		if pattern == "" || strings.Contains(t.URL, pattern) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBrowser) Activate(ctx context.Context, tabID int) error {
	f.mu.Lock()
	f.activated = append(f.activated, tabID)
	for i := range f.tabs {
		f.tabs[i].Active = f.tabs[i].ID == tabID
	}
	cb := f.onActivate
	f.mu.Unlock()
	if cb != nil {
		cb(tabID)
	}
	return nil
}

func (f *fakeBrowser) Pager(tabID int, mainWorld bool) discover.Pager {
	return &fakeTabPager{f: f, tabID: tabID}
}

type fakeTabPager struct {
	f     *fakeBrowser
	tabID int
}

func (p *fakeTabPager) Snapshot(ctx context.Context) (*dom.Document, error) {
	p.f.mu.Lock()
	src := p.f.docs[p.tabID]
	p.f.mu.Unlock()
	if src == "" {
		src = "<html></html>"
	}
	return dom.Parse(src, "https://chat.example.com/")
}

func (p *fakeTabPager) Scroll(ctx context.Context, path string, top int) error { return nil }

func convList(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><nav>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<a class="conv" href="/c/%s">Chat %s</a>`, id, id)
	}
	b.WriteString("</nav></body></html>")
	return b.String()
}

func testTabConfig() discover.Config {
	return discover.Config{
		Marker:        "/c/",
		ItemSelectors: []string{"a.conv"},
		PathHints:     []string{"/c/"},
		IDRegexes:     []*regexp.Regexp{regexp.MustCompile(`/c/([0-9a-z-]{4,})`)},
	}
}

func TestTabSourceNeedsTab(t *testing.T) {
	src := &tabSource{id: "gemini", browser: &fakeBrowser{connected: false}, hint: "open the app"}
	res := src.List(context.Background())
	if res.Status != types.StatusNeedsTab {
		t.Fatalf("disconnected bridge: status = %s", res.Status)
	}

	src.browser = &fakeBrowser{connected: true}
	res = src.List(context.Background())
	if res.Status != types.StatusNeedsTab || res.Error != "open the app" {
		t.Fatalf("no matching tab: %+v", res)
	}
}

func TestTabSourceScrapesActiveTab(t *testing.T) {
	fb := &fakeBrowser{
		connected: true,
		tabs: []types.Tab{
			{ID: 1, URL: "https://chat.example.com/", Active: false},
			{ID: 2, URL: "https://chat.example.com/", Active: true},
		},
		docs: map[int]string{
			1: convList("aaaa"),
			2: convList("bbbb", "cccc"),
		},
	}
	src := &tabSource{id: "deepseek", browser: fb, pattern: "chat.example.com", cfg: testTabConfig()}
	res := src.List(context.Background())
	if res.Status != types.StatusOK || len(res.Items) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Items[0].ID != "bbbb" {
		t.Errorf("active tab should be scraped, got %+v", res.Items[0])
	}
}

func TestTabSourceRacePicksRichestTab(t *testing.T) {
	fb := &fakeBrowser{
		connected: true,
		tabs: []types.Tab{
			{ID: 1, URL: "https://chat.example.com/", Active: true},
			{ID: 2, URL: "https://chat.example.com/"},
		},
		docs: map[int]string{
			1: convList("aaaa"),
			2: convList("bbbb", "cccc", "dddd"),
		},
	}
	src := &tabSource{id: "copilot", browser: fb, pattern: "chat.example.com", cfg: testTabConfig(), pickBestTab: true}
	res := src.List(context.Background())
	if res.Status != types.StatusOK || len(res.Items) != 3 {
		t.Fatalf("richest tab should win: %+v", res)
	}
}

func TestTabSourceForegroundRetry(t *testing.T) {
	// Background tab renders a single row until it gains focus.
	fb := &fakeBrowser{
		connected: true,
		tabs: []types.Tab{
			{ID: 1, URL: "https://chat.example.com/app", Active: false},
			{ID: 9, URL: "https://other.example.com/", Active: true},
		},
		docs: map[int]string{1: convList("aaaa")},
	}
	fb.onActivate = func(tabID int) {
		if tabID == 1 {
			fb.mu.Lock()
			fb.docs[1] = convList("aaaa", "bbbb", "cccc", "dddd")
			fb.mu.Unlock()
		}
	}

	src := &tabSource{
		id:       "gemini",
		browser:  fb,
		pattern:  "chat.example.com",
		cfg:      testTabConfig(),
		twoPhase: true,
	}
	res := src.List(context.Background())
	if res.Status != types.StatusOK {
		t.Fatalf("status = %s (%s)", res.Status, res.Error)
	}
	if len(res.Items) != 4 {
		t.Fatalf("foreground retry should win with 4 items, got %d", len(res.Items))
	}
	if len(fb.activated) != 2 || fb.activated[0] != 1 || fb.activated[1] != 9 {
		t.Errorf("activation order = %v, want provider tab then restore", fb.activated)
	}
}

func TestTabSourceForegroundRetrySkippedWhenEnough(t *testing.T) {
	fb := &fakeBrowser{
		connected: true,
		tabs:      []types.Tab{{ID: 1, URL: "https://chat.example.com/app", Active: false}},
		docs:      map[int]string{1: convList("aaaa", "bbbb")},
	}
	src := &tabSource{id: "gemini", browser: fb, pattern: "chat.example.com", cfg: testTabConfig(), twoPhase: true}
	res := src.List(context.Background())
	if len(res.Items) != 2 {
		t.Fatalf("items = %d", len(res.Items))
	}
	if len(fb.activated) != 0 {
		t.Errorf("no activation expected when the background scrape suffices, got %v", fb.activated)
	}
}

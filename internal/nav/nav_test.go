package nav

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/lotas/convhub/internal/bridge"
	"github.com/lotas/convhub/internal/dom"
)

const chatPage = `<html><body><main>
  <div data-message-author-role="user">How do I profile a Go service?</div>
  <div data-message-author-role="assistant">
    <h2>Using pprof</h2>
    <p>Import net/http/pprof and hit the debug endpoints.</p>
    <h3>CPU profiles</h3>
    <p>Start with a 30 second CPU profile.</p>
  </div>
  <div data-message-author-role="user">What about memory?</div>
  <div data-message-author-role="assistant"><p>Use the heap profile.</p></div>
</main></body></html>`

func parsePage(t *testing.T, src string) *dom.Document {
	t.Helper()
	doc, err := dom.Parse(src, "https://chatgpt.com/c/abc")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func chatgptRule(t *testing.T) Rule {
	t.Helper()
	rule, ok := RuleFor("chatgpt.com")
	if !ok {
		t.Fatal("no rule for chatgpt.com")
	}
	return rule
}

func TestScanSegmentsTurns(t *testing.T) {
	items := Scan(parsePage(t, chatPage), chatgptRule(t))
	if len(items) != 4 {
		t.Fatalf("items = %d, want 4", len(items))
	}

	wantRoles := []string{"user", "ai", "user", "ai"}
	for i, want := range wantRoles {
		if items[i].Role != want {
			t.Errorf("items[%d].Role = %q, want %q", i, items[i].Role, want)
		}
		if items[i].ID != fmt.Sprintf("nav-item-%d", i) {
			t.Errorf("items[%d].ID = %q", i, items[i].ID)
		}
	}

	// Headings come from AI turns only.
	if len(items[0].Headings) != 0 {
		t.Errorf("user turn should carry no headings: %+v", items[0].Headings)
	}
	if len(items[1].Headings) != 2 {
		t.Fatalf("headings = %+v", items[1].Headings)
	}
	if items[1].Headings[0].Text != "Using pprof" || items[1].Headings[0].Level != 2 {
		t.Errorf("heading[0] = %+v", items[1].Headings[0])
	}
	if items[1].Headings[1].Level != 3 {
		t.Errorf("heading[1] = %+v", items[1].Headings[1])
	}
}

func TestScanPreviewTruncation(t *testing.T) {
	rule := chatgptRule(t)
	rule.PreviewLen = 10
	items := Scan(parsePage(t, chatPage), rule)
	if len(items[0].Text) > 10 {
		t.Errorf("preview not truncated: %q", items[0].Text)
	}
}

func TestScanPreviewKeepsRuneBoundary(t *testing.T) {
	page := `<html><body><main>
	  <div data-message-author-role="user">crème brûlée, torch or broiler?</div>
	  <div data-message-author-role="assistant"><p>Torch, always.</p></div>
	</main></body></html>`

	rule := chatgptRule(t)
	rule.PreviewLen = 3 // lands inside the two-byte è
	items := Scan(parsePage(t, page), rule)
	if len(items) == 0 {
		t.Fatal("no items")
	}

	got := items[0].Text
	if !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
	if len(got) > 3 {
		t.Errorf("preview too long: %q", got)
	}
	if got != "cr" {
		t.Errorf("preview = %q, want %q", got, "cr")
	}
}

func TestFilterItems(t *testing.T) {
	items := Scan(parsePage(t, chatPage), chatgptRule(t))

	got := FilterItems(items, "memory", false)
	if len(got) != 1 || got[0].Role != "user" {
		t.Fatalf("query filter: %+v", got)
	}

	// Heading text counts as a match.
	got = FilterItems(items, "pprof", false)
	if len(got) != 1 || got[0].Role != "ai" {
		t.Fatalf("heading match: %+v", got)
	}

	got = FilterItems(items, "", true)
	if len(got) != 2 {
		t.Fatalf("prompts only: %+v", got)
	}
	for _, it := range got {
		if it.Role != "user" {
			t.Errorf("prompts-only returned %q", it.Role)
		}
	}
}

type staticSource struct {
	doc *dom.Document
	err error
}

func (s *staticSource) Snapshot(ctx context.Context) (*dom.Document, error) {
	return s.doc, s.err
}

func TestNavigatorLifecycle(t *testing.T) {
	src := &staticSource{doc: parsePage(t, chatPage)}
	n := New(src, "chatgpt.com")
	if n.State() != Detecting {
		t.Fatalf("state = %s", n.State())
	}

	if err := n.Rescan(context.Background()); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if n.State() != Mounted {
		t.Fatalf("state after scan = %s", n.State())
	}
	if len(n.Items()) != 4 {
		t.Fatalf("items = %d", len(n.Items()))
	}

	n.Open()
	if n.State() != Open {
		t.Errorf("state = %s", n.State())
	}
	n.Close()
	if n.State() != Mounted {
		t.Errorf("state = %s", n.State())
	}

	n.SetViewport("nav-item-2")
	if n.ActiveID() != "nav-item-2" {
		t.Errorf("activeID = %q", n.ActiveID())
	}
	n.SetViewport("nav-item-99")
	if n.ActiveID() != "nav-item-2" {
		t.Errorf("unknown id must not move the marker, got %q", n.ActiveID())
	}
}

func TestNavigatorUnsupportedHost(t *testing.T) {
	n := New(&staticSource{}, "news.example.com")
	if n.State() != Disabled {
		t.Fatalf("state = %s", n.State())
	}
	if err := n.Rescan(context.Background()); err != nil {
		t.Errorf("rescan on disabled navigator should be a no-op, got %v", err)
	}
}

func TestNavigatorDisablesWhenBridgeGone(t *testing.T) {
	src := &staticSource{doc: parsePage(t, chatPage)}
	n := New(src, "chatgpt.com")
	n.Rescan(context.Background())

	src.err = fmt.Errorf("capture-dom: %w", bridge.ErrNoClient)
	src.doc = nil
	if err := n.Rescan(context.Background()); !errors.Is(err, bridge.ErrNoClient) {
		t.Fatalf("err = %v", err)
	}
	if n.State() != Disabled {
		t.Fatalf("bridge loss must disable, state = %s", n.State())
	}
	if len(n.Items()) != 0 {
		t.Errorf("teardown should clear items")
	}

	// Disabled is terminal.
	src.err = nil
	src.doc = parsePage(t, chatPage)
	n.Rescan(context.Background())
	if n.State() != Disabled {
		t.Errorf("navigator came back from Disabled")
	}
}

func TestNavigatorSurvivesTransientErrors(t *testing.T) {
	src := &staticSource{doc: parsePage(t, chatPage)}
	n := New(src, "chatgpt.com")
	n.Rescan(context.Background())

	src.err = errors.New("transient parse failure")
	if err := n.Rescan(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if n.State() != Mounted {
		t.Errorf("transient error must not disable, state = %s", n.State())
	}
	if len(n.Items()) != 4 {
		t.Errorf("outline should survive a failed rescan, items = %d", len(n.Items()))
	}
}

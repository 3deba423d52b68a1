package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/discover"
	"github.com/lotas/convhub/internal/dom"
	"github.com/lotas/convhub/internal/types"
)

// CaptureOptions controls a DOM capture.
type CaptureOptions struct {
	// AllFrames captures every frame of the tab instead of just the top one.
	AllFrames bool
	// MainWorld asks the extension to serialize from the page's own realm
	// (needed when framework in-memory state, not just the DOM, matters).
	// Falls back to the isolated world when the host rejects the request.
	MainWorld bool
	Timeout   time.Duration
}

// CaptureDOM captures the serialized DOM of a tab as one or more parsed
// documents (one per frame).
func (b *Bridge) CaptureDOM(ctx context.Context, tabID int, opts CaptureOptions) ([]*dom.Document, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	msg := OutgoingMsg{Action: "capture-dom", TabID: tabID, AllFrames: opts.AllFrames, MainWorld: opts.MainWorld}
	resp, err := b.roundTrip(ctx, msg, timeout)
	if err != nil && opts.MainWorld && isMainWorldRejection(resp, err) {
		applog.Info("bridge.mainworld.fallback", "tab", tabID)
		msg.MainWorld = false
		resp, err = b.roundTrip(ctx, msg, timeout)
	}
	if err != nil {
		return nil, err
	}

	var docs []*dom.Document
	if len(resp.Frames) > 0 {
		for _, f := range resp.Frames {
			d, perr := dom.Parse(f.HTML, f.URL)
			if perr != nil {
				applog.Error("bridge.frame.parse", perr, "tab", tabID)
				continue
			}
			docs = append(docs, d)
		}
	} else if resp.HTML != "" {
		d, perr := dom.Parse(resp.HTML, resp.URL)
		if perr != nil {
			return nil, perr
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func isMainWorldRejection(resp IncomingMsg, err error) bool {
	if resp.Error != "" && strings.Contains(strings.ToLower(resp.Error), "main world") {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "main world")
}

// RunFrames captures all frames of a tab, runs extract against each frame's
// document, and merges the per-frame results by dedupe key
// (url, then id, then title:sourceIndex) — first frame wins.
func (b *Bridge) RunFrames(ctx context.Context, tabID int, opts CaptureOptions, extract func(*dom.Document) []types.ConversationItem) ([]types.ConversationItem, error) {
	opts.AllFrames = true
	docs, err := b.CaptureDOM(ctx, tabID, opts)
	if err != nil {
		return nil, err
	}
	return MergeFrameItems(collectFrames(docs, extract)), nil
}

func collectFrames(docs []*dom.Document, extract func(*dom.Document) []types.ConversationItem) [][]types.ConversationItem {
	out := make([][]types.ConversationItem, 0, len(docs))
	for _, d := range docs {
		out = append(out, extract(d))
	}
	return out
}

// MergeFrameItems merges per-frame item lists, deduping across frames while
// preserving first-seen order.
func MergeFrameItems(perFrame [][]types.ConversationItem) []types.ConversationItem {
	seen := map[string]bool{}
	var out []types.ConversationItem
	for _, items := range perFrame {
		for _, it := range items {
			key := it.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, it)
		}
	}
	return out
}

// tabPager adapts one live tab to the discovery engine's Pager.
type tabPager struct {
	b         *Bridge
	tabID     int
	mainWorld bool
}

// Pager returns a discover.Pager for the given tab.
func (b *Bridge) Pager(tabID int, mainWorld bool) discover.Pager {
	return &tabPager{b: b, tabID: tabID, mainWorld: mainWorld}
}

func (p *tabPager) Snapshot(ctx context.Context) (*dom.Document, error) {
	docs, err := p.b.CaptureDOM(ctx, p.tabID, CaptureOptions{MainWorld: p.mainWorld})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return dom.Parse("<html></html>", "")
	}
	return docs[0], nil
}

func (p *tabPager) Scroll(ctx context.Context, path string, top int) error {
	return p.b.Scroll(ctx, p.tabID, path, top)
}

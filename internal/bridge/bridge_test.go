package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lotas/convhub/internal/types"
	"nhooyr.io/websocket"
)

// fakeExtension connects a client and answers commands like the browser
// extension would.
func fakeExtension(t *testing.T, b *Bridge, handle func(OutgoingMsg) IncomingMsg) func() {
	t.Helper()
	ts := httptest.NewServer(b.Handler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var cmd OutgoingMsg
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			resp := handle(cmd)
			resp.ID = cmd.ID
			out, _ := json.Marshal(resp)
			conn.Write(ctx, websocket.MessageText, out)
		}
	}()

	// Give the server a moment to register the connection.
	deadline := time.Now().Add(time.Second)
	for !b.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	return func() {
		conn.CloseNow()
		cancel()
		ts.Close()
	}
}

func okPtr() *bool { v := true; return &v }

func TestTabsRoundTrip(t *testing.T) {
	b := New(0)
	done := fakeExtension(t, b, func(cmd OutgoingMsg) IncomingMsg {
		if cmd.Action != "query-tabs" || cmd.Pattern != "chat.example.com" {
			t.Errorf("unexpected command %+v", cmd)
		}
		tabs, _ := json.Marshal([]types.Tab{{ID: 7, URL: "https://chat.example.com/", Active: true}})
		return IncomingMsg{OK: okPtr(), Tabs: tabs}
	})
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tabs, err := b.Tabs(ctx, "chat.example.com")
	if err != nil {
		t.Fatalf("Tabs: %v", err)
	}
	if len(tabs) != 1 || tabs[0].ID != 7 || !tabs[0].Active {
		t.Fatalf("tabs = %+v", tabs)
	}
}

func TestCaptureDOMMainWorldFallback(t *testing.T) {
	b := New(0)
	calls := 0
	done := fakeExtension(t, b, func(cmd OutgoingMsg) IncomingMsg {
		if cmd.Action != "capture-dom" {
			return IncomingMsg{OK: okPtr()}
		}
		calls++
		if cmd.MainWorld {
			no := false
			return IncomingMsg{OK: &no, Error: "main world execution rejected"}
		}
		return IncomingMsg{OK: okPtr(), HTML: "<html><body><p>hi</p></body></html>", URL: "https://x.example.com/"}
	})
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	docs, err := b.CaptureDOM(ctx, 1, CaptureOptions{MainWorld: true})
	if err != nil {
		t.Fatalf("CaptureDOM: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected main-world attempt then isolated fallback, got %d calls", calls)
	}
	if len(docs) != 1 || docs[0].Query("p") == nil {
		t.Fatalf("docs = %v", docs)
	}
}

func TestNoClient(t *testing.T) {
	b := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.Tabs(ctx, ""); err != ErrNoClient {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
}

func TestMergeFrameItems(t *testing.T) {
	frames := [][]types.ConversationItem{
		{
			{ID: "a", URL: "https://x/c/a", Title: "A"},
			{ID: "b", URL: "", Title: "B"},
		},
		{
			{ID: "a", URL: "https://x/c/a", Title: "A again"}, // dup by url
			{ID: "b", URL: "", Title: "ignored"},              // dup by id
			{ID: "c", URL: "https://x/c/c", Title: "C"},
		},
	}
	got := MergeFrameItems(frames)
	if len(got) != 3 {
		t.Fatalf("expected 3 merged items, got %d", len(got))
	}
	if got[0].Title != "A" || got[1].Title != "B" || got[2].Title != "C" {
		t.Errorf("merge order/first-wins broken: %+v", got)
	}
}

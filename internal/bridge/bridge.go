// Package bridge is the WebSocket link to the companion browser extension.
// The extension connects to a localhost port; the daemon sends it commands
// (query tabs, capture a tab's DOM, scroll, click, activate) and correlates
// responses by message id.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/types"
	"nhooyr.io/websocket"
)

// ErrNoClient means no extension is currently connected.
var ErrNoClient = errors.New("no extension connected")

// ErrTimeout means the extension did not answer a command in time.
var ErrTimeout = errors.New("timed out waiting for extension response")

// Frame is one document of a multi-frame capture.
type Frame struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// IncomingMsg is a message from the extension to the daemon.
type IncomingMsg struct {
	Type string `json:"type"`
	// Command response fields
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`

	Tabs   json.RawMessage `json:"tabs,omitempty"`
	HTML   string          `json:"html,omitempty"`
	Frames []Frame         `json:"frames,omitempty"`

	// Event fields
	TabID int    `json:"tabId,omitempty"`
	URL   string `json:"url,omitempty"`
	Path  string `json:"path,omitempty"`
}

// OutgoingMsg is a command from the daemon to the extension.
type OutgoingMsg struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Pattern   string `json:"pattern,omitempty"`
	TabID     int    `json:"tabId,omitempty"`
	AllFrames bool   `json:"allFrames,omitempty"`
	MainWorld bool   `json:"mainWorld,omitempty"`
	Path      string `json:"path,omitempty"`
	Top       *int   `json:"top,omitempty"`
	Selector  string `json:"selector,omitempty"`
}

// Bridge manages the WebSocket connection to the extension.
type Bridge struct {
	port int

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg

	events chan IncomingMsg
}

// New creates a Bridge. ListenAndServe must be called before commands work.
func New(port int) *Bridge {
	return &Bridge{
		port:    port,
		pending: make(map[string]chan IncomingMsg),
		events:  make(chan IncomingMsg, 64),
	}
}

// Port returns the configured port.
func (b *Bridge) Port() int { return b.port }

// Events returns unsolicited messages from the extension (dom-changed,
// viewport updates) for continuous consumers like the navigator.
func (b *Bridge) Events() <-chan IncomingMsg { return b.events }

// Connected reports whether an extension is connected.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *Bridge) send(msg OutgoingMsg) error {
	b.mu.Lock()
	conn := b.conn
	ctx := b.connCtx
	b.mu.Unlock()

	if conn == nil {
		return ErrNoClient
	}

	applog.Info("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// roundTrip sends a command and waits for the correlated response.
func (b *Bridge) roundTrip(ctx context.Context, msg OutgoingMsg, timeout time.Duration) (IncomingMsg, error) {
	msg.ID = uuid.NewString()

	ch := make(chan IncomingMsg, 1)
	b.mu.Lock()
	b.pending[msg.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	if err := b.send(msg); err != nil {
		return IncomingMsg{}, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%s failed: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-t.C:
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ErrTimeout)
	case <-ctx.Done():
		return IncomingMsg{}, ctx.Err()
	}
}

// dispatch routes an incoming message to its waiting caller, or onto the
// event channel when unsolicited. Events are dropped when the consumer
// lags; they are advisory.
func (b *Bridge) dispatch(msg IncomingMsg) {
	if msg.ID != "" {
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		b.mu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}
	select {
	case b.events <- msg:
	default:
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(32 << 20) // 32 MB — full-page DOM captures can be large

		ctx := r.Context()
		b.mu.Lock()
		if b.conn != nil {
			applog.Info("ws.replaced")
			b.conn.CloseNow()
		}
		b.conn = conn
		b.connCtx = ctx
		b.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				b.connCtx = nil
			}
			b.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			b.dispatch(msg)
		}
	})
}

// ListenAndServe starts the WebSocket server on the configured port.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", b.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", b.port)
	applog.Info("bridge.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}

// Tabs queries open tabs whose URL contains pattern (empty = all).
func (b *Bridge) Tabs(ctx context.Context, pattern string) ([]types.Tab, error) {
	resp, err := b.roundTrip(ctx, OutgoingMsg{Action: "query-tabs", Pattern: pattern}, 10*time.Second)
	if err != nil {
		return nil, err
	}
	var tabs []types.Tab
	if len(resp.Tabs) > 0 {
		if err := json.Unmarshal(resp.Tabs, &tabs); err != nil {
			return nil, fmt.Errorf("parse tabs: %w", err)
		}
	}
	return tabs, nil
}

// Activate brings a tab to the foreground.
func (b *Bridge) Activate(ctx context.Context, tabID int) error {
	_, err := b.roundTrip(ctx, OutgoingMsg{Action: "activate", TabID: tabID}, 10*time.Second)
	return err
}

// Scroll sets the scroll offset of the element at path inside the tab.
func (b *Bridge) Scroll(ctx context.Context, tabID int, path string, top int) error {
	_, err := b.roundTrip(ctx, OutgoingMsg{Action: "scroll", TabID: tabID, Path: path, Top: &top}, 10*time.Second)
	return err
}

// Click dispatches a synthetic click on the element at path.
func (b *Bridge) Click(ctx context.Context, tabID int, path string) error {
	_, err := b.roundTrip(ctx, OutgoingMsg{Action: "click", TabID: tabID, Path: path}, 10*time.Second)
	return err
}

// Watch subscribes the extension's mutation observer to a container inside
// the tab; subsequent changes arrive as dom-changed events.
func (b *Bridge) Watch(ctx context.Context, tabID int, selector string) error {
	_, err := b.roundTrip(ctx, OutgoingMsg{Action: "watch", TabID: tabID, Selector: selector}, 10*time.Second)
	return err
}

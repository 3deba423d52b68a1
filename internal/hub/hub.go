// Package hub aggregates conversation lists across all registered provider
// sources into one merged, cached view.
package hub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/history"
	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/providers"
	"github.com/lotas/convhub/internal/storage"
	"github.com/lotas/convhub/internal/types"
)

// ErrSyncInFlight is returned when Sync is called while a previous sync is
// still running. Callers wait for the running sync instead of stacking.
var ErrSyncInFlight = errors.New("sync already in flight")

// Hub owns the cached document and coordinates syncs across sources.
type Hub struct {
	sources []providers.Source
	db      *sql.DB

	mu      sync.Mutex
	syncing bool
	doc     *types.HubDocument
	// errs holds the last sync's per-service error strings. Shown in the
	// status view, never persisted.
	errs map[string]string

	now func() time.Time
}

// New builds a hub over the given sources, loading any cached document.
// db may be nil for a cache-less hub (tests, one-shot commands).
func New(db *sql.DB, sources []providers.Source) (*Hub, error) {
	h := &Hub{
		sources: sources,
		db:      db,
		doc:     emptyDocument(),
		errs:    map[string]string{},
		now:     time.Now,
	}
	if db != nil {
		doc, err := storage.LoadDocument(db)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			h.doc = doc
		}
	}
	return h, nil
}

func emptyDocument() *types.HubDocument {
	return &types.HubDocument{
		Version:  types.HubDocumentVersion,
		Services: map[string]types.ServiceSnapshot{},
	}
}

// Sync queries every source concurrently and merges the results into the
// cached document. Fresh results (ok, empty) replace the provider's cached
// snapshot; stale results (unauthorized, needs-tab, error) update the status
// but keep previously known conversations. The document is persisted only
// when at least one provider came back fresh.
func (h *Hub) Sync(ctx context.Context) error {
	return h.sync(ctx, "")
}

// SyncOne syncs a single provider. Snapshots of all other providers are
// carried forward untouched.
func (h *Hub) SyncOne(ctx context.Context, serviceID string) error {
	return h.sync(ctx, serviceID)
}

func (h *Hub) sync(ctx context.Context, target string) error {
	sources := h.sources
	if target != "" {
		sources = nil
		for _, src := range h.sources {
			if src.ID() == target {
				sources = append(sources, src)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("unknown provider %q", target)
		}
	}

	h.mu.Lock()
	if h.syncing {
		h.mu.Unlock()
		return ErrSyncInFlight
	}
	h.syncing = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.syncing = false
		h.mu.Unlock()
	}()

	results := make([]types.AdapterResult, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src providers.Source) {
			defer wg.Done()
			results[i] = listSafely(ctx, src)
			applog.Info("hub.source", "id", src.ID(), "status", string(results[i].Status), "items", len(results[i].Items))
		}(i, src)
	}
	wg.Wait()

	nowMs := h.now().UnixMilli()
	anyFresh := false

	h.mu.Lock()
	for i, src := range sources {
		res := results[i]
		snap, had := h.doc.Services[src.ID()]
		snap.Label = src.Label()
		snap.Status = res.Status
		if res.Error != "" {
			h.errs[src.ID()] = res.Error
		} else {
			delete(h.errs, src.ID())
		}
		if res.Status.Fresh() {
			anyFresh = true
			snap.SavedAtMs = nowMs
			snap.Items = tagged(res.Items, src)
		} else if !had {
			snap.Items = nil
		}
		h.doc.Services[src.ID()] = snap
	}
	if anyFresh {
		h.doc.LastSyncMs = nowMs
	}
	doc := h.doc
	h.mu.Unlock()

	if !anyFresh {
		applog.Info("hub.sync", "fresh", 0)
		return nil
	}

	if h.db != nil {
		if err := storage.SaveDocument(h.db, doc); err != nil {
			return err
		}
		if _, wrote, err := history.Record(h.db, h.Merged()); err != nil {
			applog.Error("hub.history", err)
		} else if wrote {
			applog.Info("hub.history", "recorded", true)
		}
	}
	return nil
}

// listSafely converts an adapter panic into an error status. Sources parse
// hostile DOM and JSON; one bad adapter must not take down the sync.
func listSafely(ctx context.Context, src providers.Source) (res types.AdapterResult) {
	defer func() {
		if r := recover(); r != nil {
			applog.Error("hub.source.panic", fmt.Errorf("%v", r), "id", src.ID())
			res = types.AdapterResult{Status: types.StatusError, Error: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	return src.List(ctx)
}

func tagged(items []types.ConversationItem, src providers.Source) []types.ConversationItem {
	out := make([]types.ConversationItem, len(items))
	for i, it := range items {
		it.ServiceID = src.ID()
		it.ServiceLabel = src.Label()
		out[i] = it
	}
	return out
}

// Syncing reports whether a sync is currently running.
func (h *Hub) Syncing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncing
}

// LastSyncMs returns the timestamp of the last successful sync, 0 if never.
func (h *Hub) LastSyncMs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.LastSyncMs
}

// Merged flattens the cached document into one list: tagged with service
// identity, deduped by (service, conversation key), sorted by update time
// descending with unknown times last.
func (h *Hub) Merged() []types.ConversationItem {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.doc.Services))
	for id := range h.doc.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	seen := map[string]bool{}
	var out []types.ConversationItem
	for _, id := range ids {
		snap := h.doc.Services[id]
		for _, it := range snap.Items {
			key := id + "\x00" + it.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, it)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].UpdatedAtMs, out[j].UpdatedAtMs
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a > b
	})
	return out
}

// Statuses returns the per-service state in registry order.
func (h *Hub) Statuses() []types.ServiceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []types.ServiceStatus
	for _, src := range h.sources {
		snap, ok := h.doc.Services[src.ID()]
		status := types.ServiceStatus{ID: src.ID(), Label: src.Label(), Error: h.errs[src.ID()]}
		if ok {
			status.Status = snap.Status
		}
		out = append(out, status)
	}
	return out
}

// StatusLine summarizes services, conversation count and sync age in one
// line for the UI footer.
func (h *Hub) StatusLine() string {
	statuses := h.Statuses()
	counts := map[types.Status]int{}
	for _, s := range statuses {
		if s.Status != "" {
			counts[s.Status]++
		}
	}

	var parts []string
	for _, st := range []types.Status{types.StatusOK, types.StatusEmpty, types.StatusNeedsTab, types.StatusUnauthorized, types.StatusError, types.StatusUnsupported} {
		if n := counts[st]; n > 0 {
			parts = append(parts, pluralStatus(n, st))
		}
	}
	summary := strings.Join(parts, ", ")
	if summary == "" {
		summary = "never synced"
	}

	line := summary + " · " + pluralCount(len(h.Merged()), "conversation")
	if last := h.LastSyncMs(); last > 0 {
		line += " · synced " + normalize.SinceText(h.now().Sub(time.UnixMilli(last)))
	}
	return line
}

func pluralStatus(n int, st types.Status) string {
	return strconv.Itoa(n) + " " + string(st)
}

func pluralCount(n int, noun string) string {
	if n == 1 {
		return strconv.Itoa(n) + " " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

// Filter narrows the merged list: a case-insensitive substring query over
// title and service label, and an optional service id. Both conditions must
// hold.
func Filter(items []types.ConversationItem, query, serviceID string) []types.ConversationItem {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []types.ConversationItem
	for _, it := range items {
		if serviceID != "" && it.ServiceID != serviceID {
			continue
		}
		haystack := strings.ToLower(it.Title + " " + it.ServiceLabel)
		if query != "" && !strings.Contains(haystack, query) {
			continue
		}
		out = append(out, it)
	}
	return out
}

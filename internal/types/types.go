package types

import (
	"fmt"
	"strings"
)

// Status is the per-provider outcome vocabulary. ok and empty are "fresh"
// results that may overwrite cached data; everything else is "stale" and
// must never erase previously known conversations.
type Status string

const (
	StatusOK           Status = "ok"
	StatusEmpty        Status = "empty"
	StatusUnauthorized Status = "unauthorized"
	StatusNeedsTab     Status = "needs-tab"
	StatusUnsupported  Status = "unsupported"
	StatusError        Status = "error"
)

// Fresh reports whether a result with this status is safe to replace the
// provider's cache entry.
func (s Status) Fresh() bool {
	return s == StatusOK || s == StatusEmpty
}

// ConversationItem is one discovered conversation. ID is provider-scoped;
// URL may be empty for providers that only support click-to-open navigation,
// in which case SourceIndex plus Title act as a best-effort replay key.
type ConversationItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	UpdatedAtMs int64  `json:"updatedAt,omitempty"` // 0 = unknown
	SourceIndex int    `json:"sourceIndex,omitempty"`

	// Set by the hub when flattening provider result sets.
	ServiceID    string `json:"serviceId,omitempty"`
	ServiceLabel string `json:"serviceLabel,omitempty"`
}

// Key returns the dedupe key within one provider's result set:
// url, falling back to id, falling back to title:sourceIndex.
func (c ConversationItem) Key() string {
	if c.URL != "" {
		return c.URL
	}
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("%s:%d", strings.ToLower(c.Title), c.SourceIndex)
}

// AdapterResult is what a provider source returns from a single list call.
type AdapterResult struct {
	Items  []ConversationItem
	Status Status
	Error  string
}

// ServiceStatus is the last-known per-provider state, recomputed every sync.
type ServiceStatus struct {
	ID     string
	Label  string
	Status Status
	Error  string
}

// HubDocumentVersion gates the persisted cache. A document carrying any other
// version is discarded wholesale, never partially read.
const HubDocumentVersion = 3

// ServiceSnapshot is one provider's last fresh result set in the cache.
type ServiceSnapshot struct {
	Label     string             `json:"label"`
	Status    Status             `json:"status"`
	SavedAtMs int64              `json:"savedAtMs"`
	Items     []ConversationItem `json:"items"`
}

// HubDocument is the persisted cache: a single versioned JSON document keyed
// by provider id. Written only when at least one provider produced a fresh
// result; last writer wins.
type HubDocument struct {
	Version    int                        `json:"version"`
	LastSyncMs int64                      `json:"lastSyncMs"`
	Services   map[string]ServiceSnapshot `json:"services"`
}

// Tab describes one open browser tab as reported by the extension.
type Tab struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Active   bool   `json:"active"`
	WindowID int    `json:"windowId"`
	Index    int    `json:"index"`
}

// ExtractionResult is the outcome of a single-page content extraction.
// Produced per page visit and consumed immediately; never persisted.
type ExtractionResult struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	SiteType string `json:"siteType"`
	Method   string `json:"method"`
	URL      string `json:"url"`
}

// NavHeading is one heading inside an AI turn.
type NavHeading struct {
	Text  string
	Level int
	Path  string // positional node path into the scanned document
}

// NavItem is one conversation turn in the in-page navigator. Items are
// rebuilt wholesale on every rescan; ID is positional (nav-item-<i>).
type NavItem struct {
	Role     string // "user" or "ai"
	Text     string
	Headings []NavHeading
	Index    int
	ID       string
	Path     string
}

// Profile represents a Firefox profile (offline session-file source).
type Profile struct {
	Name       string
	Path       string // absolute path to profile directory
	IsDefault  bool
	IsRelative bool
}

// SessionTab is a tab read from the on-disk browser session store.
type SessionTab struct {
	URL            string
	Title          string
	LastAccessedMs int64
}

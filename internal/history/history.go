// Package history records the merged conversation list after each sync and
// diffs revisions against each other, so renames and deletions on the
// provider side stay visible.
package history

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lotas/convhub/internal/storage"
	"github.com/lotas/convhub/internal/types"
)

// DiffEntry represents a single conversation in a diff result.
type DiffEntry struct {
	Service  string
	Title    string
	URL      string
	OldTitle string // renamed entries only
}

// DiffResult holds the comparison of two item lists.
type DiffResult struct {
	FromRev int
	ToRev   int
	Added   []DiffEntry
	Removed []DiffEntry
	Renamed []DiffEntry
}

// Empty reports whether the diff carries no changes.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Renamed) == 0
}

// itemKey identifies a conversation across revisions: the provider plus the
// provider-scoped dedupe key.
func itemKey(it types.ConversationItem) string {
	return it.ServiceID + "\x00" + it.Key()
}

// Record stores items as the next revision, unless they are identical to the
// latest recorded revision. Returns the rev number and whether a new
// revision was written.
func Record(db *sql.DB, items []types.ConversationItem) (int, bool, error) {
	latestRev, latest, err := storage.LatestRevision(db)
	if err != nil {
		return 0, false, err
	}
	if latestRev > 0 && unchanged(latest, items) {
		return latestRev, false, nil
	}
	rev, err := storage.CreateRevision(db, items)
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

func unchanged(old, new []types.ConversationItem) bool {
	if len(old) != len(new) {
		return false
	}
	byKey := make(map[string]string, len(old))
	for _, it := range old {
		byKey[itemKey(it)] = it.Title
	}
	for _, it := range new {
		title, ok := byKey[itemKey(it)]
		if !ok || title != it.Title {
			return false
		}
	}
	return true
}

// Compare diffs two item lists. Added entries are present only in new,
// removed only in old; an entry present in both under a different title is a
// rename.
func Compare(old, new []types.ConversationItem) *DiffResult {
	oldByKey := make(map[string]types.ConversationItem, len(old))
	for _, it := range old {
		oldByKey[itemKey(it)] = it
	}
	newByKey := make(map[string]types.ConversationItem, len(new))
	for _, it := range new {
		newByKey[itemKey(it)] = it
	}

	result := &DiffResult{}
	for key, it := range newByKey {
		prev, ok := oldByKey[key]
		switch {
		case !ok:
			result.Added = append(result.Added, entry(it, ""))
		case prev.Title != it.Title:
			result.Renamed = append(result.Renamed, entry(it, prev.Title))
		}
	}
	for key, it := range oldByKey {
		if _, ok := newByKey[key]; !ok {
			result.Removed = append(result.Removed, entry(it, ""))
		}
	}

	sortEntries(result.Added)
	sortEntries(result.Removed)
	sortEntries(result.Renamed)
	return result
}

func entry(it types.ConversationItem, oldTitle string) DiffEntry {
	return DiffEntry{Service: it.ServiceID, Title: it.Title, URL: it.URL, OldTitle: oldTitle}
}

func sortEntries(entries []DiffEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Service != entries[j].Service {
			return entries[i].Service < entries[j].Service
		}
		return entries[i].Title < entries[j].Title
	})
}

// DiffRevisions compares two stored revisions by rev number.
func DiffRevisions(db *sql.DB, fromRev, toRev int) (*DiffResult, error) {
	old, err := storage.GetRevisionItems(db, fromRev)
	if err != nil {
		return nil, fmt.Errorf("load rev %d: %w", fromRev, err)
	}
	new, err := storage.GetRevisionItems(db, toRev)
	if err != nil {
		return nil, fmt.Errorf("load rev %d: %w", toRev, err)
	}
	result := Compare(old, new)
	result.FromRev = fromRev
	result.ToRev = toRev
	return result, nil
}

// FormatDiff returns a human-readable representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Changes from rev %d to rev %d\n", d.FromRev, d.ToRev)
	fmt.Fprintf(&sb, "Added: %d  Removed: %d  Renamed: %d\n", len(d.Added), len(d.Removed), len(d.Renamed))

	if len(d.Added) > 0 {
		sb.WriteString("\n+ Added:\n")
		for _, e := range d.Added {
			fmt.Fprintf(&sb, "  + [%s] %s\n", e.Service, e.Title)
		}
	}
	if len(d.Removed) > 0 {
		sb.WriteString("\n- Removed:\n")
		for _, e := range d.Removed {
			fmt.Fprintf(&sb, "  - [%s] %s\n", e.Service, e.Title)
		}
	}
	if len(d.Renamed) > 0 {
		sb.WriteString("\n~ Renamed:\n")
		for _, e := range d.Renamed {
			fmt.Fprintf(&sb, "  ~ [%s] %s -> %s\n", e.Service, e.OldTitle, e.Title)
		}
	}
	if d.Empty() {
		sb.WriteString("\nNo changes.\n")
	}
	return sb.String()
}

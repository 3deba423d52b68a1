// Package storage is the SQLite persistence layer: the versioned hub cache
// document and the sync revision history.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/types"
	_ "modernc.org/sqlite"
)

// RevisionSummary holds the metadata for one recorded sync.
type RevisionSummary struct {
	ID        int64
	Rev       int
	CreatedAt time.Time
	ItemCount int
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS hub_cache (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    version   INTEGER NOT NULL,
    saved_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    doc       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS revisions (
    id          INTEGER PRIMARY KEY,
    rev         INTEGER NOT NULL UNIQUE,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    item_count  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS revision_items (
    id            INTEGER PRIMARY KEY,
    revision_id   INTEGER NOT NULL REFERENCES revisions(id) ON DELETE CASCADE,
    service_id    TEXT NOT NULL,
    item_key      TEXT NOT NULL,
    conv_id       TEXT NOT NULL,
    title         TEXT NOT NULL,
    url           TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_revision_items_rev ON revision_items(revision_id);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables foreign keys and WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// runMigrations ensures the schema_migrations table exists, detects which
// migrations have already been applied, and runs any pending ones.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/convhub/convhub.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "convhub", "convhub.db"), nil
}

// SaveDocument replaces the cached hub document wholesale. The cache is a
// single row; partial updates go through the document, never through SQL.
func SaveDocument(db *sql.DB, doc *types.HubDocument) error {
	doc.Version = types.HubDocumentVersion
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = db.Exec(`
INSERT INTO hub_cache (id, version, saved_at, doc) VALUES (1, ?, CURRENT_TIMESTAMP, ?)
ON CONFLICT(id) DO UPDATE SET version = excluded.version, saved_at = excluded.saved_at, doc = excluded.doc`,
		types.HubDocumentVersion, string(data),
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

// LoadDocument returns the cached hub document. A missing row, a version
// mismatch, or an unparseable document all return (nil, nil): the cache is
// treated as absent rather than half-trusted.
func LoadDocument(db *sql.DB) (*types.HubDocument, error) {
	var version int
	var raw string
	err := db.QueryRow("SELECT version, doc FROM hub_cache WHERE id = 1").Scan(&version, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}

	if version != types.HubDocumentVersion {
		applog.Info("cache.version-mismatch", "found", version, "want", types.HubDocumentVersion)
		return nil, nil
	}

	var doc types.HubDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		applog.Error("cache.parse", err)
		return nil, nil
	}
	if doc.Version != types.HubDocumentVersion {
		return nil, nil
	}
	return &doc, nil
}

// CreateRevision inserts the merged item list as the next revision in a
// single transaction and returns the assigned rev number.
func CreateRevision(db *sql.DB, items []types.ConversationItem) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	if err := tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM revisions").Scan(&rev); err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	res, err := tx.Exec("INSERT INTO revisions (rev, item_count) VALUES (?, ?)", rev, len(items))
	if err != nil {
		return 0, fmt.Errorf("insert revision: %w", err)
	}
	revID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get revision id: %w", err)
	}

	for _, it := range items {
		_, err := tx.Exec(
			"INSERT INTO revision_items (revision_id, service_id, item_key, conv_id, title, url, updated_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
			revID, it.ServiceID, it.Key(), it.ID, it.Title, it.URL, it.UpdatedAtMs,
		)
		if err != nil {
			return 0, fmt.Errorf("insert item %q: %w", it.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

// ListRevisions returns all revisions, newest first.
func ListRevisions(db *sql.DB) ([]RevisionSummary, error) {
	rows, err := db.Query("SELECT id, rev, created_at, item_count FROM revisions ORDER BY rev DESC")
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	var result []RevisionSummary
	for rows.Next() {
		var r RevisionSummary
		if err := rows.Scan(&r.ID, &r.Rev, &r.CreatedAt, &r.ItemCount); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetRevisionItems loads the items recorded for one revision.
func GetRevisionItems(db *sql.DB, rev int) ([]types.ConversationItem, error) {
	rows, err := db.Query(`
SELECT ri.service_id, ri.conv_id, ri.title, ri.url, ri.updated_at_ms
FROM revision_items ri JOIN revisions r ON r.id = ri.revision_id
WHERE r.rev = ? ORDER BY ri.id`, rev)
	if err != nil {
		return nil, fmt.Errorf("query revision items: %w", err)
	}
	defer rows.Close()

	var items []types.ConversationItem
	for rows.Next() {
		var it types.ConversationItem
		if err := rows.Scan(&it.ServiceID, &it.ID, &it.Title, &it.URL, &it.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("scan revision item: %w", err)
		}
		it.SourceIndex = len(items)
		items = append(items, it)
	}
	return items, rows.Err()
}

// LatestRevision returns the newest rev number and its items.
// Returns 0, nil, nil when no revisions exist.
func LatestRevision(db *sql.DB) (int, []types.ConversationItem, error) {
	var rev int
	err := db.QueryRow("SELECT rev FROM revisions ORDER BY rev DESC LIMIT 1").Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("query latest rev: %w", err)
	}
	items, err := GetRevisionItems(db, rev)
	return rev, items, err
}

// PruneRevisions deletes all but the newest keep revisions. Items are
// cascade-deleted.
func PruneRevisions(db *sql.DB, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := db.Exec(`
DELETE FROM revisions WHERE rev NOT IN (SELECT rev FROM revisions ORDER BY rev DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("prune revisions: %w", err)
	}
	return nil
}

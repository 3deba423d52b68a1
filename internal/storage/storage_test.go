package storage

import (
	"path/filepath"
	"testing"

	"github.com/lotas/convhub/internal/types"
)

func TestDocumentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convhub.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	// Empty cache reads as absent.
	doc, err := LoadDocument(db)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc != nil {
		t.Fatalf("fresh cache should be absent, got %+v", doc)
	}

	saved := &types.HubDocument{
		LastSyncMs: 1700000000000,
		Services: map[string]types.ServiceSnapshot{
			"chatgpt": {
				Label:     "ChatGPT",
				Status:    types.StatusOK,
				SavedAtMs: 1700000000000,
				Items:     []types.ConversationItem{{ID: "c1", Title: "First", URL: "https://chatgpt.com/c/c1"}},
			},
		},
	}
	if err := SaveDocument(db, saved); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	doc, err = LoadDocument(db)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc == nil {
		t.Fatal("expected document after save")
	}
	if doc.Version != types.HubDocumentVersion {
		t.Errorf("version = %d", doc.Version)
	}
	if len(doc.Services["chatgpt"].Items) != 1 {
		t.Errorf("services = %+v", doc.Services)
	}

	// Saving again replaces wholesale.
	saved.Services["chatgpt"] = types.ServiceSnapshot{Label: "ChatGPT", Status: types.StatusEmpty}
	if err := SaveDocument(db, saved); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	doc, _ = LoadDocument(db)
	if len(doc.Services["chatgpt"].Items) != 0 {
		t.Errorf("replace should drop old items: %+v", doc.Services["chatgpt"])
	}
}

func TestVersionMismatchReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convhub.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	// A document written by an older build: stored version differs.
	_, err = db.Exec(`INSERT INTO hub_cache (id, version, doc) VALUES (1, ?, '{"version":1,"services":{}}')`,
		types.HubDocumentVersion-1)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := LoadDocument(db)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc != nil {
		t.Fatalf("version mismatch must read as absent, got %+v", doc)
	}
}

func TestCorruptDocumentReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convhub.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`INSERT INTO hub_cache (id, version, doc) VALUES (1, ?, 'not json at all')`,
		types.HubDocumentVersion)
	if err != nil {
		t.Fatal(err)
	}

	doc, err := LoadDocument(db)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc != nil {
		t.Fatal("corrupt document must read as absent")
	}
}

func TestRevisions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convhub.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	rev, _, err := LatestRevision(db)
	if err != nil || rev != 0 {
		t.Fatalf("empty db: rev=%d err=%v", rev, err)
	}

	first := []types.ConversationItem{
		{ServiceID: "chatgpt", ID: "c1", Title: "First", URL: "https://chatgpt.com/c/c1", UpdatedAtMs: 1},
	}
	rev, err = CreateRevision(db, first)
	if err != nil || rev != 1 {
		t.Fatalf("CreateRevision: rev=%d err=%v", rev, err)
	}

	second := append(first, types.ConversationItem{ServiceID: "claude", ID: "x9", Title: "Second"})
	if rev, err = CreateRevision(db, second); err != nil || rev != 2 {
		t.Fatalf("CreateRevision: rev=%d err=%v", rev, err)
	}

	summaries, err := ListRevisions(db)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Rev != 2 || summaries[0].ItemCount != 2 {
		t.Fatalf("summaries = %+v", summaries)
	}

	items, err := GetRevisionItems(db, 1)
	if err != nil {
		t.Fatalf("GetRevisionItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "c1" || items[0].ServiceID != "chatgpt" {
		t.Fatalf("items = %+v", items)
	}

	if err := PruneRevisions(db, 1); err != nil {
		t.Fatalf("PruneRevisions: %v", err)
	}
	summaries, _ = ListRevisions(db)
	if len(summaries) != 1 || summaries[0].Rev != 2 {
		t.Fatalf("after prune: %+v", summaries)
	}
}

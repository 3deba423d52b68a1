package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/lotas/convhub/internal/types"
)

func TestSessionSourceList(t *testing.T) {
	tabs := []types.SessionTab{
		{URL: "https://chatgpt.com/c/11111111-2222-3333-4444-555555555555", Title: "Sorting maps - ChatGPT", LastAccessedMs: 1700000001000},
		{URL: "https://claude.ai/chat/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", Title: "Regex help | Claude", LastAccessedMs: 1700000002000},
		{URL: "https://gemini.google.com/app/c_deadbeef01", Title: "Trip plan - Gemini"},
		{URL: "https://news.example.com/article", Title: "Unrelated"},
		{URL: "https://chatgpt.com/", Title: "ChatGPT"}, // home page, no conversation
		{URL: "https://chatgpt.com/c/11111111-2222-3333-4444-555555555555", Title: "Duplicate"},
	}
	src := &sessionSource{id: "firefox", label: "Firefox session", loader: func() ([]types.SessionTab, error) { return tabs, nil }}

	res := src.List(context.Background())
	if res.Status != types.StatusOK {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(res.Items))
	}
	if res.Items[0].Title != "Sorting maps" {
		t.Errorf("provider suffix not stripped: %q", res.Items[0].Title)
	}
	if res.Items[0].ID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("id = %q", res.Items[0].ID)
	}
	if res.Items[1].Title != "Regex help" {
		t.Errorf("pipe-style suffix not stripped: %q", res.Items[1].Title)
	}
	if res.Items[2].ID != "deadbeef01" {
		t.Errorf("gemini id = %q", res.Items[2].ID)
	}
}

func TestSessionSourceErrors(t *testing.T) {
	src := &sessionSource{loader: func() ([]types.SessionTab, error) { return nil, errors.New("no session file") }}
	if res := src.List(context.Background()); res.Status != types.StatusError {
		t.Fatalf("status = %s", res.Status)
	}

	src = &sessionSource{loader: func() ([]types.SessionTab, error) { return nil, nil }}
	if res := src.List(context.Background()); res.Status != types.StatusEmpty {
		t.Fatalf("status = %s", res.Status)
	}
}

// Package providers holds the immutable registry of conversation sources:
// REST adapters that ride the browser's ambient session, DOM-scraping
// adapters that run the discovery engine inside an open tab, and an offline
// source that mines the browser's on-disk session store.
package providers

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/lotas/convhub/internal/discover"
	"github.com/lotas/convhub/internal/types"
)

// Source is one provider adapter. Registered once at startup; immutable for
// the session.
type Source interface {
	ID() string
	Label() string
	List(ctx context.Context) types.AdapterResult
}

// Browser is the slice of the bridge the tab sources need. Satisfied by
// *bridge.Bridge; faked in tests.
type Browser interface {
	Connected() bool
	Tabs(ctx context.Context, pattern string) ([]types.Tab, error)
	Activate(ctx context.Context, tabID int) error
	Pager(tabID int, mainWorld bool) discover.Pager
}

// Deps carries the external collaborators the registry wires into sources.
type Deps struct {
	Browser Browser
	// Client performs provider REST calls using whatever session cookies the
	// browser profile holds. Defaults to a 10s-timeout client.
	Client *http.Client
	// SessionTabs reads the browser's on-disk session store. nil disables
	// the offline source.
	SessionTabs func() ([]types.SessionTab, error)
}

var (
	uuidPattern    = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	geminiIDRe     = regexp.MustCompile(`c_([0-9a-f]{8,})`)
	deepseekIDRe   = regexp.MustCompile(`/a/chat/s/([0-9a-z-]{8,})`)
	copilotIDRe    = regexp.MustCompile(`\b([0-9A-Za-z]{20,})\b`)
	chatgptPathRe  = regexp.MustCompile(`/c/([0-9a-f-]{36})`)
	claudePathRe   = regexp.MustCompile(`/chat/([0-9a-f-]{36})`)
	geminiPathRe   = regexp.MustCompile(`/app/(?:c_)?([0-9a-f]{8,})`)
	deepseekPathRe = regexp.MustCompile(`/a/chat/s/([0-9a-z-]{8,})`)
)

// BuildRegistry constructs the provider list. Order is the display order.
func BuildRegistry(deps Deps) []Source {
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	sources := []Source{
		&apiSource{
			id:       "chatgpt",
			label:    "ChatGPT",
			client:   client,
			base:     "https://chatgpt.com",
			listPath: "/backend-api/conversations",
			pageSize: 28,
			maxItems: 200,
			urlFor:   func(id string) string { return "https://chatgpt.com/c/" + id },
		},
		&apiSource{
			id:       "claude",
			label:    "Claude",
			client:   client,
			base:     "https://claude.ai",
			orgsPath: "/api/organizations",
			listPath: "/api/organizations/%s/chat_conversations",
			pageSize: 50,
			maxItems: 200,
			urlFor:   func(id string) string { return "https://claude.ai/chat/" + id },
		},
		&tabSource{
			id:      "gemini",
			label:   "Gemini",
			browser: deps.Browser,
			pattern: "gemini.google.com",
			hint:    "Open gemini.google.com in a tab to list conversations",
			cfg: discover.Config{
				Marker: "conversations-list",
				ItemSelectors: []string{
					"conversations-list [data-test-id=\"conversation\"]",
					"[data-test-id=\"conversation\"]",
				},
				ClimbSelectors: []discover.ClimbRule{
					{Selector: ".conversation-title", Levels: 2},
				},
				TitleSelectors:     []string{".conversation-title"},
				IDRegexes:          []*regexp.Regexp{geminiIDRe, uuidPattern},
				AllowMissingURL:    true,
				AttributeSelectors: []string{"[jslog]", "[data-test-id]"},
				WaitForMinItems:    2,
				WaitForStableItems: true,
				DesiredItems:       40,
				ScrollContainerSelectors: []string{
					"conversations-list .overflow-container",
					"[data-test-id=\"overflow-container\"]",
				},
			},
			twoPhase: true,
		},
		&tabSource{
			id:      "deepseek",
			label:   "DeepSeek",
			browser: deps.Browser,
			pattern: "chat.deepseek.com",
			hint:    "Open chat.deepseek.com in a tab to list conversations",
			cfg: discover.Config{
				Marker:        "/a/chat/s/",
				ItemSelectors: []string{"a[href*=\"/a/chat/s/\"]", "[role=\"listitem\"] a"},
				PathHints:     []string{"/a/chat/s/"},
				IDRegexes:     []*regexp.Regexp{deepseekIDRe, uuidPattern},
				DesiredItems:  40,
			},
		},
		&tabSource{
			id:        "copilot",
			label:     "Copilot",
			browser:   deps.Browser,
			pattern:   "copilot.microsoft.com",
			hint:      "Open copilot.microsoft.com in a tab to list conversations",
			mainWorld: true,
			cfg: discover.Config{
				Marker:          "data-conversation-id",
				ItemSelectors:   []string{"[data-conversation-id]", "aside li[role=\"option\"]"},
				IDRegexes:       []*regexp.Regexp{copilotIDRe, uuidPattern},
				AllowMissingURL: true,
				WaitForMinItems: 1,
			},
			pickBestTab: true,
		},
	}

	// Known providers without a working extractor yet. Listed so the status
	// line reports them instead of silently hiding them.
	sources = append(sources, &stubSource{id: "grok", label: "Grok"})

	if deps.SessionTabs != nil {
		sources = append(sources, &sessionSource{
			id:     "firefox",
			label:  "Firefox session",
			loader: deps.SessionTabs,
		})
	}
	return sources
}

// stubSource is a registered provider whose extraction is not implemented.
type stubSource struct {
	id, label string
}

func (s *stubSource) ID() string    { return s.id }
func (s *stubSource) Label() string { return s.label }

func (s *stubSource) List(ctx context.Context) types.AdapterResult {
	return types.AdapterResult{Status: types.StatusUnsupported}
}

// Lookup finds a source by id, nil when unknown.
func Lookup(sources []Source, id string) Source {
	for _, s := range sources {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

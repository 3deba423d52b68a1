package providers

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

// sessionSource mines conversation URLs out of the browser's on-disk session
// store. Works with the browser closed; catches conversations that are open
// in tabs but not yet synced from any live source.
type sessionSource struct {
	id, label string
	loader    func() ([]types.SessionTab, error)
}

func (s *sessionSource) ID() string    { return s.id }
func (s *sessionSource) Label() string { return s.label }

// sessionRule matches one provider's conversation URLs inside the session
// store and strips that provider's title suffix.
type sessionRule struct {
	host        string
	path        *regexp.Regexp
	titleSuffix []string
}

var sessionRules = []sessionRule{
	{host: "chatgpt.com", path: chatgptPathRe, titleSuffix: []string{" - ChatGPT", " | ChatGPT"}},
	{host: "claude.ai", path: claudePathRe, titleSuffix: []string{" - Claude", " | Claude"}},
	{host: "gemini.google.com", path: geminiPathRe, titleSuffix: []string{" - Gemini"}},
	{host: "chat.deepseek.com", path: deepseekPathRe, titleSuffix: []string{" - DeepSeek"}},
}

func (s *sessionSource) List(ctx context.Context) types.AdapterResult {
	tabs, err := s.loader()
	if err != nil {
		return types.AdapterResult{Status: types.StatusError, Error: err.Error()}
	}

	var items []types.ConversationItem
	seen := map[string]bool{}
	for _, tab := range tabs {
		select {
		case <-ctx.Done():
			return types.AdapterResult{Status: types.StatusError, Error: ctx.Err().Error()}
		default:
		}
		item, ok := matchSessionTab(tab)
		if !ok || seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		item.SourceIndex = len(items)
		items = append(items, item)
	}

	if len(items) == 0 {
		return types.AdapterResult{Status: types.StatusEmpty}
	}
	return types.AdapterResult{Items: items, Status: types.StatusOK}
}

func matchSessionTab(tab types.SessionTab) (types.ConversationItem, bool) {
	u, err := url.Parse(tab.URL)
	if err != nil || u.Scheme != "https" {
		return types.ConversationItem{}, false
	}
	for _, rule := range sessionRules {
		if u.Host != rule.host {
			continue
		}
		m := rule.path.FindStringSubmatch(u.Path)
		if m == nil {
			continue
		}
		title := tab.Title
		for _, suffix := range rule.titleSuffix {
			title = strings.TrimSuffix(title, suffix)
		}
		title = normalize.Whitespace(title)
		if title == "" {
			title = "Untitled"
		}
		return types.ConversationItem{
			ID:          m[1],
			Title:       title,
			URL:         tab.URL,
			UpdatedAtMs: tab.LastAccessedMs,
		}, true
	}
	return types.ConversationItem{}, false
}

package extract

import "strings"

// siteRecipe is a per-host extraction rule: known chat and docs sites get
// targeted selectors instead of generic readability.
type siteRecipe struct {
	hostSuffix string
	siteType   string
	// contentSelectors are tried in order; all matches of the first selector
	// that hits anything are concatenated.
	contentSelectors []string
	titleSelectors   []string
}

var recipes = []siteRecipe{
	{
		hostSuffix: "chatgpt.com",
		siteType:   "chat",
		contentSelectors: []string{
			"[data-message-author-role]",
			"main article",
		},
		titleSelectors: []string{"main h1", "title"},
	},
	{
		hostSuffix: "claude.ai",
		siteType:   "chat",
		contentSelectors: []string{
			"[data-testid=\"user-message\"], [data-is-streaming]",
			"main .prose",
		},
		titleSelectors: []string{"main header", "title"},
	},
	{
		hostSuffix: "gemini.google.com",
		siteType:   "chat",
		contentSelectors: []string{
			"user-query, model-response",
			"main message-content",
		},
		titleSelectors: []string{"title"},
	},
	{
		hostSuffix: "chat.deepseek.com",
		siteType:   "chat",
		contentSelectors: []string{
			".ds-markdown",
			"main [class*=\"message\"]",
		},
		titleSelectors: []string{"title"},
	},
	{
		hostSuffix: "github.com",
		siteType:   "code",
		contentSelectors: []string{
			"article.markdown-body",
			"#readme",
		},
		titleSelectors: []string{"main h1", "title"},
	},
	{
		hostSuffix: "stackoverflow.com",
		siteType:   "qa",
		contentSelectors: []string{
			".question .js-post-body, .answer .js-post-body",
		},
		titleSelectors: []string{"#question-header h1", "title"},
	},
	{
		hostSuffix: "wikipedia.org",
		siteType:   "reference",
		contentSelectors: []string{
			"#mw-content-text .mw-parser-output > p",
		},
		titleSelectors: []string{"#firstHeading", "title"},
	},
}

// recipeFor returns the recipe matching a hostname, nil when none applies.
func recipeFor(host string) *siteRecipe {
	host = strings.ToLower(host)
	for i := range recipes {
		r := &recipes[i]
		if host == r.hostSuffix || strings.HasSuffix(host, "."+r.hostSuffix) {
			return r
		}
	}
	return nil
}

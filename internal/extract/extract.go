// Package extract turns a page into portable text: site-specific recipes for
// known chat and docs hosts, readability for everything else, meta tags as
// the last resort.
package extract

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	readability "github.com/go-shiori/go-readability"
	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/dom"
	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

var skipPrefixes = []string{"about:", "moz-extension:", "file:", "chrome:", "resource:", "data:"}

// minReadableChars is the floor below which a readability result is treated
// as a miss and the meta fallback runs instead.
const minReadableChars = 140

// FromDOM extracts content from an already-captured document.
func FromDOM(doc *dom.Document) types.ExtractionResult {
	host := ""
	if u, err := url.Parse(doc.URL); err == nil {
		host = u.Hostname()
	}

	if r := recipeFor(host); r != nil {
		if res, ok := byRecipe(doc, r); ok {
			res.URL = doc.URL
			return res
		}
	}

	if res, ok := byReadability(doc); ok {
		res.URL = doc.URL
		return res
	}

	res := byMeta(doc)
	res.URL = doc.URL
	return res
}

// FromHTML parses raw HTML and extracts from it.
func FromHTML(src, pageURL string) (types.ExtractionResult, error) {
	doc, err := dom.Parse(src, pageURL)
	if err != nil {
		return types.ExtractionResult{}, err
	}
	return FromDOM(doc), nil
}

func byRecipe(doc *dom.Document, r *siteRecipe) (types.ExtractionResult, bool) {
	var blocks []string
	for _, sel := range r.contentSelectors {
		for _, n := range doc.QueryAll(sel) {
			if text := normalize.Whitespace(n.Text()); text != "" {
				blocks = append(blocks, text)
			}
		}
		if len(blocks) > 0 {
			break
		}
	}
	if len(blocks) == 0 {
		return types.ExtractionResult{}, false
	}

	title := ""
	for _, sel := range r.titleSelectors {
		if n := doc.Query(sel); n != nil {
			if title = normalize.Whitespace(n.Text()); title != "" {
				break
			}
		}
	}

	return types.ExtractionResult{
		Title:    title,
		Content:  strings.Join(blocks, "\n\n"),
		SiteType: r.siteType,
		Method:   "recipe",
	}, true
}

func byReadability(doc *dom.Document) (types.ExtractionResult, bool) {
	pageURL, _ := url.Parse(doc.URL)
	article, err := readability.FromReader(strings.NewReader(doc.HTML()), pageURL)
	if err != nil {
		applog.Error("extract.readability", err, "url", doc.URL)
		return types.ExtractionResult{}, false
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) < minReadableChars {
		return types.ExtractionResult{}, false
	}
	return types.ExtractionResult{
		Title:    article.Title,
		Content:  text,
		SiteType: "article",
		Method:   "readability",
	}, true
}

// byMeta falls back to document metadata: og tags, then title/description.
func byMeta(doc *dom.Document) types.ExtractionResult {
	title := metaContent(doc, `meta[property="og:title"]`)
	if title == "" {
		if n := doc.Query("title"); n != nil {
			title = normalize.Whitespace(n.Text())
		}
	}
	content := metaContent(doc, `meta[property="og:description"]`)
	if content == "" {
		content = metaContent(doc, `meta[name="description"]`)
	}
	return types.ExtractionResult{
		Title:    title,
		Content:  content,
		SiteType: "unknown",
		Method:   "meta",
	}
}

func metaContent(doc *dom.Document, selector string) string {
	if n := doc.Query(selector); n != nil {
		return normalize.Whitespace(n.Attr("content"))
	}
	return ""
}

// Fetch downloads a URL and extracts from the response body.
func Fetch(pageURL string) (types.ExtractionResult, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(pageURL, prefix) {
			return types.ExtractionResult{}, fmt.Errorf("skipping non-HTTP URL: %s", pageURL)
		}
	}

	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequest("GET", pageURL, nil)
	if err != nil {
		return types.ExtractionResult{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	resp, err := client.Do(req)
	if err != nil {
		return types.ExtractionResult{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return types.ExtractionResult{}, fmt.Errorf("fetch %s: HTTP %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return types.ExtractionResult{}, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return FromHTML(string(body), pageURL)
}

// Copy places the extracted content on the system clipboard, falling back to
// stdout when no clipboard is available (headless sessions).
func Copy(res types.ExtractionResult) error {
	text := res.Content
	if res.Title != "" {
		text = res.Title + "\n\n" + res.Content
	}
	if err := clipboard.WriteAll(text); err != nil {
		applog.Error("extract.clipboard", err)
		_, werr := fmt.Fprintln(os.Stdout, text)
		return werr
	}
	return nil
}

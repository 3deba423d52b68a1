package extract

import (
	"strings"
	"testing"
)

func TestRecipeForHost(t *testing.T) {
	if r := recipeFor("chatgpt.com"); r == nil || r.siteType != "chat" {
		t.Fatalf("recipe = %+v", r)
	}
	if r := recipeFor("en.wikipedia.org"); r == nil || r.siteType != "reference" {
		t.Errorf("subdomain suffix should match: %+v", r)
	}
	if r := recipeFor("notwikipedia.org"); r != nil {
		t.Errorf("partial host must not match: %+v", r)
	}
	if r := recipeFor("unknown.example.com"); r != nil {
		t.Errorf("unknown host: %+v", r)
	}
}

func TestChatRecipeExtraction(t *testing.T) {
	src := `<html><head><title>Sorting maps - ChatGPT</title></head><body>
	  <main>
	    <h1>Sorting maps</h1>
	    <div data-message-author-role="user">How do I sort a map by value?</div>
	    <div data-message-author-role="assistant">Collect the keys into a slice and sort it.</div>
	  </main>
	</body></html>`
	res, err := FromHTML(src, "https://chatgpt.com/c/abc")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if res.Method != "recipe" || res.SiteType != "chat" {
		t.Fatalf("method=%q siteType=%q", res.Method, res.SiteType)
	}
	if !strings.Contains(res.Content, "sort a map") || !strings.Contains(res.Content, "Collect the keys") {
		t.Errorf("content = %q", res.Content)
	}
	if res.Title != "Sorting maps" {
		t.Errorf("title = %q", res.Title)
	}
}

func TestReadabilityFallback(t *testing.T) {
	para := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 12)
	src := `<html><head><title>An Article</title></head><body>
	  <article><h1>An Article</h1><p>` + para + `</p><p>` + para + `</p></article>
	</body></html>`
	res, err := FromHTML(src, "https://blog.example.com/post")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if res.Method != "readability" {
		t.Fatalf("method = %q", res.Method)
	}
	if !strings.Contains(res.Content, "quick brown fox") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestMetaFallback(t *testing.T) {
	src := `<html><head>
	  <title>Sparse Page</title>
	  <meta property="og:title" content="OG Title">
	  <meta property="og:description" content="A short description.">
	</head><body><p>tiny</p></body></html>`
	res, err := FromHTML(src, "https://sparse.example.com/")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if res.Method != "meta" {
		t.Fatalf("method = %q", res.Method)
	}
	if res.Title != "OG Title" || res.Content != "A short description." {
		t.Errorf("res = %+v", res)
	}
}

func TestFetchRejectsNonHTTP(t *testing.T) {
	if _, err := Fetch("about:config"); err == nil {
		t.Fatal("expected error for about: URL")
	}
	if _, err := Fetch("file:///etc/passwd"); err == nil {
		t.Fatal("expected error for file: URL")
	}
}

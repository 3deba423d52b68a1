// Package dom is the page-handle abstraction used by every extraction path.
// A Document wraps a parsed HTML tree; extraction logic runs against it the
// same way whether the tree came from a live tab capture, a fixture, or a
// fetched page. Shadow roots arrive serialized as declarative
// <template shadowrootmode> children and are exposed via ShadowRoot.
package dom

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	shiori "github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

// Document is one parsed page (or frame).
type Document struct {
	URL  string
	src  string
	root *html.Node
}

// Parse builds a Document from serialized HTML. pageURL is the document URL
// used for resolving relative links downstream.
func Parse(src, pageURL string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{URL: pageURL, src: src, root: root}, nil
}

// HTML returns the original serialized source.
func (d *Document) HTML() string { return d.src }

// Root returns the document root node.
func (d *Document) Root() *Node {
	if d == nil || d.root == nil {
		return nil
	}
	return &Node{doc: d, n: d.root}
}

// QueryAll runs a CSS selector against the whole document.
func (d *Document) QueryAll(sel string) []*Node { return d.Root().QueryAll(sel) }

// Query returns the first match for sel, or nil.
func (d *Document) Query(sel string) *Node { return d.Root().Query(sel) }

// NodeAt resolves a positional path produced by Node.Path. Returns nil when
// the path no longer exists in this document.
func (d *Document) NodeAt(path string) *Node {
	if d == nil || path == "" {
		return nil
	}
	cur := d.root
	for _, part := range strings.Split(path, ".") {
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		i := 0
		var next *html.Node
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if i == idx {
				next = c
				break
			}
			i++
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return &Node{doc: d, n: cur}
}

// Node is one element in a Document.
type Node struct {
	doc *Document
	n   *html.Node
}

// Raw exposes the underlying html.Node for callers that need go-shiori/dom
// helpers directly.
func (n *Node) Raw() *html.Node { return n.n }

// Document returns the owning document.
func (n *Node) Document() *Document { return n.doc }

// Tag returns the lower-case tag name, "" for non-elements.
func (n *Node) Tag() string {
	if n == nil || n.n == nil {
		return ""
	}
	return shiori.TagName(n.n)
}

// Attr returns the attribute value, "" when absent.
func (n *Node) Attr(name string) string {
	if n == nil || n.n == nil {
		return ""
	}
	return shiori.GetAttribute(n.n, name)
}

// HasAttr reports whether the attribute is present.
func (n *Node) HasAttr(name string) bool {
	if n == nil || n.n == nil {
		return false
	}
	return shiori.HasAttribute(n.n, name)
}

// SetAttr sets an attribute on the node (used by the scroll model).
func (n *Node) SetAttr(name, value string) {
	if n == nil || n.n == nil {
		return
	}
	shiori.SetAttribute(n.n, name, value)
}

// Attrs returns all attributes of the element.
func (n *Node) Attrs() []html.Attribute {
	if n == nil || n.n == nil {
		return nil
	}
	return n.n.Attr
}

// Text returns the node's text content, whitespace preserved.
func (n *Node) Text() string {
	if n == nil || n.n == nil {
		return ""
	}
	return shiori.TextContent(n.n)
}

// selCache holds compiled selectors. Selectors come from a fixed set of
// provider configs, so the cache stays tiny.
var (
	selMu    sync.RWMutex
	selCache = map[string]cascadia.Matcher{}
)

func compile(sel string) cascadia.Matcher {
	selMu.RLock()
	m, ok := selCache[sel]
	selMu.RUnlock()
	if ok {
		return m
	}
	parsed, err := cascadia.ParseGroup(sel)
	if err != nil {
		// Malformed selectors match nothing rather than aborting the pass.
		parsed = nil
	}
	selMu.Lock()
	if parsed == nil {
		selCache[sel] = nil
	} else {
		selCache[sel] = parsed
	}
	selMu.Unlock()
	if parsed == nil {
		return nil
	}
	return parsed
}

// QueryAll runs a CSS selector against this subtree. Invalid selectors
// return nil.
func (n *Node) QueryAll(sel string) []*Node {
	if n == nil || n.n == nil {
		return nil
	}
	m := compile(sel)
	if m == nil {
		return nil
	}
	raw := cascadia.QueryAll(n.n, m)
	out := make([]*Node, 0, len(raw))
	for _, r := range raw {
		out = append(out, &Node{doc: n.doc, n: r})
	}
	return out
}

// Query returns the first match in this subtree, or nil.
func (n *Node) Query(sel string) *Node {
	if n == nil || n.n == nil {
		return nil
	}
	m := compile(sel)
	if m == nil {
		return nil
	}
	raw := cascadia.Query(n.n, m)
	if raw == nil {
		return nil
	}
	return &Node{doc: n.doc, n: raw}
}

// ShadowRoot returns the node's serialized shadow root (a declarative
// <template shadowrootmode> child), or nil.
func (n *Node) ShadowRoot() *Node {
	if n == nil || n.n == nil {
		return nil
	}
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if shiori.TagName(c) == "template" && shiori.HasAttribute(c, "shadowrootmode") {
			return &Node{doc: n.doc, n: c}
		}
	}
	return nil
}

// Parent returns the parent element, or nil at the document root.
func (n *Node) Parent() *Node {
	if n == nil || n.n == nil || n.n.Parent == nil {
		return nil
	}
	return &Node{doc: n.doc, n: n.n.Parent}
}

// Children returns the element children in order.
func (n *Node) Children() []*Node {
	if n == nil || n.n == nil {
		return nil
	}
	var out []*Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, &Node{doc: n.doc, n: c})
		}
	}
	return out
}

// Path returns a positional path ("0.2.1": element-child indexes from the
// root) that survives re-serialization of an unchanged tree. Used to refer
// to nodes across snapshots of the same page.
func (n *Node) Path() string {
	if n == nil || n.n == nil {
		return ""
	}
	var parts []string
	cur := n.n
	for cur.Parent != nil {
		idx := 0
		for s := cur.Parent.FirstChild; s != nil && s != cur; s = s.NextSibling {
			if s.Type == html.ElementNode {
				idx++
			}
		}
		parts = append([]string{strconv.Itoa(idx)}, parts...)
		cur = cur.Parent
	}
	return strings.Join(parts, ".")
}

// Scroll metrics. The extension serializes scroll state onto elements as
// data-scroll-top / data-scroll-height / data-client-height; fixtures do the
// same. Missing attributes read as zero.

func (n *Node) intAttr(name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(n.Attr(name)))
	if err != nil {
		return 0
	}
	return v
}

// ScrollTop returns the element's current scroll offset.
func (n *Node) ScrollTop() int { return n.intAttr("data-scroll-top") }

// ScrollHeight returns the element's full content height.
func (n *Node) ScrollHeight() int { return n.intAttr("data-scroll-height") }

// ClientHeight returns the element's viewport height.
func (n *Node) ClientHeight() int { return n.intAttr("data-client-height") }

// SetScrollTop records a new scroll offset on the node.
func (n *Node) SetScrollTop(v int) { n.SetAttr("data-scroll-top", strconv.Itoa(v)) }

// OverflowY extracts the effective overflow-y from the inline style
// attribute ("auto", "scroll", "hidden", or "").
func (n *Node) OverflowY() string {
	style := n.Attr("style")
	if style == "" {
		return ""
	}
	overflow := ""
	for _, decl := range strings.Split(style, ";") {
		kv := strings.SplitN(decl, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := strings.TrimSpace(strings.ToLower(kv[0]))
		val := strings.TrimSpace(strings.ToLower(kv[1]))
		switch prop {
		case "overflow-y":
			return val
		case "overflow":
			overflow = val
		}
	}
	return overflow
}

// AccessibleTitle returns the best label for an element: aria-label, then
// the title attribute, then full text content.
func (n *Node) AccessibleTitle() string {
	if v := strings.TrimSpace(n.Attr("aria-label")); v != "" {
		return v
	}
	if v := strings.TrimSpace(n.Attr("title")); v != "" {
		return v
	}
	return strings.TrimSpace(n.Text())
}

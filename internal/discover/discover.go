// Package discover implements the convergence engine that runs against a
// conversation-list page: bounded shadow-DOM traversal, fallback selector
// chains, scored ID extraction, stability waiting and scroll-assisted
// discovery. It operates on dom snapshots through a Pager so the same logic
// serves live tabs and test fixtures.
package discover

import (
	"context"
	"strings"
	"time"

	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/dom"
	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

// Pager supplies fresh DOM snapshots of the target page and applies scroll
// offsets to it. Scroll may cause the page to render more items; the engine
// always re-snapshots after scrolling.
type Pager interface {
	Snapshot(ctx context.Context) (*dom.Document, error)
	Scroll(ctx context.Context, path string, top int) error
}

// StaticPager serves a fixed in-memory document. OnScroll, when set, may
// mutate the document to emulate a virtualized list loading more rows.
type StaticPager struct {
	Doc      *dom.Document
	OnScroll func(doc *dom.Document, path string, top int)
}

func (p *StaticPager) Snapshot(ctx context.Context) (*dom.Document, error) {
	return p.Doc, nil
}

func (p *StaticPager) Scroll(ctx context.Context, path string, top int) error {
	n := p.Doc.NodeAt(path)
	if n == nil {
		return nil
	}
	max := n.ScrollHeight() - n.ClientHeight()
	if max < 0 {
		max = 0
	}
	if top > max {
		top = max
	}
	if top < 0 {
		top = 0
	}
	n.SetScrollTop(top)
	if p.OnScroll != nil {
		p.OnScroll(p.Doc, path, top)
	}
	return nil
}

// Engine is one discovery run. Not reusable across runs.
type Engine struct {
	cfg   Config
	pager Pager

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an engine with defaults applied.
func New(cfg Config, pager Pager) *Engine {
	return &Engine{
		cfg:   cfg.withDefaults(),
		pager: pager,
		now:   time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Run executes the full discovery pass. It terminates within the configured
// budgets even when the page never matches anything, returning an empty
// slice rather than hanging. The only error returned is a snapshot
// transport failure; everything else degrades to fewer items.
func (e *Engine) Run(ctx context.Context) ([]types.ConversationItem, error) {
	doc, err := e.pager.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	merged := newItemSet()
	merged.addAll(e.collect(doc))

	// A page with no history markers at all has nothing to wait for.
	if merged.len() < e.cfg.WaitForMinItems && e.hasHistoryMarkers(doc) {
		doc, err = e.waitLoop(ctx, merged)
		if err != nil {
			return merged.ordered(e.cfg.MaxItems), nil
		}
	}

	if e.cfg.DesiredItems > merged.len() {
		e.scrollLoop(ctx, doc, merged)
	}

	items := merged.ordered(e.cfg.MaxItems)
	applog.Info("discover.done", "items", len(items))
	return items, nil
}

// hasHistoryMarkers reports whether the page shows any sign of a
// conversation-history UI: the provider marker substring or a container
// selector hit.
func (e *Engine) hasHistoryMarkers(doc *dom.Document) bool {
	if e.cfg.Marker != "" && strings.Contains(doc.HTML(), e.cfg.Marker) {
		return true
	}
	for _, sel := range e.cfg.ScrollContainerSelectors {
		if doc.Query(sel) != nil {
			return true
		}
	}
	for _, sel := range e.cfg.ItemSelectors {
		if doc.Query(sel) != nil {
			return true
		}
	}
	return false
}

// waitLoop polls until the minimum item count is reached — and, when
// configured, holds stable across consecutive polls — or the wait budget
// runs out. Returns the last snapshot seen.
func (e *Engine) waitLoop(ctx context.Context, merged *itemSet) (*dom.Document, error) {
	deadline := e.now().Add(e.cfg.WaitBudget)
	stableRuns := 0
	lastCount := merged.len()
	var doc *dom.Document

	for e.now().Before(deadline) {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return doc, err
		}
		var err error
		doc, err = e.pager.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		merged.addAll(e.collect(doc))

		count := merged.len()
		if count == lastCount {
			stableRuns++
		} else {
			stableRuns = 0
			lastCount = count
		}

		if count >= e.cfg.WaitForMinItems {
			if !e.cfg.WaitForStableItems || stableRuns >= e.cfg.StableIntervals {
				return doc, nil
			}
		}
	}
	return doc, nil
}

// scrollLoop drives the best-ranked scrollable container in increasing
// steps, re-collecting after each step. Stops on: desired count plus one
// no-growth round, NoGrowthLimit consecutive no-growth rounds, the step or
// wall-clock budget, or a scroll offset that stops advancing. The original
// scroll position is restored afterward.
func (e *Engine) scrollLoop(ctx context.Context, doc *dom.Document, merged *itemSet) {
	if doc == nil {
		var err error
		doc, err = e.pager.Snapshot(ctx)
		if err != nil {
			return
		}
	}
	container := e.findScrollContainer(doc)
	if container == nil {
		return
	}
	path := container.Path()
	original := container.ScrollTop()

	defer func() {
		e.pager.Scroll(ctx, path, original)
	}()

	deadline := e.now().Add(e.cfg.ScrollBudget)
	step := container.ClientHeight()
	if step <= 0 {
		step = 400
	}
	top := original
	noGrowth := 0
	sawNoGrowth := false

	for i := 0; i < e.cfg.MaxScrollSteps; i++ {
		if !e.now().Before(deadline) {
			return
		}
		top += step
		step += step / 2
		if err := e.pager.Scroll(ctx, path, top); err != nil {
			return
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return
		}

		fresh, err := e.pager.Snapshot(ctx)
		if err != nil {
			return
		}
		before := merged.len()
		merged.addAll(e.collect(fresh))
		if merged.len() == before {
			noGrowth++
			sawNoGrowth = true
		} else {
			noGrowth = 0
		}

		c := fresh.NodeAt(path)
		if c == nil {
			return
		}
		if c.ScrollTop() < top {
			// Offset stopped advancing: bottom reached.
			return
		}
		top = c.ScrollTop()

		if merged.len() >= e.cfg.DesiredItems && sawNoGrowth {
			return
		}
		if noGrowth >= e.cfg.NoGrowthLimit {
			return
		}
	}
}

// findScrollContainer ranks candidate containers by configured hints, item
// presence, computed overflow and scrollable delta.
func (e *Engine) findScrollContainer(doc *dom.Document) *dom.Node {
	seen := map[string]bool{}
	var candidates []*dom.Node
	for _, sel := range e.cfg.ScrollContainerSelectors {
		for _, n := range doc.QueryAll(sel) {
			if p := n.Path(); !seen[p] {
				seen[p] = true
				candidates = append(candidates, n)
			}
		}
	}
	for _, n := range doc.QueryAll("[style]") {
		if ov := n.OverflowY(); ov == "auto" || ov == "scroll" {
			if p := n.Path(); !seen[p] {
				seen[p] = true
				candidates = append(candidates, n)
			}
		}
	}

	var best *dom.Node
	bestScore := -1
	for _, n := range candidates {
		score := 0
		if ov := n.OverflowY(); ov == "auto" || ov == "scroll" {
			score += 2
		}
		for _, sel := range e.cfg.ItemSelectors {
			if n.Query(sel) != nil {
				score += 3
				break
			}
		}
		delta := n.ScrollHeight() - n.ClientHeight()
		if delta > 0 {
			score += 1
		}
		if score > bestScore || (score == bestScore && best != nil && delta > best.ScrollHeight()-best.ClientHeight()) {
			bestScore = score
			best = n
		}
	}
	return best
}

// collect runs one synchronous pass: expand search roots through shadow DOM,
// gather candidates through the fallback selector chain, and build items.
// Each extraction attempt is independent; a failure on one candidate never
// aborts the pass.
func (e *Engine) collect(doc *dom.Document) []types.ConversationItem {
	if doc == nil {
		return nil
	}
	roots := e.searchRoots(doc)
	candidates := e.collectCandidates(roots)

	origin := e.cfg.Origin
	if origin == "" {
		origin = doc.URL
	}

	var items []types.ConversationItem
	for i, c := range candidates {
		if item, ok := e.buildItem(c, i, origin); ok {
			items = append(items, item)
		}
	}
	return items
}

// searchRoots walks breadth-first from the document root, enqueueing every
// element's shadow root up to the configured frontier bound.
func (e *Engine) searchRoots(doc *dom.Document) []*dom.Node {
	roots := []*dom.Node{doc.Root()}
	visited := 1

	for i := 0; i < len(roots) && visited < e.cfg.MaxShadowRoots; i++ {
		queue := []*dom.Node{roots[i]}
		for len(queue) > 0 && visited < e.cfg.MaxShadowRoots {
			n := queue[0]
			queue = queue[1:]
			for _, child := range n.Children() {
				if sr := child.ShadowRoot(); sr != nil {
					roots = append(roots, sr)
					visited++
				}
				queue = append(queue, child)
			}
		}
	}
	return roots
}

// collectCandidates tries each item selector across all roots; the first
// selector producing anything wins. When every selector fails, the climb
// rules (title node, then ancestor) run as the broadest fallback. A
// seen-set drops duplicate elements across overlapping roots.
func (e *Engine) collectCandidates(roots []*dom.Node) []*dom.Node {
	seen := map[string]bool{}
	var out []*dom.Node

	addAll := func(nodes []*dom.Node) {
		for _, n := range nodes {
			p := n.Path()
			if !seen[p] {
				seen[p] = true
				out = append(out, n)
			}
		}
	}

	for _, sel := range e.cfg.ItemSelectors {
		for _, root := range roots {
			addAll(root.QueryAll(sel))
		}
		if len(out) > 0 {
			return out
		}
	}

	for _, rule := range e.cfg.ClimbSelectors {
		for _, root := range roots {
			for _, title := range root.QueryAll(rule.Selector) {
				item := title
				for l := 0; l < rule.Levels && item.Parent() != nil; l++ {
					item = item.Parent()
				}
				addAll([]*dom.Node{item})
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return out
}

// buildItem extracts title, URL and ID from one candidate element.
func (e *Engine) buildItem(n *dom.Node, index int, origin string) (types.ConversationItem, bool) {
	title := e.extractTitle(n)
	if title == "" {
		return types.ConversationItem{}, false
	}
	if isPlaceholder(strings.ToLower(title), e.cfg.Placeholders) {
		return types.ConversationItem{}, false
	}

	rawURL := n.Attr("href")
	if rawURL == "" {
		if a := n.Query("a[href]"); a != nil {
			rawURL = a.Attr("href")
		}
	}
	url := normalize.ResolveURL(rawURL, origin)
	if url != "" && !e.acceptURL(url) {
		url = ""
	}

	bag := attributeBag(n, e.cfg)
	if url != "" {
		bag = append(bag, url)
	}
	id := BestID(bag, e.cfg.IDRegexes, e.cfg.Marker)
	if id == "" && e.cfg.AllowMissingURL {
		id = normalize.Slug(title)
	}

	if url == "" {
		if !e.cfg.AllowMissingURL || id == "" {
			return types.ConversationItem{}, false
		}
	}

	item := types.ConversationItem{
		ID:          id,
		Title:       title,
		URL:         url,
		SourceIndex: index,
	}
	if ts := n.Query("time[datetime]"); ts != nil {
		if t := normalize.ParseTimestamp(ts.Attr("datetime")); !t.IsZero() {
			item.UpdatedAtMs = t.UnixMilli()
		}
	}
	return item, true
}

func (e *Engine) extractTitle(n *dom.Node) string {
	for _, sel := range e.cfg.TitleSelectors {
		if t := n.Query(sel); t != nil {
			if v := normalize.Whitespace(t.Text()); v != "" {
				return v
			}
		}
	}
	return normalize.Whitespace(n.AccessibleTitle())
}

func (e *Engine) acceptURL(url string) bool {
	if len(e.cfg.PathHints) > 0 {
		hit := false
		for _, h := range e.cfg.PathHints {
			if strings.Contains(url, h) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, inc := range e.cfg.Include {
		if !strings.Contains(url, inc) {
			return false
		}
	}
	for _, exc := range e.cfg.Exclude {
		if strings.Contains(url, exc) {
			return false
		}
	}
	return true
}

// itemSet merges items across collection rounds, first occurrence wins.
type itemSet struct {
	byKey map[string]int
	items []types.ConversationItem
}

func newItemSet() *itemSet {
	return &itemSet{byKey: map[string]int{}}
}

func (s *itemSet) addAll(items []types.ConversationItem) {
	for _, it := range items {
		key := it.Key()
		if _, ok := s.byKey[key]; ok {
			continue
		}
		s.byKey[key] = len(s.items)
		s.items = append(s.items, it)
	}
}

func (s *itemSet) len() int { return len(s.items) }

func (s *itemSet) ordered(max int) []types.ConversationItem {
	out := make([]types.ConversationItem, len(s.items))
	copy(out, s.items)
	for i := range out {
		out[i].SourceIndex = i
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

package providers

import (
	"context"
	"sync"
	"time"

	"github.com/lotas/convhub/internal/applog"
	"github.com/lotas/convhub/internal/discover"
	"github.com/lotas/convhub/internal/types"
)

// tabSource lists conversations by running the discovery engine against a
// live tab of the provider's web app.
type tabSource struct {
	id, label string
	browser   Browser
	// pattern is the URL substring used to find candidate tabs.
	pattern string
	// hint tells the user what to open when no tab matches.
	hint string
	cfg  discover.Config
	// mainWorld captures from the page's own realm (frameworks that keep
	// list state off-DOM).
	mainWorld bool
	// pickBestTab races discovery across all matching tabs and keeps the
	// richest result instead of trusting one tab.
	pickBestTab bool
	// twoPhase re-runs discovery with the tab foregrounded when a background
	// run finds at most one item (apps that park background tabs render an
	// empty history list).
	twoPhase bool
}

func (s *tabSource) ID() string    { return s.id }
func (s *tabSource) Label() string { return s.label }

func (s *tabSource) List(ctx context.Context) types.AdapterResult {
	if s.browser == nil || !s.browser.Connected() {
		return types.AdapterResult{Status: types.StatusNeedsTab, Error: s.hint}
	}

	tabs, err := s.browser.Tabs(ctx, s.pattern)
	if err != nil {
		return types.AdapterResult{Status: types.StatusError, Error: err.Error()}
	}
	if len(tabs) == 0 {
		return types.AdapterResult{Status: types.StatusNeedsTab, Error: s.hint}
	}

	var items []types.ConversationItem
	if s.pickBestTab && len(tabs) > 1 {
		items, err = s.raceTabs(ctx, tabs)
	} else {
		tab := preferActive(tabs)
		items, err = s.scrape(ctx, tab, s.cfg)
		if err == nil && s.twoPhase && len(items) <= 1 {
			items = s.foregroundRetry(ctx, tab, items)
		}
	}
	if err != nil {
		return types.AdapterResult{Status: types.StatusError, Error: err.Error()}
	}
	if len(items) == 0 {
		return types.AdapterResult{Status: types.StatusEmpty}
	}
	return types.AdapterResult{Items: items, Status: types.StatusOK}
}

func (s *tabSource) scrape(ctx context.Context, tab types.Tab, cfg discover.Config) ([]types.ConversationItem, error) {
	engine := discover.New(cfg, s.browser.Pager(tab.ID, s.mainWorld))
	return engine.Run(ctx)
}

// raceTabs runs discovery on every matching tab concurrently and keeps the
// tab that produced the most items, active tab winning ties.
func (s *tabSource) raceTabs(ctx context.Context, tabs []types.Tab) ([]types.ConversationItem, error) {
	type outcome struct {
		tab   types.Tab
		items []types.ConversationItem
		err   error
	}
	results := make([]outcome, len(tabs))

	var wg sync.WaitGroup
	for i, tab := range tabs {
		wg.Add(1)
		go func(i int, tab types.Tab) {
			defer wg.Done()
			items, err := s.scrape(ctx, tab, s.cfg)
			results[i] = outcome{tab: tab, items: items, err: err}
		}(i, tab)
	}
	wg.Wait()

	best := -1
	var firstErr error
	for i, r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		switch {
		case len(r.items) > len(results[best].items):
			best = i
		case len(r.items) == len(results[best].items) && r.tab.Active && !results[best].tab.Active:
			best = i
		}
	}
	if best < 0 {
		return nil, firstErr
	}
	applog.Info("tabs.race", "source", s.id, "tabs", len(tabs), "winner", results[best].tab.ID, "items", len(results[best].items))
	return results[best].items, nil
}

// foregroundRetry activates the provider tab, re-runs discovery with a
// doubled budget, then restores whichever tab was active before. The larger
// of the two results wins.
func (s *tabSource) foregroundRetry(ctx context.Context, tab types.Tab, first []types.ConversationItem) []types.ConversationItem {
	if tab.Active {
		return first
	}

	// Remember the globally active tab so focus can be given back.
	var previous *types.Tab
	if all, err := s.browser.Tabs(ctx, ""); err == nil {
		for i, t := range all {
			if t.Active && t.ID != tab.ID {
				previous = &all[i]
				break
			}
		}
	}

	if err := s.browser.Activate(ctx, tab.ID); err != nil {
		applog.Error("tabs.activate", err, "source", s.id)
		return first
	}
	defer func() {
		if previous == nil {
			return
		}
		if err := s.browser.Activate(ctx, previous.ID); err != nil {
			applog.Error("tabs.restore", err, "source", s.id)
		}
	}()

	cfg := s.cfg
	cfg.WaitBudget = 2 * defaultDuration(cfg.WaitBudget, 4*time.Second)
	cfg.ScrollBudget = 2 * defaultDuration(cfg.ScrollBudget, 6*time.Second)
	retry, err := s.scrape(ctx, tab, cfg)
	if err != nil {
		applog.Error("tabs.retry", err, "source", s.id)
		return first
	}
	applog.Info("tabs.foreground-retry", "source", s.id, "before", len(first), "after", len(retry))
	if len(retry) > len(first) {
		return retry
	}
	return first
}

func preferActive(tabs []types.Tab) types.Tab {
	for _, t := range tabs {
		if t.Active {
			return t
		}
	}
	return tabs[0]
}

func defaultDuration(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

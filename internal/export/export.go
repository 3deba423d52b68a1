// Package export renders the merged conversation list for consumption
// outside the hub.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lotas/convhub/internal/normalize"
	"github.com/lotas/convhub/internal/types"
)

// Markdown formats the merged list as a markdown document grouped by service.
// Items keep their merged order within each group.
func Markdown(items []types.ConversationItem) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Conversations\n")
	fmt.Fprintf(&b, "> Exported %s\n", time.Now().Format("2006-01-02 15:04"))

	for _, group := range groupByService(items) {
		n := len(group.items)
		noun := "conversations"
		if n == 1 {
			noun = "conversation"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", group.label, n, noun)

		for _, it := range group.items {
			title := it.Title
			if title == "" {
				title = "Untitled"
			}
			line := "- " + title
			if it.URL != "" {
				line = fmt.Sprintf("- [%s](%s)", title, it.URL)
			}
			if it.UpdatedAtMs > 0 {
				line += " — " + normalize.SinceText(time.Since(time.UnixMilli(it.UpdatedAtMs)))
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

// jsonItem is the stable export shape; internal bookkeeping fields stay out.
type jsonItem struct {
	Service   string `json:"service"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// JSON formats the merged list as an indented JSON array.
func JSON(items []types.ConversationItem) (string, error) {
	out := make([]jsonItem, 0, len(items))
	for _, it := range items {
		j := jsonItem{
			Service: it.ServiceID,
			ID:      it.ID,
			Title:   it.Title,
			URL:     it.URL,
		}
		if it.UpdatedAtMs > 0 {
			j.UpdatedAt = time.UnixMilli(it.UpdatedAtMs).UTC().Format(time.RFC3339)
		}
		out = append(out, j)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(data), nil
}

type serviceGroup struct {
	id    string
	label string
	items []types.ConversationItem
}

// groupByService buckets items by service in first-seen order.
func groupByService(items []types.ConversationItem) []serviceGroup {
	index := map[string]int{}
	var groups []serviceGroup
	for _, it := range items {
		id := it.ServiceID
		i, ok := index[id]
		if !ok {
			label := it.ServiceLabel
			if label == "" {
				label = id
			}
			if label == "" {
				label = "Unknown"
			}
			i = len(groups)
			index[id] = i
			groups = append(groups, serviceGroup{id: id, label: label})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

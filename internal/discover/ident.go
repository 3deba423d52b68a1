package discover

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lotas/convhub/internal/dom"
	"github.com/lotas/convhub/internal/normalize"
)

// Candidate is one scored ID match mined from an attribute blob.
type Candidate struct {
	ID     string
	Score  int
	Length int
}

// candidateLess is the documented ranking: score descending, then length
// descending, then lexicographic for determinism.
func candidateLess(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Length != b.Length {
		return a.Length > b.Length
	}
	return a.ID < b.ID
}

// RankIDs scores every regex match across the blob bag. A match found in a
// blob that also carries the provider marker substring scores higher.
func RankIDs(blobs []string, patterns []*regexp.Regexp, marker string) []Candidate {
	seen := map[string]int{} // id -> index in out
	var out []Candidate
	for _, blob := range blobs {
		if blob == "" {
			continue
		}
		score := 1
		if marker != "" && strings.Contains(blob, marker) {
			score += 2
		}
		for _, p := range patterns {
			for _, m := range p.FindAllStringSubmatch(blob, -1) {
				id := m[0]
				if len(m) > 1 && m[1] != "" {
					id = m[1]
				}
				if id == "" {
					continue
				}
				if i, ok := seen[id]; ok {
					if score > out[i].Score {
						out[i].Score = score
					}
					continue
				}
				seen[id] = len(out)
				out = append(out, Candidate{ID: id, Score: score, Length: len(id)})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return candidateLess(out[i], out[j]) })
	return out
}

// BestID returns the top-ranked ID, falling back to a plain ordered-pattern
// scan over the concatenated bag when scoring finds nothing.
func BestID(blobs []string, patterns []*regexp.Regexp, marker string) string {
	ranked := RankIDs(blobs, patterns, marker)
	if len(ranked) > 0 {
		return ranked[0].ID
	}
	return normalize.FindID(strings.Join(blobs, " "), patterns)
}

// attributeBag gathers candidate ID-bearing strings for one item element:
// its own attributes, attributes of a bounded set of descendants, and
// attributes of a bounded set of ancestors. aria-describedby and data-*
// values come along for free since all attributes are enumerated.
func attributeBag(n *dom.Node, cfg Config) []string {
	var bag []string

	add := func(el *dom.Node) {
		for _, a := range el.Attrs() {
			if a.Val != "" {
				bag = append(bag, a.Val)
			}
		}
	}
	add(n)

	// Descendants: either the configured attribute selectors, or a shallow
	// generic enumeration, capped either way.
	var desc []*dom.Node
	if len(cfg.AttributeSelectors) > 0 {
		for _, sel := range cfg.AttributeSelectors {
			desc = append(desc, n.QueryAll(sel)...)
		}
	} else {
		desc = n.QueryAll("*")
	}
	for i, d := range desc {
		if i >= cfg.AttributeScanLimit {
			break
		}
		add(d)
	}

	// Ancestors, bounded.
	anc := n.Parent()
	for i := 0; i < cfg.AncestorLevels && anc != nil; i++ {
		add(anc)
		anc = anc.Parent()
	}

	return bag
}

package rib

import (
	"sort"

	"github.com/orbisoperations/catalyst/internal/route"
)

// selectBestPath picks the winning candidate among routes sharing a key:
// shortest nodePath wins; ties keep whichever candidate was inserted into
// the route table first (sort.SliceStable over the insertion-ordered
// slice CandidatesFor already returns).
func selectBestPath(candidates []route.InternalRoute) (route.LocRibEntry, bool) {
	if len(candidates) == 0 {
		return route.LocRibEntry{}, false
	}
	if len(candidates) == 1 {
		return route.LocRibEntry{
			BestPath:        candidates[0],
			SelectionReason: route.ReasonOnlyCandidate,
		}, true
	}
	ordered := make([]route.InternalRoute, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].NodePath) < len(ordered[j].NodePath)
	})
	return route.LocRibEntry{
		BestPath:        ordered[0],
		Alternatives:    ordered[1:],
		SelectionReason: route.ReasonShortestPath,
	}, true
}

// computeLocRib runs selectBestPath over every distinct route key present
// in t's internal routes.
func computeLocRib(t route.Table) map[route.Key]route.LocRibEntry {
	out := make(map[route.Key]route.LocRibEntry)
	for _, key := range t.RouteKeys() {
		if entry, ok := selectBestPath(t.CandidatesFor(key)); ok {
			out[key] = entry
		}
	}
	return out
}

func unionKeys(a, b []route.Key) []route.Key {
	seen := make(map[route.Key]bool, len(a)+len(b))
	out := make([]route.Key, 0, len(a)+len(b))
	for _, k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

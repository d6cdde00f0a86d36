package augment

import (
	"sort"

	"similarusers/internal/cache"
)

// rank orders the neighbor list by overlap count descending. Ties go to the
// neighbor with the smaller known page count (unknown counts as 0), so that
// among equally overlapping accounts the one whose activity is mostly
// shared with the subject ranks first.
//
// The list is then truncated to the configured cap, but never inside a run
// of equal overlap counts greater than 1: past the cap, only a position
// whose overlap is exactly 1 may be cut, stripping the singleton tail while
// keeping every neighbor tied with a retained multi-page overlap.
func (e *Engine) rank(neighbors []cache.Neighbor) []cache.Neighbor {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Overlap != neighbors[j].Overlap {
			return neighbors[i].Overlap > neighbors[j].Overlap
		}
		return e.numPagesOf(neighbors[i].UserText) < e.numPagesOf(neighbors[j].UserText)
	})

	limit := e.cfg.NeighborCap
	if len(neighbors) <= limit {
		return neighbors
	}

	cutAt := len(neighbors)
	for i, n := range neighbors[limit:] {
		if n.Overlap == 1 {
			cutAt = limit + i
			break
		}
	}
	return neighbors[:cutAt]
}

func (e *Engine) numPagesOf(userText string) int {
	meta, ok := e.cache.MetaOf(userText)
	if !ok {
		return 0
	}
	return meta.NumPages
}

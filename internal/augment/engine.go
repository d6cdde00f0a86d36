// Package augment extends a user's cached similarity data with their live
// edit history: new edits update the temporal vectors and edit statistics,
// co-editors discovered on newly touched pages are merged into the ranked
// neighbor list, and the list is re-ranked under the configured cap.
package augment

import (
	"context"
	"time"

	"similarusers/internal/cache"
	"similarusers/internal/config"
	"similarusers/internal/errors"
	"similarusers/internal/logging"
	"similarusers/internal/wiki"
)

// groupBatchSize is the number of accounts per user-group lookup.
const groupBatchSize = 50

// Engine performs live augmentation against the similarity cache.
type Engine struct {
	cache    *cache.Cache
	client   wiki.Client
	cfg      config.QueryConfig
	baseline time.Time
	logger   *logging.Logger
}

// NewEngine creates an augmentation engine. baseline is the timestamp where
// the bulk dataset ends; revision scans on discovered pages start there.
func NewEngine(c *cache.Cache, client wiki.Client, cfg config.QueryConfig, baseline time.Time, logger *logging.Logger) *Engine {
	return &Engine{
		cache:    c,
		client:   client,
		cfg:      cfg,
		baseline: baseline,
		logger:   logger,
	}
}

// Refresh augments the subject with edits made since their last known edit.
// The caller must hold the subject's cache lock.
//
// Augmentation is best-effort, not atomic: a failure partway through is
// returned to the caller, but updates already applied to the temporal and
// overlap state stay in place.
func (e *Engine) Refresh(ctx context.Context, userText string) error {
	pages, err := e.fetchAdditionalEdits(ctx, userText)
	if err != nil {
		return errors.Wrap(errors.UpstreamUnavailable,
			"failed to get additional edits for user "+userText, err)
	}

	if err := e.updateCoeditData(ctx, userText, pages); err != nil {
		return errors.Wrap(errors.UpstreamUnavailable,
			"failed to update coedit data for user "+userText, err)
	}
	return nil
}

// fetchAdditionalEdits gathers the subject's edits since their last known
// edit (or the baseline if none is known), updates the temporal vectors
// with the smearing rule and advances the subject's edit statistics.
func (e *Engine) fetchAdditionalEdits(ctx context.Context, userText string) ([]wiki.PageEdits, error) {
	meta := e.cache.Meta(userText)

	start := e.baseline
	if meta.MostRecentEdit != nil {
		// Strictly newer than the last recorded edit.
		start = meta.MostRecentEdit.Add(time.Second)
	}

	pages, err := e.client.UserEdits(ctx, userText, start, e.cfg.MaxPagesPerLookup)
	if err != nil {
		return nil, err
	}

	minTS := meta.OldestEdit
	maxTS := meta.MostRecentEdit
	newEdits := 0

	for _, page := range pages {
		for _, ts := range page.Timestamps {
			e.cache.SmearEdit(userText, int(ts.Weekday()), ts.Hour(), 1)
			newEdits++
			t := ts
			if minTS == nil {
				minTS, maxTS = &t, &t
			} else {
				if t.Before(*minTS) {
					minTS = &t
				}
				if t.After(*maxTS) {
					maxTS = &t
				}
			}
		}
	}

	e.logger.Debug("Retrieved additional edits", map[string]interface{}{
		"user":      userText,
		"num_edits": newEdits,
		"num_pages": len(pages),
	})
	e.cache.RecordEdits(userText, newEdits, len(pages), minTS, maxTS)
	return pages, nil
}

// updateCoeditData scans the revisions of each newly discovered page for
// other editors near the subject's own edits, drops bot accounts, merges
// the new overlap counts into the ranked list and re-ranks it.
//
// This can be high latency for pages with many edits; the page limit in
// fetchAdditionalEdits is the only bound.
func (e *Engine) updateCoeditData(ctx context.Context, userText string, pages []wiki.PageEdits) error {
	k := e.cfg.EditWindow

	// neighbor -> set of shared pages, plus discovery order so ranking
	// ties stay deterministic
	overlapping := make(map[string]map[int64]struct{})
	var discovered []string

	for _, page := range pages {
		revs, err := e.client.PageRevisions(ctx, page.PageID, e.baseline)
		if err != nil {
			return err
		}

		for idx, rev := range revs {
			if rev.User != userText {
				continue
			}
			lo := idx - k
			if lo < 0 {
				lo = 0
			}
			hi := idx + k
			if hi > len(revs) {
				hi = len(revs)
			}
			for _, other := range revs[lo:hi] {
				// Edits by hidden users carry no user name.
				if other.User == "" || other.User == userText {
					continue
				}
				set, ok := overlapping[other.User]
				if !ok {
					set = make(map[int64]struct{})
					overlapping[other.User] = set
					discovered = append(discovered, other.User)
				}
				set[page.PageID] = struct{}{}
			}
		}
	}

	if err := e.removeBots(ctx, overlapping, discovered); err != nil {
		return err
	}

	// Merge into the existing ranked list: known neighbors gain the newly
	// shared page count, the rest are appended in discovery order.
	neighbors := e.cache.Neighbors(userText)
	for i := range neighbors {
		if set, ok := overlapping[neighbors[i].UserText]; ok {
			neighbors[i].Overlap += len(set)
			delete(overlapping, neighbors[i].UserText)
		}
	}
	for _, u := range discovered {
		if set, ok := overlapping[u]; ok {
			neighbors = append(neighbors, cache.Neighbor{UserText: u, Overlap: len(set)})
		}
	}

	ranked := e.rank(neighbors)
	e.cache.SetNeighbors(userText, ranked)
	return nil
}

// removeBots deletes accounts in the bot group from the overlap map.
// Accounts in the bulk dataset were vetted during its generation; only
// the rest are checked, in batches of groupBatchSize.
func (e *Engine) removeBots(ctx context.Context, overlapping map[string]map[int64]struct{}, discovered []string) error {
	var unknown []string
	for _, u := range discovered {
		if _, known := e.cache.MetaOf(u); !known {
			unknown = append(unknown, u)
		}
	}

	for start := 0; start < len(unknown); start += groupBatchSize {
		end := start + groupBatchSize
		if end > len(unknown) {
			end = len(unknown)
		}
		groups, err := e.client.Groups(ctx, unknown[start:end])
		if err != nil {
			return err
		}
		for name, gs := range groups {
			for _, g := range gs {
				if g == "bot" {
					delete(overlapping, name)
					break
				}
			}
		}
	}
	return nil
}

// Package cache holds the in-process similarity projections: per-user
// metadata, ranked neighbor lists and temporal vectors, populated lazily
// from the backing store and mutated in place by live augmentation.
//
// The cache is an accelerator, never the source of truth. It is rebuilt
// empty on process restart and has no eviction; entries live for the
// process lifetime.
package cache

import (
	"sync"
	"time"

	"similarusers/internal/logging"
	"similarusers/internal/storage"
	"similarusers/internal/temporal"
)

// UserMeta is the in-memory projection of a user's metadata row.
// Counts and timestamps only advance.
type UserMeta struct {
	IsAnon         bool
	NumEdits       int
	NumPages       int
	MostRecentEdit *time.Time
	OldestEdit     *time.Time
}

// Neighbor is one entry of a subject's ranked co-editor list.
type Neighbor struct {
	UserText string
	Overlap  int
}

// Backing is what the cache needs from the backing store: point queries
// for the three projections of one user.
type Backing interface {
	UserByText(userText string) (*storage.UserMetadata, error)
	CoeditsByText(userText string) ([]storage.Coedit, error)
	TemporalByText(userText string) ([]storage.Temporal, error)
}

type entry struct {
	mu        sync.Mutex
	loaded    bool
	known     bool // a metadata row existed when the entry was populated
	meta      UserMeta
	neighbors []Neighbor
	vectors   temporal.Vectors
}

// Cache is the process-wide similarity cache. It is constructed once at
// startup and passed by reference; there are no package-level globals.
//
// Concurrent requests for different users proceed independently.
// Requests for the same user serialize through a per-user lock so that
// population and the augmentation merge never race. Entry fields are
// additionally guarded by a per-entry mutex: result assembly for one
// subject reads the metadata and vectors of its neighbors, whose own
// entries may be under population by other requests at the same time.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	userLocks map[string]*sync.Mutex

	store   Backing
	offsets []int // smearing offsets applied when loading temporal rows
	logger  *logging.Logger
}

// New creates an empty cache over the given backing store. offsets are the
// temporal smearing offsets (the same set live augmentation uses, so bulk
// and live data land in comparable vectors).
func New(store Backing, offsets []int, logger *logging.Logger) *Cache {
	return &Cache{
		entries:   make(map[string]*entry),
		userLocks: make(map[string]*sync.Mutex),
		store:     store,
		offsets:   offsets,
		logger:    logger,
	}
}

// LockUser takes the per-user lock and returns the unlock function.
// Callers hold it across lookup-augment-read so same-user requests
// serialize instead of losing updates.
func (c *Cache) LockUser(userText string) func() {
	c.mu.Lock()
	l, ok := c.userLocks[userText]
	if !ok {
		l = &sync.Mutex{}
		c.userLocks[userText] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Lookup populates the user's entry from the backing store if this is the
// first reference. Absent rows yield an empty entry, not an error; the
// temporal vectors are always allocated so scoring needs no nil checks.
// Returns whether the user had a metadata row in the dataset.
func (c *Cache) Lookup(userText string) (known bool, err error) {
	e := c.get(userText)
	e.mu.Lock()
	if e.loaded {
		known = e.known
		e.mu.Unlock()
		return known, nil
	}
	e.mu.Unlock()

	// The caller holds the per-user lock, so no second population for
	// this user can interleave here. The entry lock is dropped during
	// the store reads so neighbor-side readers are not blocked on I/O.
	meta, err := c.store.UserByText(userText)
	if err != nil {
		return false, err
	}
	coedits, err := c.store.CoeditsByText(userText)
	if err != nil {
		return false, err
	}
	buckets, err := c.store.TemporalByText(userText)
	if err != nil {
		return false, err
	}

	var m UserMeta
	if meta != nil {
		m = UserMeta{
			IsAnon:         meta.IsAnon,
			NumEdits:       meta.NumEdits,
			NumPages:       meta.NumPages,
			MostRecentEdit: meta.MostRecentEdit,
			OldestEdit:     meta.OldestEdit,
		}
	}
	neighbors := make([]Neighbor, 0, len(coedits))
	for _, co := range coedits {
		neighbors = append(neighbors, Neighbor{UserText: co.Neighbor, Overlap: co.Overlap})
	}
	var v temporal.Vectors
	for _, b := range buckets {
		v.Smear(b.Day, b.Hour, b.NumEdits, c.offsets)
	}

	e.mu.Lock()
	e.known = meta != nil
	e.meta = m
	e.neighbors = neighbors
	e.vectors = v
	e.loaded = true
	e.mu.Unlock()

	c.logger.Debug("Populated cache entry", map[string]interface{}{
		"user":      userText,
		"known":     meta != nil,
		"neighbors": len(neighbors),
	})
	return meta != nil, nil
}

// Admit marks a user as present without backing-store rows: a live-only
// account discovered through the wiki API. The entry starts empty.
func (c *Cache) Admit(userText string, isAnon bool) {
	e := c.get(userText)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && e.known {
		return
	}
	e.loaded = true
	e.known = true
	e.meta.IsAnon = isAnon
}

// Meta returns a copy of the user's metadata projection.
func (c *Cache) Meta(userText string) UserMeta {
	e := c.get(userText)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta
}

// MetaOf returns a user's metadata for ranking and result assembly,
// reading through to the backing store for users not yet cached. The
// read-through does not populate an entry; only Lookup does that. Users
// unknown to both sides (and store read failures) report ok=false.
func (c *Cache) MetaOf(userText string) (UserMeta, bool) {
	c.mu.Lock()
	e, ok := c.entries[userText]
	c.mu.Unlock()
	if ok {
		e.mu.Lock()
		if e.loaded {
			known, meta := e.known, e.meta
			e.mu.Unlock()
			if !known {
				return UserMeta{}, false
			}
			return meta, true
		}
		e.mu.Unlock()
	}

	meta, err := c.store.UserByText(userText)
	if err != nil {
		c.logger.Debug("Metadata read-through failed", map[string]interface{}{
			"user":  userText,
			"error": err.Error(),
		})
		return UserMeta{}, false
	}
	if meta == nil {
		return UserMeta{}, false
	}
	return UserMeta{
		IsAnon:         meta.IsAnon,
		NumEdits:       meta.NumEdits,
		NumPages:       meta.NumPages,
		MostRecentEdit: meta.MostRecentEdit,
		OldestEdit:     meta.OldestEdit,
	}, true
}

// VectorsOf returns a copy of a user's temporal vectors for scoring,
// reading through to the backing store for users not yet cached. Store
// misses and read failures both yield zero vectors, which score as
// "No overlap".
func (c *Cache) VectorsOf(userText string) temporal.Vectors {
	c.mu.Lock()
	e, ok := c.entries[userText]
	c.mu.Unlock()
	if ok {
		e.mu.Lock()
		if e.loaded {
			v := e.vectors
			e.mu.Unlock()
			return v
		}
		e.mu.Unlock()
	}

	var v temporal.Vectors
	buckets, err := c.store.TemporalByText(userText)
	if err != nil {
		c.logger.Debug("Temporal read-through failed", map[string]interface{}{
			"user":  userText,
			"error": err.Error(),
		})
		return v
	}
	for _, b := range buckets {
		v.Smear(b.Day, b.Hour, b.NumEdits, c.offsets)
	}
	return v
}

// Neighbors returns the subject's ranked neighbor list (shared slice; the
// caller must hold the user lock while reading).
func (c *Cache) Neighbors(userText string) []Neighbor {
	e := c.get(userText)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.neighbors
}

// SetNeighbors replaces the subject's ranked neighbor list.
func (c *Cache) SetNeighbors(userText string, neighbors []Neighbor) {
	e := c.get(userText)
	e.mu.Lock()
	e.neighbors = neighbors
	e.mu.Unlock()
}

// SmearEdit folds one live edit into the user's temporal vectors using
// the cache's smearing offsets.
func (c *Cache) SmearEdit(userText string, day, hour, numEdits int) {
	e := c.get(userText)
	e.mu.Lock()
	e.vectors.Smear(day, hour, numEdits, c.offsets)
	e.mu.Unlock()
}

// RecordEdits advances a subject's edit statistics after live augmentation:
// counts increase, the timestamp range widens.
func (c *Cache) RecordEdits(userText string, newEdits, newPages int, oldest, mostRecent *time.Time) {
	e := c.get(userText)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.meta.NumEdits += newEdits
	// These might not all be new pages, but checking is too expensive and
	// getting it wrong only skews the overlap denominator slightly.
	e.meta.NumPages += newPages
	if oldest != nil && (e.meta.OldestEdit == nil || oldest.Before(*e.meta.OldestEdit)) {
		e.meta.OldestEdit = oldest
	}
	if mostRecent != nil && (e.meta.MostRecentEdit == nil || mostRecent.After(*e.meta.MostRecentEdit)) {
		e.meta.MostRecentEdit = mostRecent
	}
}

func (c *Cache) get(userText string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userText]
	if !ok {
		e = &entry{}
		c.entries[userText] = e
	}
	return e
}

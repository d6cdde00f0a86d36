package augment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"similarusers/internal/cache"
	"similarusers/internal/config"
	svcerrors "similarusers/internal/errors"
	"similarusers/internal/logging"
	"similarusers/internal/storage"
	"similarusers/internal/wiki"
)

// fakeStore is a minimal cache.Backing over fixed maps.
type fakeStore struct {
	users    map[string]*storage.UserMetadata
	coedits  map[string][]storage.Coedit
	temporal map[string][]storage.Temporal
}

func (s *fakeStore) UserByText(userText string) (*storage.UserMetadata, error) {
	return s.users[userText], nil
}

func (s *fakeStore) CoeditsByText(userText string) ([]storage.Coedit, error) {
	return s.coedits[userText], nil
}

func (s *fakeStore) TemporalByText(userText string) ([]storage.Temporal, error) {
	return s.temporal[userText], nil
}

// fakeClient is a canned wiki.Client.
type fakeClient struct {
	edits     map[string][]wiki.PageEdits
	revisions map[int64][]wiki.Revision
	groups    map[string][]string
	editsErr  error

	groupLookups [][]string
}

func (c *fakeClient) UserEdits(ctx context.Context, userText string, start time.Time, pageLimit int) ([]wiki.PageEdits, error) {
	if c.editsErr != nil {
		return nil, c.editsErr
	}
	pages := c.edits[userText]
	if len(pages) > pageLimit {
		pages = pages[:pageLimit]
	}
	return pages, nil
}

func (c *fakeClient) PageRevisions(ctx context.Context, pageID int64, start time.Time) ([]wiki.Revision, error) {
	return c.revisions[pageID], nil
}

func (c *fakeClient) AccountInfo(ctx context.Context, userText string) (*wiki.AccountInfo, error) {
	return &wiki.AccountInfo{Name: userText, Groups: c.groups[userText]}, nil
}

func (c *fakeClient) Groups(ctx context.Context, userTexts []string) (map[string][]string, error) {
	c.groupLookups = append(c.groupLookups, userTexts)
	result := make(map[string][]string)
	for _, u := range userTexts {
		if gs, ok := c.groups[u]; ok {
			result[u] = gs
		}
	}
	return result, nil
}

func (c *fakeClient) HasEditsSince(ctx context.Context, userText string, start time.Time) (bool, error) {
	return len(c.edits[userText]) > 0, nil
}

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		DefaultK:          50,
		MaxPagesPerLookup: 50,
		EditWindow:        2,
		NeighborCap:       250,
		TemporalOffsets:   []int{-1, 0, 1},
	}
}

func newTestEngine(t *testing.T, store *fakeStore, client *fakeClient, cfg config.QueryConfig) (*Engine, *cache.Cache) {
	t.Helper()
	c := cache.New(store, cfg.TemporalOffsets, logging.Discard())
	baseline := time.Date(2020, 9, 30, 0, 0, 0, 0, time.UTC)
	return NewEngine(c, client, cfg, baseline, logging.Discard()), c
}

func TestRefreshMergesNewCoeditors(t *testing.T) {
	recent := time.Date(2020, 9, 21, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: map[string]*storage.UserMetadata{
			"Alice": {UserText: "Alice", NumEdits: 10, NumPages: 4, MostRecentEdit: &recent},
		},
		coedits: map[string][]storage.Coedit{
			"Alice": {{UserText: "Alice", Neighbor: "Bob", Overlap: 3}},
		},
	}

	editTS := time.Date(2020, 10, 2, 14, 30, 0, 0, time.UTC)
	client := &fakeClient{
		edits: map[string][]wiki.PageEdits{
			"Alice": {{PageID: 100, Timestamps: []time.Time{editTS}}},
		},
		revisions: map[int64][]wiki.Revision{
			100: {
				{RevID: 1, User: "Carol", Timestamp: editTS.Add(-2 * time.Hour)},
				{RevID: 2, User: "Alice", Timestamp: editTS},
				{RevID: 3, User: "RoboFixer", Timestamp: editTS.Add(time.Hour)},
			},
		},
		groups: map[string][]string{
			"Carol":     {"user"},
			"RoboFixer": {"user", "bot"},
		},
	}

	engine, c := newTestEngine(t, store, client, testQueryConfig())
	unlock := c.LockUser("Alice")
	defer unlock()

	_, err := c.Lookup("Alice")
	require.NoError(t, err)
	require.NoError(t, engine.Refresh(context.Background(), "Alice"))

	// Carol joins the list; the bot does not.
	neighbors := c.Neighbors("Alice")
	byName := make(map[string]int)
	for _, n := range neighbors {
		byName[n.UserText] = n.Overlap
	}
	assert.Equal(t, 3, byName["Bob"])
	assert.Equal(t, 1, byName["Carol"])
	assert.NotContains(t, byName, "RoboFixer")
	assert.NotContains(t, byName, "Alice")

	// The new edit advanced the subject's statistics and vectors.
	meta := c.Meta("Alice")
	assert.Equal(t, 11, meta.NumEdits)
	assert.Equal(t, 5, meta.NumPages)
	require.NotNil(t, meta.MostRecentEdit)
	assert.True(t, meta.MostRecentEdit.Equal(editTS))

	v := c.VectorsOf("Alice")
	assert.Equal(t, 1.0, v.Hour[14])
	assert.Equal(t, 1.0, v.Hour[13])
	assert.Equal(t, 1.0, v.Hour[15])
}

func TestRefreshCountsSharedPagesOnce(t *testing.T) {
	store := &fakeStore{users: map[string]*storage.UserMetadata{}}

	ts := func(h int) time.Time {
		return time.Date(2020, 10, 5, h, 0, 0, 0, time.UTC)
	}
	// Bob appears near two of Alice's edits on the same page; the page
	// still counts once.
	client := &fakeClient{
		edits: map[string][]wiki.PageEdits{
			"Alice": {{PageID: 100, Timestamps: []time.Time{ts(10), ts(12)}}},
		},
		revisions: map[int64][]wiki.Revision{
			100: {
				{RevID: 1, User: "Bob", Timestamp: ts(9)},
				{RevID: 2, User: "Alice", Timestamp: ts(10)},
				{RevID: 3, User: "Bob", Timestamp: ts(11)},
				{RevID: 4, User: "Alice", Timestamp: ts(12)},
			},
		},
		groups: map[string][]string{"Bob": {"user"}},
	}

	engine, c := newTestEngine(t, store, client, testQueryConfig())
	unlock := c.LockUser("Alice")
	defer unlock()

	_, err := c.Lookup("Alice")
	require.NoError(t, err)
	c.Admit("Alice", false)
	require.NoError(t, engine.Refresh(context.Background(), "Alice"))

	neighbors := c.Neighbors("Alice")
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Bob", neighbors[0].UserText)
	assert.Equal(t, 1, neighbors[0].Overlap)
}

func TestRefreshSkipsGroupCheckForDatasetUsers(t *testing.T) {
	ts := time.Date(2020, 10, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: map[string]*storage.UserMetadata{
			"Bob": {UserText: "Bob", NumEdits: 50, NumPages: 20},
		},
	}
	client := &fakeClient{
		edits: map[string][]wiki.PageEdits{
			"Alice": {{PageID: 100, Timestamps: []time.Time{ts}}},
		},
		revisions: map[int64][]wiki.Revision{
			100: {
				{RevID: 1, User: "Bob", Timestamp: ts.Add(-time.Hour)},
				{RevID: 2, User: "Alice", Timestamp: ts},
			},
		},
	}

	engine, c := newTestEngine(t, store, client, testQueryConfig())
	unlock := c.LockUser("Alice")
	defer unlock()

	_, err := c.Lookup("Alice")
	require.NoError(t, err)
	c.Admit("Alice", false)
	require.NoError(t, engine.Refresh(context.Background(), "Alice"))

	// Bob is in the bulk dataset, so no group lookup was needed.
	assert.Empty(t, client.groupLookups)
	neighbors := c.Neighbors("Alice")
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Bob", neighbors[0].UserText)
}

func TestRefreshUpstreamFailure(t *testing.T) {
	store := &fakeStore{users: map[string]*storage.UserMetadata{}}
	client := &fakeClient{editsErr: errors.New("api down")}

	engine, c := newTestEngine(t, store, client, testQueryConfig())
	unlock := c.LockUser("Alice")
	defer unlock()

	_, err := c.Lookup("Alice")
	require.NoError(t, err)

	err = engine.Refresh(context.Background(), "Alice")
	require.Error(t, err)
	assert.Equal(t, svcerrors.UpstreamUnavailable, svcerrors.CodeOf(err))
}

func TestRankOrdering(t *testing.T) {
	store := &fakeStore{
		users: map[string]*storage.UserMetadata{
			"A": {UserText: "A", NumPages: 10},
			"B": {UserText: "B", NumPages: 5},
		},
	}
	engine, _ := newTestEngine(t, store, &fakeClient{}, testQueryConfig())

	ranked := engine.rank([]cache.Neighbor{
		{UserText: "A", Overlap: 5},
		{UserText: "B", Overlap: 5},
		{UserText: "C", Overlap: 9},
	})

	require.Len(t, ranked, 3)
	assert.Equal(t, "C", ranked[0].UserText)
	// Equal overlap: the neighbor with fewer total pages ranks first,
	// since more of their activity is shared with the subject.
	assert.Equal(t, "B", ranked[1].UserText)
	assert.Equal(t, "A", ranked[2].UserText)
}

func TestRankTruncation(t *testing.T) {
	cfg := testQueryConfig()
	cfg.NeighborCap = 3
	engine, _ := newTestEngine(t, &fakeStore{}, &fakeClient{}, cfg)

	t.Run("cut happens at the first singleton past the cap", func(t *testing.T) {
		ranked := engine.rank([]cache.Neighbor{
			{UserText: "A", Overlap: 5},
			{UserText: "B", Overlap: 4},
			{UserText: "C", Overlap: 3},
			{UserText: "D", Overlap: 3},
			{UserText: "E", Overlap: 3},
			{UserText: "F", Overlap: 1},
			{UserText: "G", Overlap: 1},
		})
		require.Len(t, ranked, 5)
		assert.Equal(t, "E", ranked[4].UserText)
	})

	t.Run("no singleton past the cap keeps everything", func(t *testing.T) {
		ranked := engine.rank([]cache.Neighbor{
			{UserText: "A", Overlap: 5},
			{UserText: "B", Overlap: 4},
			{UserText: "C", Overlap: 3},
			{UserText: "D", Overlap: 2},
			{UserText: "E", Overlap: 2},
		})
		assert.Len(t, ranked, 5)
	})

	t.Run("under the cap nothing is cut", func(t *testing.T) {
		ranked := engine.rank([]cache.Neighbor{
			{UserText: "A", Overlap: 1},
			{UserText: "B", Overlap: 1},
		})
		assert.Len(t, ranked, 2)
	})
}

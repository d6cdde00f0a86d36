package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"similarusers/internal/augment"
	"similarusers/internal/cache"
	"similarusers/internal/config"
	"similarusers/internal/logging"
	"similarusers/internal/storage"
	"similarusers/internal/wiki"
)

// stubClient is a canned wiki.Client for handler tests.
type stubClient struct {
	edits    map[string][]wiki.PageEdits
	accounts map[string]*wiki.AccountInfo
	hasEdits map[string]bool
}

func (c *stubClient) UserEdits(ctx context.Context, userText string, start time.Time, pageLimit int) ([]wiki.PageEdits, error) {
	return c.edits[userText], nil
}

func (c *stubClient) PageRevisions(ctx context.Context, pageID int64, start time.Time) ([]wiki.Revision, error) {
	return nil, nil
}

func (c *stubClient) AccountInfo(ctx context.Context, userText string) (*wiki.AccountInfo, error) {
	if info, ok := c.accounts[userText]; ok {
		return info, nil
	}
	return &wiki.AccountInfo{Name: userText, Missing: true}, nil
}

func (c *stubClient) Groups(ctx context.Context, userTexts []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (c *stubClient) HasEditsSince(ctx context.Context, userText string, start time.Time) (bool, error) {
	return c.hasEdits[userText], nil
}

func setupTestServer(t *testing.T, client wiki.Client) (*Server, *storage.DB) {
	t.Helper()

	logger := logging.Discard()
	db, err := storage.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	// A single offset keeps the seeded temporal vectors exact, so the
	// cosine score of proportional vectors is exactly 1.
	cfg.Query.TemporalOffsets = []int{0}
	c := cache.New(storage.NewDataset(db), cfg.Query.TemporalOffsets, logger)

	baseline, err := time.Parse(storage.TimeFormat, cfg.Wiki.BaselineTimestamp)
	if err != nil {
		t.Fatalf("Failed to parse baseline: %v", err)
	}
	engine := augment.NewEngine(c, client, cfg.Query, baseline, logger)
	lock := storage.NewStoreLock(db, "test", logger)

	server, err := NewServer(cfg, c, engine, client, lock, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server, db
}

func seedSubject(t *testing.T, db *storage.DB) {
	t.Helper()
	recent, _ := time.Parse(storage.TimeFormat, "2020-09-21T23:42:39Z")
	oldest, _ := time.Parse(storage.TimeFormat, "2020-01-05T08:00:00Z")

	if err := db.WithTx(func(tx *sql.Tx) error {
		if err := storage.NewUserStore(db).BulkInsert(tx, []storage.UserMetadata{
			{UserText: "Alice", NumEdits: 120, NumPages: 40, MostRecentEdit: &recent, OldestEdit: &oldest},
			{UserText: "Bob", NumEdits: 55, NumPages: 20},
			{UserText: "Carol", NumEdits: 30, NumPages: 10},
		}); err != nil {
			return err
		}
		if err := storage.NewCoeditStore(db).BulkInsert(tx, []storage.Coedit{
			{UserText: "Alice", Neighbor: "Bob", Overlap: 8},
			{UserText: "Alice", Neighbor: "Carol", Overlap: 2},
		}); err != nil {
			return err
		}
		return storage.NewTemporalStore(db).BulkInsert(tx, []storage.Temporal{
			{UserText: "Alice", Day: 1, Hour: 9, NumEdits: 4},
			{UserText: "Bob", Day: 1, Hour: 9, NumEdits: 2},
		})
	}); err != nil {
		t.Fatalf("Failed to seed dataset: %v", err)
	}
}

func doGet(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestSimilarUsersKnownUser(t *testing.T) {
	server, db := setupTestServer(t, &stubClient{})
	seedSubject(t, db)

	rec := doGet(t, server, "/similarusers?usertext=alice&k=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SimilarUsersResponse
	decodeBody(t, rec, &resp)

	if resp.UserText != "Alice" {
		t.Errorf("Expected normalized user_text Alice, got %q", resp.UserText)
	}
	if resp.NumEditsInData != 120 {
		t.Errorf("Expected 120 edits in data, got %d", resp.NumEditsInData)
	}
	if resp.FirstEditInData == nil || *resp.FirstEditInData != "2020-01-05 08:00:00 UTC" {
		t.Errorf("Unexpected first_edit_in_data: %v", resp.FirstEditInData)
	}

	if len(resp.Results) != 1 {
		t.Fatalf("Expected k=1 to cap results at 1, got %d", len(resp.Results))
	}
	r := resp.Results[0]
	if r.UserText != "Bob" {
		t.Errorf("Expected top neighbor Bob, got %q", r.UserText)
	}
	if r.NumEditsInData != 20 {
		t.Errorf("Expected neighbor num_edits_in_data 20, got %d", r.NumEditsInData)
	}
	if want := 8.0 / 40.0; r.EditOverlap != want {
		t.Errorf("Expected edit-overlap %v, got %v", want, r.EditOverlap)
	}
	if want := 8.0 / 20.0; r.EditOverlapInv != want {
		t.Errorf("Expected edit-overlap-inv %v, got %v", want, r.EditOverlapInv)
	}
	// Alice and Bob share their only temporal bucket.
	if r.DayOverlap.Level != "Same" || r.HourOverlap.Level != "Same" {
		t.Errorf("Expected full temporal overlap, got %+v / %+v", r.DayOverlap, r.HourOverlap)
	}
	if r.FollowUp != nil {
		t.Error("Expected no follow-up links without the followup flag")
	}
}

func TestSimilarUsersFollowupLinks(t *testing.T) {
	server, db := setupTestServer(t, &stubClient{})
	seedSubject(t, db)

	// k is clamped to 250; the similar link makes that visible.
	rec := doGet(t, server, "/similarusers?usertext=Alice&k=9999&followup")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SimilarUsersResponse
	decodeBody(t, rec, &resp)
	if len(resp.Results) == 0 {
		t.Fatal("Expected results")
	}
	f := resp.Results[0].FollowUp
	if f == nil {
		t.Fatal("Expected follow-up links")
	}
	if !strings.Contains(f.Similar, "usertext=Bob") || !strings.Contains(f.Similar, "k=250") {
		t.Errorf("Unexpected similar link: %q", f.Similar)
	}
	if !strings.Contains(f.EditorInteract, "Alice") || !strings.Contains(f.EditorInteract, "Bob") {
		t.Errorf("Unexpected editorinteract link: %q", f.EditorInteract)
	}
	if !strings.Contains(f.InteractionTimeline, "user=Alice") {
		t.Errorf("Unexpected interaction-timeline link: %q", f.InteractionTimeline)
	}
}

func TestSimilarUsersValidation(t *testing.T) {
	server, _ := setupTestServer(t, &stubClient{})

	t.Run("missing usertext", func(t *testing.T) {
		rec := doGet(t, server, "/similarusers")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d", rec.Code)
		}
	})

	t.Run("bare user prefix", func(t *testing.T) {
		rec := doGet(t, server, "/similarusers?usertext=User:")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d", rec.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/similarusers?usertext=Alice", nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", rec.Code)
		}
	})
}

func TestSimilarUsersUnknownUsers(t *testing.T) {
	client := &stubClient{
		hasEdits: map[string]bool{
			"Fresh_editor": true,
			"RoboFixer":    true,
			"192.0.2.17":   true,
		},
		accounts: map[string]*wiki.AccountInfo{
			"Fresh_editor": {Name: "Fresh_editor", Groups: []string{"user"}},
			"RoboFixer":    {Name: "RoboFixer", Groups: []string{"user", "bot"}},
			"192.0.2.17":   {Name: "192.0.2.17", Invalid: true},
		},
	}
	server, _ := setupTestServer(t, client)

	t.Run("no account or edits", func(t *testing.T) {
		rec := doGet(t, server, "/similarusers?usertext=Ghost")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", rec.Code)
		}
		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		if resp.ErrorType != "user-no-edits" {
			t.Errorf("Expected user-no-edits, got %q", resp.ErrorType)
		}
	})

	t.Run("bot account", func(t *testing.T) {
		rec := doGet(t, server, "/similarusers?usertext=RoboFixer")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("Expected 403, got %d", rec.Code)
		}
		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		if resp.ErrorType != "user-bot" {
			t.Errorf("Expected user-bot, got %q", resp.ErrorType)
		}
	})

	t.Run("registered user outside the dataset", func(t *testing.T) {
		rec := doGet(t, server, "/similarusers?usertext=Fresh%20editor")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp SimilarUsersResponse
		decodeBody(t, rec, &resp)
		if resp.UserText != "Fresh_editor" {
			t.Errorf("Expected spaces replaced with underscores, got %q", resp.UserText)
		}
		if len(resp.Results) != 0 {
			t.Errorf("Expected no results for a live-only user with no new edits, got %d", len(resp.Results))
		}
	})

	t.Run("anonymous editor", func(t *testing.T) {
		rec := doGet(t, server, "/similarusers?usertext=192.0.2.17")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestSimilarUsersDuringRefresh(t *testing.T) {
	server, db := setupTestServer(t, &stubClient{})
	seedSubject(t, db)

	other := storage.NewStoreLock(db, "ingestion", logging.Discard())
	if err := other.Acquire("lock_ingestion"); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	rec := doGet(t, server, "/similarusers?usertext=Alice")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 during refresh, got %d", rec.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	if resp.ErrorType != "database-refresh" {
		t.Errorf("Expected database-refresh, got %q", resp.ErrorType)
	}

	if err := other.Release("lock_ingestion"); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	rec = doGet(t, server, "/similarusers?usertext=Alice")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after refresh finished, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := setupTestServer(t, &stubClient{})

	rec := doGet(t, server, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "similarusers is running" {
		t.Errorf("Unexpected healthz body: %q", got)
	}
}

func TestRefreshStatus(t *testing.T) {
	server, db := setupTestServer(t, &stubClient{})

	rec := doGet(t, server, "/database/refresh")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var status map[string]bool
	decodeBody(t, rec, &status)
	if status["in_progress"] {
		t.Error("Expected no refresh in progress")
	}

	lock := storage.NewStoreLock(db, "ingestion", logging.Discard())
	if err := lock.Acquire("lock_ingestion"); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	rec = doGet(t, server, "/database/refresh")
	decodeBody(t, rec, &status)
	if !status["in_progress"] {
		t.Error("Expected refresh to be reported in progress")
	}
}

func TestRootNotFound(t *testing.T) {
	server, _ := setupTestServer(t, &stubClient{})

	rec := doGet(t, server, "/")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 at root, got %d", rec.Code)
	}
}

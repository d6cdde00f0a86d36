package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// TimeFormat is the timestamp layout used in dataset files and in the
// backing store ("2020-09-21T23:42:39Z").
const TimeFormat = "2006-01-02T15:04:05Z"

// UserMetadata is a row of the user table: coverage statistics for one
// account in the bulk dataset.
type UserMetadata struct {
	UserText       string
	IsAnon         bool
	NumEdits       int
	NumPages       int
	MostRecentEdit *time.Time
	OldestEdit     *time.Time
	DatasetID      string
}

// Coedit is a row of the coedit table: an ordered (subject, neighbor) pair
// with the number of pages both touched.
type Coedit struct {
	UserText  string
	Neighbor  string
	Overlap   int
	DatasetID string
}

// Temporal is a row of the temporal table: the number of edits a user made
// in one (day-of-week, hour-of-day) bucket. Day 0 is Sunday.
type Temporal struct {
	UserText  string
	Day       int
	Hour      int
	NumEdits  int
	DatasetID string
}

// UserStore provides access to the user table
type UserStore struct {
	db *DB
}

// NewUserStore creates a new UserStore
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// GetByUserText returns the metadata row for a user, or nil if absent.
func (s *UserStore) GetByUserText(userText string) (*UserMetadata, error) {
	var (
		m         UserMetadata
		isAnon    int
		recent    sql.NullString
		oldest    sql.NullString
		datasetID sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT user_text, is_anon, num_edits, num_pages, most_recent_edit, oldest_edit, dataset_id
		FROM user
		WHERE user_text = ?
		LIMIT 1
	`, userText).Scan(&m.UserText, &isAnon, &m.NumEdits, &m.NumPages, &recent, &oldest, &datasetID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	m.IsAnon = isAnon != 0
	m.DatasetID = datasetID.String
	if m.MostRecentEdit, err = parseNullTime(recent); err != nil {
		return nil, fmt.Errorf("invalid most_recent_edit for user %s: %w", userText, err)
	}
	if m.OldestEdit, err = parseNullTime(oldest); err != nil {
		return nil, fmt.Errorf("invalid oldest_edit for user %s: %w", userText, err)
	}
	return &m, nil
}

// BulkInsert inserts a batch of metadata rows within the given transaction.
func (s *UserStore) BulkInsert(tx *sql.Tx, rows []UserMetadata) error {
	stmt, err := tx.Prepare(`
		INSERT INTO user (user_text, is_anon, num_edits, num_pages, most_recent_edit, oldest_edit, dataset_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare user insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range rows {
		_, err := stmt.Exec(m.UserText, boolToInt(m.IsAnon), m.NumEdits, m.NumPages,
			formatNullTime(m.MostRecentEdit), formatNullTime(m.OldestEdit), m.DatasetID)
		if err != nil {
			return fmt.Errorf("failed to insert user row: %w", err)
		}
	}
	return nil
}

// Truncate deletes all rows and returns the count of deleted rows.
func (s *UserStore) Truncate() (int64, error) {
	return truncateTable(s.db, "user")
}

// CoeditStore provides access to the coedit table
type CoeditStore struct {
	db *DB
}

// NewCoeditStore creates a new CoeditStore
func NewCoeditStore(db *DB) *CoeditStore {
	return &CoeditStore{db: db}
}

// ListByUserText returns all (neighbor, overlap) rows for a subject.
func (s *CoeditStore) ListByUserText(userText string) ([]Coedit, error) {
	rows, err := s.db.Query(`
		SELECT user_text, user_text_neighbour, overlap_count, dataset_id
		FROM coedit
		WHERE user_text = ?
	`, userText)
	if err != nil {
		return nil, fmt.Errorf("coedit lookup failed: %w", err)
	}
	defer rows.Close()

	var result []Coedit
	for rows.Next() {
		var (
			c         Coedit
			datasetID sql.NullString
		)
		if err := rows.Scan(&c.UserText, &c.Neighbor, &c.Overlap, &datasetID); err != nil {
			return nil, fmt.Errorf("failed to scan coedit row: %w", err)
		}
		c.DatasetID = datasetID.String
		result = append(result, c)
	}
	return result, rows.Err()
}

// BulkInsert inserts a batch of coedit rows within the given transaction.
func (s *CoeditStore) BulkInsert(tx *sql.Tx, rows []Coedit) error {
	stmt, err := tx.Prepare(`
		INSERT INTO coedit (user_text, user_text_neighbour, overlap_count, dataset_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare coedit insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range rows {
		if _, err := stmt.Exec(c.UserText, c.Neighbor, c.Overlap, c.DatasetID); err != nil {
			return fmt.Errorf("failed to insert coedit row: %w", err)
		}
	}
	return nil
}

// Truncate deletes all rows and returns the count of deleted rows.
func (s *CoeditStore) Truncate() (int64, error) {
	return truncateTable(s.db, "coedit")
}

// TemporalStore provides access to the temporal table
type TemporalStore struct {
	db *DB
}

// NewTemporalStore creates a new TemporalStore
func NewTemporalStore(db *DB) *TemporalStore {
	return &TemporalStore{db: db}
}

// ListByUserText returns all temporal bucket rows for a user.
func (s *TemporalStore) ListByUserText(userText string) ([]Temporal, error) {
	rows, err := s.db.Query(`
		SELECT user_text, d, h, num_edits, dataset_id
		FROM temporal
		WHERE user_text = ?
	`, userText)
	if err != nil {
		return nil, fmt.Errorf("temporal lookup failed: %w", err)
	}
	defer rows.Close()

	var result []Temporal
	for rows.Next() {
		var (
			t         Temporal
			datasetID sql.NullString
		)
		if err := rows.Scan(&t.UserText, &t.Day, &t.Hour, &t.NumEdits, &datasetID); err != nil {
			return nil, fmt.Errorf("failed to scan temporal row: %w", err)
		}
		t.DatasetID = datasetID.String
		result = append(result, t)
	}
	return result, rows.Err()
}

// BulkInsert inserts a batch of temporal rows within the given transaction.
func (s *TemporalStore) BulkInsert(tx *sql.Tx, rows []Temporal) error {
	stmt, err := tx.Prepare(`
		INSERT INTO temporal (user_text, d, h, num_edits, dataset_id)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare temporal insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range rows {
		if _, err := stmt.Exec(t.UserText, t.Day, t.Hour, t.NumEdits, t.DatasetID); err != nil {
			return fmt.Errorf("failed to insert temporal row: %w", err)
		}
	}
	return nil
}

// Truncate deletes all rows and returns the count of deleted rows.
func (s *TemporalStore) Truncate() (int64, error) {
	return truncateTable(s.db, "temporal")
}

func truncateTable(db *DB, table string) (int64, error) {
	res, err := db.Exec("DELETE FROM " + table)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count truncated rows in %s: %w", table, err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(TimeFormat, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(TimeFormat)
}

package ingest

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"similarusers/internal/storage"
)

// A source maps one delimited dataset file onto one backing-store table.
// Records parsed from the file accumulate in a pending batch that the
// pipeline flushes once per batch transaction.
type source interface {
	// Name of the target table, for logging and counters.
	Name() string
	// FileName of the dataset file inside the resource directory.
	FileName() string
	// Header is the exact expected header row; a mismatch is fatal for
	// the file.
	Header() []string
	// Truncate deletes all existing rows, returning the deleted count.
	Truncate() (int64, error)
	// Parse validates one record and adds it to the pending batch.
	Parse(record []string) error
	// Pending is the number of parsed rows not yet flushed.
	Pending() int
	// Flush inserts the pending batch within the given transaction and
	// clears it.
	Flush(tx *sql.Tx) error
}

func parseBool(s string) (bool, error) {
	// The dataset files use the usual truthy spellings.
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// metadataSource loads metadata.tsv into the user table.
type metadataSource struct {
	store     *storage.UserStore
	datasetID string
	fileName  string
	pending   []storage.UserMetadata
}

func (s *metadataSource) Name() string     { return "user" }
func (s *metadataSource) FileName() string { return s.fileName }
func (s *metadataSource) Header() []string {
	return []string{"user_text", "is_anon", "num_edits", "num_pages", "most_recent_edit", "oldest_edit"}
}

func (s *metadataSource) Truncate() (int64, error) { return s.store.Truncate() }

func (s *metadataSource) Parse(record []string) error {
	if len(record) != 6 {
		return fmt.Errorf("expected 6 columns, got %d", len(record))
	}
	isAnon, err := parseBool(record[1])
	if err != nil {
		return err
	}
	numEdits, err := strconv.Atoi(record[2])
	if err != nil {
		return fmt.Errorf("invalid num_edits %q", record[2])
	}
	numPages, err := strconv.Atoi(record[3])
	if err != nil {
		return fmt.Errorf("invalid num_pages %q", record[3])
	}
	mostRecent, err := parseTimestamp(record[4])
	if err != nil {
		return fmt.Errorf("invalid most_recent_edit: %w", err)
	}
	oldest, err := parseTimestamp(record[5])
	if err != nil {
		return fmt.Errorf("invalid oldest_edit: %w", err)
	}
	if oldest != nil && mostRecent != nil && oldest.After(*mostRecent) {
		return fmt.Errorf("oldest_edit %s is after most_recent_edit %s", record[5], record[4])
	}

	s.pending = append(s.pending, storage.UserMetadata{
		UserText:       record[0],
		IsAnon:         isAnon,
		NumEdits:       numEdits,
		NumPages:       numPages,
		MostRecentEdit: mostRecent,
		OldestEdit:     oldest,
		DatasetID:      s.datasetID,
	})
	return nil
}

func (s *metadataSource) Pending() int { return len(s.pending) }

func (s *metadataSource) Flush(tx *sql.Tx) error {
	err := s.store.BulkInsert(tx, s.pending)
	s.pending = s.pending[:0]
	return err
}

// coeditSource loads coedit_counts.tsv into the coedit table.
type coeditSource struct {
	store     *storage.CoeditStore
	datasetID string
	fileName  string
	pending   []storage.Coedit
}

func (s *coeditSource) Name() string     { return "coedit" }
func (s *coeditSource) FileName() string { return s.fileName }
func (s *coeditSource) Header() []string {
	return []string{"user_text", "user_neighbor", "num_pages_overlapped"}
}

func (s *coeditSource) Truncate() (int64, error) { return s.store.Truncate() }

func (s *coeditSource) Parse(record []string) error {
	if len(record) != 3 {
		return fmt.Errorf("expected 3 columns, got %d", len(record))
	}
	overlap, err := strconv.Atoi(record[2])
	if err != nil {
		return fmt.Errorf("invalid num_pages_overlapped %q", record[2])
	}

	s.pending = append(s.pending, storage.Coedit{
		UserText:  record[0],
		Neighbor:  record[1],
		Overlap:   overlap,
		DatasetID: s.datasetID,
	})
	return nil
}

func (s *coeditSource) Pending() int { return len(s.pending) }

func (s *coeditSource) Flush(tx *sql.Tx) error {
	err := s.store.BulkInsert(tx, s.pending)
	s.pending = s.pending[:0]
	return err
}

// temporalSource loads temporal.tsv into the temporal table. The file
// carries day_of_week 1-based; it is shifted to 0 = Sunday on load.
type temporalSource struct {
	store     *storage.TemporalStore
	datasetID string
	fileName  string
	pending   []storage.Temporal
}

func (s *temporalSource) Name() string     { return "temporal" }
func (s *temporalSource) FileName() string { return s.fileName }
func (s *temporalSource) Header() []string {
	return []string{"user_text", "day_of_week", "hour_of_day", "num_edits"}
}

func (s *temporalSource) Truncate() (int64, error) { return s.store.Truncate() }

func (s *temporalSource) Parse(record []string) error {
	if len(record) != 4 {
		return fmt.Errorf("expected 4 columns, got %d", len(record))
	}
	day, err := strconv.Atoi(record[1])
	if err != nil || day < 1 || day > 7 {
		return fmt.Errorf("invalid day_of_week %q", record[1])
	}
	hour, err := strconv.Atoi(record[2])
	if err != nil || hour < 0 || hour > 23 {
		return fmt.Errorf("invalid hour_of_day %q", record[2])
	}
	numEdits, err := strconv.Atoi(record[3])
	if err != nil || numEdits < 0 {
		return fmt.Errorf("invalid num_edits %q", record[3])
	}

	s.pending = append(s.pending, storage.Temporal{
		UserText:  record[0],
		Day:       day - 1,
		Hour:      hour,
		NumEdits:  numEdits,
		DatasetID: s.datasetID,
	})
	return nil
}

func (s *temporalSource) Pending() int { return len(s.pending) }

func (s *temporalSource) Flush(tx *sql.Tx) error {
	err := s.store.BulkInsert(tx, s.pending)
	s.pending = s.pending[:0]
	return err
}

func parseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(storage.TimeFormat, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

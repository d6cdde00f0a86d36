// Package ingest replaces the backing store's bulk dataset from delimited
// source files: per table, truncate, then read, validate and insert in
// independently committed batches while collecting per-source counters.
// The whole run holds the ingestion advisory lock, which the serving path
// samples to abort queries during a refresh.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"similarusers/internal/logging"
	"similarusers/internal/storage"
)

// Counters accounts for one source's run.
type Counters struct {
	Source   string
	Deleted  int64
	Read     int
	Skipped  int
	Inserted int
}

// Options configures a pipeline run.
type Options struct {
	ResourceDir string
	BatchSize   int
	// Throttle is an optional delay inserted before each batch commit to
	// bound write amplification.
	Throttle time.Duration
	// DryRun validates the sources without mutating the store: truncation
	// is skipped and every batch transaction is rolled back.
	DryRun bool
	// LockName is the advisory lock held for the whole run.
	LockName string
}

// Pipeline ingests the three dataset files into the backing store.
type Pipeline struct {
	db     *storage.DB
	lock   storage.Lock
	logger *logging.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(db *storage.DB, lock storage.Lock, logger *logging.Logger) *Pipeline {
	return &Pipeline{db: db, lock: lock, logger: logger}
}

// Run executes one ingestion run: a fresh dataset identifier is minted and
// stamped on every inserted row, and each source is processed in turn under
// the advisory lock. A truncation or header failure is fatal and stops the
// remaining sources; batch commit failures are logged, rolled back and
// skipped.
func (p *Pipeline) Run(opts Options) ([]Counters, error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", opts.BatchSize)
	}

	manifest, err := loadManifest(opts.ResourceDir)
	if err != nil {
		return nil, err
	}

	datasetID := uuid.New().String()
	sources := []source{
		&temporalSource{store: storage.NewTemporalStore(p.db), datasetID: datasetID, fileName: manifest.Temporal},
		&metadataSource{store: storage.NewUserStore(p.db), datasetID: datasetID, fileName: manifest.Metadata},
		&coeditSource{store: storage.NewCoeditStore(p.db), datasetID: datasetID, fileName: manifest.Coedits},
	}

	if err := p.lock.Acquire(opts.LockName); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.lock.Release(opts.LockName); err != nil {
			p.logger.Error("Failed to release ingestion lock", map[string]interface{}{
				"name":  opts.LockName,
				"error": err.Error(),
			})
		}
	}()

	p.logger.Info("Starting ingestion run", map[string]interface{}{
		"dataset_id":   datasetID,
		"resource_dir": opts.ResourceDir,
		"batch_size":   opts.BatchSize,
		"dry_run":      opts.DryRun,
	})

	var all []Counters
	for _, src := range sources {
		counters, err := p.load(src, opts)
		if err != nil {
			return all, fmt.Errorf("failed to load %s: %w", src.Name(), err)
		}
		all = append(all, counters)
		p.logger.Info("Finished loading source", map[string]interface{}{
			"source":   counters.Source,
			"deleted":  counters.Deleted,
			"read":     counters.Read,
			"skipped":  counters.Skipped,
			"inserted": counters.Inserted,
		})
	}
	return all, nil
}

// load runs the per-table state machine: truncate, then read, validate and
// insert batch by batch.
func (p *Pipeline) load(src source, opts Options) (Counters, error) {
	counters := Counters{Source: src.Name()}

	p.logger.Info("Loading source", map[string]interface{}{
		"source": src.Name(),
		"file":   src.FileName(),
	})

	if !opts.DryRun {
		deleted, err := src.Truncate()
		if err != nil {
			// Fatal for this table: loading on top of stale rows would
			// leave a mixed dataset.
			return counters, fmt.Errorf("truncate failed: %w", err)
		}
		counters.Deleted = deleted
	}

	reader, closeFn, err := openSourceFile(opts.ResourceDir, src.FileName())
	if err != nil {
		return counters, err
	}
	defer closeFn()

	tsv := csv.NewReader(reader)
	tsv.Comma = '\t'
	tsv.LazyQuotes = true
	tsv.FieldsPerRecord = -1 // column-count validation happens per source

	header, err := tsv.Read()
	if err != nil {
		return counters, fmt.Errorf("failed to read header: %w", err)
	}
	if !equalFields(header, src.Header()) {
		return counters, fmt.Errorf("header mismatch in %s: got %v, want %v",
			src.FileName(), header, src.Header())
	}

	for {
		record, err := tsv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed line is a record error, not a file error.
			counters.Read++
			counters.Skipped++
			p.logger.Error("Failed to read record", map[string]interface{}{
				"source": src.Name(),
				"error":  err.Error(),
			})
			continue
		}

		counters.Read++
		if err := src.Parse(record); err != nil {
			counters.Skipped++
			p.logger.Error("Failed to parse record", map[string]interface{}{
				"source": src.Name(),
				"record": fmt.Sprintf("%v", record),
				"error":  err.Error(),
			})
			continue
		}

		if src.Pending() >= opts.BatchSize {
			p.commitBatch(src, opts, &counters)
		}
	}

	if src.Pending() > 0 {
		p.commitBatch(src, opts, &counters)
	}
	return counters, nil
}

// commitBatch flushes the source's pending rows in one transaction.
// Batches commit independently: a failure here is logged and rolled back,
// and the pipeline moves on, so earlier batches stay persisted.
func (p *Pipeline) commitBatch(src source, opts Options, counters *Counters) {
	batchLen := src.Pending()

	if opts.Throttle > 0 {
		time.Sleep(opts.Throttle)
	}

	tx, err := p.db.BeginTx()
	if err != nil {
		p.logger.Error("Failed to begin batch transaction. Rolling back", map[string]interface{}{
			"source": src.Name(),
			"error":  err.Error(),
		})
		return
	}

	if err := src.Flush(tx); err != nil {
		p.logger.Error("Failed to insert batch. Rolling back", map[string]interface{}{
			"source": src.Name(),
			"error":  err.Error(),
		})
		tx.Rollback()
		return
	}

	if opts.DryRun {
		tx.Rollback()
		counters.Inserted += batchLen
		return
	}

	if err := tx.Commit(); err != nil {
		p.logger.Error("Failed to commit batch. Rolling back", map[string]interface{}{
			"source": src.Name(),
			"error":  err.Error(),
		})
		return
	}
	counters.Inserted += batchLen
}

// openSourceFile opens a dataset file, transparently decompressing a
// gzipped variant (<name>.gz) when the plain file is absent.
func openSourceFile(resourceDir, fileName string) (io.Reader, func(), error) {
	path := filepath.Join(resourceDir, fileName)

	f, err := os.Open(path)
	if err == nil {
		if filepath.Ext(path) == ".gz" {
			return gzipReader(f, path)
		}
		return f, func() { f.Close() }, nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	gzPath := path + ".gz"
	gf, gzErr := os.Open(gzPath)
	if gzErr != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return gzipReader(gf, gzPath)
}

func gzipReader(f *os.File, path string) (io.Reader, func(), error) {
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read gzip header of %s: %w", path, err)
	}
	return gz, func() { gz.Close(); f.Close() }, nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

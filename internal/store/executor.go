package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"temuan/internal/logging"
	"temuan/internal/types"
)

// =============================================================================
// QUERY EXECUTOR - translates normalized filters into store queries
// =============================================================================

// SortKey names a supported sort column.
type SortKey string

const (
	SortByNilai     SortKey = "nilai"
	SortByYear      SortKey = "year"
	SortByCreatedAt SortKey = "createdAt"
)

// sortColumn maps a SortKey to its column expression.
var sortColumn = map[SortKey]string{
	SortByNilai:     "nilai",
	SortByYear:      "year",
	SortByCreatedAt: "created_at",
}

// QueryOptions controls ordering and pagination.
type QueryOptions struct {
	SortKey SortKey
	Limit   int
	// StartAfter resumes after the record with this id at this sort value
	// (cursor pagination).
	StartAfter *Cursor
}

// Cursor is an opaque pagination position: the sort value and id of the
// last record of the previous page.
type Cursor struct {
	SortValue interface{}
	ID        string
}

// StorageError is a typed store failure. Retryable errors are retried
// transparently by the executor; the rest surface to the router.
type StorageError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// retryableSQLite classifies driver errors. Busy/locked/IO failures are
// transient; permission and schema errors are fatal.
func retryableSQLite(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrProtocol:
			return true
		case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrError, sqlite3.ErrSchema:
			return false
		}
	}
	return false
}

// Executor runs filter queries against the audit_results collection.
type Executor struct {
	store *Store

	pageSize    int
	maxPageSize int

	// retry schedule for transient failures: 3 attempts, 1s -> 10s.
	backoff []time.Duration

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// NewExecutor creates an executor with the configured page sizes.
func NewExecutor(s *Store, pageSize, maxPageSize int) *Executor {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &Executor{
		store:       s,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
		backoff:     []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
		sleep:       time.Sleep,
	}
}

// Query translates the filter set into one or more store queries and merges
// the results.
//
// Department filters are never pushed as a single equality on the free-text
// column: by the time filters reach the executor, the router has expanded
// the fragment into the originalNames set, and one query is issued per raw
// name. Merge order is (sort key desc, id asc) with duplicates eliminated
// by id.
func (e *Executor) Query(ctx context.Context, f types.Filters, opts QueryOptions) ([]types.AuditRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Executor.Query")
	defer timer.Stop()

	opts = e.normalizeOptions(f, opts)

	// No department fan-out: single query.
	if len(f.Departments) == 0 {
		return e.queryWithRetry(ctx, f, "", opts)
	}

	// Fan-out: one query per raw department name, merged in memory.
	logging.StoreDebug("department fan-out across %d raw name(s)", len(f.Departments))

	var (
		mu      sync.Mutex
		results [][]types.AuditRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, raw := range f.Departments {
		raw := raw
		g.Go(func() error {
			recs, err := e.queryWithRetry(gctx, f, raw, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, recs)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeResults(results, opts)
	logging.StoreDebug("fan-out merged: %d record(s)", len(merged))
	return merged, nil
}

// normalizeOptions applies defaults and the nilai-inequality ordering rule.
func (e *Executor) normalizeOptions(f types.Filters, opts QueryOptions) QueryOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.pageSize
	}
	if opts.Limit > e.maxPageSize {
		opts.Limit = e.maxPageSize
	}
	if _, ok := sortColumn[opts.SortKey]; !ok {
		opts.SortKey = SortByNilai
	}
	// Inequality on nilai forces nilai-first ordering.
	if f.MinNilai != nil || f.MaxNilai != nil {
		opts.SortKey = SortByNilai
	}
	return opts
}

// queryWithRetry runs one store query with the transient-failure schedule.
func (e *Executor) queryWithRetry(ctx context.Context, f types.Filters, department string, opts QueryOptions) ([]types.AuditRecord, error) {
	var lastErr error
	for attempt := 0; attempt < len(e.backoff); attempt++ {
		recs, err := e.queryOnce(ctx, f, department, opts)
		if err == nil {
			return recs, nil
		}
		lastErr = err

		if !retryableSQLite(err) || ctx.Err() != nil {
			return nil, &StorageError{Op: "query", Retryable: false, Err: err}
		}
		if attempt == len(e.backoff)-1 {
			break
		}

		wait := e.backoff[attempt]
		logging.Get(logging.CategoryStore).Warn("transient query failure (attempt %d/%d), retrying in %v: %v",
			attempt+1, len(e.backoff), wait, err)
		e.sleep(wait)
	}
	return nil, &StorageError{Op: "query", Retryable: true, Err: lastErr}
}

// queryOnce builds and runs a single SQL query.
func (e *Executor) queryOnce(ctx context.Context, f types.Filters, department string, opts QueryOptions) ([]types.AuditRecord, error) {
	var (
		preds []string
		args  []interface{}
	)

	if f.Year != "" {
		// Year predicates are string equality, always.
		preds = append(preds, "year = ?")
		args = append(args, f.Year)
	}
	if department != "" {
		preds = append(preds, "department = ?")
		args = append(args, department)
	}
	if f.Subholding != "" {
		preds = append(preds, "sh = ?")
		args = append(args, f.Subholding)
	}
	if f.ProjectName != "" {
		preds = append(preds, `project_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscape(f.ProjectName)+"%")
	}
	if f.MinNilai != nil {
		preds = append(preds, "nilai >= ?")
		args = append(args, *f.MinNilai)
	}
	if f.MaxNilai != nil {
		preds = append(preds, "nilai <= ?")
		args = append(args, *f.MaxNilai)
	}
	switch f.Finding {
	case types.FindingOnly:
		preds = append(preds, "code != ''")
	case types.NonFinding:
		preds = append(preds, "code = ''")
	}

	col := sortColumn[opts.SortKey]
	if opts.StartAfter != nil {
		preds = append(preds, fmt.Sprintf("(%s < ? OR (%s = ? AND id > ?))", col, col))
		args = append(args, opts.StartAfter.SortValue, opts.StartAfter.SortValue, opts.StartAfter.ID)
	}

	query := fmt.Sprintf("SELECT %s FROM audit_results", recordColumns)
	if len(preds) > 0 {
		query += " WHERE " + strings.Join(preds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s DESC, id ASC LIMIT ?", col)
	args = append(args, opts.Limit)

	rows, err := e.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// mergeResults merges fan-out result sets: (sort key desc, id asc), dedupe
// by id, truncate to the page limit.
func mergeResults(results [][]types.AuditRecord, opts QueryOptions) []types.AuditRecord {
	seen := make(map[string]bool)
	var merged []types.AuditRecord
	for _, recs := range results {
		for _, r := range recs {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		switch opts.SortKey {
		case SortByYear:
			if a.Year != b.Year {
				return a.Year > b.Year
			}
		case SortByCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		default:
			if a.Nilai != b.Nilai {
				return a.Nilai > b.Nilai
			}
		}
		return a.ID < b.ID
	})

	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return merged
}

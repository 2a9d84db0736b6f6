// Package store implements the sqlite-backed persistence layer: the
// audit-results collection, the department alias table, the secure
// pseudonym-mapping collection, the append-only audit log and the record
// embedding table used by the semantic context strategy.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"temuan/internal/logging"
	"temuan/internal/types"
)

// Store wraps the sqlite database shared by all collections.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	if path == ":memory:" {
		// WAL is meaningless in memory; a single shared connection keeps the
		// schema visible across the pool.
		dsn = "file::memory:?cache=shared&_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("store opened: %s", path)
	return s, nil
}

// initSchema creates tables and the composite indexes the query shapes need.
func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_results (
			id            TEXT PRIMARY KEY,
			year          TEXT NOT NULL,
			sh            TEXT NOT NULL DEFAULT '',
			project_name  TEXT NOT NULL DEFAULT '',
			project_id    TEXT NOT NULL DEFAULT '',
			department    TEXT NOT NULL DEFAULT '',
			risk_area     TEXT NOT NULL DEFAULT '',
			descriptions  TEXT NOT NULL DEFAULT '',
			code          TEXT NOT NULL DEFAULT '',
			bobot         REAL NOT NULL DEFAULT 0,
			kadar         REAL NOT NULL DEFAULT 0,
			nilai         REAL NOT NULL DEFAULT 0,
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_department_year ON audit_results(department ASC, year DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_year_nilai ON audit_results(year DESC, nilai DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_sh_project_year ON audit_results(sh ASC, project_name ASC, year DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_year_code ON audit_results(year, code)`,

		`CREATE TABLE IF NOT EXISTS departments (
			canonical_name TEXT PRIMARY KEY,
			category       TEXT NOT NULL DEFAULT 'Other',
			original_names TEXT NOT NULL DEFAULT '[]',
			keywords       TEXT NOT NULL DEFAULT '[]',
			created_at     TIMESTAMP NOT NULL,
			updated_at     TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS pseudonym_mappings (
			id                  TEXT PRIMARY KEY,
			session_id          TEXT NOT NULL,
			kind                TEXT NOT NULL,
			lookup_hash         TEXT NOT NULL,
			original_ciphertext TEXT NOT NULL,
			pseudonym           TEXT NOT NULL,
			status              TEXT NOT NULL DEFAULT 'active',
			created_at          TIMESTAMP NOT NULL,
			expires_at          TIMESTAMP NOT NULL,
			usage_count         INTEGER NOT NULL DEFAULT 0,
			last_accessed_at    TIMESTAMP,
			created_by          TEXT NOT NULL DEFAULT '',
			UNIQUE(session_id, kind, lookup_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_session ON pseudonym_mappings(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_expires ON pseudonym_mappings(expires_at)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL DEFAULT '',
			action        TEXT NOT NULL,
			resource_type TEXT NOT NULL DEFAULT '',
			resource_id   TEXT NOT NULL DEFAULT '',
			details       TEXT NOT NULL DEFAULT '{}',
			ip_address    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS record_embeddings (
			record_id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	logging.Store("store closed")
	return s.db.Close()
}

// DB exposes the handle for the collection views sharing this store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// =============================================================================
// AUDIT RECORD INGESTION
// =============================================================================

// InsertRecord validates and persists one record. Nilai is derived from
// bobot and kadar; a stored record is never inconsistent with the product.
// Product code ingests through Ingestor.Ingest, which also maintains the
// department alias index and the record embeddings.
func (s *Store) InsertRecord(ctx context.Context, r types.AuditRecord) (types.AuditRecord, error) {
	if r.Year == "" {
		return types.AuditRecord{}, fmt.Errorf("record year is required")
	}
	if r.Bobot < 0 || r.Bobot > 5 || r.Kadar < 0 || r.Kadar > 5 {
		return types.AuditRecord{}, fmt.Errorf("bobot/kadar out of range [0,5]: %v/%v", r.Bobot, r.Kadar)
	}
	r.Nilai = r.Bobot * r.Kadar
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_results
			(id, year, sh, project_name, project_id, department, risk_area,
			 descriptions, code, bobot, kadar, nilai, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Year, r.Subholding, r.ProjectName, r.ProjectID, r.Department,
		r.RiskArea, r.Descriptions, r.Code, r.Bobot, r.Kadar, r.Nilai,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("insert record: %w", err)
	}

	logging.StoreDebug("inserted record %s (year=%s, department=%q)", r.ID, r.Year, r.Department)
	return r, nil
}

// scanRecord scans one audit_results row.
func scanRecord(rows *sql.Rows) (types.AuditRecord, error) {
	var r types.AuditRecord
	err := rows.Scan(&r.ID, &r.Year, &r.Subholding, &r.ProjectName, &r.ProjectID,
		&r.Department, &r.RiskArea, &r.Descriptions, &r.Code,
		&r.Bobot, &r.Kadar, &r.Nilai, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

const recordColumns = `id, year, sh, project_name, project_id, department, risk_area,
	descriptions, code, bobot, kadar, nilai, created_at, updated_at`

// =============================================================================
// DEPARTMENT PERSISTENCE (department.Store implementation)
// =============================================================================

// SaveDepartment upserts one canonical department group.
func (s *Store) SaveDepartment(ctx context.Context, d types.Department) error {
	originals, err := json.Marshal(d.OriginalNames)
	if err != nil {
		return fmt.Errorf("marshal original names: %w", err)
	}
	keywords, err := json.Marshal(d.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO departments (canonical_name, category, original_names, keywords, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_name) DO UPDATE SET
			category = excluded.category,
			original_names = excluded.original_names,
			keywords = excluded.keywords,
			updated_at = excluded.updated_at`,
		d.CanonicalName, d.Category, string(originals), string(keywords), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save department: %w", err)
	}
	return nil
}

// LoadDepartments returns every canonical group.
func (s *Store) LoadDepartments(ctx context.Context) ([]types.Department, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical_name, category, original_names, keywords, created_at, updated_at FROM departments`)
	if err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	defer rows.Close()

	var out []types.Department
	for rows.Next() {
		var d types.Department
		var originals, keywords string
		if err := rows.Scan(&d.CanonicalName, &d.Category, &originals, &keywords, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		if err := json.Unmarshal([]byte(originals), &d.OriginalNames); err != nil {
			return nil, fmt.Errorf("decode original names for %q: %w", d.CanonicalName, err)
		}
		if err := json.Unmarshal([]byte(keywords), &d.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords for %q: %w", d.CanonicalName, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG SINK (logging.AuditSink implementation)
// =============================================================================

// Append writes one audit entry to the append-only audit_log table.
func (s *Store) Append(ctx context.Context, entry logging.AuditEntry) error {
	details := "{}"
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = string(b)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, resource_type, resource_id, details, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, string(entry.Action), entry.ResourceType,
		entry.ResourceID, details, entry.IPAddress, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// AuditEntriesByAction returns entries for one action, newest first.
// Used by tests and the audit-log viewer backend.
func (s *Store) AuditEntriesByAction(ctx context.Context, action logging.AuditAction) ([]logging.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, resource_type, resource_id, details, ip_address, created_at
		FROM audit_log WHERE action = ? ORDER BY created_at DESC`, string(action))
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []logging.AuditEntry
	for rows.Next() {
		var e logging.AuditEntry
		var details, action string
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.ResourceType, &e.ResourceID, &details, &e.IPAddress, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = logging.AuditAction(action)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// likeEscape escapes LIKE metacharacters in a user-derived fragment.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

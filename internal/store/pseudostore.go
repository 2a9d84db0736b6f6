package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"temuan/internal/logging"
	"temuan/internal/pseudonym"
)

// MappingStore is the secure pseudonym-mapping collection. Access is
// restricted to the trusted backend: the client UI never reads this table.
type MappingStore struct {
	store *Store
}

// NewMappingStore creates the collection view.
func NewMappingStore(s *Store) *MappingStore {
	return &MappingStore{store: s}
}

const mappingColumns = `id, session_id, kind, lookup_hash, original_ciphertext,
	pseudonym, status, created_at, expires_at, usage_count, last_accessed_at, created_by`

// FindByHash returns the active, unexpired mapping for a lookup key.
func (ms *MappingStore) FindByHash(ctx context.Context, sessionID string, kind pseudonym.Kind, hash string) (*pseudonym.Mapping, error) {
	row := ms.store.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pseudonym_mappings
		WHERE session_id = ? AND kind = ? AND lookup_hash = ? AND status = ? AND expires_at > ?`,
		mappingColumns),
		sessionID, string(kind), hash, string(pseudonym.StatusActive), time.Now().UTC())

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping: %w", err)
	}
	return &m, nil
}

// Allocate atomically inserts a mapping with the next dense sequence number
// for (session, kind). The transaction is a check-then-insert: when a
// concurrent request already inserted the same lookup key, the existing row
// wins and is returned. BEGIN IMMEDIATE serializes writers so two parallel
// requests on the same session never mint two pseudonyms for one original.
func (ms *MappingStore) Allocate(ctx context.Context, m pseudonym.Mapping, format func(seq int) string) (pseudonym.Mapping, error) {
	timer := logging.StartTimer(logging.CategoryPseudonym, "MappingStore.Allocate")
	defer timer.Stop()

	tx, err := ms.store.db.BeginTx(ctx, nil)
	if err != nil {
		return pseudonym.Mapping{}, fmt.Errorf("begin allocation: %w", err)
	}
	defer tx.Rollback()

	// Re-check under the transaction, on the same active/unexpired predicate
	// as FindByHash: a lingering expired row awaiting cleanup must not be
	// revived as the "existing" mapping.
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pseudonym_mappings
		WHERE session_id = ? AND kind = ? AND lookup_hash = ? AND status = ? AND expires_at > ?`,
		mappingColumns),
		m.SessionID, string(m.Kind), m.LookupHash, string(pseudonym.StatusActive), time.Now().UTC())
	existing, err := scanMapping(row)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return pseudonym.Mapping{}, fmt.Errorf("allocation re-check: %w", err)
	}

	// An expired row awaiting cleanup shares the unique key; purge it before
	// counting so it neither blocks the fresh insert nor pads the sequence.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pseudonym_mappings
		WHERE session_id = ? AND kind = ? AND lookup_hash = ?
		  AND (status != ? OR expires_at <= ?)`,
		m.SessionID, string(m.Kind), m.LookupHash,
		string(pseudonym.StatusActive), time.Now().UTC()); err != nil {
		return pseudonym.Mapping{}, fmt.Errorf("purge stale mapping: %w", err)
	}

	// Dense per-(session, kind) sequence: the Nth distinct value creates
	// exactly the Nth pseudonym.
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pseudonym_mappings WHERE session_id = ? AND kind = ?`,
		m.SessionID, string(m.Kind)).Scan(&count); err != nil {
		return pseudonym.Mapping{}, fmt.Errorf("sequence count: %w", err)
	}

	m.ID = uuid.NewString()
	m.Pseudonym = format(count + 1)
	if m.Status == "" {
		m.Status = pseudonym.StatusActive
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pseudonym_mappings
			(id, session_id, kind, lookup_hash, original_ciphertext, pseudonym,
			 status, created_at, expires_at, usage_count, last_accessed_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		m.ID, m.SessionID, string(m.Kind), m.LookupHash, m.OriginalCiphertext,
		m.Pseudonym, string(m.Status), m.CreatedAt, m.ExpiresAt, m.LastAccessedAt, m.CreatedBy)
	if err != nil {
		// Unique-constraint race with another writer: return its row.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			tx.Rollback()
			winner, findErr := ms.FindByHash(ctx, m.SessionID, m.Kind, m.LookupHash)
			if findErr == nil && winner != nil {
				return *winner, nil
			}
		}
		return pseudonym.Mapping{}, fmt.Errorf("insert mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return pseudonym.Mapping{}, fmt.Errorf("commit allocation: %w", err)
	}
	return m, nil
}

// ListActive returns the session's unexpired mappings.
func (ms *MappingStore) ListActive(ctx context.Context, sessionID string, now time.Time) ([]pseudonym.Mapping, error) {
	rows, err := ms.store.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pseudonym_mappings
		WHERE session_id = ? AND status = ? AND expires_at > ?
		ORDER BY created_at ASC, id ASC`, mappingColumns),
		sessionID, string(pseudonym.StatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []pseudonym.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Touch bumps usage counters and access time for the given ids.
func (ms *MappingStore) Touch(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := ms.store.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE pseudonym_mappings SET usage_count = usage_count + 1, last_accessed_at = ? WHERE id IN (%s)`,
		placeholders), args...)
	if err != nil {
		return fmt.Errorf("touch mappings: %w", err)
	}
	return nil
}

// DeleteExpired removes every mapping whose expiry has passed.
func (ms *MappingStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := ms.store.db.ExecContext(ctx,
		`DELETE FROM pseudonym_mappings WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row rowScanner) (pseudonym.Mapping, error) {
	var (
		m            pseudonym.Mapping
		kind, status string
		lastAccess   sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SessionID, &kind, &m.LookupHash, &m.OriginalCiphertext,
		&m.Pseudonym, &status, &m.CreatedAt, &m.ExpiresAt, &m.UsageCount, &lastAccess, &m.CreatedBy)
	if err != nil {
		return pseudonym.Mapping{}, err
	}
	m.Kind = pseudonym.Kind(kind)
	m.Status = pseudonym.Status(status)
	if lastAccess.Valid {
		m.LastAccessedAt = lastAccess.Time
	}
	return m, nil
}

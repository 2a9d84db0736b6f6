// Package logging - structured audit events for the query router.
// Every pseudonym-mapping operation and every routed request appends one
// typed entry to an AuditSink. The persistent sink lives in internal/store;
// this file defines the entry shape, the sink contract and a JSONL file sink
// used when no store is wired (tests, local tooling).
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the operation being audited.
type AuditAction string

const (
	// Pseudonym-mapping lifecycle
	ActionMappingCreate          AuditAction = "mapping_create"
	ActionMappingAccess          AuditAction = "mapping_access"
	ActionMappingCleanup         AuditAction = "mapping_cleanup"
	ActionMappingDecryptionError AuditAction = "mapping_decryption_error"

	// Request lifecycle: exactly one of these per routed request.
	ActionQuery        AuditAction = "query"
	ActionQueryFailure AuditAction = "query_failure"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	Action       AuditAction            `json:"action"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	IPAddress    string                 `json:"ipAddress,omitempty"`
}

// NewAuditEntry builds an entry with a fresh id and timestamp.
func NewAuditEntry(userID string, action AuditAction, resourceType, resourceID string, details map[string]interface{}) AuditEntry {
	return AuditEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    time.Now().UTC(),
	}
}

// AuditSink receives audit entries. Implementations must be safe for
// concurrent use; Append failures must not take down the calling request.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// =============================================================================
// NOP SINK
// =============================================================================

// NopAuditSink discards entries. Used in tests that don't assert on auditing.
type NopAuditSink struct{}

// Append implements AuditSink.
func (NopAuditSink) Append(context.Context, AuditEntry) error { return nil }

// =============================================================================
// FILE SINK (JSONL)
// =============================================================================

// FileAuditSink appends entries as JSON lines to a single audit file under
// the logs directory. It is the fallback sink when no store is configured.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens (or creates) the audit file under dir.
func NewFileAuditSink(dir string) (*FileAuditSink, error) {
	if dir == "" {
		dir = logsDir
	}
	if dir == "" {
		return nil, fmt.Errorf("audit sink: no directory configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileAuditSink{file: file}, nil
}

// Append implements AuditSink.
func (s *FileAuditSink) Append(_ context.Context, entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// =============================================================================
// MEMORY SINK (tests)
// =============================================================================

// MemoryAuditSink collects entries in memory for assertions.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Append implements AuditSink.
func (s *MemoryAuditSink) Append(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the collected entries.
func (s *MemoryAuditSink) Entries() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByAction returns the collected entries matching action.
func (s *MemoryAuditSink) ByAction(action AuditAction) []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

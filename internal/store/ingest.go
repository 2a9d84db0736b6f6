package store

import (
	"context"
	"fmt"

	"temuan/internal/embedding"
	"temuan/internal/logging"
	"temuan/internal/types"
)

// =============================================================================
// INGESTOR - the write path that keeps the alias index and embeddings in step
// =============================================================================

// DepartmentIndex is the alias-index surface the ingestor needs. Implemented
// by department.Index; declared here so the persistence layer does not
// depend on the index package.
type DepartmentIndex interface {
	FindOrCreate(ctx context.Context, rawName, userID string) (types.Department, error)
}

// Ingestor persists records and maintains the two side tables the query
// pipeline depends on: the department alias index (every raw department
// value must appear in some originalNames set, or query-time fan-out cannot
// find it) and the record embeddings behind the semantic context strategy.
type Ingestor struct {
	store  *Store
	depts  DepartmentIndex
	engine embedding.Engine // nil disables embedding generation
}

// NewIngestor creates the ingestion write path. engine may be nil.
func NewIngestor(s *Store, depts DepartmentIndex, engine embedding.Engine) *Ingestor {
	return &Ingestor{store: s, depts: depts, engine: engine}
}

// Ingest validates and persists one record, attaches its raw department
// name to the alias index, and stores its embedding.
//
// The alias-index update is part of the ingestion contract, not best
// effort: a record whose department the index does not know is invisible
// to department queries. Embedding generation is best effort; the context
// builder degrades to keyword scoring for records without a vector.
func (in *Ingestor) Ingest(ctx context.Context, r types.AuditRecord, userID string) (types.AuditRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Ingestor.Ingest")
	defer timer.Stop()

	rec, err := in.store.InsertRecord(ctx, r)
	if err != nil {
		return types.AuditRecord{}, err
	}

	if rec.Department != "" {
		if _, err := in.depts.FindOrCreate(ctx, rec.Department, userID); err != nil {
			return types.AuditRecord{}, fmt.Errorf("index department %q: %w", rec.Department, err)
		}
	}

	if in.engine != nil {
		if err := in.embedRecord(ctx, rec); err != nil {
			logging.Get(logging.CategoryStore).Warn("embedding for record %s skipped: %v", rec.ID, err)
		}
	}

	return rec, nil
}

// embedRecord generates and stores the record's summary embedding.
func (in *Ingestor) embedRecord(ctx context.Context, rec types.AuditRecord) error {
	summary := rec.Summary()
	if summary == "" {
		return nil
	}
	vec, err := in.engine.Embed(ctx, summary)
	if err != nil {
		return err
	}
	return NewEmbeddingStore(in.store).Upsert(ctx, rec.ID, vec)
}

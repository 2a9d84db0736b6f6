package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temuan/internal/department"
	"temuan/internal/types"
)

// stubEngine returns a fixed vector for any text.
type stubEngine struct {
	vec  []float32
	err  error
	seen []string
}

func (s *stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	s.seen = append(s.seen, text)
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEngine) Dimensions() int { return len(s.vec) }
func (s *stubEngine) Name() string    { return "stub" }

func TestIngestMaintainsDepartmentIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	depts := department.NewIndex(s)
	require.NoError(t, depts.Load(ctx))
	in := NewIngestor(s, depts, nil)

	rec, err := in.Ingest(ctx, types.AuditRecord{
		Year:       "2024",
		Department: "Departemen IT",
		Bobot:      4, Kadar: 4,
	}, "importer")
	require.NoError(t, err)

	// The raw variant now appears in an originalNames set, so query-time
	// fan-out can find the record.
	names := depts.OriginalNamesFor("IT")
	assert.Contains(t, names, "Departemen IT")

	// And the index survives a reload from the departments table.
	reloaded := department.NewIndex(s)
	require.NoError(t, reloaded.Load(ctx))
	assert.Contains(t, reloaded.OriginalNamesFor("IT"), "Departemen IT")

	// The record itself is queryable through the fan-out.
	e := NewExecutor(s, 50, 100)
	got, err := e.Query(ctx, types.Filters{Year: "2024", Departments: names}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
}

func TestIngestStoresEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	engine := &stubEngine{vec: []float32{0.5, -0.5}}
	in := NewIngestor(s, department.NewIndex(s), engine)

	rec, err := in.Ingest(ctx, types.AuditRecord{
		Year: "2024", Department: "IT", RiskArea: "Perizinan",
		Descriptions: "IMB belum terbit", Bobot: 3, Kadar: 3,
	}, "importer")
	require.NoError(t, err)
	require.NotEmpty(t, engine.seen, "record summary must be embedded")

	vectors, err := NewEmbeddingStore(s).EmbeddingsFor(ctx, []string{rec.ID})
	require.NoError(t, err)
	assert.Equal(t, engine.vec, vectors[rec.ID])
}

func TestIngestEmbeddingFailureIsNonFatal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	engine := &stubEngine{err: errors.New("embedding endpoint down")}
	in := NewIngestor(s, department.NewIndex(s), engine)

	rec, err := in.Ingest(ctx, types.AuditRecord{
		Year: "2024", Department: "IT", Descriptions: "x", Bobot: 1, Kadar: 1,
	}, "importer")
	require.NoError(t, err, "record insertion must not depend on embeddings")

	vectors, err := NewEmbeddingStore(s).EmbeddingsFor(ctx, []string{rec.ID})
	require.NoError(t, err)
	assert.NotContains(t, vectors, rec.ID)
}

func TestIngestEmptyDepartmentSkipsIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	depts := department.NewIndex(s)
	in := NewIngestor(s, depts, nil)

	_, err := in.Ingest(ctx, types.AuditRecord{Year: "2024", Bobot: 1, Kadar: 1}, "importer")
	require.NoError(t, err)

	loaded, err := s.LoadDepartments(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

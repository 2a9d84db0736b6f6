package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"temuan/internal/logging"
)

// =============================================================================
// RECORD EMBEDDINGS - backing data for the semantic context strategy
// =============================================================================

// EmbeddingStore reads and writes record embedding vectors. Vectors are
// stored as little-endian float32 blobs, the encoding sqlite-vec expects,
// so the vec_distance_cosine fast path works when the extension is loaded
// (build tag sqlite_vec) and the pure-Go fallback works when it is not.
type EmbeddingStore struct {
	store *Store
}

// NewEmbeddingStore creates the collection view.
func NewEmbeddingStore(s *Store) *EmbeddingStore {
	return &EmbeddingStore{store: s}
}

// Upsert stores the embedding for one record.
func (es *EmbeddingStore) Upsert(ctx context.Context, recordID string, vec []float32) error {
	blob := encodeFloat32SliceToBlob(vec)
	if blob == nil {
		return fmt.Errorf("empty embedding for record %s", recordID)
	}
	_, err := es.store.db.ExecContext(ctx, `
		INSERT INTO record_embeddings (record_id, embedding) VALUES (?, ?)
		ON CONFLICT(record_id) DO UPDATE SET embedding = excluded.embedding`,
		recordID, blob)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// EmbeddingsFor returns the stored vectors for the given record ids.
// Records without an embedding are simply absent from the result.
func (es *EmbeddingStore) EmbeddingsFor(ctx context.Context, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := es.store.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT record_id, embedding FROM record_embeddings WHERE record_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(ids))
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := decodeBlobToFloat32Slice(blob)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("corrupt embedding for record %s: %v", id, err)
			continue
		}
		out[id] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.StoreDebug("loaded %d/%d embedding(s)", len(out), len(ids))
	return out, nil
}

// SearchSimilar ranks the given record ids by cosine distance to the query
// embedding using sqlite-vec's vec_distance_cosine. It returns an error when
// the extension is not loaded; callers fall back to in-process scoring over
// EmbeddingsFor.
func (es *EmbeddingStore) SearchSimilar(ctx context.Context, queryEmbed []float32, ids []string, topK int) (map[string]float64, error) {
	if len(ids) == 0 || topK <= 0 {
		return nil, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+2)
	args = append(args, encodeFloat32SliceToBlob(queryEmbed))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, topK)

	rows, err := es.store.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT record_id, vec_distance_cosine(embedding, ?) AS distance
		FROM record_embeddings
		WHERE record_id IN (%s)
		ORDER BY distance ASC
		LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("vec search unavailable: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("scan vec result: %w", err)
		}
		// Cosine distance is 1 - similarity.
		out[id] = 1.0 - distance
	}
	return out, rows.Err()
}

// encodeFloat32SliceToBlob encodes a float32 slice as a binary blob.
// Uses little-endian encoding as expected by sqlite-vec.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		// Should never happen with bytes.Buffer
		return nil
	}
	return buf.Bytes()
}

// decodeBlobToFloat32Slice reverses encodeFloat32SliceToBlob.
func decodeBlobToFloat32Slice(blob []byte) ([]float32, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a float32 multiple", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

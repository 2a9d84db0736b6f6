package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temuan/internal/logging"
	"temuan/internal/pseudonym"
	"temuan/internal/types"
)

var testSecret = []byte(strings.Repeat("k", 32))

func newTestPseudonymizer(t *testing.T) (*pseudonym.Pseudonymizer, *MappingStore, *logging.MemoryAuditSink) {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ms := NewMappingStore(s)
	audit := &logging.MemoryAuditSink{}
	return pseudonym.New(ms, testSecret, 30*24*time.Hour, audit), ms, audit
}

func personRecord(desc string) types.AuditRecord {
	return types.AuditRecord{
		ID:           "rec-1",
		Year:         "2024",
		Department:   "IT",
		Code:         "F-01",
		Descriptions: desc,
	}
}

func TestPseudonymizeIdempotentWithinSession(t *testing.T) {
	p, _, _ := newTestPseudonymizer(t)
	ctx := context.Background()

	rec := personRecord("ditemukan oleh Auditor Budi Santoso dengan NIK 3171234567890001")

	first, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)
	second, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)

	// Same original, same session, same pseudonyms across calls.
	assert.Equal(t, first[0].Descriptions, second[0].Descriptions)
	assert.Contains(t, first[0].Descriptions, "Person_A")
	assert.Contains(t, first[0].Descriptions, "ID_001")
	assert.NotContains(t, first[0].Descriptions, "Budi Santoso")
	assert.NotContains(t, first[0].Descriptions, "3171234567890001")
}

func TestDensePseudonymAllocation(t *testing.T) {
	p, _, _ := newTestPseudonymizer(t)
	ctx := context.Background()

	recs := []types.AuditRecord{
		personRecord("dilaporkan Auditor Budi Santoso"),
		{ID: "rec-2", Year: "2024", Descriptions: "dilaporkan Ibu Siti Rahayu"},
		{ID: "rec-3", Year: "2024", Descriptions: "dilaporkan Bapak Agus Wijaya"},
	}
	out, mappings, err := p.PseudonymizeRecords(ctx, recs, "s1", "u1")
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	joined := out[0].Descriptions + out[1].Descriptions + out[2].Descriptions
	// The Nth distinct person creates exactly the Nth pseudonym, no gaps.
	assert.Contains(t, joined, "Person_A")
	assert.Contains(t, joined, "Person_B")
	assert.Contains(t, joined, "Person_C")
	assert.NotContains(t, joined, "Person_D")
}

func TestSessionIsolation(t *testing.T) {
	p, ms, _ := newTestPseudonymizer(t)
	ctx := context.Background()

	rec := personRecord("ditemukan oleh Auditor Budi Santoso")

	out1, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)
	out2, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s2", "u2")
	require.NoError(t, err)

	// Each session sees Person_A for its own first person.
	assert.Contains(t, out1[0].Descriptions, "Person_A")
	assert.Contains(t, out2[0].Descriptions, "Person_A")

	// The persisted ciphertexts differ across sessions.
	m1, err := ms.ListActive(ctx, "s1", time.Now().UTC())
	require.NoError(t, err)
	m2, err := ms.ListActive(ctx, "s2", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, m1, 1)
	require.Len(t, m2, 1)
	assert.NotEqual(t, m1[0].OriginalCiphertext, m2[0].OriginalCiphertext)
	assert.NotEqual(t, m1[0].LookupHash, m2[0].LookupHash)
}

func TestDepseudonymizeRoundTrip(t *testing.T) {
	p, _, _ := newTestPseudonymizer(t)
	ctx := context.Background()

	rec := personRecord("ditemukan oleh Auditor Budi Santoso senilai Rp 1.500.000.000")
	out, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)
	require.NotContains(t, out[0].Descriptions, "Budi Santoso")

	answer := "Menurut analisis, " + out[0].Descriptions
	restored, err := p.Depseudonymize(ctx, answer, "s1")
	require.NoError(t, err)

	assert.Contains(t, restored, "Auditor Budi Santoso")
	assert.Contains(t, restored, "Rp 1.500.000.000")
	assert.NotContains(t, restored, "Person_A")
}

func TestDepseudonymizeUnknownSession(t *testing.T) {
	p, _, _ := newTestPseudonymizer(t)

	_, err := p.Depseudonymize(context.Background(), "Person_A did things", "never-seen")
	assert.ErrorIs(t, err, pseudonym.ErrUnknownSession)
}

func TestCleanupExpired(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ms := NewMappingStore(s)
	audit := &logging.MemoryAuditSink{}

	// A TTL in the past expires every mapping immediately.
	p := pseudonym.New(ms, testSecret, -time.Hour, audit)
	ctx := context.Background()

	_, _, err = p.PseudonymizeRecords(ctx, []types.AuditRecord{personRecord("oleh Bapak Agus Wijaya")}, "s1", "u1")
	require.NoError(t, err)

	n, err := p.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Invariant: nothing expired survives cleanup.
	remaining, err := ms.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, remaining)

	cleanups := audit.ByAction(logging.ActionMappingCleanup)
	require.Len(t, cleanups, 1)
}

func TestAuditTrailOnMappingLifecycle(t *testing.T) {
	p, _, audit := newTestPseudonymizer(t)
	ctx := context.Background()

	rec := personRecord("oleh Auditor Budi Santoso")
	_, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)
	_, _, err = p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)

	assert.Len(t, audit.ByAction(logging.ActionMappingCreate), 1)
	assert.NotEmpty(t, audit.ByAction(logging.ActionMappingAccess))
}

func TestAllocateIgnoresExpiredRow(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ms := NewMappingStore(s)
	ctx := context.Background()

	rec := personRecord("oleh Auditor Budi Santoso")

	// First allocation expires immediately and lingers until cleanup.
	expired := pseudonym.New(ms, testSecret, -time.Hour, nil)
	_, _, err = expired.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)

	// A fresh allocation for the same value must not revive the expired
	// row: it mints a new active mapping and replaces the stale one.
	p := pseudonym.New(ms, testSecret, 30*24*time.Hour, nil)
	out, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
	require.NoError(t, err)
	assert.Contains(t, out[0].Descriptions, "Person_A")

	active, err := ms.ListActive(ctx, "s1", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].ExpiresAt.After(time.Now().UTC()))

	// The stale row is gone, not merely shadowed.
	var total int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM pseudonym_mappings WHERE session_id = 's1'`).Scan(&total))
	assert.Equal(t, 1, total)
}

func TestAllocateConcurrentSameValue(t *testing.T) {
	p, _, _ := newTestPseudonymizer(t)
	ctx := context.Background()

	rec := personRecord("oleh Auditor Budi Santoso")

	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			out, _, err := p.PseudonymizeRecords(ctx, []types.AuditRecord{rec}, "s1", "u1")
			if err != nil {
				results <- "err:" + err.Error()
				return
			}
			results <- out[0].Descriptions
		}()
	}

	first := <-results
	for i := 1; i < 8; i++ {
		assert.Equal(t, first, <-results, "two parallel requests must never mint two pseudonyms for one original")
	}
}

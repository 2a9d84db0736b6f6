package pseudonym

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"temuan/internal/logging"
	"temuan/internal/types"
)

// Kind classifies a pseudonymized value.
type Kind string

// Supported kinds.
const (
	KindPerson Kind = "person"
	KindID     Kind = "id"
	KindAmount Kind = "amount"
)

// Status tracks the mapping row lifecycle: pending -> active -> expired ->
// deleted. Expiry is time-triggered; deletion happens on the next cleanup.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Mapping is one persisted pseudonym row.
type Mapping struct {
	ID                 string
	SessionID          string
	Kind               Kind
	LookupHash         string
	OriginalCiphertext string
	Pseudonym          string
	Status             Status
	CreatedAt          time.Time
	ExpiresAt          time.Time
	UsageCount         int
	LastAccessedAt     time.Time
	CreatedBy          string
}

// Store persists mappings. The sqlite implementation lives in
// internal/store. Allocate must be atomic: concurrent calls for the same
// (session, kind, hash) must return the same row, and sequence numbers must
// be dense per (session, kind).
type Store interface {
	// FindByHash returns the active mapping for the lookup key, or nil.
	FindByHash(ctx context.Context, sessionID string, kind Kind, hash string) (*Mapping, error)

	// Allocate inserts m with the next per-(session,kind) sequence number,
	// using format to render the pseudonym. If a concurrent request already
	// inserted the same lookup key, the existing row is returned.
	Allocate(ctx context.Context, m Mapping, format func(seq int) string) (Mapping, error)

	// ListActive returns the session's unexpired mappings.
	ListActive(ctx context.Context, sessionID string, now time.Time) ([]Mapping, error)

	// Touch bumps usage counters for the given mapping ids.
	Touch(ctx context.Context, ids []string, now time.Time) error

	// DeleteExpired removes every mapping with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ErrUnknownSession is returned by Depseudonymize for a session with no
// mappings: the caller must refuse to show data rather than leak pseudonyms.
var ErrUnknownSession = errors.New("unknown session: no pseudonym mappings")

// detector pairs a regex with the kind it yields.
type detector struct {
	re   *regexp.Regexp
	kind Kind
}

// Pseudonymizer implements the session-scoped two-way mapping.
type Pseudonymizer struct {
	store     Store
	secret    []byte
	ttl       time.Duration
	audit     logging.AuditSink
	detectors []detector
}

// New creates a pseudonymizer. ttl is the mapping lifetime (default 30
// days); audit receives one entry per create/access/cleanup/error.
func New(store Store, secret []byte, ttl time.Duration, audit logging.AuditSink) *Pseudonymizer {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if audit == nil {
		audit = logging.NopAuditSink{}
	}
	p := &Pseudonymizer{
		store:  store,
		secret: secret,
		ttl:    ttl,
		audit:  audit,
	}
	p.compileDetectors()
	return p
}

func (p *Pseudonymizer) compileDetectors() {
	specs := []struct {
		expr string
		kind Kind
	}{
		// Rupiah amounts: "Rp 1.500.000.000", "Rp1,2 miliar"
		{`Rp\s?[\d.,]+(?:\s?(?:juta|miliar|triliun))?`, KindAmount},
		// Personal ids: NIK/NPWP-style digit runs
		{`\b\d{10,16}\b`, KindID},
		// Person names anchored by honorific or role word
		{`\b(?:Bapak|Ibu|Sdr\.?|Sdri\.?|Mr\.?|Mrs\.?|Ms\.?|[Aa]uditor|[Aa]uditee|PIC)\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3}`, KindPerson},
	}
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			logging.Get(logging.CategoryPseudonym).Warn("could not compile detector %q: %v", s.expr, err)
			continue
		}
		p.detectors = append(p.detectors, detector{re: re, kind: s.kind})
	}
}

// pseudonymFor renders the Nth pseudonym of a kind (1-based): Person_A,
// Person_B, ... Person_Z, Person_AA; ID_001; Amount_001.
func pseudonymFor(kind Kind, seq int) string {
	switch kind {
	case KindPerson:
		return "Person_" + alphaSeq(seq)
	case KindID:
		return fmt.Sprintf("ID_%03d", seq)
	default:
		return fmt.Sprintf("Amount_%03d", seq)
	}
}

// alphaSeq renders 1 -> A, 26 -> Z, 27 -> AA.
func alphaSeq(n int) string {
	var sb []byte
	for n > 0 {
		n--
		sb = append([]byte{byte('A' + n%26)}, sb...)
		n /= 26
	}
	return string(sb)
}

// PseudonymizeRecords replaces sensitive values in the records' free-text
// fields with session-stable pseudonyms. Returns the rewritten copies and
// the mappings touched or created.
//
// Allocation is a transactional check-then-insert in the store; no lock is
// held across any LLM call.
func (p *Pseudonymizer) PseudonymizeRecords(ctx context.Context, records []types.AuditRecord, sessionID, userID string) ([]types.AuditRecord, []Mapping, error) {
	timer := logging.StartTimer(logging.CategoryPseudonym, "PseudonymizeRecords")
	defer timer.Stop()

	if sessionID == "" {
		return nil, nil, fmt.Errorf("session id required")
	}
	c, err := NewCipher(p.secret, sessionID)
	if err != nil {
		return nil, nil, err
	}

	// byOriginal caches resolved pseudonyms within this call.
	byOriginal := make(map[string]string)
	var touched []Mapping

	resolve := func(kind Kind, original string) (string, error) {
		if ps, ok := byOriginal[original]; ok {
			return ps, nil
		}
		m, err := p.ensureMapping(ctx, c, sessionID, kind, original, userID)
		if err != nil {
			return "", err
		}
		byOriginal[original] = m.Pseudonym
		touched = append(touched, m)
		return m.Pseudonym, nil
	}

	out := make([]types.AuditRecord, len(records))
	for i, r := range records {
		rr := r
		if rr.Descriptions, err = p.replaceAll(rr.Descriptions, resolve); err != nil {
			return nil, nil, err
		}
		if rr.RiskArea, err = p.replaceAll(rr.RiskArea, resolve); err != nil {
			return nil, nil, err
		}
		out[i] = rr
	}

	logging.Pseudonym("pseudonymized %d record(s): %d distinct value(s) in session %s",
		len(records), len(byOriginal), sessionID)
	return out, touched, nil
}

// replaceAll applies every detector to text, resolving each match through
// resolve. Placeholder tokens from the masking stage are left untouched.
func (p *Pseudonymizer) replaceAll(text string, resolve func(Kind, string) (string, error)) (string, error) {
	if text == "" {
		return text, nil
	}
	var firstErr error
	result := text
	for _, d := range p.detectors {
		result = d.re.ReplaceAllStringFunc(result, func(match string) string {
			if firstErr != nil {
				return match
			}
			ps, err := resolve(d.kind, match)
			if err != nil {
				firstErr = err
				return match
			}
			return ps
		})
		if firstErr != nil {
			return "", firstErr
		}
	}
	return result, nil
}

// ensureMapping finds or atomically allocates the mapping for one value.
func (p *Pseudonymizer) ensureMapping(ctx context.Context, c *Cipher, sessionID string, kind Kind, original, userID string) (Mapping, error) {
	hash := c.LookupHash(original)

	existing, err := p.store.FindByHash(ctx, sessionID, kind, hash)
	if err != nil {
		return Mapping{}, fmt.Errorf("mapping lookup: %w", err)
	}
	now := time.Now().UTC()
	if existing != nil {
		if err := p.store.Touch(ctx, []string{existing.ID}, now); err != nil {
			logging.Get(logging.CategoryPseudonym).Warn("touch mapping %s: %v", existing.ID, err)
		}
		p.auditEntry(ctx, userID, logging.ActionMappingAccess, sessionID, kind, 1)
		return *existing, nil
	}

	ciphertext, err := c.Encrypt(original)
	if err != nil {
		return Mapping{}, fmt.Errorf("encrypt original: %w", err)
	}

	m := Mapping{
		SessionID:          sessionID,
		Kind:               kind,
		LookupHash:         hash,
		OriginalCiphertext: ciphertext,
		Status:             StatusActive,
		CreatedAt:          now,
		ExpiresAt:          now.Add(p.ttl),
		LastAccessedAt:     now,
		CreatedBy:          userID,
	}
	allocated, err := p.store.Allocate(ctx, m, func(seq int) string {
		return pseudonymFor(kind, seq)
	})
	if err != nil {
		return Mapping{}, fmt.Errorf("allocate mapping: %w", err)
	}

	p.auditEntry(ctx, userID, logging.ActionMappingCreate, sessionID, kind, 1)
	logging.PseudonymDebug("allocated %s for kind=%s in session %s", allocated.Pseudonym, kind, sessionID)
	return allocated, nil
}

// Depseudonymize substitutes the session's pseudonyms back to decrypted
// originals. An unknown session is fatal for the operation: the router must
// refuse to show data rather than leak pseudonyms.
func (p *Pseudonymizer) Depseudonymize(ctx context.Context, text, sessionID string) (string, error) {
	timer := logging.StartTimer(logging.CategoryPseudonym, "Depseudonymize")
	defer timer.Stop()

	if sessionID == "" {
		return "", ErrUnknownSession
	}

	mappings, err := p.store.ListActive(ctx, sessionID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("list mappings: %w", err)
	}
	if len(mappings) == 0 {
		return "", ErrUnknownSession
	}

	c, err := NewCipher(p.secret, sessionID)
	if err != nil {
		return "", err
	}

	type pair struct{ pseudonym, original string }
	pairs := make([]pair, 0, len(mappings))
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		original, err := c.Decrypt(m.OriginalCiphertext)
		if err != nil {
			p.auditEntry(ctx, "", logging.ActionMappingDecryptionError, sessionID, m.Kind, 1)
			return "", fmt.Errorf("decrypt mapping %s: %w", m.ID, err)
		}
		pairs = append(pairs, pair{m.Pseudonym, original})
		ids = append(ids, m.ID)
	}

	// Longest pseudonym first so Person_AA never collides with Person_A.
	sort.Slice(pairs, func(i, j int) bool {
		return len(pairs[i].pseudonym) > len(pairs[j].pseudonym)
	})

	result := text
	for _, pr := range pairs {
		result = strings.ReplaceAll(result, pr.pseudonym, pr.original)
	}

	if err := p.store.Touch(ctx, ids, time.Now().UTC()); err != nil {
		logging.Get(logging.CategoryPseudonym).Warn("touch mappings: %v", err)
	}
	p.auditEntry(ctx, "", logging.ActionMappingAccess, sessionID, "", len(mappings))

	return result, nil
}

// CleanupExpired bulk-deletes every mapping whose expiry has passed and
// emits one audit record for the batch.
func (p *Pseudonymizer) CleanupExpired(ctx context.Context) (int64, error) {
	timer := logging.StartTimer(logging.CategoryCleanup, "CleanupExpired")
	defer timer.Stop()

	n, err := p.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired mappings: %w", err)
	}
	if n > 0 {
		p.auditEntry(ctx, "", logging.ActionMappingCleanup, "", "", int(n))
	}
	logging.Cleanup("expired mapping cleanup: %d row(s) deleted", n)
	return n, nil
}

// auditEntry writes one audit event; failures are logged, never fatal.
func (p *Pseudonymizer) auditEntry(ctx context.Context, userID string, action logging.AuditAction, sessionID string, kind Kind, count int) {
	entry := logging.NewAuditEntry(userID, action, "pseudonym_mapping", sessionID, map[string]interface{}{
		"kind":  string(kind),
		"count": count,
	})
	if err := p.audit.Append(ctx, entry); err != nil {
		logging.Get(logging.CategoryPseudonym).Warn("audit append failed: %v", err)
	}
}

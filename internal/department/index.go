// Package department maintains the alias index that turns a user-supplied
// department fragment ("IT", "Finance", "HR") into the complete set of raw
// department strings present in storage.
//
// Raw names are never rewritten: ingestion only extends the alias set, and
// normalization is applied at query time through this index.
package department

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"temuan/internal/logging"
	"temuan/internal/types"
)

// Categories is the closed set of broad buckets. "Other" is the sink for
// entries no keyword rule claims.
var Categories = []string{
	"IT",
	"Finance",
	"HR",
	"Marketing & Sales",
	"Property Management",
	"Engineering & Construction",
	"Legal & Compliance",
	"Audit & Risk",
	"Operations",
	"Planning & Development",
	"Hospitality & F&B",
	"Healthcare",
	"Insurance & Actuarial",
	"CSR & Community",
	"Security",
	"Corporate",
	"Supply Chain & Procurement",
	"Academic & Administration",
	"Outsourcing & Third Party",
	"Other",
}

// categoryKeywords routes normalized tokens to a category bucket.
var categoryKeywords = map[string][]string{
	"IT":                         {"it", "ict", "teknologi", "informasi", "sistem", "digital", "information", "technology"},
	"Finance":                    {"finance", "keuangan", "akuntansi", "accounting", "pajak", "tax", "treasury", "anggaran", "budget"},
	"HR":                         {"hr", "sdm", "human", "capital", "personalia", "kepegawaian", "talent"},
	"Marketing & Sales":          {"marketing", "pemasaran", "sales", "penjualan", "promosi", "commercial"},
	"Property Management":        {"property", "properti", "estate", "tenant", "building", "gedung", "pengelolaan"},
	"Engineering & Construction": {"engineering", "teknik", "konstruksi", "construction", "proyek", "project", "sipil", "mep"},
	"Legal & Compliance":         {"legal", "hukum", "compliance", "kepatuhan", "perizinan", "regulasi"},
	"Audit & Risk":               {"audit", "risiko", "risk", "spi", "pengawasan", "internal"},
	"Operations":                 {"operasi", "operations", "operasional", "produksi", "maintenance", "pemeliharaan"},
	"Planning & Development":     {"planning", "perencanaan", "pengembangan", "development", "strategi", "strategy"},
	"Hospitality & F&B":          {"hotel", "hospitality", "resort", "banquet", "housekeeping", "fnb", "restoran", "kuliner"},
	"Healthcare":                 {"rumah", "sakit", "hospital", "medis", "medical", "klinik", "keperawatan", "farmasi"},
	"Insurance & Actuarial":      {"asuransi", "insurance", "aktuaria", "actuarial", "klaim", "claim", "polis"},
	"CSR & Community":            {"csr", "komunitas", "community", "tjsl", "sosial", "lingkungan"},
	"Security":                   {"security", "keamanan", "pengamanan", "satpam"},
	"Corporate":                  {"corporate", "korporat", "sekretariat", "secretary", "direksi", "umum", "general"},
	"Supply Chain & Procurement": {"procurement", "pengadaan", "logistik", "logistics", "supply", "chain", "gudang", "warehouse"},
	"Academic & Administration":  {"akademik", "academic", "pendidikan", "kampus", "universitas", "sekolah", "administrasi"},
	"Outsourcing & Third Party":  {"outsourcing", "vendor", "pihak", "ketiga", "kontraktor", "mitra"},
}

// deptPrefixRe strips the department designators from a raw name before
// tokenization: "Departemen IT", "Dept. Keuangan", "Divisi SDM".
var deptPrefixRe = regexp.MustCompile(`(?i)^(departemen|departement|department|dept\.?|divisi|div\.?|bagian|bidang|unit)\s+`)

// punctRe collapses punctuation to spaces during normalization.
var punctRe = regexp.MustCompile(`[^\pL\pN&]+`)

// Store persists departments. The sqlite implementation lives in
// internal/store; tests may pass nil for a purely in-memory index.
type Store interface {
	SaveDepartment(ctx context.Context, d types.Department) error
	LoadDepartments(ctx context.Context) ([]types.Department, error)
}

// Index is the in-memory alias index over the departments table.
// Reads are lock-free beyond an RWMutex; writes occur only during ingestion
// and are serialized by the index mutex, which also serializes writes within
// a canonical group.
type Index struct {
	mu           sync.RWMutex
	byCanonical  map[string]*types.Department // canonical name -> entry
	byNormalized map[string]string            // normalized raw form -> canonical name
	persist      Store
}

// NewIndex creates an empty index backed by persist (may be nil).
func NewIndex(persist Store) *Index {
	return &Index{
		byCanonical:  make(map[string]*types.Department),
		byNormalized: make(map[string]string),
		persist:      persist,
	}
}

// Load hydrates the index from the backing store.
func (ix *Index) Load(ctx context.Context) error {
	if ix.persist == nil {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryDepartment, "Index.Load")
	defer timer.Stop()

	depts, err := ix.persist.LoadDepartments(ctx)
	if err != nil {
		return fmt.Errorf("load departments: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i := range depts {
		d := depts[i]
		ix.byCanonical[d.CanonicalName] = &d
		for _, raw := range d.OriginalNames {
			ix.byNormalized[normalize(raw)] = d.CanonicalName
		}
	}
	logging.Department("department index loaded: %d canonical group(s)", len(ix.byCanonical))
	return nil
}

// SearchByName matches fragment against canonical names, categories and
// keywords, ordered by specificity: exact canonical name first, then
// category matches, then keyword matches.
func (ix *Index) SearchByName(fragment string) []types.Department {
	frag := strings.ToLower(strings.TrimSpace(fragment))
	if frag == "" {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type ranked struct {
		dept types.Department
		rank int // 0 = canonical, 1 = category, 2 = keyword
	}
	var matches []ranked

	for _, d := range ix.byCanonical {
		switch {
		case strings.ToLower(d.CanonicalName) == frag:
			matches = append(matches, ranked{*d, 0})
		case strings.ToLower(d.Category) == frag:
			matches = append(matches, ranked{*d, 1})
		default:
			for _, kw := range d.Keywords {
				if kw == frag {
					matches = append(matches, ranked{*d, 2})
					break
				}
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].dept.CanonicalName < matches[j].dept.CanonicalName
	})

	out := make([]types.Department, len(matches))
	for i, m := range matches {
		out[i] = m.dept
	}
	logging.DepartmentDebug("SearchByName(%q): %d match(es)", fragment, len(out))
	return out
}

// OriginalNamesFor flattens SearchByName into the deduplicated set of raw
// department strings for store fan-out.
func (ix *Index) OriginalNamesFor(fragment string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range ix.SearchByName(fragment) {
		for _, raw := range d.OriginalNames {
			if !seen[raw] {
				seen[raw] = true
				out = append(out, raw)
			}
		}
	}
	return out
}

// FindOrCreate attaches rawName to an existing canonical group (by
// normalized-form identity, then keyword overlap) or creates a new group.
// Idempotent on equivalent raw names: the same normalized form always lands
// in the same canonical group.
func (ix *Index) FindOrCreate(ctx context.Context, rawName, userID string) (types.Department, error) {
	raw := strings.TrimSpace(rawName)
	if raw == "" {
		return types.Department{}, fmt.Errorf("empty department name")
	}
	norm := normalize(raw)
	tokens := strings.Fields(norm)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Exact normalized form seen before: attach to its group.
	if canonical, ok := ix.byNormalized[norm]; ok {
		d := ix.byCanonical[canonical]
		if !d.HasOriginalName(raw) {
			d.OriginalNames = append(d.OriginalNames, raw)
			d.UpdatedAt = time.Now().UTC()
			if err := ix.save(ctx, *d); err != nil {
				return types.Department{}, err
			}
		}
		return *d, nil
	}

	// Keyword overlap against existing groups.
	if best := ix.bestOverlap(tokens); best != nil {
		best.OriginalNames = append(best.OriginalNames, raw)
		best.Keywords = mergeKeywords(best.Keywords, tokens)
		best.UpdatedAt = time.Now().UTC()
		ix.byNormalized[norm] = best.CanonicalName
		if err := ix.save(ctx, *best); err != nil {
			return types.Department{}, err
		}
		logging.Department("attached %q to canonical group %q", raw, best.CanonicalName)
		return *best, nil
	}

	// New canonical group.
	now := time.Now().UTC()
	d := &types.Department{
		CanonicalName: canonicalize(raw),
		Category:      categorize(tokens),
		OriginalNames: []string{raw},
		Keywords:      mergeKeywords(nil, tokens),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ix.byCanonical[d.CanonicalName] = d
	ix.byNormalized[norm] = d.CanonicalName
	if err := ix.save(ctx, *d); err != nil {
		return types.Department{}, err
	}
	logging.Department("created canonical group %q (category=%s) by %s", d.CanonicalName, d.Category, userID)
	return *d, nil
}

// bestOverlap returns the group sharing the most keywords with tokens.
// Requires at least one shared keyword. Caller holds the write lock.
func (ix *Index) bestOverlap(tokens []string) *types.Department {
	var best *types.Department
	bestScore := 0
	names := make([]string, 0, len(ix.byCanonical))
	for name := range ix.byCanonical {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic tie-break
	for _, name := range names {
		d := ix.byCanonical[name]
		score := 0
		for _, t := range tokens {
			for _, kw := range d.Keywords {
				if t == kw {
					score++
					break
				}
			}
		}
		if score > bestScore {
			bestScore = score
			best = d
		}
	}
	return best
}

func (ix *Index) save(ctx context.Context, d types.Department) error {
	if ix.persist == nil {
		return nil
	}
	if err := ix.persist.SaveDepartment(ctx, d); err != nil {
		return fmt.Errorf("save department %q: %w", d.CanonicalName, err)
	}
	return nil
}

// normalize lowers, strips department prefixes and punctuation, and
// collapses whitespace.
func normalize(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		stripped := deptPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = punctRe.ReplaceAllString(s, " ")
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return s
}

// canonicalize derives the canonical display name from a raw variant:
// the prefix-stripped form with original casing preserved.
func canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		stripped := deptPrefixRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.Join(strings.Fields(s), " ")
}

// categorize picks the category bucket with the most token hits; ties break
// by the Categories ordering. Falls back to "Other".
func categorize(tokens []string) string {
	best := "Other"
	bestScore := 0
	for _, cat := range Categories {
		kws, ok := categoryKeywords[cat]
		if !ok {
			continue
		}
		score := 0
		for _, t := range tokens {
			for _, kw := range kws {
				if t == kw {
					score++
					break
				}
			}
		}
		if score > bestScore {
			bestScore = score
			best = cat
		}
	}
	return best
}

// mergeKeywords appends the non-stopword tokens not already present.
var keywordStop = map[string]bool{
	"dan": true, "and": true, "of": true, "the": true, "amp": true,
}

func mergeKeywords(existing, tokens []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, kw := range existing {
		seen[kw] = true
	}
	for _, t := range tokens {
		if len(t) < 2 {
			continue
		}
		if keywordStop[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Package intent turns a masked natural-language query into a
// RecognizedIntent. Recognition is two-tier: an LLM tier with a schema
// brief, and a deterministic pattern tier used both as the LLM's fallback
// and as a gap-filler that catches fields the LLM missed.
package intent

import (
	"regexp"
	"strings"

	"temuan/internal/department"
	"temuan/internal/dictionary"
	"temuan/internal/logging"
	"temuan/internal/types"
)

// patternConfidence caps the fallback tier below any LLM result.
const patternConfidence = 0.4

// yearRe matches a four-digit year as a whole token, robust to surrounding
// punctuation ("findings, 2024." yields 2024).
var yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

// subholdingRe captures an explicit subholding code.
var subholdingRe = regexp.MustCompile(`(?i)\b(?:subholding|sh)\s+([A-Za-z0-9]{2,8})\b`)

// projectRe captures a project phrase: quoted, or following proyek/project.
var (
	quotedProjectRe = regexp.MustCompile(`"([^"]{3,60})"`)
	namedProjectRe  = regexp.MustCompile(`(?i)\b(?:proyek|project)\s+([A-Z][\w&.-]*(?:\s+[A-Z][\w&.-]*){0,4})`)
)

// severityPhrases maps colloquial and Indonesian synonyms to the closed
// enum. Multi-word phrases are checked before single tokens so "highest
// risk" never leaves a stray "high" match behind.
var severityPhrases = []struct {
	re       *regexp.Regexp
	severity types.Severity
}{
	{regexp.MustCompile(`(?i)\bhighest risk\b`), types.SeverityCritical},
	{regexp.MustCompile(`(?i)\brisiko tertinggi\b`), types.SeverityCritical},
	{regexp.MustCompile(`(?i)\bpaling (?:kritis|parah|berisiko)\b`), types.SeverityCritical},
	{regexp.MustCompile(`(?i)\b(?:critical|kritis|urgent|severe|parah|fatal)\b`), types.SeverityCritical},
	{regexp.MustCompile(`(?i)\b(?:high|tinggi|major|serius)\b`), types.SeverityHigh},
	{regexp.MustCompile(`(?i)\b(?:medium|sedang|moderate|menengah)\b`), types.SeverityMedium},
	{regexp.MustCompile(`(?i)\b(?:low|rendah|minor)\b`), types.SeverityLow},
}

// analysisTriggerRe flags queries that need the generative stage.
var analysisTriggerRe = regexp.MustCompile(`(?i)\b(?:why|analyze|analyse|analysis|recommend|recommendation|pattern|trend|summarize|summarise|summary|compare|insight|root cause|kenapa|mengapa|analisa|analisis|rekomendasi|pola|tren|ringkas|ringkasan|bandingkan|kesimpulan)\b`)

// nonFindingRe / findingOnlyRe set the code-emptiness filter only on an
// explicit ask; the generic word "findings" stays neutral.
var (
	nonFindingRe  = regexp.MustCompile(`(?i)\b(?:non[\s-]?findings?|observasi|catatan saja)\b`)
	findingOnlyRe = regexp.MustCompile(`(?i)\b(?:findings? only|hanya temuan|temuan saja)\b`)
)

// tokenRe splits the residual keyword scan.
var tokenRe = regexp.MustCompile(`[\pL\pN&]+`)

// stopwords dropped by the residual keyword extractor (English and
// Indonesian query filler).
var stopwords = map[string]bool{
	"a": true, "all": true, "an": true, "about": true, "and": true, "are": true,
	"find": true, "findings": true, "finding": true, "for": true, "from": true,
	"get": true, "give": true, "in": true, "is": true, "list": true, "me": true,
	"of": true, "on": true, "or": true, "show": true, "the": true, "to": true,
	"what": true, "which": true, "with": true, "year": true,
	"ada": true, "apa": true, "dan": true, "dari": true, "dengan": true,
	"di": true, "ke": true, "pada": true, "per": true, "saja": true,
	"semua": true, "tahun": true, "tampilkan": true, "temuan": true,
	"tentang": true, "untuk": true, "yang": true,
}

// Extractor is the schema-aware pattern tier (C5). It never fails; an
// uninterpretable query yields an empty intent.
type Extractor struct {
	dict  *dictionary.Dictionary
	depts *department.Index
}

// NewExtractor creates the pattern extractor.
func NewExtractor(dict *dictionary.Dictionary, depts *department.Index) *Extractor {
	return &Extractor{dict: dict, depts: depts}
}

// Extract runs every deterministic extractor over the masked query.
func (e *Extractor) Extract(maskedQuery string) types.RecognizedIntent {
	timer := logging.StartTimer(logging.CategoryIntent, "Extractor.Extract")
	defer timer.Stop()

	query := strings.TrimSpace(maskedQuery)
	if query == "" {
		return types.RecognizedIntent{}
	}

	var ri types.RecognizedIntent
	consumed := make(map[string]bool) // lowercased tokens claimed by a field

	// Year
	if m := yearRe.FindStringSubmatch(query); m != nil {
		ri.Filters.Year = m[1]
		consumed[m[1]] = true
	}

	// Severity (phrases before single tokens; first hit per severity).
	seen := make(map[types.Severity]bool)
	for _, sp := range severityPhrases {
		if m := sp.re.FindString(query); m != "" && !seen[sp.severity] {
			seen[sp.severity] = true
			ri.Filters.Severity = append(ri.Filters.Severity, sp.severity)
			for _, tok := range strings.Fields(strings.ToLower(m)) {
				consumed[tok] = true
			}
		}
	}
	ri.Filters.ApplySeverityRanges()

	// Subholding
	if m := subholdingRe.FindStringSubmatch(query); m != nil {
		ri.Filters.Subholding = strings.ToUpper(m[1])
		consumed[strings.ToLower(m[1])] = true
	}

	// Project name: quoted phrase wins over the proyek/project capture.
	if m := quotedProjectRe.FindStringSubmatch(query); m != nil {
		ri.Filters.ProjectName = strings.TrimSpace(m[1])
	} else if m := namedProjectRe.FindStringSubmatch(query); m != nil {
		ri.Filters.ProjectName = strings.TrimSpace(m[1])
	}
	for _, tok := range strings.Fields(strings.ToLower(ri.Filters.ProjectName)) {
		consumed[tok] = true
	}

	// Finding / non-finding, explicit asks only.
	if nonFindingRe.MatchString(query) {
		ri.Filters.Finding = types.NonFinding
	} else if findingOnlyRe.MatchString(query) {
		ri.Filters.Finding = types.FindingOnly
	}

	// Domain acronyms widen the keyword set and require analysis.
	for _, entry := range e.dict.ContainsAcronym(query) {
		ri.Filters.Keywords = appendUnique(ri.Filters.Keywords, entry.Expansions()...)
		consumed[strings.ToLower(entry.Acronym)] = true
		ri.RequiresAnalysis = true
	}

	// Department lookup over the remaining tokens.
	if e.depts != nil {
		for _, tok := range tokenRe.FindAllString(query, -1) {
			lower := strings.ToLower(tok)
			if consumed[lower] || stopwords[lower] || len(lower) < 2 {
				continue
			}
			if len(e.depts.SearchByName(lower)) > 0 {
				ri.Filters.Department = tok
				consumed[lower] = true
				break
			}
		}
	}

	// Residual keywords: what survives every claimed field.
	for _, tok := range tokenRe.FindAllString(query, -1) {
		lower := strings.ToLower(tok)
		if len(lower) < 2 || stopwords[lower] || consumed[lower] {
			continue
		}
		if analysisTriggerRe.MatchString(lower) {
			continue
		}
		if isPlaceholderFragment(query, tok) {
			continue
		}
		ri.Filters.Keywords = appendUnique(ri.Filters.Keywords, lower)
	}

	// Analysis trigger words.
	if analysisTriggerRe.MatchString(query) {
		ri.RequiresAnalysis = true
	}

	ri.Intent = summarizeIntent(ri.Filters)
	ri.Confidence = patternTierConfidence(ri)

	logging.IntentDebug("pattern tier: year=%q severity=%v dept=%q keywords=%d analysis=%v",
		ri.Filters.Year, ri.Filters.Severity, ri.Filters.Department, len(ri.Filters.Keywords), ri.RequiresAnalysis)
	return ri
}

// placeholderTokenRe locates masked placeholders so their fragments are not
// mistaken for keywords.
var placeholderTokenRe = regexp.MustCompile(`\[[A-Z]+_\d+\]`)

// isPlaceholderFragment reports whether tok only occurs inside [KIND_N]
// placeholders in query.
func isPlaceholderFragment(query, tok string) bool {
	spans := placeholderTokenRe.FindAllStringIndex(query, -1)
	if len(spans) == 0 {
		return false
	}
	for _, loc := range indexAll(query, tok) {
		inside := false
		for _, span := range spans {
			if loc >= span[0] && loc < span[1] {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

// indexAll returns every occurrence index of sub in s.
func indexAll(s, sub string) []int {
	var out []int
	for i := 0; ; {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			break
		}
		out = append(out, i+j)
		i += j + len(sub)
	}
	return out
}

// summarizeIntent renders the one-sentence normalized paraphrase.
func summarizeIntent(f types.Filters) string {
	if f.IsEmpty() && len(f.Keywords) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Find ")
	if len(f.Severity) > 0 {
		names := make([]string, len(f.Severity))
		for i, s := range f.Severity {
			names[i] = string(s)
		}
		sb.WriteString(strings.Join(names, "/"))
		sb.WriteString(" severity ")
	}
	sb.WriteString("findings")
	if f.Department != "" {
		sb.WriteString(" in " + f.Department)
	}
	if f.ProjectName != "" {
		sb.WriteString(" for project " + f.ProjectName)
	}
	if len(f.Keywords) > 0 {
		sb.WriteString(" about " + f.Keywords[0])
	}
	if f.Year != "" {
		sb.WriteString(" from " + f.Year)
	}
	return sb.String()
}

// patternTierConfidence grows with the number of recognized fields but
// always stays below the LLM tier floor.
func patternTierConfidence(ri types.RecognizedIntent) float64 {
	if ri.IsZero() {
		return 0
	}
	c := 0.2
	f := ri.Filters
	for _, hit := range []bool{
		f.Year != "", len(f.Severity) > 0, f.Department != "",
		f.ProjectName != "", f.Subholding != "", len(f.Keywords) > 0,
	} {
		if hit {
			c += 0.05
		}
	}
	if c > patternConfidence {
		c = patternConfidence
	}
	return c
}

// appendUnique appends values not already present (case-sensitive).
func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		dst = append(dst, v)
	}
	return dst
}

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"temuan/internal/dictionary"
	"temuan/internal/llm"
	"temuan/internal/logging"
	"temuan/internal/types"
)

// Tier reports which recognition tier produced the intent.
type Tier string

const (
	TierLLM     Tier = "llm"
	TierPattern Tier = "pattern"
)

// llmConfidenceFloor keeps validated LLM results above every pattern-tier
// result.
const llmConfidenceFloor = 0.6

// defaultRecognizeTimeout bounds the LLM tier.
const defaultRecognizeTimeout = 5 * time.Second

// Recognizer is the two-tier intent recognizer (C4). The LLM tier runs
// first; the pattern tier takes over when the LLM is unavailable, times out
// or returns an unparseable payload. Stateless per call.
type Recognizer struct {
	client    llm.Client // nil disables the LLM tier
	dict      *dictionary.Dictionary
	extractor *Extractor
	timeout   time.Duration
}

// NewRecognizer creates a recognizer. client may be nil (pattern-only).
func NewRecognizer(client llm.Client, dict *dictionary.Dictionary, extractor *Extractor, timeout time.Duration) *Recognizer {
	if timeout <= 0 {
		timeout = defaultRecognizeTimeout
	}
	return &Recognizer{
		client:    client,
		dict:      dict,
		extractor: extractor,
		timeout:   timeout,
	}
}

// Recognize turns a masked query into a RecognizedIntent. It never fails on
// an uninterpretable query: the caller inspects the returned tier and a
// zero intent to decide how to respond.
func (r *Recognizer) Recognize(ctx context.Context, maskedQuery string) (types.RecognizedIntent, Tier) {
	timer := logging.StartTimer(logging.CategoryIntent, "Recognizer.Recognize")
	defer timer.Stop()

	query := strings.TrimSpace(maskedQuery)
	if query == "" {
		return types.RecognizedIntent{}, TierPattern
	}

	if r.client != nil {
		llmCtx, cancel := context.WithTimeout(ctx, r.timeout)
		ri, err := r.recognizeLLM(llmCtx, query)
		cancel()
		if err == nil {
			logging.Intent("LLM tier: intent=%q confidence=%.2f analysis=%v", ri.Intent, ri.Confidence, ri.RequiresAnalysis)
			return ri, TierLLM
		}
		logging.Get(logging.CategoryIntent).Warn("LLM tier failed, falling back to pattern tier: %v", err)
	}

	ri := r.extractor.Extract(query)
	// The fallback never invents analysis text, but analysis need is still
	// flagged from trigger words or residual domain keywords.
	if !ri.RequiresAnalysis && len(ri.Filters.Keywords) > 0 {
		ri.RequiresAnalysis = r.hasDomainKeyword(ri.Filters.Keywords)
	}
	return ri, TierPattern
}

// hasDomainKeyword reports whether any residual keyword is a dictionary term.
func (r *Recognizer) hasDomainKeyword(keywords []string) bool {
	for _, kw := range keywords {
		if _, ok := r.dict.Lookup(kw); ok {
			return true
		}
	}
	return false
}

// wireFilters is the LLM response's filter envelope before validation.
type wireFilters struct {
	Year        interface{} `json:"year"`
	Department  string      `json:"department"`
	Subholding  string      `json:"subholding"`
	ProjectName string      `json:"projectName"`
	Severity    []string    `json:"severity"`
	Keywords    []string    `json:"keywords"`
	MinNilai    *float64    `json:"minNilai"`
	MaxNilai    *float64    `json:"maxNilai"`
}

// wireIntent is the LLM response envelope.
type wireIntent struct {
	Intent           string      `json:"intent"`
	Filters          wireFilters `json:"filters"`
	RequiresAnalysis bool        `json:"requiresAnalysis"`
	Confidence       float64     `json:"confidence"`
}

// recognizeLLM runs the LLM tier and validates the payload against the
// schema: unknown fields are dropped by decoding, enum values clamped, and
// year coerced to its string form.
func (r *Recognizer) recognizeLLM(ctx context.Context, maskedQuery string) (types.RecognizedIntent, error) {
	response, err := r.client.CompleteWithSystem(ctx, recognizerSystemPrompt, maskedQuery)
	if err != nil {
		return types.RecognizedIntent{}, fmt.Errorf("intent model: %w", err)
	}

	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return types.RecognizedIntent{}, fmt.Errorf("no JSON object in intent response")
	}

	var wire wireIntent
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return types.RecognizedIntent{}, fmt.Errorf("parse intent response: %w", err)
	}

	ri := types.RecognizedIntent{
		Intent:           strings.TrimSpace(wire.Intent),
		RequiresAnalysis: wire.RequiresAnalysis,
		Confidence:       clamp01(wire.Confidence),
	}
	ri.Filters.Year = coerceYear(wire.Filters.Year)
	ri.Filters.Department = strings.TrimSpace(wire.Filters.Department)
	ri.Filters.Subholding = strings.TrimSpace(wire.Filters.Subholding)
	ri.Filters.ProjectName = strings.TrimSpace(wire.Filters.ProjectName)

	for _, s := range wire.Filters.Severity {
		if sev, ok := types.ParseSeverity(s); ok {
			ri.Filters.Severity = append(ri.Filters.Severity, sev)
		}
	}
	for _, kw := range wire.Filters.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || placeholderTokenRe.MatchString(kw) {
			continue
		}
		ri.Filters.Keywords = appendUnique(ri.Filters.Keywords, kw)
	}

	// Severity ranges are authoritative for nilai bounds: recompute from the
	// final severity set rather than trusting model-provided numbers.
	if len(ri.Filters.Severity) > 0 {
		ri.Filters.ApplySeverityRanges()
	} else {
		ri.Filters.MinNilai = clampNilai(wire.Filters.MinNilai)
		ri.Filters.MaxNilai = clampNilai(wire.Filters.MaxNilai)
	}

	// Dictionary acronyms anywhere in the query require analysis and widen
	// the keyword set, whether or not the model noticed them.
	for _, entry := range r.dict.ContainsAcronym(maskedQuery) {
		ri.Filters.Keywords = appendUnique(ri.Filters.Keywords, entry.Expansions()...)
		ri.RequiresAnalysis = true
	}

	if ri.IsZero() {
		return ri, nil
	}
	if ri.Confidence < llmConfidenceFloor {
		ri.Confidence = llmConfidenceFloor
	}
	return ri, nil
}

// extractJSON finds the first JSON object in response (handles markdown
// wrappers).
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

// fourDigitRe validates a coerced year.
var fourDigitRe = regexp.MustCompile(`^\d{4}$`)

// coerceYear accepts a string or a JSON number and emits the four-digit
// string form, or "" when invalid.
func coerceYear(v interface{}) string {
	var s string
	switch y := v.(type) {
	case string:
		s = strings.TrimSpace(y)
	case float64:
		s = fmt.Sprintf("%.0f", y)
	default:
		return ""
	}
	if !fourDigitRe.MatchString(s) {
		return ""
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampNilai bounds a model-provided nilai value to [0,25].
func clampNilai(v *float64) *float64 {
	if v == nil {
		return nil
	}
	n := *v
	if n < 0 {
		n = 0
	}
	if n > 25 {
		n = 25
	}
	return &n
}

// Merge combines the LLM tier's intent with the pattern tier's: the LLM
// wins ties, the pattern tier fills gaps.
func Merge(llmIntent, patternIntent types.RecognizedIntent) types.RecognizedIntent {
	out := llmIntent

	if out.Intent == "" {
		out.Intent = patternIntent.Intent
	}
	if out.Filters.Year == "" {
		out.Filters.Year = patternIntent.Filters.Year
	}
	if out.Filters.Department == "" {
		out.Filters.Department = patternIntent.Filters.Department
	}
	if out.Filters.Subholding == "" {
		out.Filters.Subholding = patternIntent.Filters.Subholding
	}
	if out.Filters.ProjectName == "" {
		out.Filters.ProjectName = patternIntent.Filters.ProjectName
	}
	if len(out.Filters.Severity) == 0 {
		out.Filters.Severity = patternIntent.Filters.Severity
	}
	if out.Filters.Finding == types.FindingAny {
		out.Filters.Finding = patternIntent.Filters.Finding
	}
	out.Filters.Keywords = appendUnique(out.Filters.Keywords, patternIntent.Filters.Keywords...)

	// Nilai bounds always derive from the final severity set when present.
	if len(out.Filters.Severity) > 0 {
		out.Filters.ApplySeverityRanges()
	} else if out.Filters.MinNilai == nil && out.Filters.MaxNilai == nil {
		out.Filters.MinNilai = patternIntent.Filters.MinNilai
		out.Filters.MaxNilai = patternIntent.Filters.MaxNilai
	}

	out.RequiresAnalysis = out.RequiresAnalysis || patternIntent.RequiresAnalysis
	if patternIntent.Confidence > out.Confidence {
		out.Confidence = patternIntent.Confidence
	}
	return out
}

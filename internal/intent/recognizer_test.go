package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temuan/internal/types"
)

// fakeLLM returns a canned response or error.
type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestRecognizer(t *testing.T, client *fakeLLM) *Recognizer {
	t.Helper()
	e := newTestExtractor(t)
	if client == nil {
		return NewRecognizer(nil, e.dict, e, 0)
	}
	return NewRecognizer(client, e.dict, e, 0)
}

func TestRecognizeLLMTier(t *testing.T) {
	client := &fakeLLM{response: `{
		"intent": "Find Critical severity findings from 2024",
		"filters": {"year": "2024", "severity": ["Critical"], "keywords": []},
		"requiresAnalysis": false,
		"confidence": 0.92
	}`}
	r := newTestRecognizer(t, client)

	ri, tier := r.Recognize(context.Background(), "show me highest risk findings 2024")

	assert.Equal(t, TierLLM, tier)
	assert.Equal(t, "2024", ri.Filters.Year)
	assert.Equal(t, []types.Severity{types.SeverityCritical}, ri.Filters.Severity)
	assert.InDelta(t, 0.92, ri.Confidence, 1e-9)
	// Severity ranges derived in addition to the categorical filter.
	require.NotNil(t, ri.Filters.MinNilai)
	assert.Equal(t, 15.0, *ri.Filters.MinNilai)
}

func TestRecognizeLLMMarkdownWrapped(t *testing.T) {
	client := &fakeLLM{response: "```json\n{\"intent\":\"Find findings from 2023\",\"filters\":{\"year\":2023},\"requiresAnalysis\":false,\"confidence\":0.8}\n```"}
	r := newTestRecognizer(t, client)

	ri, tier := r.Recognize(context.Background(), "findings 2023")

	assert.Equal(t, TierLLM, tier)
	// Numeric year coerced to its string form.
	assert.Equal(t, "2023", ri.Filters.Year)
}

func TestRecognizeClampsInvalidEnums(t *testing.T) {
	client := &fakeLLM{response: `{
		"intent": "x",
		"filters": {"year": "24", "severity": ["Catastrophic", "low"], "keywords": ["[NAME_1]", "ppjb"]},
		"requiresAnalysis": false,
		"confidence": 3.0
	}`}
	r := newTestRecognizer(t, client)

	ri, tier := r.Recognize(context.Background(), "whatever")

	assert.Equal(t, TierLLM, tier)
	assert.Empty(t, ri.Filters.Year, "two-digit year must be dropped")
	assert.Equal(t, []types.Severity{types.SeverityLow}, ri.Filters.Severity)
	assert.NotContains(t, ri.Filters.Keywords, "[NAME_1]")
	assert.Contains(t, ri.Filters.Keywords, "ppjb")
	assert.LessOrEqual(t, ri.Confidence, 1.0)
}

func TestRecognizeFallsBackOnLLMError(t *testing.T) {
	client := &fakeLLM{err: errors.New("endpoint down")}
	r := newTestRecognizer(t, client)

	ri, tier := r.Recognize(context.Background(), "critical findings 2023")

	assert.Equal(t, TierPattern, tier)
	assert.Equal(t, "2023", ri.Filters.Year)
	assert.Equal(t, []types.Severity{types.SeverityCritical}, ri.Filters.Severity)
	assert.Less(t, ri.Confidence, llmConfidenceFloor)
}

func TestRecognizeFallsBackOnGarbage(t *testing.T) {
	client := &fakeLLM{response: "I could not classify that, sorry!"}
	r := newTestRecognizer(t, client)

	_, tier := r.Recognize(context.Background(), "critical findings 2023")
	assert.Equal(t, TierPattern, tier)
}

func TestRecognizeEmptyInput(t *testing.T) {
	client := &fakeLLM{response: "{}"}
	r := newTestRecognizer(t, client)

	ri, tier := r.Recognize(context.Background(), "   ")

	assert.Equal(t, TierPattern, tier)
	assert.True(t, ri.IsZero())
	assert.Zero(t, client.calls, "empty input must not reach the LLM")
}

func TestRecognizeAddsDictionaryExpansions(t *testing.T) {
	// Model ignored PPJB; the validator widens keywords from the dictionary.
	client := &fakeLLM{response: `{
		"intent": "Find findings from 2024",
		"filters": {"year": "2024"},
		"requiresAnalysis": false,
		"confidence": 0.7
	}`}
	r := newTestRecognizer(t, client)

	ri, _ := r.Recognize(context.Background(), "show me findings about PPJB in 2024")

	assert.True(t, ri.RequiresAnalysis)
	assert.Contains(t, ri.Filters.Keywords, "PPJB")
	assert.Contains(t, ri.Filters.Keywords, "Perjanjian Pengikatan Jual Beli")
}

func TestMergeLLMWinsPatternFills(t *testing.T) {
	llmIntent := types.RecognizedIntent{
		Intent:     "Find IT findings",
		Filters:    types.Filters{Department: "IT"},
		Confidence: 0.9,
	}
	patternIntent := types.RecognizedIntent{
		Intent: "Find findings from 2024",
		Filters: types.Filters{
			Year:       "2024",
			Department: "Finance", // loses the tie
			Keywords:   []string{"ppjb"},
		},
		RequiresAnalysis: true,
		Confidence:       0.4,
	}

	got := Merge(llmIntent, patternIntent)

	assert.Equal(t, "Find IT findings", got.Intent)
	assert.Equal(t, "IT", got.Filters.Department)
	assert.Equal(t, "2024", got.Filters.Year)
	assert.Contains(t, got.Filters.Keywords, "ppjb")
	assert.True(t, got.RequiresAnalysis)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestMergeSeverityRangesAuthoritative(t *testing.T) {
	bogusMin := 2.0
	llmIntent := types.RecognizedIntent{
		Filters: types.Filters{
			Severity: []types.Severity{types.SeverityCritical},
			MinNilai: &bogusMin, // model-provided bound is overridden
		},
		Confidence: 0.8,
	}

	got := Merge(llmIntent, types.RecognizedIntent{})

	require.NotNil(t, got.Filters.MinNilai)
	assert.Equal(t, 15.0, *got.Filters.MinNilai)
	require.NotNil(t, got.Filters.MaxNilai)
	assert.Equal(t, 25.0, *got.Filters.MaxNilai)
}

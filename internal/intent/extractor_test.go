package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"temuan/internal/department"
	"temuan/internal/dictionary"
	"temuan/internal/types"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	depts := department.NewIndex(nil)
	ctx := context.Background()
	for _, raw := range []string{"IT", "Departemen Keuangan", "HR"} {
		_, err := depts.FindOrCreate(ctx, raw, "seed")
		require.NoError(t, err)
	}
	return NewExtractor(dictionary.New(), depts)
}

func TestExtractSynonymNormalization(t *testing.T) {
	e := newTestExtractor(t)

	ri := e.Extract("show me highest risk findings 2024")

	assert.Equal(t, "2024", ri.Filters.Year)
	assert.Equal(t, []types.Severity{types.SeverityCritical}, ri.Filters.Severity)
	assert.False(t, ri.RequiresAnalysis)
	assert.Equal(t, "Find Critical severity findings from 2024", ri.Intent)

	require.NotNil(t, ri.Filters.MinNilai)
	assert.Equal(t, 15.0, *ri.Filters.MinNilai)
	require.NotNil(t, ri.Filters.MaxNilai)
	assert.Equal(t, 25.0, *ri.Filters.MaxNilai)
}

func TestExtractSeveritySynonyms(t *testing.T) {
	e := newTestExtractor(t)

	cases := map[string]types.Severity{
		"urgent findings":       types.SeverityCritical,
		"severe issues 2023":    types.SeverityCritical,
		"temuan kritis":         types.SeverityCritical,
		"temuan tinggi":         types.SeverityHigh,
		"moderate findings":     types.SeverityMedium,
		"temuan rendah di 2022": types.SeverityLow,
	}
	for q, want := range cases {
		ri := e.Extract(q)
		require.NotEmpty(t, ri.Filters.Severity, "query %q", q)
		assert.Equal(t, want, ri.Filters.Severity[0], "query %q", q)
	}
}

func TestExtractYearRobustToPunctuation(t *testing.T) {
	e := newTestExtractor(t)

	for _, q := range []string{"findings, 2024.", "(2024)", "temuan tahun 2024!"} {
		ri := e.Extract(q)
		assert.Equal(t, "2024", ri.Filters.Year, "query %q", q)
	}
}

func TestExtractAcronymViaDictionary(t *testing.T) {
	e := newTestExtractor(t)

	ri := e.Extract("show me findings about PPJB in 2024")

	assert.Equal(t, "2024", ri.Filters.Year)
	assert.True(t, ri.RequiresAnalysis)
	assert.Contains(t, ri.Filters.Keywords, "PPJB")
	assert.Contains(t, ri.Filters.Keywords, "Perjanjian Pengikatan Jual Beli")
	assert.Contains(t, ri.Filters.Keywords, "binding sale agreement")
}

func TestExtractDepartmentFragment(t *testing.T) {
	e := newTestExtractor(t)

	ri := e.Extract("show all IT findings 2024")
	assert.Equal(t, "IT", ri.Filters.Department)

	ri = e.Extract("temuan keuangan tahun 2023")
	assert.Equal(t, "keuangan", ri.Filters.Department)
}

func TestExtractAnalysisTriggers(t *testing.T) {
	e := newTestExtractor(t)

	for _, q := range []string{
		"why do IT findings repeat",
		"summarize 2024 findings",
		"compare 2023 and 2024",
		"mengapa temuan berulang",
		"berikan rekomendasi untuk temuan 2024",
	} {
		ri := e.Extract(q)
		assert.True(t, ri.RequiresAnalysis, "query %q", q)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	e := newTestExtractor(t)

	ri := e.Extract("")
	assert.True(t, ri.IsZero())
	assert.Equal(t, "", ri.Intent)
	assert.Zero(t, ri.Confidence)
}

func TestExtractConfidenceBelowLLMFloor(t *testing.T) {
	e := newTestExtractor(t)

	ri := e.Extract("critical IT findings 2024 about PPJB")
	assert.Greater(t, ri.Confidence, 0.0)
	assert.LessOrEqual(t, ri.Confidence, patternConfidence)
	assert.Less(t, ri.Confidence, llmConfidenceFloor)
}

func TestExtractIgnoresPlaceholderFragments(t *testing.T) {
	e := newTestExtractor(t)

	ri := e.Extract("summarize findings for auditor [EMAIL_1] in the PPJB area")
	assert.NotContains(t, ri.Filters.Keywords, "email")
	assert.NotContains(t, ri.Filters.Keywords, "email_1")
	assert.Contains(t, ri.Filters.Keywords, "PPJB")
}

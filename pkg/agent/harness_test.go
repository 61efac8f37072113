package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnwis/qnwis/pkg/catalog"
	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/llm"
	"github.com/qnwis/qnwis/pkg/verify"
)

type fakeData struct {
	results map[string]*dataaccess.QueryResult
	err     error
	calls   []string
}

func (f *fakeData) Execute(_ context.Context, _, queryID string, _ map[string]any) (*dataaccess.QueryResult, error) {
	f.calls = append(f.calls, queryID)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[queryID], nil
}

func harnessRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	dir := t.TempDir()
	content := `
queries:
  - query_id: lmi.sector_counts
    dataset: LMIS
    sql: SELECT sector, headcount FROM workforce WHERE year = :year
    parameters:
      - name: year
        type: int
        required: true
    output_schema:
      - {name: sector, type: string}
      - {name: headcount, type: int}
    cache_ttl_seconds: 300
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte(content), 0600))
	reg, err := catalog.Load(context.Background(), dir)
	require.NoError(t, err)
	return reg
}

func testSpec() *config.AgentSpec {
	return &config.AgentSpec{
		Name:               "labour_economist",
		Role:               "labour market economist",
		PromptTemplate:     "Question: {{.Question}}\nData:\n{{.Data}}",
		SelectableQueryIDs: []string{"lmi.sector_counts"},
	}
}

func testData() *fakeData {
	return &fakeData{results: map[string]*dataaccess.QueryResult{
		"lmi.sector_counts": {
			QueryID:    "lmi.sector_counts",
			Provenance: dataaccess.Provenance{Dataset: "LMIS"},
			Rows:       []dataaccess.Row{{"sector": "construction", "headcount": int64(1234)}},
			RowCount:   1,
		},
	}}
}

func newHarness(data dataaccess.Client, reg *catalog.Registry, provider llm.Provider) *Harness {
	return NewHarness(data, reg, provider, verify.New(config.DefaultVerification()), 5*time.Second)
}

func TestHarnessVerifiedNarrative(t *testing.T) {
	data := testData()
	provider := llm.NewNullProvider().Queue("Per LMIS: construction employs 1,234 workers.")
	h := newHarness(data, harnessRegistry(t), provider)

	report, err := h.Execute(context.Background(), testSpec(), "run-1", "How is construction staffed?", map[string]any{"year": 2026})
	require.NoError(t, err)
	assert.False(t, report.Failed)
	assert.Equal(t, "labour_economist", report.AgentName)
	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.OK)
	assert.Equal(t, []string{"lmi.sector_counts"}, report.QueryIDs)
	assert.Empty(t, report.Warnings)
}

func TestHarnessRetriesOnVerificationFailure(t *testing.T) {
	data := testData()
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,500 workers.",
		"Per LMIS: construction employs 1,234 workers.",
	)
	h := newHarness(data, harnessRegistry(t), provider)

	report, err := h.Execute(context.Background(), testSpec(), "run-1", "q", map[string]any{"year": 2026})
	require.NoError(t, err)
	assert.True(t, report.Verification.OK, "the corrected retry must pass")
	assert.Empty(t, report.Warnings)
}

func TestHarnessSurfacesWarningsAfterFailedRetry(t *testing.T) {
	data := testData()
	provider := llm.NewNullProvider().Queue(
		"Per LMIS: construction employs 1,500 workers.",
		"Per LMIS: construction employs 1,600 workers.",
	)
	h := newHarness(data, harnessRegistry(t), provider)

	report, err := h.Execute(context.Background(), testSpec(), "run-1", "q", map[string]any{"year": 2026})
	require.NoError(t, err, "verification failure must not fail the run")
	assert.False(t, report.Verification.OK)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "ClaimNotFound")
}

func TestHarnessPrefetchFailure(t *testing.T) {
	data := &fakeData{err: dataaccess.ErrBackendFailure}
	h := newHarness(data, harnessRegistry(t), llm.NewNullProvider())

	report, err := h.Execute(context.Background(), testSpec(), "run-1", "q", map[string]any{"year": 2026})
	require.Error(t, err)
	assert.ErrorIs(t, err, dataaccess.ErrBackendFailure)
	assert.True(t, report.Failed)
	assert.Empty(t, report.Narrative)
}

func TestHarnessFiltersRunParamsPerQuery(t *testing.T) {
	data := testData()
	provider := llm.NewNullProvider().Queue("Per LMIS: 1,234 workers.")
	h := newHarness(data, harnessRegistry(t), provider)

	// "sector" is not declared by the query; the harness must drop it
	// rather than fail parameter binding downstream.
	_, err := h.Execute(context.Background(), testSpec(), "run-1", "q",
		map[string]any{"year": 2026, "sector": "construction"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lmi.sector_counts"}, data.calls)
}

func TestHarnessUnknownQueryInSpec(t *testing.T) {
	spec := testSpec()
	spec.SelectableQueryIDs = []string{"nope.missing"}
	h := newHarness(testData(), harnessRegistry(t), llm.NewNullProvider())

	report, err := h.Execute(context.Background(), spec, "run-1", "q", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrUnknownQuery))
	assert.True(t, report.Failed)
}

func TestParseResponseFindings(t *testing.T) {
	report := parseResponse("a", "r", "Summary text.\n\nKey findings:\n- First point\n- Second point\n\nMore prose.")
	assert.Equal(t, []string{"First point", "Second point"}, report.KeyFindings)
	assert.Contains(t, report.Narrative, "Summary text.")
}

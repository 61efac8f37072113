package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
)

func testResults() []*dataaccess.QueryResult {
	return []*dataaccess.QueryResult{
		{
			QueryID:    "lmi.sector_counts",
			Provenance: dataaccess.Provenance{Dataset: "LMIS"},
			Rows: []dataaccess.Row{
				{"sector": "construction", "headcount": int64(1234)},
				{"sector": "hospitality", "headcount": int64(860)},
			},
			RowCount: 2,
		},
		{
			QueryID:    "lmi.unemployment_rate",
			Provenance: dataaccess.Provenance{Dataset: "LMIS"},
			Rows: []dataaccess.Row{
				{"period": "2026-Q1", "rate_pct": 12.5},
			},
			RowCount: 1,
		},
		{
			QueryID:    "gccstat.wage_index",
			Provenance: dataaccess.Provenance{Dataset: "GCC-STAT"},
			Rows: []dataaccess.Row{
				{"index": 104.2, "avg_wage_qar": float64(8250)},
			},
			RowCount: 1,
		},
	}
}

func newVerifier(mutate func(*config.Verification)) *Verifier {
	cfg := config.DefaultVerification()
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func TestVerifyAllCitedAndPresent(t *testing.T) {
	v := newVerifier(nil)
	narrative := "Per LMIS: construction employs 1,234 workers. Per LMIS: the unemployment rate is 12.5%."

	report := v.Verify(narrative, testResults())
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.ClaimsTotal)
	assert.Equal(t, 2, report.ClaimsMatched)
	assert.Empty(t, report.Errors())
}

func TestVerifyUncitedClaim(t *testing.T) {
	v := newVerifier(nil)
	report := v.Verify("Construction employs 1,234 workers.", testResults())

	assert.False(t, report.OK)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, ClaimUncited, report.Issues[0].Code)
	assert.Equal(t, SeverityError, report.Issues[0].Severity)
}

func TestVerifyFabricatedNumber(t *testing.T) {
	v := newVerifier(nil)
	report := v.Verify("Per LMIS: construction employs 1,500 workers.", testResults())

	assert.False(t, report.OK)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, ClaimNotFound, report.Issues[0].Code)
}

func TestVerifyArithmeticCombinations(t *testing.T) {
	v := newVerifier(nil)

	// Sum of two present values.
	report := v.Verify("Per LMIS: the two sectors employ 2,094 workers in total.", testResults())
	assert.True(t, report.OK, "a total of two present values must verify")
	assert.Equal(t, 1, report.ClaimsMatched)

	// Difference.
	report = v.Verify("Per LMIS: construction exceeds hospitality by 374 workers.", testResults())
	assert.True(t, report.OK, "a gap between two present values must verify")

	// Ratio expressed as a percentage.
	report = v.Verify("Per LMIS: hospitality stands at 69.7% of construction headcount.", testResults())
	assert.True(t, report.OK, "a share derived from two present values must verify")

	// A figure no pair of values combines to is still fabricated.
	report = v.Verify("Per LMIS: the two sectors employ 2,500 workers in total.", testResults())
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, ClaimNotFound, report.Issues[0].Code)
}

func TestVerifyCountMatchesRowCount(t *testing.T) {
	v := newVerifier(nil)
	report := v.Verify("Per LMIS: the result covers 2 sectors.", testResults())
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.ClaimsMatched)
}

func TestVerifyPercentDualRepresentation(t *testing.T) {
	results := []*dataaccess.QueryResult{{
		QueryID:    "lmi.unemployment_rate",
		Provenance: dataaccess.Provenance{Dataset: "LMIS"},
		Rows:       []dataaccess.Row{{"rate": 0.125}},
		RowCount:   1,
	}}
	v := newVerifier(func(c *config.Verification) { c.IgnoreNumbersBelow = 0 })

	report := v.Verify("Per LMIS: unemployment stands at 12.5%.", results)
	assert.True(t, report.OK, "claim in [0,100] must match data stored in [0,1]")
}

func TestVerifyQIDAnnotationRestrictsSource(t *testing.T) {
	v := newVerifier(nil)

	// 12.5 exists only in lmi.unemployment_rate; pinning the claim to the
	// sector query must fail it.
	report := v.Verify("The rate is 12.5% (QID:lmi.sector_counts).", testResults())
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, ClaimNotFound, report.Issues[0].Code)

	report = v.Verify("The rate is 12.5% (QID:lmi.unemployment_rate).", testResults())
	assert.True(t, report.OK)
}

func TestVerifyCitationScopesToSourceFamily(t *testing.T) {
	v := newVerifier(nil)

	// 8,250 QAR lives in the GCC-STAT result, not in LMIS.
	report := v.Verify("Per GCC-STAT: the average wage is 8,250 QAR.", testResults())
	assert.True(t, report.OK)
}

func TestVerifyYearsIgnored(t *testing.T) {
	v := newVerifier(nil)
	report := v.Verify("Per LMIS: in 2026 construction employed 1,234 workers.", testResults())
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.ClaimsTotal, "the year token must not become a claim")
}

func TestVerifySmallNumbersIgnored(t *testing.T) {
	v := newVerifier(func(c *config.Verification) { c.IgnoreNumbersBelow = 10 })
	report := v.Verify("Per LMIS: growth across 3 of the 1,234 roles.", testResults())
	assert.Equal(t, 1, report.ClaimsTotal)
}

func TestVerifyBulletSumTo100(t *testing.T) {
	v := newVerifier(func(c *config.Verification) { c.RequireCitationFirst = false })
	results := []*dataaccess.QueryResult{{
		QueryID:  "lmi.share",
		Rows:     []dataaccess.Row{{"a": 60.0, "b": 25.0, "c": 10.0}},
		RowCount: 1,
	}}

	narrative := "Sector shares:\n- Construction: 60%\n- Hospitality: 25%\n- Other: 10%\n"
	report := v.Verify(narrative, results)
	assert.False(t, report.OK)
	assert.Equal(t, MathChecks{GroupsChecked: 1, GroupsFailed: 1}, report.MathChecks)

	found := false
	for _, is := range report.Issues {
		if is.Code == MathInconsistent {
			found = true
			assert.Contains(t, is.Message, "95.00")
		}
	}
	assert.True(t, found, "expected a MathInconsistent issue")
}

func TestVerifyBulletSumWithinTolerance(t *testing.T) {
	v := newVerifier(func(c *config.Verification) { c.RequireCitationFirst = false })
	results := []*dataaccess.QueryResult{{
		QueryID:  "lmi.share",
		Rows:     []dataaccess.Row{{"a": 60.2, "b": 25.0, "c": 14.9}},
		RowCount: 1,
	}}

	narrative := "- A: 60.2%\n- B: 25%\n- C: 14.9%\n"
	report := v.Verify(narrative, results)
	for _, is := range report.Issues {
		assert.NotEqual(t, MathInconsistent, is.Code, "sum 100.1 is inside epsilon_pct")
	}
	assert.Equal(t, MathChecks{GroupsChecked: 1, GroupsFailed: 0}, report.MathChecks)
}

func TestVerifyRoundingMismatchIsWarning(t *testing.T) {
	results := []*dataaccess.QueryResult{{
		QueryID:  "lmi.avg",
		Rows:     []dataaccess.Row{{"avg": 1233.4}},
		RowCount: 1,
	}}
	v := newVerifier(func(c *config.Verification) {
		c.RequireCitationFirst = false
		c.AbsEpsilon = 0.05
		c.RelEpsilon = 0.0001
	})

	report := v.Verify("The average is 1233.", results)
	assert.True(t, report.OK, "rounding mismatch is a warning, not an error")
	require.Len(t, report.Issues, 1)
	assert.Equal(t, RoundingMismatch, report.Issues[0].Code)
	assert.Equal(t, SeverityWarning, report.Issues[0].Severity)
}

func TestVerifyDeterministic(t *testing.T) {
	v := newVerifier(nil)
	narrative := "Per LMIS: 1,234 workers, 12.5% unemployment, and 9,999 unknowns."

	r1 := v.Verify(narrative, testResults())
	r2 := v.Verify(narrative, testResults())
	assert.Equal(t, r1, r2)
}

func TestVerifyEmptyNarrative(t *testing.T) {
	v := newVerifier(nil)
	report := v.Verify("", testResults())
	assert.True(t, report.OK)
	assert.Zero(t, report.ClaimsTotal)
}

package verify

import (
	"fmt"

	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
	"github.com/qnwis/qnwis/pkg/metrics"
)

// Verifier validates narratives against prefetched query results under a
// fixed set of tolerances.
type Verifier struct {
	cfg *config.Verification
}

// New creates a verifier with the given tolerances.
func New(cfg *config.Verification) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify extracts every numeric claim from the narrative and binds each
// one against the results. The report is OK when no error-severity issue
// was found.
func (v *Verifier) Verify(narrative string, results []*dataaccess.QueryResult) *Report {
	opts := extractOptions{
		ignoreYears:        v.cfg.IgnoreYears,
		ignoreNumbersBelow: v.cfg.IgnoreNumbersBelow,
	}

	claims := ExtractClaims(narrative, opts)
	report := &Report{ClaimsTotal: len(claims)}

	for i := range claims {
		claim := claims[i]

		if v.cfg.RequireCitationFirst && claim.Citation == "" && claim.QueryID == "" {
			metrics.ClaimsVerified.WithLabelValues("uncited").Inc()
			report.Issues = append(report.Issues, Issue{
				Code:     ClaimUncited,
				Severity: SeverityError,
				Claim:    &claims[i],
				Message:  fmt.Sprintf("claim %q has no citation prefix", claim.Raw),
			})
			continue
		}

		switch bindClaim(claim, results, v.cfg) {
		case bindMatched:
			metrics.ClaimsVerified.WithLabelValues("matched").Inc()
			report.ClaimsMatched++
		case bindAmbiguous:
			// Matched in several sources; counted as matched but flagged so
			// the synthesizer can tighten citations.
			metrics.ClaimsVerified.WithLabelValues("matched").Inc()
			report.ClaimsMatched++
			report.Issues = append(report.Issues, Issue{
				Code:     AmbiguousSource,
				Severity: SeverityWarning,
				Claim:    &claims[i],
				Message:  fmt.Sprintf("claim %q matches values in multiple query results", claim.Raw),
			})
		case bindRounding:
			report.Issues = append(report.Issues, Issue{
				Code:     RoundingMismatch,
				Severity: SeverityWarning,
				Claim:    &claims[i],
				Message:  fmt.Sprintf("claim %q matches only after rounding", claim.Raw),
			})
		case bindUnitOnly:
			metrics.ClaimsVerified.WithLabelValues("unit_mismatch").Inc()
			report.Issues = append(report.Issues, Issue{
				Code:     UnitMismatch,
				Severity: SeverityError,
				Claim:    &claims[i],
				Message:  fmt.Sprintf("claim %q matches data only under a different unit", claim.Raw),
			})
		default:
			metrics.ClaimsVerified.WithLabelValues("not_found").Inc()
			report.Issues = append(report.Issues, Issue{
				Code:     ClaimNotFound,
				Severity: SeverityError,
				Claim:    &claims[i],
				Message:  fmt.Sprintf("claim %q not found in any prefetched result", claim.Raw),
			})
		}
	}

	if v.cfg.SumTo100 {
		sumIssues, checked := checkBulletSums(narrative, v.cfg.EpsilonPct, opts)
		report.Issues = append(report.Issues, sumIssues...)
		report.MathChecks = MathChecks{GroupsChecked: checked, GroupsFailed: len(sumIssues)}
	}

	report.OK = len(report.Errors()) == 0
	return report
}

// Package verify validates numeric claims in agent narratives against the
// QueryResults prefetched for the run. Extraction is lexical, binding is
// tolerance-based, and the whole pass is deterministic: the same narrative,
// results, and tolerances always produce the same report.
package verify

// Unit classifies a numeric claim.
type Unit string

// Claim units.
const (
	UnitPercent  Unit = "percent"
	UnitCurrency Unit = "currency"
	UnitCount    Unit = "count"
)

// IssueCode identifies one class of verification finding.
type IssueCode string

// Issue codes.
const (
	ClaimUncited     IssueCode = "ClaimUncited"
	ClaimNotFound    IssueCode = "ClaimNotFound"
	UnitMismatch     IssueCode = "UnitMismatch"
	MathInconsistent IssueCode = "MathInconsistent"
	RoundingMismatch IssueCode = "RoundingMismatch"
	AmbiguousSource  IssueCode = "AmbiguousSource"
)

// Severity grades an issue.
type Severity string

// Severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Claim is one numeric assertion extracted from a narrative.
type Claim struct {
	Value    float64 `json:"value"`
	Raw      string  `json:"raw"`   // the matched token, as written
	Unit     Unit    `json:"unit"`
	Start    int     `json:"start"` // character span in the narrative
	End      int     `json:"end"`
	Sentence string  `json:"sentence"`
	Citation string  `json:"citation,omitempty"` // source family from the citation prefix
	QueryID  string  `json:"query_id,omitempty"` // from a QID: annotation
}

// Issue is one verification finding.
type Issue struct {
	Code     IssueCode `json:"code"`
	Severity Severity  `json:"severity"`
	Claim    *Claim    `json:"claim,omitempty"`
	Message  string    `json:"message"`
}

// MathChecks summarizes the arithmetic consistency pass over bullet
// breakdowns.
type MathChecks struct {
	GroupsChecked int `json:"groups_checked"`
	GroupsFailed  int `json:"groups_failed"`
}

// Report is the verifier's output for one narrative.
type Report struct {
	OK            bool       `json:"ok"`
	ClaimsTotal   int        `json:"claims_total"`
	ClaimsMatched int        `json:"claims_matched"`
	MathChecks    MathChecks `json:"math_checks"`
	Issues        []Issue    `json:"issues,omitempty"`
}

// Errors returns the error-severity issues.
func (r *Report) Errors() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

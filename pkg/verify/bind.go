package verify

import (
	"math"
	"strings"

	"github.com/qnwis/qnwis/pkg/config"
	"github.com/qnwis/qnwis/pkg/dataaccess"
)

// bindOutcome is the result of binding one claim against the prefetched
// results.
type bindOutcome int

const (
	bindMatched bindOutcome = iota
	bindNotFound
	bindRounding  // matches only when rounded to the claim's precision
	bindAmbiguous // matched in more than one candidate result
	bindUnitOnly  // percent claim matched only as a raw count
)

// bindClaim searches the candidate QueryResults for a value supporting the
// claim, applying the configured tolerances. Candidates shrink in this
// order: an explicit QID annotation, then the cited source family, then
// everything prefetched.
func bindClaim(claim Claim, results []*dataaccess.QueryResult, cfg *config.Verification) bindOutcome {
	candidates := restrictCandidates(claim, results, cfg)
	if len(candidates) == 0 {
		return bindNotFound
	}

	matchedIn := 0
	rounding := false
	unitOnly := false
	for _, qr := range candidates {
		switch matchInResult(claim, qr, cfg) {
		case bindMatched:
			matchedIn++
		case bindRounding:
			rounding = true
		case bindUnitOnly:
			unitOnly = true
		}
	}

	switch {
	case matchedIn > 1 && claim.QueryID == "":
		return bindAmbiguous
	case matchedIn >= 1:
		return bindMatched
	case rounding:
		return bindRounding
	case unitOnly:
		return bindUnitOnly
	default:
		if matchesCombination(claim, candidates, cfg) {
			return bindMatched
		}
		return bindNotFound
	}
}

// combinationValueCap bounds the pairwise pass on wide results.
const combinationValueCap = 200

// matchesCombination reports whether the claim is a trivial arithmetic
// combination (sum, difference, product, ratio) of two values present in
// the candidate results, under the same tolerances as a direct match.
// Totals, gaps, and shares derived from prefetched rows verify without
// needing the derived figure itself in a result.
func matchesCombination(claim Claim, candidates []*dataaccess.QueryResult, cfg *config.Verification) bool {
	var vals []float64
collect:
	for _, qr := range candidates {
		for _, row := range qr.Rows {
			for _, v := range row {
				fv, ok := asFloat(v)
				if !ok {
					continue
				}
				vals = append(vals, fv)
				if len(vals) >= combinationValueCap {
					break collect
				}
			}
		}
	}

	for i, a := range vals {
		for j, b := range vals {
			if i == j {
				continue
			}
			combos := [3]float64{a + b, a - b, a * b}
			for _, c := range combos[:] {
				if matchValue(claim, c, cfg) == bindMatched {
					return true
				}
			}
			if b != 0 && matchValue(claim, a/b, cfg) == bindMatched {
				return true
			}
		}
	}
	return false
}

func restrictCandidates(claim Claim, results []*dataaccess.QueryResult, cfg *config.Verification) []*dataaccess.QueryResult {
	if claim.QueryID != "" && cfg.PreferQueryID {
		for _, qr := range results {
			if qr.QueryID == claim.QueryID {
				return []*dataaccess.QueryResult{qr}
			}
		}
		return nil
	}
	if claim.Citation != "" {
		var out []*dataaccess.QueryResult
		for _, qr := range results {
			if inSourceFamily(qr, claim.Citation) {
				out = append(out, qr)
			}
		}
		if len(out) > 0 {
			return out
		}
		// An unknown family falls back to everything; the citation rule
		// already passed, so the claim still deserves a binding attempt.
	}
	return results
}

// inSourceFamily reports whether a result belongs to a cited family, by
// query_id prefix or dataset name, case-insensitively.
func inSourceFamily(qr *dataaccess.QueryResult, family string) bool {
	f := strings.ToLower(family)
	id := strings.ToLower(qr.QueryID)
	if id == f || strings.HasPrefix(id, f+".") {
		return true
	}
	return strings.EqualFold(qr.Provenance.Dataset, family)
}

// matchInResult checks one claim against one result's row_count and the
// numeric fields of its rows, short-circuiting at the first match.
func matchInResult(claim Claim, qr *dataaccess.QueryResult, cfg *config.Verification) bindOutcome {
	if claim.Unit == UnitCount {
		if math.Abs(claim.Value-float64(qr.RowCount)) <= cfg.AbsEpsilon {
			return bindMatched
		}
	}

	rounding := false
	unitOnly := false
	for _, row := range qr.Rows {
		for _, v := range row {
			fv, ok := asFloat(v)
			if !ok {
				continue
			}
			switch matchValue(claim, fv, cfg) {
			case bindMatched:
				return bindMatched
			case bindRounding:
				rounding = true
			case bindUnitOnly:
				unitOnly = true
			}
		}
	}
	if rounding {
		return bindRounding
	}
	if unitOnly {
		return bindUnitOnly
	}
	return bindNotFound
}

// matchValue compares a claim against one data value under the tolerances.
func matchValue(claim Claim, data float64, cfg *config.Verification) bindOutcome {
	if claim.Unit == UnitPercent {
		// Try both representations: claim in [0,100] vs data in [0,1] and
		// the reverse.
		if withinPct(claim.Value, data, cfg.EpsilonPct) ||
			withinPct(claim.Value, data*100, cfg.EpsilonPct) ||
			withinPct(claim.Value*100, data, cfg.EpsilonPct) {
			return bindMatched
		}
		// A raw match outside percent semantics is a unit problem, not a
		// fabrication.
		if within(claim.Value, data, cfg.AbsEpsilon, cfg.RelEpsilon) {
			return bindUnitOnly
		}
		return bindNotFound
	}

	if within(claim.Value, data, cfg.AbsEpsilon, cfg.RelEpsilon) {
		return bindMatched
	}
	if roundsTo(claim, data) {
		return bindRounding
	}
	return bindNotFound
}

func within(claim, data, absEps, relEps float64) bool {
	diff := math.Abs(claim - data)
	if diff <= absEps {
		return true
	}
	return diff <= relEps*math.Abs(claim)
}

func withinPct(claim, data, epsPct float64) bool {
	return math.Abs(claim-data) <= epsPct
}

// roundsTo reports whether the data value rounds to the claim at the
// precision the claim was written with.
func roundsTo(claim Claim, data float64) bool {
	decimals := 0
	if i := strings.IndexByte(claim.Raw, '.'); i >= 0 {
		rest := claim.Raw[i+1:]
		for decimals < len(rest) && rest[decimals] >= '0' && rest[decimals] <= '9' {
			decimals++
		}
	}
	scale := math.Pow(10, float64(decimals))
	return math.Round(data*scale)/scale == claim.Value
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

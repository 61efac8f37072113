package verify

import (
	"fmt"
	"math"
	"strings"
)

// checkBulletSums finds groups of consecutive bullet lines whose percent
// claims describe a breakdown and checks that each group sums to 100
// within epsilon_pct. Groups of fewer than two percent bullets are not
// breakdowns and are skipped. The second return is the number of groups
// checked.
func checkBulletSums(narrative string, epsilonPct float64, opts extractOptions) ([]Issue, int) {
	var issues []Issue
	var group []float64
	checked := 0

	flush := func() {
		if len(group) >= 2 {
			checked++
			sum := 0.0
			for _, v := range group {
				sum += v
			}
			if math.Abs(sum-100) > epsilonPct {
				issues = append(issues, Issue{
					Code:     MathInconsistent,
					Severity: SeverityError,
					Message:  fmt.Sprintf("bullet group of %d percent claims sums to %.2f, expected 100", len(group), sum),
				})
			}
		}
		group = nil
	}

	for _, line := range strings.Split(narrative, "\n") {
		trimmed := strings.TrimSpace(line)
		if !isBullet(trimmed) {
			flush()
			continue
		}
		pct, ok := firstPercent(trimmed, opts)
		if !ok {
			flush()
			continue
		}
		group = append(group, pct)
	}
	flush()
	return issues, checked
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "• ")
}

// firstPercent returns the first percent-unit value on a bullet line.
func firstPercent(line string, opts extractOptions) (float64, bool) {
	for _, c := range ExtractClaims(line, opts) {
		if c.Unit == UnitPercent {
			return c.Value, true
		}
	}
	return 0, false
}

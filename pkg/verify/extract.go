package verify

import (
	"regexp"
	"strconv"
	"strings"
)

// numberPattern matches signed integers (with optional thousands separators)
// and decimals, with an optional trailing unit marker.
var numberPattern = regexp.MustCompile(
	`[-+]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?(?:\s*(%|percent|pp|bps|QAR|USD)\b|%)?`)

// citationPattern matches a citation prefix naming a source family, as in
// "Per LMIS:" or "According to GCC-STAT:".
var citationPattern = regexp.MustCompile(
	`(?i)\b(?:per|according to|source:?)\s+([A-Za-z][A-Za-z0-9_-]*)\s*:`)

// qidPattern matches an explicit query annotation, as in
// "(QID:lmi.sector_counts)".
var qidPattern = regexp.MustCompile(`QID:([A-Za-z0-9_.-]+)`)

// sentenceBoundary splits the narrative into rough sentences. Newlines end
// a sentence so bullet lists keep one claim group per bullet.
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+|\n`)

// extractOptions gates which number tokens become claims.
type extractOptions struct {
	ignoreYears        bool
	ignoreNumbersBelow float64
}

// ExtractClaims scans a narrative and returns its numeric claims in order
// of appearance.
func ExtractClaims(narrative string, opts extractOptions) []Claim {
	var claims []Claim
	for _, sent := range splitSentences(narrative) {
		citation := ""
		qid := ""
		if m := citationPattern.FindStringSubmatch(sent.text); m != nil {
			citation = m[1]
		}
		if m := qidPattern.FindStringSubmatch(sent.text); m != nil {
			qid = m[1]
		}

		for _, loc := range numberPattern.FindAllStringSubmatchIndex(sent.text, -1) {
			raw := sent.text[loc[0]:loc[1]]
			unitStr := ""
			if loc[2] >= 0 {
				unitStr = sent.text[loc[2]:loc[3]]
			} else if strings.HasSuffix(raw, "%") {
				unitStr = "%"
			}

			numPart := strings.TrimSpace(strings.TrimSuffix(raw, unitStr))
			value, err := strconv.ParseFloat(strings.ReplaceAll(numPart, ",", ""), 64)
			if err != nil {
				continue
			}

			// A citation prefix only covers numbers after it.
			claimCitation := citation
			if citation != "" {
				if ci := citationPattern.FindStringIndex(sent.text); ci != nil && loc[0] < ci[1] {
					claimCitation = ""
				}
			}

			if opts.ignoreYears && unitStr == "" && looksLikeYear(numPart, value) {
				continue
			}
			if absFloat(value) < opts.ignoreNumbersBelow {
				continue
			}

			claims = append(claims, Claim{
				Value:    value,
				Raw:      strings.TrimSpace(raw),
				Unit:     classifyUnit(unitStr),
				Start:    sent.offset + loc[0],
				End:      sent.offset + loc[1],
				Sentence: strings.TrimSpace(sent.text),
				Citation: claimCitation,
				QueryID:  qid,
			})
		}
	}
	return claims
}

// classifyUnit maps a unit marker to its claim unit.
func classifyUnit(marker string) Unit {
	switch strings.ToLower(marker) {
	case "%", "percent", "pp", "bps":
		return UnitPercent
	case "qar", "usd":
		return UnitCurrency
	default:
		return UnitCount
	}
}

// looksLikeYear reports whether a bare four-digit token falls in the
// calendar range.
func looksLikeYear(raw string, value float64) bool {
	if strings.ContainsAny(raw, ".,+-") {
		return false
	}
	return len(raw) == 4 && value >= 1900 && value <= 2100
}

type sentence struct {
	text   string
	offset int
}

func splitSentences(text string) []sentence {
	var out []sentence
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if loc[0] > start {
			out = append(out, sentence{text: text[start:loc[0]], offset: start})
		}
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, sentence{text: text[start:], offset: start})
	}
	return out
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

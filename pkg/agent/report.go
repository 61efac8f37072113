// Package agent executes a single specialist agent: prefetch its queries,
// invoke the provider, parse the response, and verify every numeric claim
// against the prefetched data.
package agent

import (
	"strings"

	"github.com/qnwis/qnwis/pkg/verify"
)

// Report is the structured output of one agent execution.
type Report struct {
	AgentName    string         `json:"agent_name"`
	Role         string         `json:"role,omitempty"`
	Narrative    string         `json:"narrative"`
	KeyFindings  []string       `json:"key_findings,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	Verification *verify.Report `json:"verification,omitempty"`
	QueryIDs     []string       `json:"query_ids,omitempty"` // queries prefetched for this agent
	Failed       bool           `json:"failed"`
	FailReason   string         `json:"fail_reason,omitempty"`
}

// parseResponse turns raw provider output into narrative and findings.
// Bullet lines under a findings heading become KeyFindings; everything is
// kept verbatim in Narrative so the verifier sees the full text.
func parseResponse(agentName, role, text string) *Report {
	report := &Report{
		AgentName: agentName,
		Role:      role,
		Narrative: strings.TrimSpace(text),
	}

	inFindings := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "key findings") || strings.HasPrefix(lower, "findings:") {
			inFindings = true
			continue
		}
		if trimmed == "" {
			inFindings = false
			continue
		}
		if inFindings && (strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")) {
			report.KeyFindings = append(report.KeyFindings, strings.TrimSpace(trimmed[2:]))
		}
	}
	return report
}

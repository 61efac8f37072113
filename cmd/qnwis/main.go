// QNWIS orchestrator server. Answers ministerial policy questions by
// prefetching deterministic workforce statistics, fanning out specialist
// agents and scenarios, verifying every numeric claim, and streaming a
// briefing back to the caller.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmarques/portsync/orchestrator"
	"github.com/crmarques/portsync/reconciler"
)

// reportOutcomes prints the per-resource results and the aggregate
// summary. The returned outcome sequence is the single source of truth;
// nothing here swallows a failure.
func reportOutcomes(cmd *cobra.Command, outcomes []orchestrator.Outcome, dryRun bool) {
	out := cmd.OutOrStdout()
	orchestrator.SortOutcomes(outcomes)

	var failed, changed, skipped int
	for _, outcome := range outcomes {
		switch {
		case outcome.Err != nil:
			failed++
			fmt.Fprintf(out, "FAILED  %s: %v\n", outcome.Ref, outcome.Err)
		case dryRun && outcome.Plan != nil:
			fmt.Fprintf(out, "PLAN    %s\n%s\n", outcome.Ref, indent(outcome.Summary))
		case outcome.Apply == nil:
			skipped++
			fmt.Fprintf(out, "SKIPPED %s\n", outcome.Ref)
		case outcome.Apply.Outcome == reconciler.OutcomeFailed:
			failed++
			fmt.Fprintf(out, "FAILED  %s: %v\n", outcome.Ref, outcome.Apply.Err)
		case outcome.Apply.Outcome == reconciler.OutcomeSkipped:
			skipped++
			if outcome.Plan != nil && outcome.Plan.BlockedUpdate() {
				fmt.Fprintf(out, "BLOCKED %s: %s\n", outcome.Ref, outcome.Plan.Verdict.Reason)
			} else {
				fmt.Fprintf(out, "SKIPPED %s\n", outcome.Ref)
			}
		default:
			changed++
			fmt.Fprintf(out, "%-7s %s\n", strings.ToUpper(string(outcome.Apply.Outcome)), outcome.Ref)
		}
	}

	fmt.Fprintf(out, "\n%d resource(s): %d changed, %d skipped, %d failed\n",
		len(outcomes), changed, skipped, failed)
}

func indent(text string) string {
	return "  " + strings.ReplaceAll(text, "\n", "\n  ")
}

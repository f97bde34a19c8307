package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stepguard/internal/evidence"
	"stepguard/internal/store"
)

var (
	// evidence flags
	asJSON      bool
	sinceMs     int64
	untilMs     int64
	successOnly bool
	limit       int
)

// evidenceCmd groups the audit queries over the execution log.
var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Query the audit trail",
	Long: `Reads execution_log.db (and codegraph.db when present) to answer
audit questions about past tool executions. All queries are read-only
and deterministic.`,
}

var evidenceByToolCmd = &cobra.Command{
	Use:   "by-tool [tool]",
	Short: "List executions of a tool, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		execs, err := d.ListExecutionsByTool(args[0], queryFilters())
		if err != nil {
			return err
		}
		return printExecutions(execs)
	}),
}

var evidenceFailuresCmd = &cobra.Command{
	Use:   "failures [tool]",
	Short: "List failed executions of a tool, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		execs, err := d.ListFailuresByTool(args[0])
		if err != nil {
			return err
		}
		return printExecutions(execs)
	}),
}

var evidenceByDiagnosticCmd = &cobra.Command{
	Use:   "by-diagnostic [code]",
	Short: "Find executions that produced a diagnostic code",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		hits, err := d.FindExecutionsByDiagnosticCode(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(hits)
		}
		for _, h := range hits {
			fmt.Printf("%s  %s  %s  %s:%d  %s\n",
				h.ExecutionID, h.ToolName, h.Level, h.File, h.Line, h.Message)
		}
		return nil
	}),
}

var evidenceByFileCmd = &cobra.Command{
	Use:   "by-file [path]",
	Short: "Find executions that touched a file",
	Long: `With codegraph.db present the answer follows EXECUTED_ON edges.
Without it the query falls back to a substring match over recorded
arguments, which may under-report.`,
	Args: cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		execs, err := d.FindExecutionsByFile(args[0])
		if err != nil {
			return err
		}
		if !d.HasGraph() && !asJSON {
			fmt.Fprintln(os.Stderr, "note: no code graph, results use argument substring matching")
		}
		return printExecutions(execs)
	}),
}

var evidenceDetailsCmd = &cobra.Command{
	Use:   "details [execution-id]",
	Short: "Show one execution with artifacts and graph context",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		details, err := d.GetExecutionDetails(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(details)
		}
		e := details.Execution
		fmt.Printf("Execution: %s\n", e.ID)
		fmt.Printf("Tool:      %s\n", e.ToolName)
		fmt.Printf("Time:      %s\n", time.UnixMilli(e.Timestamp).Format(time.RFC3339))
		fmt.Printf("Success:   %v (%dms)\n", e.Success, e.DurationMs)
		if e.ErrorMessage != "" {
			fmt.Printf("Error:     %s\n", e.ErrorMessage)
		}
		fmt.Printf("Arguments: %s\n", e.ArgumentsJSON)
		for _, a := range details.Artifacts {
			fmt.Printf("Artifact:  %s %s\n", a.Type, a.ContentJSON)
		}
		if details.GraphEntity != nil {
			fmt.Printf("Graph:     entity %d, %d incident edge(s)\n",
				details.GraphEntity.ID, len(details.GraphEdges))
		}
		return nil
	}),
}

var evidenceLatestOutcomeCmd = &cobra.Command{
	Use:   "latest-outcome [path]",
	Short: "Show the most recent execution that touched a file",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		latest, err := d.GetLatestOutcomeForFile(args[0])
		if err != nil {
			return err
		}
		if latest == nil {
			fmt.Printf("no executions touched %s\n", args[0])
			return nil
		}
		return printExecutions([]store.Execution{*latest})
	}),
}

var evidenceRecurringCmd = &cobra.Command{
	Use:   "recurring [min-occurrences]",
	Short: "Show diagnostics recurring on the same file",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		min, err := strconv.Atoi(args[0])
		if err != nil || min < 1 {
			return fmt.Errorf("min-occurrences must be a positive integer, got %q", args[0])
		}
		groups, err := d.GetRecurringDiagnostics(min, queryFilters())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(groups)
		}
		for _, g := range groups {
			fmt.Printf("%4d  %-10s %s\n", g.OccurrenceCount, g.Code, g.File)
		}
		return nil
	}),
}

var evidencePriorFixesCmd = &cobra.Command{
	Use:   "prior-fixes [code]",
	Short: "Pair past diagnostics with the writes that followed them",
	Args:  cobra.ExactArgs(1),
	RunE: withEvidence(func(d *evidence.DB, args []string) error {
		fixes, err := d.FindPriorFixesForDiagnostic(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(fixes)
		}
		for _, f := range fixes {
			fmt.Printf("%s on %s: fixed by %s (%s) after %dms\n",
				f.Code, f.File, f.FixExecutionID, f.FixToolName, f.TemporalGapMs)
		}
		return nil
	}),
}

func init() {
	evidenceCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Emit JSON")
	evidenceCmd.PersistentFlags().Int64Var(&sinceMs, "since", 0, "Lower timestamp bound (Unix milliseconds)")
	evidenceCmd.PersistentFlags().Int64Var(&untilMs, "until", 0, "Upper timestamp bound (Unix milliseconds)")
	evidenceCmd.PersistentFlags().BoolVar(&successOnly, "success-only", false, "Only successful executions")
	evidenceCmd.PersistentFlags().IntVar(&limit, "limit", 0, "Maximum rows to return")

	evidenceCmd.AddCommand(
		evidenceByToolCmd,
		evidenceFailuresCmd,
		evidenceByDiagnosticCmd,
		evidenceByFileCmd,
		evidenceDetailsCmd,
		evidenceLatestOutcomeCmd,
		evidenceRecurringCmd,
		evidencePriorFixesCmd,
	)
}

// withEvidence opens the evidence readers for one query and closes
// them afterwards.
func withEvidence(fn func(d *evidence.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := evidence.Open(cfg.StateDir())
		if err != nil {
			return err
		}
		defer d.Close()
		return fn(d, args)
	}
}

func queryFilters() evidence.Filters {
	return evidence.Filters{
		Since:       sinceMs,
		Until:       untilMs,
		SuccessOnly: successOnly,
		Limit:       limit,
	}
}

func printExecutions(execs []store.Execution) error {
	if asJSON {
		return printJSON(execs)
	}
	for _, e := range execs {
		status := "ok"
		if !e.Success {
			status = "FAIL"
		}
		fmt.Printf("%s  %s  %-4s %6dms  %s\n",
			time.UnixMilli(e.Timestamp).Format(time.RFC3339), e.ID, status, e.DurationMs, e.ToolName)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"stepguard/internal/config"
	"stepguard/internal/executor"
	"stepguard/internal/logging"
	"stepguard/internal/plan"
	"stepguard/internal/store"
	"stepguard/internal/tools"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// plan flags
	recordStage bool

	// run flags
	approve     bool
	autoConfirm bool
	denyAll     bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stepguard",
	Short: "stepguard - authorized step execution with a durable audit trail",
	Long: `stepguard executes plans: ordered lists of tool invocations that only
run after explicit authorization.

Every attempted step is appended to execution_log.db; nothing executes
without an approved authorization whose plan id matches the plan. The
evidence subcommands answer audit questions over the accumulated log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		logging.Initialize(resolveWorkspace())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// planCmd groups plan file inspection commands
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect and validate plan files",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate [plan-file]",
	Short: "Validate a plan file without executing it",
	Long: `Parses and validates a plan file. With --record the validation
outcome is appended to the execution log under the synthetic id
plan_validate_<plan-id>, including the plan document and any
validation error as artifacts.`,
	Args: cobra.ExactArgs(1),
	RunE: planValidate,
}

var planShowCmd = &cobra.Command{
	Use:   "show [plan-file]",
	Short: "Print a plan's steps and metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  planShow,
}

// runCmd executes a plan file
var runCmd = &cobra.Command{
	Use:   "run [plan-file]",
	Short: "Execute an approved plan",
	Long: `Loads a plan file, authorizes it, and executes its steps in order
against the workspace.

Without --approve the authorization stays pending and execution is
refused with nothing written. Steps flagged requires_confirmation
prompt on the terminal unless --auto-confirm or --deny is given.

Exits non-zero when execution halts at a failing step.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

// statsCmd reports audit database row counts
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit database statistics",
	RunE:  showStats,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.stepguard/config.yaml)")

	planValidateCmd.Flags().BoolVar(&recordStage, "record", false, "Append the validation outcome to the execution log")

	runCmd.Flags().BoolVar(&approve, "approve", false, "Approve the plan's authorization")
	runCmd.Flags().BoolVar(&autoConfirm, "auto-confirm", false, "Approve all confirmation prompts")
	runCmd.Flags().BoolVar(&denyAll, "deny", false, "Deny all confirmation prompts")

	planCmd.AddCommand(planValidateCmd, planShowCmd)
	rootCmd.AddCommand(planCmd, runCmd, evidenceCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveWorkspace picks the workspace from the flag, the environment,
// or the current directory, in that order.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	if ws := os.Getenv("STEPGUARD_WORKSPACE"); ws != "" {
		return ws
	}
	return "."
}

// loadConfig reads the config file and layers the global flags on top.
func loadConfig() (*config.Config, error) {
	ws := resolveWorkspace()
	path := configPath
	if path == "" {
		path = filepath.Join(ws, config.DefaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	return cfg, nil
}

func planValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	p, validationErr := plan.Parse(data)

	if recordStage {
		if err := recordPlanStage(args[0], data, validationErr); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not record plan stage: %v\n", err)
		}
	}

	if validationErr != nil {
		return validationErr
	}
	fmt.Printf("plan %s is valid (%d steps, intent=%s)\n", p.ID, len(p.Steps), p.Intent)
	return nil
}

// recordPlanStage appends the validation outcome to the execution log.
// Skipped silently when the document carries no plan id to key on.
func recordPlanStage(source string, data []byte, validationErr error) error {
	var doc plan.Document
	if err := yaml.Unmarshal(data, &doc); err != nil || doc.ID == "" {
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.OpenExecutionStore(filepath.Join(cfg.StateDir(), store.ExecutionLogName))
	if err != nil {
		return err
	}
	defer db.Close()

	return db.RecordPlanStage("plan_validate", doc.ID, source, doc.Plan, validationErr)
}

func planShow(cmd *cobra.Command, args []string) error {
	p, err := plan.LoadFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Plan:   %s\n", p.ID)
	fmt.Printf("Intent: %s\n", p.Intent)
	if len(p.EvidenceIDs) > 0 {
		fmt.Printf("Evidence: %s\n", strings.Join(p.EvidenceIDs, ", "))
	}
	fmt.Println("Steps:")
	for i, step := range p.Steps {
		marker := ""
		if step.RequiresConfirmation {
			marker = " [confirm]"
		}
		fmt.Printf("  %d. %s: %s%s\n", i+1, step.ID, step.Tool, marker)
		for key, value := range step.Arguments {
			fmt.Printf("       %s = %s\n", key, value)
		}
	}
	return nil
}

// terminalConfirm prompts on stdin for confirmation-gated steps.
type terminalConfirm struct {
	in *bufio.Reader
}

func (c *terminalConfirm) Ask(step plan.Step) bool {
	fmt.Printf("Step %s runs %s and requires confirmation. Proceed? [y/N] ", step.ID, step.Tool)
	line, err := c.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// stepPrinter reports step progress on stdout.
type stepPrinter struct{}

func (stepPrinter) OnStepStart(step plan.Step) {
	fmt.Printf("→ %s (%s)\n", step.ID, step.Tool)
}

func (stepPrinter) OnStepComplete(sr executor.StepResult) {
	fmt.Printf("✓ %s (%dms)\n", sr.StepID, sr.DurationMs)
}

func (stepPrinter) OnStepFailed(sr executor.StepResult) {
	fmt.Printf("✗ %s: %s\n", sr.StepID, sr.ErrorMessage)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := plan.LoadFile(args[0])
	if err != nil {
		return err
	}
	logger.Info("Loaded plan",
		zap.String("plan_id", p.ID),
		zap.Int("steps", len(p.Steps)),
		zap.String("intent", string(p.Intent)))

	auth := plan.NewAuthorization(p.ID)
	if approve {
		if err := auth.Approve(); err != nil {
			return err
		}
	}

	db, err := store.OpenExecutionStore(filepath.Join(cfg.StateDir(), store.ExecutionLogName))
	if err != nil {
		return err
	}
	defer db.Close()

	registry := tools.Builtins(cfg.Workspace)
	registry.SetInvokeDeadline(cfg.StepTimeout())

	opts := []executor.Option{
		executor.WithProgress(stepPrinter{}),
		executor.WithConfirmation(pickConfirmation(cfg)),
	}
	if cfg.Graph.Enabled {
		graph, err := store.OpenGraphStore(filepath.Join(cfg.StateDir(), store.CodeGraphName))
		if err != nil {
			return err
		}
		defer graph.Close()
		opts = append(opts, executor.WithGraph(graph))
	}

	exec := executor.New(registry, db, opts...)
	result, err := exec.Execute(context.Background(), plan.NewApprovedPlan(p, auth))
	if err != nil {
		return err
	}

	if result.Status != executor.StatusCompleted {
		return fmt.Errorf("plan %s failed after %d of %d steps", p.ID, len(result.StepResults), len(p.Steps))
	}
	fmt.Printf("plan %s completed (%d steps)\n", p.ID, len(result.StepResults))
	return nil
}

// pickConfirmation chooses the confirmation provider from flags and
// config. --deny wins over everything.
func pickConfirmation(cfg *config.Config) executor.ConfirmationProvider {
	if denyAll {
		return executor.DenyAll{}
	}
	if autoConfirm || cfg.Execution.AutoConfirm {
		return executor.AutoConfirm{}
	}
	return &terminalConfirm{in: bufio.NewReader(os.Stdin)}
}

func showStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.OpenExecutionStore(filepath.Join(cfg.StateDir(), store.ExecutionLogName))
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.GetStats()
	if err != nil {
		return err
	}
	fmt.Println("execution_log.db:")
	for _, table := range []string{"executions", "execution_artifacts"} {
		fmt.Printf("  %-20s %d\n", table, stats[table])
	}

	graph, err := store.OpenGraphStoreIfExists(filepath.Join(cfg.StateDir(), store.CodeGraphName))
	if err != nil {
		return err
	}
	if graph == nil {
		fmt.Println("codegraph.db: absent")
		return nil
	}
	defer graph.Close()

	gstats, err := graph.GetStats()
	if err != nil {
		return err
	}
	fmt.Println("codegraph.db:")
	for _, table := range []string{"graph_entities", "graph_edges"} {
		fmt.Printf("  %-20s %d\n", table, gstats[table])
	}
	return nil
}

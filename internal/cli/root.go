package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose bool
	flagQuiet   bool
	flagConfig  string
	flagDir     string
	flagDryRun  bool
	flagNoColor bool
	flagLogJSON bool
)

// rootCmd is the base command for xraysync.
var rootCmd = &cobra.Command{
	Use:   "xraysync",
	Short: "Sync automated test runs with Xray and Jira",
	Long: `xraysync pulls Xray test hierarchies (plans, sets, executions) as
runnable test cases and pushes executed results back: step outcomes,
screenshots, failure comments, and deduplicated bugs.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupGlobals,
}

// setupGlobals applies env overrides, logging, color and --dir. Commands
// that override PersistentPreRunE call it first.
func setupGlobals(cmd *cobra.Command, args []string) error {
	flags := cmd.Root().PersistentFlags()
	if !flags.Changed("verbose") && os.Getenv("XRAYSYNC_VERBOSE") != "" {
		flagVerbose = true
	}
	if !flags.Changed("quiet") && os.Getenv("XRAYSYNC_QUIET") != "" {
		flagQuiet = true
	}
	if !flags.Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("XRAYSYNC_NO_COLOR") != "") {
		flagNoColor = true
	}
	if !flags.Changed("log-json") && os.Getenv("XRAYSYNC_LOG_FORMAT") == "json" {
		flagLogJSON = true
	}

	logging.Setup(flagVerbose, flagQuiet, flagLogJSON)

	if flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if flagDir != "" {
		if err := os.Chdir(flagDir); err != nil {
			return fmt.Errorf("changing directory to %s: %w", flagDir, err)
		}
	}
	return nil
}

func init() {
	registerGlobalFlags(rootCmd, true)
}

// registerGlobalFlags adds the persistent flags. bind ties them to the
// package-level variables; generators get unbound copies.
func registerGlobalFlags(cmd *cobra.Command, bind bool) {
	pf := cmd.PersistentFlags()
	if !bind {
		pf.BoolP("verbose", "v", false, "Enable verbose (debug) output (env: XRAYSYNC_VERBOSE)")
		pf.BoolP("quiet", "q", false, "Suppress all output except errors (env: XRAYSYNC_QUIET)")
		pf.String("config", "", "Path to xraysync.toml config file")
		pf.String("dir", "", "Override working directory")
		pf.Bool("dry-run", false, "Show planned actions without contacting Jira")
		pf.Bool("no-color", false, "Disable colored output (env: XRAYSYNC_NO_COLOR, NO_COLOR)")
		pf.Bool("log-json", false, "Emit logs as JSON (env: XRAYSYNC_LOG_FORMAT=json)")
		return
	}
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: XRAYSYNC_VERBOSE)")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: XRAYSYNC_QUIET)")
	pf.StringVar(&flagConfig, "config", "", "Path to xraysync.toml config file")
	pf.StringVar(&flagDir, "dir", "", "Override working directory")
	pf.BoolVar(&flagDryRun, "dry-run", false, "Show planned actions without contacting Jira")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: XRAYSYNC_NO_COLOR, NO_COLOR)")
	pf.BoolVar(&flagLogJSON, "log-json", false, "Emit logs as JSON (env: XRAYSYNC_LOG_FORMAT=json)")
}

// Execute runs the root command and returns the exit code. SIGINT and
// SIGTERM cancel in-flight requests.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// cobra only hands the root context to a subcommand whose own context
	// is nil, so one left over from an earlier run would stay canceled.
	setContextTree(rootCmd, ctx)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

func setContextTree(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		setContextTree(c, ctx)
	}
}

// NewRootCmd returns a fresh root carrying the same persistent flags and
// subcommands, for the completion and man page generators.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               rootCmd.Use,
		Short:             rootCmd.Short,
		Long:              rootCmd.Long,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: rootCmd.PersistentPreRunE,
	}
	registerGlobalFlags(cmd, false)
	for _, child := range rootCmd.Commands() {
		cmd.AddCommand(child)
	}
	return cmd
}

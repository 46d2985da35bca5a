package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
)

// configCmd is the parent "config" namespace command. It has no action of its
// own -- it groups debug and validate subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Inspect and validate xraysync configuration.",
	// RunE shows help when invoked with no subcommand.
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// configDebugCmd implements "xraysync config debug".
// It prints the fully-resolved configuration with source annotations.
var configDebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Show resolved configuration with source annotations",
	Long: `Display the fully-resolved configuration showing each value and
the source where it came from (cli flag, environment variable, config file, or default).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig(nil)
		if err != nil {
			return err
		}
		printResolvedConfig(cmd, resolved)
		return nil
	},
}

// configValidateCmd implements "xraysync config validate".
// It validates the resolved configuration and reports all errors and warnings.
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and report issues",
	Long:  "Check the configuration for errors and warnings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, meta, err := loadAndResolveConfig(nil)
		if err != nil {
			return err
		}
		result := config.Validate(resolved.Config, meta)
		printValidationResult(cmd, result)
		if result.HasErrors() {
			return fmt.Errorf("configuration has %d error(s)", len(result.Errors()))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDebugCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// loadAndResolveConfig layers defaults, the config file, XRAYSYNC_* env vars
// and overrides. The metadata is nil when no file was found.
//
// --config wins; otherwise xraysync.toml is searched upward from the working
// directory.
func loadAndResolveConfig(overrides *config.CLIOverrides) (*config.ResolvedConfig, *toml.MetaData, error) {
	var (
		fileCfg *config.Config
		meta    *toml.MetaData
		cfgPath string
	)

	if flagConfig != "" {
		// Explicit --config path provided.
		cfgPath = flagConfig
		fc, md, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		fileCfg = fc
		meta = &md
	} else {
		// Auto-detect xraysync.toml by walking up from cwd.
		found, err := config.FindConfigFile(".")
		if err != nil {
			return nil, nil, fmt.Errorf("finding config file: %w", err)
		}
		if found != "" {
			cfgPath = found
			fc, md, err := config.LoadFromFile(cfgPath)
			if err != nil {
				return nil, nil, fmt.Errorf("loading config: %w", err)
			}
			fileCfg = fc
			meta = &md
		}
	}

	resolved := config.Resolve(config.NewDefaults(), fileCfg, os.LookupEnv, overrides)
	resolved.Path = cfgPath

	return resolved, meta, nil
}

// ---- Lipgloss styles --------------------------------------------------------

// sourceStyle returns a lipgloss style for a given ConfigSource.
// When --no-color is active, lipgloss automatically strips ANSI because
// the root PersistentPreRunE sets the color profile to Ascii.
func sourceStyle(src config.ConfigSource) lipgloss.Style {
	switch src {
	case config.SourceFile:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // bright blue
	case config.SourceEnv:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // bright yellow
	case config.SourceCLI:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9")) // bright red
	default: // SourceDefault
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // bright green
	}
}

var (
	styleHeader    = lipgloss.NewStyle().Bold(true)
	styleSeparator = lipgloss.NewStyle()
	styleSection   = lipgloss.NewStyle().Bold(true)
	styleErrorLbl  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // red
	styleWarnLbl   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true) // yellow
	styleSuccess   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))            // green
	styleMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = styleErrorLbl
)

// ---- printResolvedConfig ----------------------------------------------------

const fieldWidth = 20 // column width for field names

// printResolvedConfig writes the formatted resolved configuration to cmd's
// output writer (stdout by default).
func printResolvedConfig(cmd *cobra.Command, rc *config.ResolvedConfig) {
	out := cmd.OutOrStdout()

	header := styleHeader.Render("Configuration Debug")
	sep := styleSeparator.Render(strings.Repeat("=", len("Configuration Debug")))
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, sep)
	fmt.Fprintln(out)

	if rc.Path != "" {
		fmt.Fprintf(out, "Config file: %s\n", rc.Path)
	} else {
		fmt.Fprintln(out, "Config file: none found")
	}
	fmt.Fprintln(out)

	j := rc.Config.Jira
	fmt.Fprintln(out, styleSection.Render("[jira]"))
	printField(out, "url", fmtStr(j.URL), rc.Sources["jira.url"])
	printField(out, "user", fmtStr(j.User), rc.Sources["jira.user"])
	printField(out, "token", fmtSecret(j.Token), rc.Sources["jira.token"])
	printField(out, "project", fmtStr(j.Project), rc.Sources["jira.project"])
	printField(out, "bug_type", fmtStr(j.BugType), rc.Sources["jira.bug_type"])
	printField(out, "link_type", fmtStr(j.LinkType), rc.Sources["jira.link_type"])
	printField(out, "timeout", fmtStr(j.Timeout), rc.Sources["jira.timeout"])
	printField(out, "requests_per_second", fmt.Sprint(j.RequestsPerSecond), rc.Sources["jira.requests_per_second"])
	fmt.Fprintln(out)

	x := rc.Config.Xray
	fmt.Fprintln(out, styleSection.Render("[xray]"))
	printField(out, "url", fmtStr(x.URL), rc.Sources["xray.url"])
	printField(out, "bucket_size", fmt.Sprint(x.BucketSize), rc.Sources["xray.bucket_size"])
	printField(out, "attempt_factor", fmt.Sprint(x.AttemptFactor), rc.Sources["xray.attempt_factor"])
	printField(out, "max_item_attempts", fmt.Sprint(x.MaxItemAttempts), rc.Sources["xray.max_item_attempts"])
	printField(out, "test_type", fmtStr(x.TestType), rc.Sources["xray.test_type"])
	printField(out, "set_type", fmtStr(x.SetType), rc.Sources["xray.set_type"])
	printField(out, "plan_type", fmtStr(x.PlanType), rc.Sources["xray.plan_type"])
	printField(out, "execution_type", fmtStr(x.ExecutionType), rc.Sources["xray.execution_type"])
	printField(out, "precondition_type", fmtStr(x.PreconditionType), rc.Sources["xray.precondition_type"])
	fmt.Fprintln(out)

	fmt.Fprintln(out, styleSection.Render("[xray.schemas]"))
	printField(out, "plan_tests", fmtStr(x.Schemas.PlanTests), rc.Sources["xray.schemas.plan_tests"])
	printField(out, "set_tests", fmtStr(x.Schemas.SetTests), rc.Sources["xray.schemas.set_tests"])
	printField(out, "test_set", fmtStr(x.Schemas.TestSet), rc.Sources["xray.schemas.test_set"])
	printField(out, "execution_tests", fmtStr(x.Schemas.ExecutionTests), rc.Sources["xray.schemas.execution_tests"])
	printField(out, "preconditions", fmtStr(x.Schemas.Preconditions), rc.Sources["xray.schemas.preconditions"])
	fmt.Fprintln(out)

	sy := rc.Config.Sync
	fmt.Fprintln(out, styleSection.Render("[sync]"))
	printField(out, "evidence_dir", fmtStr(sy.EvidenceDir), rc.Sources["sync.evidence_dir"])
	printField(out, "evidence_pattern", fmtStr(sy.EvidencePattern), rc.Sources["sync.evidence_pattern"])
	printField(out, "index_path", fmtStr(sy.IndexPath), rc.Sources["sync.index_path"])
	printField(out, "skip_bugs", fmt.Sprint(sy.SkipBugs), rc.Sources["sync.skip_bugs"])
	printField(out, "assignee", fmtStr(sy.Assignee), rc.Sources["sync.assignee"])
}

// printField writes a single key = value (source: ...) line.
func printField(out io.Writer, name, value string, src config.ConfigSource) {
	// Left-pad the field name to fieldWidth.
	padded := fmt.Sprintf("  %-*s", fieldWidth, name)
	srcLabel := sourceStyle(src).Render(fmt.Sprintf("(source: %s)", src))
	line := fmt.Sprintf("%s = %-40s %s\n", padded, value, srcLabel)
	fmt.Fprint(out, line)
}

// fmtStr formats a string value for display (quoted).
func fmtStr(s string) string {
	return fmt.Sprintf("%q", s)
}

// fmtSecret hides all but the last four characters.
func fmtSecret(s string) string {
	if s == "" {
		return `""`
	}
	if len(s) <= 4 {
		return `"****"`
	}
	return fmt.Sprintf("%q", strings.Repeat("*", 8)+s[len(s)-4:])
}

// ---- printValidationResult --------------------------------------------------

// printValidationResult writes the formatted validation report to cmd's
// output writer.
func printValidationResult(cmd *cobra.Command, result *config.ValidationResult) {
	out := cmd.OutOrStdout()

	header := styleHeader.Render("Configuration Validation")
	sep := styleSeparator.Render(strings.Repeat("=", len("Configuration Validation")))
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, sep)
	fmt.Fprintln(out)

	errs := result.Errors()
	warns := result.Warnings()

	if len(errs) == 0 && len(warns) == 0 {
		fmt.Fprintln(out, styleSuccess.Render("No issues found."))
		return
	}

	if len(errs) > 0 {
		fmt.Fprintln(out, styleErrorLbl.Render("Errors:"))
		for _, issue := range errs {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	if len(warns) > 0 {
		fmt.Fprintln(out, styleWarnLbl.Render("Warnings:"))
		for _, issue := range warns {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "%d error(s), %d warning(s)\n", len(errs), len(warns))
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
)

var (
	initFlagURL     string
	initFlagUser    string
	initFlagProject string
	initFlagForce   bool
)

// initCmd implements "xraysync init [dir]". It never loads an existing
// xraysync.toml, so it is safe to run in a fresh directory.
var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter xraysync.toml",
	Long: `Write a starter xraysync.toml into dir (default: the working
directory). An existing file is preserved unless --force is supplied.

Examples:
  xraysync init
  xraysync init qa --url https://acme.atlassian.net --project QA
  xraysync init --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initFlagURL, "url", "", "Jira site URL")
	initCmd.Flags().StringVar(&initFlagUser, "user", "", "Jira account the API token belongs to")
	initCmd.Flags().StringVar(&initFlagProject, "project", "", "Jira project key that owns executions and bugs")
	initCmd.Flags().BoolVar(&initFlagForce, "force", false, "Overwrite an existing xraysync.toml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	destDir := "."
	if len(args) > 0 {
		destDir = args[0]
	}
	destDir, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", destDir, err)
	}

	target := filepath.Join(destDir, config.ConfigFileName)
	if _, statErr := os.Stat(target); statErr == nil && !initFlagForce {
		return fmt.Errorf("%s already exists in %s; use --force to overwrite", config.ConfigFileName, destDir)
	}

	vars := config.TemplateVars{
		JiraURL: initFlagURL,
		User:    initFlagUser,
		Project: initFlagProject,
	}
	created, err := config.RenderTemplate("default", destDir, vars, initFlagForce)
	if err != nil {
		return fmt.Errorf("rendering starter config: %w", err)
	}

	out := cmd.ErrOrStderr()
	for _, f := range created {
		rel, relErr := filepath.Rel(destDir, f)
		if relErr != nil {
			rel = f
		}
		fmt.Fprintf(out, "%s %s\n", styleSuccess.Render("created"), rel)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Edit %s\n", target)
	fmt.Fprintln(out, "  2. export XRAYSYNC_JIRA_TOKEN=<api token>")
	fmt.Fprintln(out, "  3. Run: xraysync config validate")
	return nil
}

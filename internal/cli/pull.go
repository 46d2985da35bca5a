package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/pipeline"
)

var (
	pullFormat     = formatValue(pipeline.FormatJSON)
	pullBucketSize int
	pullProject    string
)

// pullCmd implements "xraysync pull KEY...".
var pullCmd = &cobra.Command{
	Use:   "pull KEY...",
	Short: "Resolve tests, sets, plans and executions into runnable test cases",
	Long: `Resolve root issues into test cases with steps, priority, suite and
merged precondition data, and write them as a run document on stdout.

Roots may be Tests, Test Sets, Test Plans or Test Executions; duplicate
tests across roots appear once. The output can be fed back to
"xraysync push --results" once the test runner filled in results.

Examples:
  xraysync pull QA-100
  xraysync pull QA-100 QA-200 --format yaml > run.yaml
  xraysync pull QA-7 --format table --bucket-size 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	pullCmd.Flags().Var(&pullFormat, "format", "Output format: json, yaml or table")
	pullCmd.Flags().IntVar(&pullBucketSize, "bucket-size", 0, "Maximum concurrent requests (default from xray.bucket_size)")
	pullCmd.Flags().StringVar(&pullProject, "project", "", "Jira project key used for Xray tokens")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	overrides := &config.CLIOverrides{}
	if cmd.Flags().Changed("bucket-size") {
		overrides.BucketSize = &pullBucketSize
	}
	if cmd.Flags().Changed("project") {
		overrides.Project = &pullProject
	}
	resolved, _, err := loadAndResolveConfig(overrides)
	if err != nil {
		return err
	}
	cfg := resolved.Config
	if cfg.Xray.BucketSize < 1 {
		return fmt.Errorf("bucket size must be at least 1, got %d", cfg.Xray.BucketSize)
	}

	keys := normalizeKeys(args)
	if flagDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Would resolve %d root(s): %s (bucket size %d)\n",
			len(keys), strings.Join(keys, ", "), cfg.Xray.BucketSize)
		return nil
	}

	// Pull never files bugs; skip opening the index.
	cfg.Sync.SkipBugs = true
	deps, err := buildDeps(cfg, nil)
	if err != nil {
		return err
	}
	defer deps.Close()

	run, err := deps.orchestrator.Pull(cmd.Context(), keys)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pipeline.Format(pullFormat) == pipeline.FormatTable {
		printCases(out, run)
		return nil
	}
	return pipeline.Encode(out, run, pipeline.Format(pullFormat))
}

// normalizeKeys upper-cases keys and splits comma-separated arguments.
func normalizeKeys(args []string) []string {
	var keys []string
	for _, a := range args {
		for _, k := range strings.Split(a, ",") {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

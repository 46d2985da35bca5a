package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/viant/afs"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/defect"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/logging"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/pipeline"
)

type pushFlags struct {
	Results     string
	Execution   string
	Plans       []string
	Title       string
	Complete    bool
	SkipBugs    bool
	EvidenceDir string
	IndexPath   string
	BucketSize  int
	Format      formatValue
}

var pushOpts = pushFlags{Format: formatValue(pipeline.FormatTable)}

// pushCmd implements "xraysync push".
var pushCmd = &cobra.Command{
	Use:   "push --results FILE",
	Short: "Publish executed test cases to a Test Execution and file bugs",
	Long: `Publish executed test cases: step statuses with assertion grids,
screenshots, failure comments, and, for failures, a bug unless an open one
already describes the same failure.

Without --execution a new Test Execution is created. --complete re-pushes
tests still in TODO or EXECUTING and attaches the execution to every plan
among the run's root keys and --plans.

Examples:
  xraysync push --results run.json
  xraysync push --results run.yaml --execution QA-900 --complete
  xraysync push --results s3://bucket/run.json --plans QA-1,QA-2 --skip-bugs
  xraysync push --results run.json --dry-run`,
	Args: cobra.NoArgs,
	RunE: runPush,
}

func init() {
	f := pushCmd.Flags()
	f.StringVarP(&pushOpts.Results, "results", "r", "", "Run document with executed test cases (path or URL)")
	f.StringVarP(&pushOpts.Execution, "execution", "e", "", "Existing Test Execution key")
	f.StringSliceVar(&pushOpts.Plans, "plans", nil, "Test Plans to attach the execution to (with --complete)")
	f.StringVar(&pushOpts.Title, "title", "", "Summary of a new Test Execution")
	f.BoolVar(&pushOpts.Complete, "complete", false, "Complete the run and attach it to its plans")
	f.BoolVar(&pushOpts.SkipBugs, "skip-bugs", false, "Do not file or look up bugs")
	f.StringVar(&pushOpts.EvidenceDir, "evidence-dir", "", "Directory searched for screenshots")
	f.StringVar(&pushOpts.IndexPath, "index", "", "Fingerprint index path; empty string disables it")
	f.IntVar(&pushOpts.BucketSize, "bucket-size", 0, "Maximum concurrent requests (default from xray.bucket_size)")
	f.Var(&pushOpts.Format, "format", "Report format: table, json or yaml")
	_ = pushCmd.MarkFlagRequired("results")
	rootCmd.AddCommand(pushCmd)
}

func (p *pushFlags) overrides(cmd *cobra.Command) *config.CLIOverrides {
	o := &config.CLIOverrides{}
	changed := cmd.Flags().Changed
	if changed("skip-bugs") {
		o.SkipBugs = &p.SkipBugs
	}
	if changed("evidence-dir") {
		o.EvidenceDir = &p.EvidenceDir
	}
	if changed("index") {
		o.IndexPath = &p.IndexPath
	}
	if changed("bucket-size") {
		o.BucketSize = &p.BucketSize
	}
	return o
}

func runPush(cmd *cobra.Command, args []string) error {
	resolved, _, err := loadAndResolveConfig(pushOpts.overrides(cmd))
	if err != nil {
		return err
	}
	cfg := resolved.Config

	ctx := cmd.Context()
	run, err := pipeline.LoadRun(ctx, afs.New(), pushOpts.Results)
	if err != nil {
		return err
	}
	if len(run.TestCases) == 0 {
		return errors.New("results contain no test cases")
	}
	applyPushFlags(run, &pushOpts)
	opts := pipeline.PushOpts{Title: pushOpts.Title, Complete: pushOpts.Complete}

	if flagDryRun {
		var popts []pipeline.Option
		if !cfg.Sync.SkipBugs {
			popts = append(popts, pipeline.WithReconciler(defect.NewFiler(nil, cfg)))
		}
		fmt.Fprint(cmd.OutOrStdout(), pipeline.New(popts...).DryRun(run, opts))
		return nil
	}

	events := make(chan pipeline.Event, 64)
	deps, err := buildDeps(cfg, events)
	if err != nil {
		return err
	}
	defer deps.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger := logging.ForRun(logging.ComponentPipeline, deps.runID)
		for ev := range events {
			logger.Debug(ev.Message, "stage", ev.Stage, "key", ev.Key)
		}
	}()

	report, pushErr := deps.orchestrator.Push(ctx, run, opts)
	close(events)
	<-done
	if report == nil {
		return pushErr
	}

	out := cmd.OutOrStdout()
	if pipeline.Format(pushOpts.Format) == pipeline.FormatTable {
		printReport(out, report)
	} else if err := pipeline.Encode(out, report, pipeline.Format(pushOpts.Format)); err != nil {
		return err
	}

	if pushErr != nil {
		return pushErr
	}
	if report.Status == pipeline.StatusFailed {
		return fmt.Errorf("push failed for all %d test case(s)", len(report.Cases))
	}
	return nil
}

// applyPushFlags lets --execution and --plans override the run document.
func applyPushFlags(run *model.TestRun, p *pushFlags) {
	if p.Execution != "" {
		run.Key = p.Execution
	}
	for _, k := range normalizeKeys(p.Plans) {
		if !slices.Contains(run.RootKeys, k) {
			run.RootKeys = append(run.RootKeys, k)
		}
	}
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/viant/afs"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/defect"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/pipeline"
)

// errNoMatch makes match exit non-zero when the fingerprints differ.
var errNoMatch = errors.New("bug does not describe this failure")

var (
	matchCase    string
	matchBug     string
	matchBugFile string
)

// matchCmd implements "xraysync match".
var matchCmd = &cobra.Command{
	Use:   "match --case FILE (--bug KEY | --bug-file FILE)",
	Short: "Check whether a bug describes the failure of a test case",
	Long: `Compare the failure fingerprint of an executed test case (iteration,
driver, capabilities and data source) with the one embedded in a bug
description, and print both side by side. Exits 1 when they differ.

Examples:
  xraysync match --case failed.json --bug QA-321
  xraysync match --case failed.yaml --bug-file description.txt`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringVar(&matchCase, "case", "", "Executed test case document (path or URL)")
	matchCmd.Flags().StringVar(&matchBug, "bug", "", "Bug key whose description is fetched from Jira")
	matchCmd.Flags().StringVar(&matchBugFile, "bug-file", "", "File holding a bug description")
	_ = matchCmd.MarkFlagRequired("case")
	matchCmd.MarkFlagsMutuallyExclusive("bug", "bug-file")
	matchCmd.MarkFlagsOneRequired("bug", "bug-file")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	fs := afs.New()

	tc, err := pipeline.LoadCase(ctx, fs, matchCase)
	if err != nil {
		return err
	}

	var text, source string
	if matchBugFile != "" {
		data, err := fs.DownloadWithURL(ctx, matchBugFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", matchBugFile, err)
		}
		text, source = string(data), matchBugFile
	} else {
		resolved, _, err := loadAndResolveConfig(nil)
		if err != nil {
			return err
		}
		tracker, err := newTracker(resolved.Config)
		if err != nil {
			return err
		}
		bug, err := tracker.GetIssue(ctx, matchBug)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", matchBug, err)
		}
		if bug == nil {
			return fmt.Errorf("bug %s not found", matchBug)
		}
		text, source = bug.Description(), bug.Key
	}

	got := defect.FingerprintOf(tc)
	want := defect.ExtractFingerprint(text)
	printFingerprints(cmd.OutOrStdout(), tc.Key, source, got, want)
	if !got.Equal(want) {
		return errNoMatch
	}
	return nil
}

func printFingerprints(out io.Writer, caseLabel, bugLabel string, a, b defect.Fingerprint) {
	row := func(name, left, right string, same bool) {
		mark := styleSuccess.Render("=")
		if !same {
			mark = styleErrorLbl.Render("≠")
		}
		fmt.Fprintf(out, "  %-14s %s %-40s %s\n", name, mark, left, right)
	}
	fmt.Fprintf(out, "  %-14s   %-40s %s\n", "", styleHeader.Render(caseLabel), styleHeader.Render(bugLabel))
	row("iteration", strconv.Itoa(a.Iteration), strconv.Itoa(b.Iteration), a.Iteration == b.Iteration)
	row("driver", a.Driver, b.Driver, strings.EqualFold(a.Driver, b.Driver))
	row("capabilities", a.Capabilities, b.Capabilities, a.Capabilities == b.Capabilities)
	row("data source", a.DataSource, b.DataSource, a.DataSource == b.DataSource)
	row("key", a.Key(), b.Key(), a.Key() == b.Key())
	fmt.Fprintln(out)
	if a.Equal(b) {
		fmt.Fprintln(out, styleSuccess.Render("MATCH"))
	} else {
		fmt.Fprintln(out, styleErrorLbl.Render("NO MATCH"))
	}
}

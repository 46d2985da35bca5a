package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/buildinfo"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/config"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/defect"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/evidence"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/jira"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/pipeline"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/resolve"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/results"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/xray"
)

// syncDeps holds the wired sync stack for one command invocation.
type syncDeps struct {
	runID        string
	tracker      *jira.Client
	orchestrator *pipeline.Orchestrator
	index        *defect.Index
}

// Close releases the fingerprint index.
func (d *syncDeps) Close() error {
	return d.index.Close()
}

// newTracker builds the Jira client from cfg.
func newTracker(cfg *config.Config) (*jira.Client, error) {
	if cfg.Jira.URL == "" {
		return nil, errors.New("jira.url is not configured (set it in xraysync.toml or XRAYSYNC_JIRA_URL)")
	}
	return jira.NewClient(jira.Config{
		BaseURL:           cfg.Jira.URL,
		User:              cfg.Jira.User,
		Token:             cfg.Jira.Token,
		RequestsPerSecond: cfg.Jira.RequestsPerSecond,
		Timeout:           cfg.Jira.TimeoutDuration(),
		UserAgent:         buildinfo.GetInfo().UserAgent(),
	})
}

// buildDeps wires tracker, Xray sessions, resolver, synchronizer and
// defect filer into an orchestrator. The fingerprint index is opened only
// when defects are enabled and sync.index_path is set.
func buildDeps(cfg *config.Config, events chan<- pipeline.Event) (*syncDeps, error) {
	tracker, err := newTracker(cfg)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	xc := xray.NewClient(cfg.Xray.URL, cfg.Jira.Project, tracker,
		xray.WithTimeout(cfg.Jira.TimeoutDuration()))
	fetcher := xray.NewFetcher(tracker, xc,
		xray.WithAttemptFactor(cfg.Xray.AttemptFactor),
		xray.WithMaxItemAttempts(cfg.Xray.MaxItemAttempts))
	resolver := resolve.New(tracker, fetcher, cfg.Xray, resolve.WithLinks(xc))

	shots := evidence.New(cfg.Sync.EvidenceDir, cfg.Sync.EvidencePattern)
	publisher := results.New(tracker, cfg, results.WithEvidence(shots))

	deps := &syncDeps{runID: runID, tracker: tracker}
	opts := []pipeline.Option{
		pipeline.WithRunID(runID),
		pipeline.WithBucketSize(cfg.Xray.BucketSize),
		pipeline.WithResolver(resolver),
		pipeline.WithPublisher(publisher),
		pipeline.WithEvents(events),
	}

	if !cfg.Sync.SkipBugs {
		filerOpts := []defect.Option{defect.WithRunID(runID), defect.WithScreenshots(shots)}
		if cfg.Sync.IndexPath != "" {
			idx, err := defect.OpenIndex(cfg.Sync.IndexPath)
			if err != nil {
				return nil, fmt.Errorf("opening fingerprint index: %w", err)
			}
			deps.index = idx
			filerOpts = append(filerOpts, defect.WithIndex(idx))
		}
		opts = append(opts, pipeline.WithReconciler(defect.NewFiler(tracker, cfg, filerOpts...)))
	}

	deps.orchestrator = pipeline.New(opts...)
	return deps, nil
}

// Package logging configures xraysync's structured logger on top of
// charmbracelet/log.
//
// Log output always goes to stderr so that `xraysync pull` can stream test
// cases to stdout. Setup is called once from the root command; every other
// package asks for a component logger:
//
//	var logger = logging.New(logging.ComponentFetcher)
//	logger.Warn("dropped", "key", "XT-12", "attempt", 3)
//
// Child loggers copy the default logger's state when they are created, so
// Setup has to run before New.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases so callers do not import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// Component prefixes used across the sync pipeline.
const (
	ComponentJira     = "jira"
	ComponentXray     = "xray"
	ComponentFetcher  = "fetcher"
	ComponentResolver = "resolver"
	ComponentResults  = "results"
	ComponentEvidence = "evidence"
	ComponentDefect   = "defect"
	ComponentPipeline = "pipeline"
	ComponentConfig   = "config"
)

// Setup configures the global logger. Quiet wins over verbose.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New returns a logger prefixed with component. An empty component yields a
// logger without a prefix.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// ForRun returns a component logger that stamps every line with the sync
// run id.
func ForRun(component, runID string) *log.Logger {
	return log.WithPrefix(component).With("run", runID)
}

// Discard returns a logger that drops everything. Packages fall back to it
// when a nil logger is injected.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// SetOutput redirects the default logger, mostly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

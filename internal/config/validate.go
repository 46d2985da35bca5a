package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "jira.url"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any issue has warning severity.
func (vr *ValidationResult) HasWarnings() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	var warns []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			warns = append(warns, issue)
		}
	}
	return warns
}

// Validate checks the resolved configuration. meta may be nil when no file
// was loaded; otherwise its undecoded keys are reported as warnings.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateJira(vr, &cfg.Jira)
	validateXray(vr, &cfg.Xray)
	validateSync(vr, &cfg.Sync)
	validateUnknownKeys(vr, meta)

	return vr
}

func validateJira(vr *ValidationResult, j *JiraConfig) {
	validateURL(vr, "jira.url", j.URL)

	if j.Token == "" {
		addWarning(vr, "jira.token", "not set; requests will be sent without credentials")
	} else if j.User == "" {
		addWarning(vr, "jira.user", "token is set but user is empty")
	}
	if j.Project == "" {
		addWarning(vr, "jira.project", "not set; executions and bugs cannot be created")
	}
	if j.Timeout != "" {
		if d, err := time.ParseDuration(j.Timeout); err != nil || d <= 0 {
			addError(vr, "jira.timeout", fmt.Sprintf("invalid duration %q", j.Timeout))
		}
	}
	if j.RequestsPerSecond < 0 {
		addError(vr, "jira.requests_per_second", "must not be negative")
	}
	if j.LinkType == "" {
		addError(vr, "jira.link_type", "must not be empty")
	}
}

func validateXray(vr *ValidationResult, x *XrayConfig) {
	validateURL(vr, "xray.url", x.URL)

	if x.BucketSize < 1 {
		addError(vr, "xray.bucket_size", fmt.Sprintf("must be at least 1, got %d", x.BucketSize))
	} else if x.BucketSize > 100 {
		addWarning(vr, "xray.bucket_size", fmt.Sprintf("%d concurrent requests may trip tracker rate limits", x.BucketSize))
	}
	if x.AttemptFactor < 1 {
		addError(vr, "xray.attempt_factor", "must be at least 1")
	}
	if x.MaxItemAttempts < 1 {
		addError(vr, "xray.max_item_attempts", "must be at least 1")
	}

	types := map[string]string{
		"xray.test_type":         x.TestType,
		"xray.set_type":          x.SetType,
		"xray.plan_type":         x.PlanType,
		"xray.execution_type":    x.ExecutionType,
		"xray.precondition_type": x.PreconditionType,
	}
	for field, value := range types {
		if strings.TrimSpace(value) == "" {
			addError(vr, field, "must not be empty")
		}
	}

	schemas := map[string]string{
		"xray.schemas.plan_tests":      x.Schemas.PlanTests,
		"xray.schemas.set_tests":       x.Schemas.SetTests,
		"xray.schemas.test_set":        x.Schemas.TestSet,
		"xray.schemas.execution_tests": x.Schemas.ExecutionTests,
		"xray.schemas.preconditions":   x.Schemas.Preconditions,
	}
	for field, value := range schemas {
		if value == "" {
			addWarning(vr, field, "empty; the matching hierarchy level resolves to nothing")
		}
	}
}

func validateSync(vr *ValidationResult, s *SyncConfig) {
	if s.EvidencePattern != "" && !doublestar.ValidatePattern(s.EvidencePattern) {
		addError(vr, "sync.evidence_pattern", fmt.Sprintf("invalid glob %q", s.EvidencePattern))
	}
	if s.EvidenceDir != "" {
		if info, err := os.Stat(s.EvidenceDir); err != nil {
			addWarning(vr, "sync.evidence_dir", "directory does not exist")
		} else if !info.IsDir() {
			addError(vr, "sync.evidence_dir", "not a directory")
		}
	}
}

// validateURL requires an absolute http(s) URL.
func validateURL(vr *ValidationResult, field, raw string) {
	if raw == "" {
		addError(vr, field, "must not be empty")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		addError(vr, field, fmt.Sprintf("invalid URL %q", raw))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		addError(vr, field, fmt.Sprintf("unsupported scheme %q; use http or https", u.Scheme))
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}

	for _, key := range meta.Undecoded() {
		path := strings.Join(key, ".")
		addWarning(vr, path, "unknown configuration key")
	}
}

// addError appends an error-severity issue to the validation result.
func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  message,
	})
}

// addWarning appends a warning-severity issue to the validation result.
func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  message,
	})
}

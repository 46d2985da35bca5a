package config

import "time"

// Config is the top-level configuration structure mapping to xraysync.toml.
type Config struct {
	Jira JiraConfig `toml:"jira"`
	Xray XrayConfig `toml:"xray"`
	Sync SyncConfig `toml:"sync"`
}

// JiraConfig maps to the [jira] section: the issue store.
type JiraConfig struct {
	URL               string  `toml:"url"`
	User              string  `toml:"user"`
	Token             string  `toml:"token"`
	Project           string  `toml:"project"`
	BugType           string  `toml:"bug_type"`
	LinkType          string  `toml:"link_type"`
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// XrayConfig maps to the [xray] section.
type XrayConfig struct {
	URL              string       `toml:"url"`
	BucketSize       int          `toml:"bucket_size"`
	AttemptFactor    int          `toml:"attempt_factor"`
	MaxItemAttempts  int          `toml:"max_item_attempts"`
	TestType         string       `toml:"test_type"`
	SetType          string       `toml:"set_type"`
	PlanType         string       `toml:"plan_type"`
	ExecutionType    string       `toml:"execution_type"`
	PreconditionType string       `toml:"precondition_type"`
	Schemas          SchemaConfig `toml:"schemas"`
}

// SchemaConfig maps to [xray.schemas]: custom-field schema names used to
// locate hierarchy references on an issue.
type SchemaConfig struct {
	PlanTests      string `toml:"plan_tests"`
	SetTests       string `toml:"set_tests"`
	TestSet        string `toml:"test_set"`
	ExecutionTests string `toml:"execution_tests"`
	Preconditions  string `toml:"preconditions"`
}

// SyncConfig maps to the [sync] section.
type SyncConfig struct {
	EvidenceDir     string `toml:"evidence_dir"`
	EvidencePattern string `toml:"evidence_pattern"`
	IndexPath       string `toml:"index_path"`
	SkipBugs        bool   `toml:"skip_bugs"`
	Assignee        string `toml:"assignee"`
}

// TimeoutDuration parses jira.timeout, falling back to DefaultTimeout when
// the value is empty or malformed. Validate reports malformed values.
func (j JiraConfig) TimeoutDuration() time.Duration {
	if j.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(j.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

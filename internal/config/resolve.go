package config

import "strconv"

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from xraysync.toml.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// ResolvedConfig holds the merged configuration plus, per dotted key, the
// layer that supplied it.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource // e.g. "xray.bucket_size"
	Path    string                  // config file used, empty if none
}

// CLIOverrides captures flag values that can override configuration. A nil
// pointer means the flag was not given.
type CLIOverrides struct {
	Project     *string
	BucketSize  *int
	EvidenceDir *string
	IndexPath   *string
	SkipBugs    *bool
}

// EnvFunc looks up environment variables. os.LookupEnv in production.
type EnvFunc func(key string) (string, bool)

// Resolve merges configuration in priority order:
// CLI flags > environment variables > config file > defaults.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}

	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	// Layer 1: defaults. Layer 2: file values that are set.
	applyLayer(rc, defaults, SourceDefault, false)
	if fileConfig != nil {
		applyLayer(rc, fileConfig, SourceFile, true)
	}

	resolveFromEnv(rc, envFn)
	resolveFromCLI(rc, overrides)

	return rc
}

// applyLayer copies src into rc. With sparse set, zero values in src are
// treated as "not set" and leave the lower layer in place.
func applyLayer(rc *ResolvedConfig, src *Config, source ConfigSource, sparse bool) {
	c := rc.Config
	str := func(target *string, value, path string) {
		if sparse {
			mergeString(target, value, path, source, rc.Sources)
			return
		}
		setString(target, value, path, source, rc.Sources)
	}
	num := func(target *int, value int, path string) {
		if sparse {
			mergeInt(target, value, path, source, rc.Sources)
			return
		}
		setInt(target, value, path, source, rc.Sources)
	}

	str(&c.Jira.URL, src.Jira.URL, "jira.url")
	str(&c.Jira.User, src.Jira.User, "jira.user")
	str(&c.Jira.Token, src.Jira.Token, "jira.token")
	str(&c.Jira.Project, src.Jira.Project, "jira.project")
	str(&c.Jira.BugType, src.Jira.BugType, "jira.bug_type")
	str(&c.Jira.LinkType, src.Jira.LinkType, "jira.link_type")
	str(&c.Jira.Timeout, src.Jira.Timeout, "jira.timeout")
	if !sparse || src.Jira.RequestsPerSecond != 0 {
		c.Jira.RequestsPerSecond = src.Jira.RequestsPerSecond
		rc.Sources["jira.requests_per_second"] = source
	}

	str(&c.Xray.URL, src.Xray.URL, "xray.url")
	num(&c.Xray.BucketSize, src.Xray.BucketSize, "xray.bucket_size")
	num(&c.Xray.AttemptFactor, src.Xray.AttemptFactor, "xray.attempt_factor")
	num(&c.Xray.MaxItemAttempts, src.Xray.MaxItemAttempts, "xray.max_item_attempts")
	str(&c.Xray.TestType, src.Xray.TestType, "xray.test_type")
	str(&c.Xray.SetType, src.Xray.SetType, "xray.set_type")
	str(&c.Xray.PlanType, src.Xray.PlanType, "xray.plan_type")
	str(&c.Xray.ExecutionType, src.Xray.ExecutionType, "xray.execution_type")
	str(&c.Xray.PreconditionType, src.Xray.PreconditionType, "xray.precondition_type")
	str(&c.Xray.Schemas.PlanTests, src.Xray.Schemas.PlanTests, "xray.schemas.plan_tests")
	str(&c.Xray.Schemas.SetTests, src.Xray.Schemas.SetTests, "xray.schemas.set_tests")
	str(&c.Xray.Schemas.TestSet, src.Xray.Schemas.TestSet, "xray.schemas.test_set")
	str(&c.Xray.Schemas.ExecutionTests, src.Xray.Schemas.ExecutionTests, "xray.schemas.execution_tests")
	str(&c.Xray.Schemas.Preconditions, src.Xray.Schemas.Preconditions, "xray.schemas.preconditions")

	str(&c.Sync.EvidenceDir, src.Sync.EvidenceDir, "sync.evidence_dir")
	str(&c.Sync.EvidencePattern, src.Sync.EvidencePattern, "sync.evidence_pattern")
	str(&c.Sync.IndexPath, src.Sync.IndexPath, "sync.index_path")
	str(&c.Sync.Assignee, src.Sync.Assignee, "sync.assignee")
	if !sparse || src.Sync.SkipBugs {
		c.Sync.SkipBugs = src.Sync.SkipBugs
		rc.Sources["sync.skip_bugs"] = source
	}
}

// Environment variable mapping:
//
//	XRAYSYNC_JIRA_URL      -> jira.url
//	XRAYSYNC_JIRA_USER     -> jira.user
//	XRAYSYNC_JIRA_TOKEN    -> jira.token
//	XRAYSYNC_JIRA_PROJECT  -> jira.project
//	XRAYSYNC_XRAY_URL      -> xray.url
//	XRAYSYNC_BUCKET_SIZE   -> xray.bucket_size (ignored unless an integer)
//	XRAYSYNC_EVIDENCE_DIR  -> sync.evidence_dir
//	XRAYSYNC_INDEX_PATH    -> sync.index_path
func resolveFromEnv(rc *ResolvedConfig, envFn EnvFunc) {
	c := rc.Config

	envString := func(name string, target *string, path string) {
		if val, ok := envFn(name); ok {
			*target = val
			rc.Sources[path] = SourceEnv
		}
	}

	envString("XRAYSYNC_JIRA_URL", &c.Jira.URL, "jira.url")
	envString("XRAYSYNC_JIRA_USER", &c.Jira.User, "jira.user")
	envString("XRAYSYNC_JIRA_TOKEN", &c.Jira.Token, "jira.token")
	envString("XRAYSYNC_JIRA_PROJECT", &c.Jira.Project, "jira.project")
	envString("XRAYSYNC_XRAY_URL", &c.Xray.URL, "xray.url")
	envString("XRAYSYNC_EVIDENCE_DIR", &c.Sync.EvidenceDir, "sync.evidence_dir")
	envString("XRAYSYNC_INDEX_PATH", &c.Sync.IndexPath, "sync.index_path")

	if val, ok := envFn("XRAYSYNC_BUCKET_SIZE"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Xray.BucketSize = n
			rc.Sources["xray.bucket_size"] = SourceEnv
		}
	}
}

func resolveFromCLI(rc *ResolvedConfig, overrides *CLIOverrides) {
	c := rc.Config

	if overrides.Project != nil {
		c.Jira.Project = *overrides.Project
		rc.Sources["jira.project"] = SourceCLI
	}
	if overrides.BucketSize != nil {
		c.Xray.BucketSize = *overrides.BucketSize
		rc.Sources["xray.bucket_size"] = SourceCLI
	}
	if overrides.EvidenceDir != nil {
		c.Sync.EvidenceDir = *overrides.EvidenceDir
		rc.Sources["sync.evidence_dir"] = SourceCLI
	}
	if overrides.IndexPath != nil {
		c.Sync.IndexPath = *overrides.IndexPath
		rc.Sources["sync.index_path"] = SourceCLI
	}
	if overrides.SkipBugs != nil {
		c.Sync.SkipBugs = *overrides.SkipBugs
		rc.Sources["sync.skip_bugs"] = SourceCLI
	}
}

// --- Helpers ---

// setString unconditionally sets the target and records the source.
func setString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeString overwrites the target only if value is non-empty.
func mergeString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != "" {
		*target = value
		sources[path] = source
	}
}

func setInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeInt overwrites the target only if value is non-zero. A negative value
// is kept so that Validate can reject it.
func mergeInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != 0 {
		*target = value
		sources[path] = source
	}
}

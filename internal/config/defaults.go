package config

import "time"

// Defaults shared with packages that construct clients without a config file.
const (
	DefaultXrayURL         = "https://xray.cloud.xpand-it.com"
	DefaultBucketSize      = 15
	DefaultAttemptFactor   = 5
	DefaultMaxItemAttempts = 5
	DefaultTimeout         = 30 * time.Second
)

// NewDefaults returns a Config populated with all default values.
func NewDefaults() *Config {
	return &Config{
		Jira: JiraConfig{
			BugType:           "Bug",
			LinkType:          "Blocks",
			Timeout:           DefaultTimeout.String(),
			RequestsPerSecond: 10,
		},
		Xray: XrayConfig{
			URL:              DefaultXrayURL,
			BucketSize:       DefaultBucketSize,
			AttemptFactor:    DefaultAttemptFactor,
			MaxItemAttempts:  DefaultMaxItemAttempts,
			TestType:         "Test",
			SetType:          "Test Set",
			PlanType:         "Test Plan",
			ExecutionType:    "Test Execution",
			PreconditionType: "Pre-Condition",
			Schemas: SchemaConfig{
				PlanTests:      "com.xpandit.plugins.xray:tests-associated-with-test-plan-custom-field",
				SetTests:       "com.xpandit.plugins.xray:test-sets-tests-custom-field",
				TestSet:        "com.xpandit.plugins.xray:test-sets-custom-field",
				ExecutionTests: "com.xpandit.plugins.xray:testexec-tests-custom-field",
				Preconditions:  "com.xpandit.plugins.xray:test-precondition-custom-field",
			},
		},
		Sync: SyncConfig{
			EvidencePattern: "**/*.png",
			IndexPath:       ".xraysync/fingerprints.db",
		},
	}
}

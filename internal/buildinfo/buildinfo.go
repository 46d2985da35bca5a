package buildinfo

import "fmt"

// Info is the JSON shape printed by `xraysync version --json`.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// GetInfo snapshots the ldflags variables.
func GetInfo() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
}

// String renders e.g. "xraysync v1.4.0 (commit: a1b2c3d, built: 2026-02-17T10:00:00Z)".
func (i Info) String() string {
	return fmt.Sprintf("xraysync v%s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}

// UserAgent is sent on every tracker request.
func (i Info) UserAgent() string {
	return "xraysync/" + i.Version
}

// Package defect decides whether a failed test case already has an open
// defect and files one when it does not.
package defect

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/markdown"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

const (
	capabilitiesMarker = "*Capabilities*"
	dataSourceMarker   = "*Local Data Source*"
)

var (
	iterationPattern = regexp.MustCompile(`On Iteration\W+(\d+)`)
	driverPattern    = regexp.MustCompile(`\|Driver\|(\w+)\|`)
)

// Fingerprint is the identity of a failure: the iteration it happened on,
// the driver, and canonical forms of the capabilities and data source.
type Fingerprint struct {
	Iteration    int
	Driver       string
	Capabilities string
	DataSource   string
}

// FingerprintOf computes the fingerprint of a test case. Values go through
// the same grid rendering a defect body does, so a test case and the body
// filed for it produce equal fingerprints.
func FingerprintOf(tc *model.TestCase) Fingerprint {
	return Fingerprint{
		Iteration:    tc.Iteration,
		Driver:       tc.Environment.Driver,
		Capabilities: canonicalGrid(markdown.RenderMap(tc.Environment.Capabilities)),
		DataSource:   canonicalGrid(markdown.Render(tc.DataSource)),
	}
}

// ExtractFingerprint reads a fingerprint back from defect text. Missing or
// unreadable parts come back as their zero value, and an absent grid
// compares equal to an empty one.
func ExtractFingerprint(text string) Fingerprint {
	text = markdown.Normalize(text)

	var fp Fingerprint
	if m := iterationPattern.FindStringSubmatch(text); m != nil {
		fp.Iteration, _ = strconv.Atoi(m[1])
	}
	if m := driverPattern.FindStringSubmatch(text); m != nil {
		fp.Driver = m[1]
	}
	fp.Capabilities = canonicalGrid(after(text, capabilitiesMarker))
	fp.DataSource = canonicalGrid(after(text, dataSourceMarker))
	return fp
}

// Equal compares two fingerprints; the driver is compared without case.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Iteration == o.Iteration &&
		strings.EqualFold(f.Driver, o.Driver) &&
		f.Capabilities == o.Capabilities &&
		f.DataSource == o.DataSource
}

// Key hashes the fingerprint for the local index.
func (f Fingerprint) Key() string {
	h := xxhash.New()
	_, _ = h.WriteString(strconv.Itoa(f.Iteration))
	_, _ = h.WriteString("\x00" + strings.ToUpper(f.Driver))
	_, _ = h.WriteString("\x00" + f.Capabilities)
	_, _ = h.WriteString("\x00" + f.DataSource)
	return strconv.FormatUint(h.Sum64(), 16)
}

// IsMatch reports whether bugText was filed for the same failure as tc.
func IsMatch(tc *model.TestCase, bugText string) bool {
	return FingerprintOf(tc).Equal(ExtractFingerprint(bugText))
}

// canonicalGrid parses the first grid in text and renders its rows in
// canonical form.
func canonicalGrid(text string) string {
	return jsonutil.Canonical(markdown.Parse(text).Maps())
}

func after(text, marker string) string {
	i := strings.Index(text, marker)
	if i < 0 {
		return ""
	}
	return text[i+len(marker):]
}

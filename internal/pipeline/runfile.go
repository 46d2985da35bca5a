package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// Format is an output encoding for runs and reports.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// LoadRun reads a test run from a local path or any URL afs can open. YAML
// is accepted for .yaml/.yml files and for content that is not a JSON
// object.
func LoadRun(ctx context.Context, fs afs.Service, location string) (*model.TestRun, error) {
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	run, err := DecodeRun(data, path.Ext(location))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", location, err)
	}
	return run, nil
}

// DecodeRun parses a run document. ext selects YAML when it is .yaml or
// .yml; otherwise the content decides.
func DecodeRun(data []byte, ext string) (*model.TestRun, error) {
	run := &model.TestRun{}
	if err := decode(data, ext, run); err != nil {
		return nil, err
	}
	for i, tc := range run.TestCases {
		if tc == nil || tc.Key == "" {
			return nil, fmt.Errorf("test case %d has no key", i)
		}
	}
	return run, nil
}

// LoadCase reads a single executed test case, as written by a test runner.
func LoadCase(ctx context.Context, fs afs.Service, location string) (*model.TestCase, error) {
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	tc := &model.TestCase{}
	if err := decode(data, path.Ext(location), tc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", location, err)
	}
	if tc.Key == "" {
		return nil, fmt.Errorf("decoding %s: test case has no key", location)
	}
	return tc, nil
}

func decode(data []byte, ext string, v any) error {
	ext = strings.ToLower(ext)
	isJSON := bytes.HasPrefix(bytes.TrimSpace(data), []byte("{"))
	if ext == ".yaml" || ext == ".yml" || !isJSON {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// Encode writes v as JSON or YAML.
func Encode(w io.Writer, v any, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("format %q cannot encode documents", format)
	}
}

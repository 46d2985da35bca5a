package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
)

// Issue is a raw tracker record. Fields is the unstructured field bag as
// decoded from JSON; Steps is filled in by the fetcher for Test issues.
type Issue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Self   string         `json:"self,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Steps  []RawStep      `json:"steps,omitempty"`
}

// RawStep is a step as returned by Xray's internal steps endpoint.
type RawStep struct {
	ID     int64  `json:"id"`
	Index  int    `json:"index"`
	Action string `json:"action"`
	Data   string `json:"data,omitempty"`
	Result string `json:"result"`
}

// Type returns fields.issuetype.name, or "" when absent.
func (i Issue) Type() string {
	it, _ := i.Fields["issuetype"].(map[string]any)
	name, _ := it["name"].(string)
	return name
}

// Field returns the raw value of a named field.
func (i Issue) Field(name string) any {
	if i.Fields == nil {
		return nil
	}
	return i.Fields[name]
}

// FieldString returns a string field, or the "value"/"name" member of an
// object field.
func (i Issue) FieldString(name string) string {
	switch v := i.Field(name).(type) {
	case string:
		return v
	case map[string]any:
		for _, k := range []string{"value", "name"} {
			if s, ok := v[k].(string); ok {
				return s
			}
		}
	}
	return ""
}

// Summary is the issue title.
func (i Issue) Summary() string { return i.FieldString("summary") }

// Description is the issue body text.
func (i Issue) Description() string { return i.FieldString("description") }

// DecodeIssue builds an Issue from a tracker JSON document. Numeric ids are
// normalized to strings.
func DecodeIssue(data []byte) (Issue, error) {
	var raw struct {
		ID     any            `json:"id"`
		Key    string         `json:"key"`
		Self   string         `json:"self"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Issue{}, fmt.Errorf("decoding issue: %w", err)
	}
	id := jsonutil.Scalar(raw.ID)
	if raw.Key == "" && id == "" {
		return Issue{}, fmt.Errorf("decoding issue: no id or key")
	}
	return Issue{
		ID:     id,
		Key:    raw.Key,
		Self:   raw.Self,
		Fields: raw.Fields,
	}, nil
}

// SameType compares issue type names case-insensitively.
func SameType(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Package jsonutil holds helpers for navigating loosely typed tracker
// payloads decoded into map[string]any.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Find performs a recursive-descent search for key, the equivalent of the
// "..key" selector. Objects are searched before their children, and object
// keys are visited in sorted order so the result is deterministic.
func Find(v any, key string) (any, bool) {
	switch node := v.(type) {
	case map[string]any:
		if found, ok := node[key]; ok {
			return found, true
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found, ok := Find(node[k], key); ok {
				return found, true
			}
		}
	case []any:
		for _, item := range node {
			if found, ok := Find(item, key); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// String returns the value at the dotted path as a string. Numbers and
// booleans are formatted; anything else yields "".
func String(v any, path string) string {
	node := v
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return ""
		}
		node = m[part]
	}
	return Scalar(node)
}

// Scalar formats a decoded JSON scalar without quotes.
func Scalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64, bool, int, int64:
		b, _ := json.Marshal(s)
		return string(b)
	default:
		return ""
	}
}

// Strings collects the scalar values of a decoded JSON array. When field is
// non-empty each element is expected to be an object and field is read from
// it. Non-array input yields nil.
func Strings(v any, field string) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if field == "" {
			s = Scalar(item)
		} else if m, ok := item.(map[string]any); ok {
			s = Scalar(m[field])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Canonical renders v as compact JSON after case-folding every object key
// and string value, with the folded keys sorted. Two values that differ only
// in key order or letter case compare equal. When two keys fold to the same
// text, the one sorting last in its original form wins.
func Canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return ""
	}
	out, err := json.Marshal(fold(generic))
	if err != nil {
		return ""
	}
	return string(out)
}

func fold(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[strings.ToUpper(k)] = fold(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fold(item)
		}
		return out
	case string:
		return strings.ToUpper(val)
	default:
		return val
	}
}

package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// MissionIDKey is the document key holding the immutable mission identifier.
const MissionIDKey = "mission_id"

// Document is the JSON-like state threaded through a workflow execution.
// Nested objects are always map[string]any and nested arrays []any.
type Document map[string]any

// NewDocument builds a document from arbitrary input, normalizing nested values
// into plain maps and slices.
func NewDocument(in map[string]any) Document {
	doc := make(Document, len(in))
	for k, v := range in {
		doc[k] = normalize(v)
	}
	return doc
}

// MissionID returns the mission identifier stored in the document, if any.
func (d Document) MissionID() string {
	s, _ := d[MissionIDKey].(string)
	return s
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Get returns the value addressed by a JSONPath expression such as "$.a.b[0]".
// The boolean reports whether the path matched anything.
func (d Document) Get(path string) (any, bool) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}
	results := expr.Get(map[string]any(d))
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}

// Set stores value at a dotted JSONPath of child selectors, creating
// intermediate objects as required. The root itself cannot be replaced.
func (d Document) Set(path string, value any) error {
	keys, err := parseResultPath(path)
	if err != nil {
		return err
	}

	current := map[string]any(d)
	for i, key := range keys {
		if i == len(keys)-1 {
			current[key] = normalize(value)
			return nil
		}
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	return nil
}

// parseResultPath reduces a JSONPath to its chain of child keys. Only plain
// child selectors are accepted as merge targets.
func parseResultPath(path string) ([]string, error) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	frags := make([]jp.Frag, 0, len(expr))
	for _, frag := range expr {
		if _, bracket := frag.(jp.Bracket); !bracket {
			frags = append(frags, frag)
		}
	}
	if len(frags) == 0 {
		return nil, fmt.Errorf("invalid path %q: empty expression", path)
	}
	if _, ok := frags[0].(jp.Root); !ok {
		return nil, fmt.Errorf("invalid path %q: must start at $", path)
	}

	keys := make([]string, 0, len(frags)-1)
	for _, frag := range frags[1:] {
		child, ok := frag.(jp.Child)
		if !ok {
			return nil, fmt.Errorf("invalid path %q: only child selectors are allowed", path)
		}
		keys = append(keys, string(child))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("invalid path %q: the document root cannot be replaced", path)
	}
	return keys, nil
}

// validateResultPath checks that path is a usable merge target. Writing to the
// mission id is rejected so the identifier stays immutable.
func validateResultPath(path string) error {
	keys, err := parseResultPath(path)
	if err != nil {
		return err
	}
	if len(keys) == 1 && keys[0] == MissionIDKey {
		return fmt.Errorf("invalid path %q: %s is immutable", path, MissionIDKey)
	}
	return nil
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		return map[string]any(tv.Clone())
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return normalize(v)
	}
}

// normalize converts typed Go values into the generic JSON shapes the path
// evaluator understands. Scalars pass through unchanged.
func normalize(v any) any {
	switch tv := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return v
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = normalize(e)
		}
		return out
	case Document:
		return normalize(map[string]any(tv))
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = e
		}
		return out
	case []map[string]any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalize(e)
		}
		return out
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return string(data)
		}
		return generic
	}
}

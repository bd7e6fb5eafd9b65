package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// JSONExtractStage picks one value out of its input by dot path. The input
// may be a decoded value (as produced by json_decode) or a JSON string.
// Numeric segments index arrays.
type JSONExtractStage struct {
	path       []string
	def        string
	hasDefault bool
	text       bool
}

func newJSONExtract(spec pipeline.StageSpec, _ Env) (pipeline.Stage, error) {
	p := spec.Attrs["path"]
	if p == "" {
		return nil, fmt.Errorf("json_extract: missing 'path' attribute")
	}
	text, err := boolAttr(spec.Attrs, "text", false)
	if err != nil {
		return nil, err
	}
	def, hasDefault := spec.Attrs["default"]
	return &JSONExtractStage{
		path:       strings.Split(strings.TrimPrefix(p, "."), "."),
		def:        def,
		hasDefault: hasDefault,
		text:       text,
	}, nil
}

func (s *JSONExtractStage) Process(_ context.Context, input any) (any, error) {
	root := input
	if raw, ok := input.(string); ok {
		if err := json.Unmarshal([]byte(raw), &root); err != nil {
			return nil, fmt.Errorf("json_extract: invalid JSON: %w", err)
		}
	}
	val, err := walkPath(root, s.path)
	if err != nil {
		if s.hasDefault {
			return s.def, nil
		}
		return nil, fmt.Errorf("json_extract: path %q: %w", strings.Join(s.path, "."), err)
	}
	if s.text {
		return jsonText(val), nil
	}
	return val, nil
}

func walkPath(v any, segments []string) (any, error) {
	cur := v
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("key %q not found", seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("segment %q is not a valid array index", seg)
			}
			if idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("index %d out of range (len=%d)", idx, len(c))
			}
			cur = c[idx]
		default:
			return nil, fmt.Errorf("cannot index into %T with segment %q", cur, seg)
		}
	}
	return cur, nil
}

// jsonText renders primitives plainly and re-marshals objects and arrays.
func jsonText(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

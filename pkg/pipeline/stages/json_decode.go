package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// JSONDecodeStage parses its input as JSON. With object=true anything but a
// JSON object is rejected. Empty input decodes to an empty object.
type JSONDecodeStage struct {
	object bool
}

func newJSONDecode(spec pipeline.StageSpec, _ Env) (pipeline.Stage, error) {
	object, err := boolAttr(spec.Attrs, "object", false)
	if err != nil {
		return nil, err
	}
	return &JSONDecodeStage{object: object}, nil
}

func (s *JSONDecodeStage) Process(_ context.Context, input any) (any, error) {
	raw := asString(input)
	if raw == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("json_decode: invalid JSON: %w", err)
	}
	if _, ok := v.(map[string]any); s.object && !ok {
		return nil, fmt.Errorf("json_decode: value must be a JSON object")
	}
	return v, nil
}

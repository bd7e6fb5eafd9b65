package stages

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
)

// RegexStage replaces its input with a capture group (or the whole match) of
// a regular expression, or with no_match when nothing matches.
type RegexStage struct {
	re      *regexp.Regexp
	group   int
	noMatch string
}

func newRegex(spec pipeline.StageSpec, _ Env) (pipeline.Stage, error) {
	pattern := spec.Attrs["pattern"]
	if pattern == "" {
		return nil, fmt.Errorf("regex: missing 'pattern' attribute")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regex: invalid pattern: %w", err)
	}

	group := 0
	if g := spec.Attrs["group"]; g != "" {
		n, parseErr := strconv.Atoi(g)
		if parseErr != nil || n < 0 {
			return nil, fmt.Errorf("regex: group must be a non-negative integer, got %q", g)
		}
		group = n
	}
	if group > re.NumSubexp() {
		return nil, fmt.Errorf("regex: group %d out of range (pattern has %d groups)", group, re.NumSubexp())
	}
	return &RegexStage{re: re, group: group, noMatch: spec.Attrs["no_match"]}, nil
}

func (s *RegexStage) Process(_ context.Context, input any) (any, error) {
	matches := s.re.FindStringSubmatch(asString(input))
	if matches == nil {
		return s.noMatch, nil
	}
	return matches[s.group], nil
}

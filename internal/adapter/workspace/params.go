package workspace

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

// Model output is loosely typed: numbers arrive as float64 or strings and
// booleans sometimes as "true". cast normalises them.

func stringParam(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", paramError(key, err)
	}
	return s, nil
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, paramError(key, err)
	}
	return n, nil
}

func boolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, paramError(key, err)
	}
	return b, nil
}

func stringsParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, isString := v.(string); isString {
		return []string{s}, nil
	}
	out, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, paramError(key, err)
	}
	return out, nil
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func paramError(key string, err error) error {
	return fmt.Errorf("%w: parameter %q: %v", domain.ErrValidation, key, err)
}

// checkRequired reports the first required parameter missing from params.
func checkRequired(d toolexec.Descriptor, params map[string]any) error {
	for _, p := range d.Params {
		if !p.Required {
			continue
		}
		if v, ok := params[p.Name]; !ok || v == nil {
			return fmt.Errorf("%w: missing required parameter %q", domain.ErrValidation, p.Name)
		}
	}
	return nil
}

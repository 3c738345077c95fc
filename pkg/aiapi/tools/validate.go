package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/hashicorp/go-multierror"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Validate reports every problem with s as a single INVALID_SPEC error.
func (s Spec) Validate() error {
	var result *multierror.Error

	if s.Name == "" {
		result = multierror.Append(result, fmt.Errorf("name is required"))
	} else if !namePattern.MatchString(s.Name) {
		result = multierror.Append(result, fmt.Errorf("name %q must match %s", s.Name, namePattern))
	}

	if s.Parameters != nil {
		if t, ok := s.Parameters["type"]; ok && t != "object" {
			result = multierror.Append(result, fmt.Errorf("parameters type must be \"object\", got %v", t))
		}
		if props, ok := s.Parameters["properties"]; ok {
			if _, isMap := props.(map[string]interface{}); !isMap {
				result = multierror.Append(result, fmt.Errorf("parameters.properties must be an object"))
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidSpec, fmt.Sprintf("invalid tool spec %q", s.Name), err)
	}
	return nil
}

// DecodeArguments turns the model's argument text into a structured value.
// Empty text decodes to an empty object.
func DecodeArguments(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidArguments, "arguments are not a JSON object", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// checkArguments verifies required fields and primitive types declared by the
// spec's parameter schema. Unknown schema types are accepted.
func checkArguments(args map[string]interface{}, params map[string]interface{}) error {
	if params == nil {
		return nil
	}

	for _, name := range requiredFields(params["required"]) {
		if _, exists := args[name]; !exists {
			return fmt.Errorf("missing required field: %s", name)
		}
	}

	props, _ := params["properties"].(map[string]interface{})
	for key, value := range args {
		def, ok := props[key].(map[string]interface{})
		if !ok {
			continue
		}
		expected, _ := def["type"].(string)
		if expected == "" {
			continue
		}
		if !matchesType(value, expected) {
			return fmt.Errorf("field %s: expected %s but got %T", key, expected, value)
		}
	}
	return nil
}

func requiredFields(v interface{}) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, field := range req {
			if name, ok := field.(string); ok && name != "" {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func matchesType(value interface{}, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && math.Trunc(f) == f
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

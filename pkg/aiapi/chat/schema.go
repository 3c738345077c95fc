package chat

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/stoewer/go-strcase"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

// SchemaOf derives a function spec from the struct type of v, for use as a
// structured input or output schema. The spec is named after the type.
// Fields with a json tag keep the tagged name; untagged fields are
// snake_cased, so values decoded back from the model only fill tagged
// fields. Only fields tagged jsonschema:"required" are required.
func SchemaOf(v interface{}, description string) (tools.Spec, error) {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct || t.Name() == "" {
		return tools.Spec{}, apperrors.Newf(apperrors.ErrCodeInvalidSpec, "schema source must be a named struct, got %T", v)
	}
	if description == "" {
		return tools.Spec{}, apperrors.Newf(apperrors.ErrCodeInvalidSpec, "%s is missing a description", t.Name())
	}
	if _, reserved := t.FieldByName("Title"); reserved {
		return tools.Spec{}, apperrors.Newf(apperrors.ErrCodeInvalidSpec, "%s: title is a reserved field name", t.Name())
	}

	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.ReflectFromType(t)

	raw, err := json.Marshal(schema)
	if err != nil {
		return tools.Spec{}, apperrors.New(apperrors.ErrCodeInvalidSpec, "failed to encode schema", err)
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return tools.Spec{}, apperrors.New(apperrors.ErrCodeInvalidSpec, "failed to decode schema", err)
	}
	snakeUntagged(t, params)
	delete(params, "$schema")
	delete(params, "$id")
	removeKey(params, "title")

	spec := tools.Spec{Name: t.Name(), Description: description, Parameters: params}
	if err := spec.Validate(); err != nil {
		return tools.Spec{}, err
	}
	return spec, nil
}

// snakeUntagged renames the properties of untagged struct fields in node to
// snake_case, following nested structs, slices and maps of structs.
func snakeUntagged(t reflect.Type, node map[string]interface{}) {
	t = elemType(t)
	if t.Kind() != reflect.Struct || node == nil {
		return
	}
	props, _ := node["properties"].(map[string]interface{})
	if props == nil {
		return
	}

	renamed := map[string]string{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			snakeUntagged(f.Type, node)
			continue
		}
		if name == "" {
			name = strcase.SnakeCase(f.Name)
			if prop, ok := props[f.Name]; ok && name != f.Name {
				delete(props, f.Name)
				props[name] = prop
				renamed[f.Name] = name
			}
		}

		if child, ok := props[name].(map[string]interface{}); ok {
			snakeNested(f.Type, child)
		}
	}

	if required, ok := node["required"].([]interface{}); ok {
		for i, r := range required {
			if n, ok := r.(string); ok {
				if to, ok := renamed[n]; ok {
					required[i] = to
				}
			}
		}
	}
}

// snakeNested follows slice items and map values down to a struct schema.
func snakeNested(t reflect.Type, node map[string]interface{}) {
	t = elemType(t)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if items, ok := node["items"].(map[string]interface{}); ok {
			snakeNested(t.Elem(), items)
		}
	case reflect.Map:
		if values, ok := node["additionalProperties"].(map[string]interface{}); ok {
			snakeNested(t.Elem(), values)
		}
	case reflect.Struct:
		snakeUntagged(t, node)
	}
}

func elemType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// removeKey deletes key from every object nested in v.
func removeKey(v interface{}, key string) {
	switch val := v.(type) {
	case map[string]interface{}:
		delete(val, key)
		for _, item := range val {
			removeKey(item, key)
		}
	case []interface{}:
		for _, item := range val {
			removeKey(item, key)
		}
	}
}

package toolpack

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

// Parameter locations.
const (
	InPath  = "path"
	InQuery = "query"
)

// Pack describes a remote API surface and the tools it exposes.
type Pack struct {
	ID          string       `json:"id,omitempty"`
	Description string       `json:"description"`
	Servers     []Server     `json:"servers"`
	Endpoints   []Endpoint   `json:"endpoints"`
	Functions   []tools.Spec `json:"functions"`
}

// Server is a base URL for a pack's endpoints.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Endpoint is one HTTP operation of a pack.
type Endpoint struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Details     EndpointDetails
}

// EndpointDetails carries the OpenAPI-style parameter and body schemas.
type EndpointDetails struct {
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
}

// Parameter is a declared path or query parameter.
type Parameter struct {
	Name        string                 `json:"name"`
	In          string                 `json:"in"`
	Required    bool                   `json:"required,omitempty"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
}

// RequestBody is the declared request body, keyed by media type.
type RequestBody struct {
	Content map[string]MediaType `json:"content,omitempty"`
}

// MediaType holds the schema for one media type.
type MediaType struct {
	Schema map[string]interface{} `json:"schema,omitempty"`
}

type endpointObject struct {
	Method      string       `json:"method"`
	Path        string       `json:"path"`
	Route       string       `json:"route,omitempty"`
	OperationID string       `json:"operationId"`
	Summary     string       `json:"summary,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
}

// UnmarshalJSON accepts the hub's positional form
// ["METHOD /path", operationId, summary, {parameters, requestBody}] or an
// object with method, path (or route), operationId, summary, parameters and
// requestBody.
func (e *Endpoint) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return e.unmarshalPositional(data)
	}

	var obj endpointObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Route != "" {
		if err := e.setRoute(obj.Route); err != nil {
			return err
		}
	} else {
		e.Method = strings.ToUpper(obj.Method)
		e.Path = obj.Path
	}
	e.OperationID = obj.OperationID
	e.Summary = obj.Summary
	e.Details = EndpointDetails{Parameters: obj.Parameters, RequestBody: obj.RequestBody}
	return nil
}

func (e *Endpoint) unmarshalPositional(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("endpoint needs at least a route and an operation id, got %d elements", len(raw))
	}

	var route string
	if err := json.Unmarshal(raw[0], &route); err != nil {
		return fmt.Errorf("endpoint route: %w", err)
	}
	if err := e.setRoute(route); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &e.OperationID); err != nil {
		return fmt.Errorf("endpoint operation id: %w", err)
	}
	if len(raw) > 2 {
		var summary *string
		if err := json.Unmarshal(raw[2], &summary); err != nil {
			return fmt.Errorf("endpoint summary: %w", err)
		}
		if summary != nil {
			e.Summary = *summary
		}
	}
	if len(raw) > 3 {
		if err := json.Unmarshal(raw[3], &e.Details); err != nil {
			return fmt.Errorf("endpoint details: %w", err)
		}
	}
	return nil
}

func (e *Endpoint) setRoute(route string) error {
	parts := strings.Fields(route)
	if len(parts) != 2 {
		return fmt.Errorf("endpoint route %q must be \"METHOD /path\"", route)
	}
	e.Method = strings.ToUpper(parts[0])
	e.Path = parts[1]
	return nil
}

// MarshalJSON writes the positional form.
func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		e.Method + " " + e.Path,
		e.OperationID,
		e.Summary,
		e.Details,
	})
}

// BodyProperties returns the JSON request body's declared properties.
func (e *Endpoint) BodyProperties() map[string]interface{} {
	if e.Details.RequestBody == nil {
		return nil
	}
	media, ok := e.Details.RequestBody.Content["application/json"]
	if !ok {
		return nil
	}
	props, _ := media.Schema["properties"].(map[string]interface{})
	return props
}

// FindEndpoint returns the first endpoint with the operation id.
func (p *Pack) FindEndpoint(operationID string) (*Endpoint, bool) {
	for i := range p.Endpoints {
		if p.Endpoints[i].OperationID == operationID {
			return &p.Endpoints[i], true
		}
	}
	return nil, false
}

// BaseURL returns the first server URL without a trailing slash.
func (p *Pack) BaseURL() string {
	if len(p.Servers) == 0 {
		return ""
	}
	return strings.TrimRight(p.Servers[0].URL, "/")
}

// HasFunction reports whether the pack exposes a tool named name.
func (p *Pack) HasFunction(name string) bool {
	for _, f := range p.Functions {
		if f.Name == name {
			return true
		}
	}
	return false
}

// FunctionsByName returns the pack's specs whose names are listed.
func (p *Pack) FunctionsByName(names ...string) []tools.Spec {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []tools.Spec
	for _, f := range p.Functions {
		if _, ok := want[f.Name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the pack's function specs and endpoints.
func (p *Pack) Validate() error {
	var result *multierror.Error
	for _, f := range p.Functions {
		if err := f.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, e := range p.Endpoints {
		if e.OperationID == "" {
			result = multierror.Append(result, fmt.Errorf("endpoint %s %s has no operation id", e.Method, e.Path))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidSpec, fmt.Sprintf("invalid tool pack %q", p.ID), err)
	}
	return nil
}

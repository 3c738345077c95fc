package tools

import (
	"context"
)

// Spec declares one callable tool: its dispatch name, a description for the
// model, and a JSON-schema object describing its parameters.
type Spec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Call is a model request to run the named tool. Arguments is the raw JSON
// text emitted by the model, possibly empty.
type Call struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Kind records how a registration's callable is invoked.
type Kind int

const (
	// KindPlain callables receive only the decoded arguments.
	KindPlain Kind = iota
	// KindEndpoint callables are bound to a remote pack and also receive the
	// tool name, which selects the endpoint.
	KindEndpoint
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

// Func is a plain in-process tool.
type Func func(ctx context.Context, args map[string]interface{}) (Result, error)

// EndpointFunc is a tool bound to a remote endpoint collection.
type EndpointFunc func(ctx context.Context, name string, args map[string]interface{}) (Result, error)

// Result is what a tool returns. Text is fed back to the model. Discovered
// lists tool specs surfaced by the call; the registry registers them before
// Invoke returns, against Bind or, when Bind is nil, against the invoking
// endpoint callable. A plain callable must set Bind to discover tools.
type Result struct {
	Text       string
	Discovered []Spec
	Bind       EndpointFunc
}

// Text returns a Result carrying only text.
func Text(s string) Result {
	return Result{Text: s}
}

// Outcome is the value of a completed Invoke.
type Outcome struct {
	Name string
	Text string
	// Tools names the specs discovered (and registered) by the call.
	Tools []string
}

// Registration binds a Spec to its callable. Registrations are immutable;
// redefining a name swaps in a new Registration.
type Registration struct {
	Spec     Spec
	Kind     Kind
	plain    Func
	endpoint EndpointFunc
}

func (r *Registration) call(ctx context.Context, args map[string]interface{}) (Result, error) {
	if r.Kind == KindEndpoint {
		return r.endpoint(ctx, r.Spec.Name, args)
	}
	return r.plain(ctx, args)
}

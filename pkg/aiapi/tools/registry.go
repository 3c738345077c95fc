package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

// Registry maps tool names to registrations. A single Registry may be shared
// by many sessions; registrations made through one are visible to all.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Registration),
	}
}

// Define registers fn under every spec, replacing any registration that
// already uses one of the names. The batch is applied under one lock.
func (r *Registry) Define(fn Func, specs ...Spec) ([]*Registration, error) {
	if fn == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidSpec, "tool callable is nil", nil)
	}
	return r.define(specs, func(s Spec) *Registration {
		return &Registration{Spec: s, Kind: KindPlain, plain: fn}
	})
}

// DefineEndpoint registers an endpoint-bound callable under every spec.
func (r *Registry) DefineEndpoint(fn EndpointFunc, specs ...Spec) ([]*Registration, error) {
	if fn == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidSpec, "tool callable is nil", nil)
	}
	return r.define(specs, func(s Spec) *Registration {
		return &Registration{Spec: s, Kind: KindEndpoint, endpoint: fn}
	})
}

func (r *Registry) define(specs []Spec, build func(Spec) *Registration) ([]*Registration, error) {
	if len(specs) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidSpec, "at least one tool spec is required", nil)
	}

	regs := make([]*Registration, 0, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		regs = append(regs, build(cloneSpec(s)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regs {
		r.entries[reg.Spec.Name] = reg
	}
	return regs, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns every registered spec, sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.entries))
	for _, reg := range r.entries {
		specs = append(specs, cloneSpec(reg.Spec))
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// SpecFor returns the spec registered under name.
func (r *Registry) SpecFor(name string) (Spec, bool) {
	reg, ok := r.Lookup(name)
	if !ok {
		return Spec{}, false
	}
	return cloneSpec(reg.Spec), true
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	return reg, ok
}

// Invoke decodes the call's arguments, runs the registered callable and
// registers any specs the callable discovered before returning.
func (r *Registry) Invoke(ctx context.Context, call Call) (*Outcome, error) {
	log := ctrllog.FromContext(ctx).WithName("tool-registry")

	reg, ok := r.Lookup(call.Name)
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeUnknownTool,
			fmt.Sprintf("no tool registered with name %s", call.Name), nil)
	}

	args, err := DecodeArguments(call.Arguments)
	if err != nil {
		return nil, err
	}
	if err := checkArguments(args, reg.Spec.Parameters); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidArguments,
			fmt.Sprintf("invalid arguments for %s", call.Name), err)
	}

	log.V(1).Info("Invoking tool", "tool", call.Name, "kind", reg.Kind.String())
	res, err := reg.call(ctx, args)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Name: call.Name, Text: res.Text}
	if len(res.Discovered) > 0 {
		bind := res.Bind
		if bind == nil && reg.Kind == KindEndpoint {
			bind = reg.endpoint
		}
		if bind == nil {
			return nil, apperrors.New(apperrors.ErrCodeInvalidSpec,
				fmt.Sprintf("tool %s discovered tools without a callable to bind them to", call.Name), nil)
		}
		if _, err := r.DefineEndpoint(bind, res.Discovered...); err != nil {
			return nil, err
		}
		for _, s := range res.Discovered {
			outcome.Tools = append(outcome.Tools, s.Name)
		}
		log.V(1).Info("Tool discovered new tools", "tool", call.Name, "tools", outcome.Tools)
	}
	return outcome, nil
}

func cloneSpec(s Spec) Spec {
	if s.Parameters != nil {
		s.Parameters = deepCopyMap(s.Parameters)
	}
	return s
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

package toolpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/metrics"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

// Hub operations with special result handling.
const (
	OpGetToolPack   = "getToolPack"
	OpGetLucky      = "getLucky"
	OpFindToolPacks = "findToolPacks"
)

const (
	defaultDiscoveryMessage = "Consider the tools/functions available and choose the best one to use."
	selectionPrompt         = "Here is a list of tools you can select from.  You should choose the best tool from these options (not just the first one) and call the getToolPack function with the id."
)

// AdapterConfig configures an Adapter. Zero values fall back to the hub
// defaults.
type AdapterConfig struct {
	// HubHost marks responses from the tool-hosting service.
	HubHost     string
	PackPrefix  string
	DefaultPack string
	HTTPClient  *http.Client
	Metrics     *metrics.Recorder
}

// Adapter turns tool packs into endpoint-bound tools and executes them.
type Adapter struct {
	registry    *tools.Registry
	catalog     *Catalog
	hub         *Hub
	httpClient  *http.Client
	hubHost     string
	packPrefix  string
	defaultPack string
	metrics     *metrics.Recorder
}

// NewAdapter creates an Adapter registering into registry.
func NewAdapter(registry *tools.Registry, catalog *Catalog, hub *Hub, cfg AdapterConfig) *Adapter {
	a := &Adapter{
		registry:    registry,
		catalog:     catalog,
		hub:         hub,
		httpClient:  cfg.HTTPClient,
		hubHost:     strings.ToLower(cfg.HubHost),
		packPrefix:  cfg.PackPrefix,
		defaultPack: cfg.DefaultPack,
		metrics:     cfg.Metrics,
	}
	if a.catalog == nil {
		a.catalog = NewCatalog()
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{}
	}
	if a.hubHost == "" {
		a.hubHost = DefaultHubHost
	}
	if a.packPrefix == "" {
		a.packPrefix = PackPrefix
	}
	if a.defaultPack == "" {
		a.defaultPack = DefaultPackID
	}
	return a
}

// Catalog returns the adapter's pack catalog.
func (a *Adapter) Catalog() *Catalog {
	return a.catalog
}

// IsPackID reports whether a requested tool name denotes a hub pack.
func (a *Adapter) IsPackID(name string) bool {
	return name == a.defaultPack || strings.HasPrefix(name, a.packPrefix)
}

// IsDiscoveryOp reports whether name is a hub operation that returns new
// tools.
func IsDiscoveryOp(name string) bool {
	return name == OpGetToolPack || name == OpGetLucky
}

// Bind returns a callable executing operations of p.
func (a *Adapter) Bind(p *Pack) tools.EndpointFunc {
	return func(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error) {
		return a.Execute(ctx, p, name, args)
	}
}

// Register adds p to the catalog and defines its functions in the registry.
func (a *Adapter) Register(p *Pack) error {
	if err := p.Validate(); err != nil {
		return err
	}
	a.catalog.Add(p)
	a.metrics.PackLoaded()
	if len(p.Functions) == 0 {
		return nil
	}
	_, err := a.registry.DefineEndpoint(a.Bind(p), p.Functions...)
	return err
}

// Load fetches the pack id from the hub and registers it.
func (a *Adapter) Load(ctx context.Context, id string) (*Pack, error) {
	if a.hub == nil {
		return nil, apperrors.Newf(apperrors.ErrCodePackNotFound, "no hub configured to load %s", id)
	}
	p, err := a.hub.GetToolPack(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Register(p); err != nil {
		return nil, err
	}
	ctrllog.FromContext(ctx).WithName("toolpack-adapter").Info("Loaded tool pack", "id", p.ID, "functions", len(p.Functions))
	return p, nil
}

// Resolve returns the pack loaded under id, fetching and registering it
// when it is not in the catalog yet.
func (a *Adapter) Resolve(ctx context.Context, id string) (*Pack, error) {
	if p, ok := a.catalog.FindByID(id); ok {
		return p, nil
	}
	return a.Load(ctx, id)
}

// LoadDefault loads the default pack.
func (a *Adapter) LoadDefault(ctx context.Context) (*Pack, error) {
	return a.Load(ctx, a.defaultPack)
}

// EnsureDiscovery loads the default pack when name is a discovery operation
// no loaded pack provides yet. It reports whether a registration for name
// now exists.
func (a *Adapter) EnsureDiscovery(ctx context.Context, name string) (bool, error) {
	if !IsDiscoveryOp(name) {
		return false, nil
	}
	if _, ok := a.catalog.FindByFunction(name); !ok {
		if _, err := a.LoadDefault(ctx); err != nil {
			return false, err
		}
	}
	_, ok := a.registry.Lookup(name)
	return ok, nil
}

// Execute performs the operation named op of pack p with args. Failures the
// model can react to come back as result text; only transport errors are
// returned as errors.
func (a *Adapter) Execute(ctx context.Context, p *Pack, op string, args map[string]interface{}) (tools.Result, error) {
	log := ctrllog.FromContext(ctx).WithName("toolpack-adapter")

	endpoint, ok := p.FindEndpoint(op)
	if !ok {
		log.Info("No endpoint for function", "function", op, "pack", p.ID, "code", apperrors.ErrCodeEndpointNotFound)
		a.metrics.EndpointFailure(op, apperrors.ErrCodeEndpointNotFound)
		return tools.Text(fmt.Sprintf("No endpoint found for the function %s.", op)), nil
	}
	base := p.BaseURL()
	if base == "" {
		return tools.Text(fmt.Sprintf("No server configured for the function %s.", op)), nil
	}

	path := endpoint.Path
	query := url.Values{}
	queryParams := map[string]interface{}{}
	for _, param := range endpoint.Details.Parameters {
		value, present := args[param.Name]
		if !present {
			continue
		}
		switch param.In {
		case InPath:
			path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(formatValue(value)))
		case InQuery:
			queryParams[param.Name] = value
			addQuery(query, param.Name, value)
		}
	}

	var body io.Reader
	if props := endpoint.BodyProperties(); len(props) > 0 {
		payload := map[string]interface{}{}
		for name := range props {
			if v, present := args[name]; present {
				payload[name] = v
			}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return tools.Result{}, apperrors.New(apperrors.ErrCodeHTTPFailure, "failed to encode request body", err)
		}
		body = bytes.NewReader(data)
	}

	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, endpoint.Method, target, body)
	if err != nil {
		return tools.Result{}, apperrors.New(apperrors.ErrCodeHTTPFailure, "failed to create request", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	log.V(1).Info("Calling endpoint", "function", op, "method", endpoint.Method, "url", target)
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		a.metrics.EndpointCall(op, 0)
		return tools.Result{}, apperrors.New(apperrors.ErrCodeHTTPFailure,
			fmt.Sprintf("request for %s failed", op), err)
	}
	defer resp.Body.Close()
	a.metrics.EndpointCall(op, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return tools.Result{}, apperrors.New(apperrors.ErrCodeHTTPFailure, "failed to read response", err)
	}

	var result tools.Result
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		result.Text = fmt.Sprintf("%d: %s\nFor %s Called with params: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), op, formatParams(queryParams))
	} else {
		result.Text = string(raw)
	}

	if success && a.isHub(resp) {
		switch {
		case IsDiscoveryOp(op):
			a.discover(ctx, raw, &result)
		case op == OpFindToolPacks:
			result.Text = selectionPrompt + " " + string(raw)
		}
	}

	if len(result.Discovered) == 0 {
		if fallback, ok := a.catalog.FindByFunction(OpGetLucky); ok {
			result.Discovered = fallback.Functions
			result.Bind = a.Bind(fallback)
		}
	}
	return result, nil
}

// discover registers the pack carried by a discovery response and rewrites
// the result to its message.
func (a *Adapter) discover(ctx context.Context, raw []byte, result *tools.Result) {
	log := ctrllog.FromContext(ctx).WithName("toolpack-adapter")

	var payload struct {
		Message *string `json:"message"`
		Pack
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error(err, "Discovery response is not a tool pack")
		return
	}

	result.Text = defaultDiscoveryMessage
	if payload.Message != nil {
		result.Text = *payload.Message
	}
	if len(payload.Functions) == 0 {
		return
	}

	pack := payload.Pack
	if err := pack.Validate(); err != nil {
		log.Error(err, "Discovered tool pack is invalid")
		return
	}
	a.catalog.Add(&pack)
	a.metrics.PackLoaded()

	owner, ok := a.catalog.FindByFunction(pack.Functions[0].Name)
	if !ok {
		owner = &pack
	}
	result.Discovered = pack.Functions
	result.Bind = a.Bind(owner)
	log.Info("Discovered tool pack", "id", pack.ID, "functions", len(pack.Functions))
}

func (a *Adapter) isHub(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return strings.Contains(strings.ToLower(resp.Request.URL.Host), a.hubHost)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64, bool, json.Number:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func addQuery(q url.Values, name string, v interface{}) {
	if list, ok := v.([]interface{}); ok {
		for _, item := range list {
			q.Add(name, formatValue(item))
		}
		return
	}
	q.Set(name, formatValue(v))
}

func formatParams(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprint(params)
	}
	return string(data)
}

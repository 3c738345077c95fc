// Package chat runs the conversation loop: it asks the model, runs the tools
// the model calls, feeds their results back and repeats until the model
// answers in plain text.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/llm"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/metrics"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/toolpack"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

const tracerName = "github.com/aiapi-dev/aiapi/pkg/aiapi/chat"

// Options shape one turn. The zero value asks a plain question with the
// session's defaults.
type Options struct {
	// Functions names the tools offered to the model. Names denoting hub
	// packs are loaded first; unknown names are skipped.
	Functions []string
	// System overrides the session's system prompt.
	System string
	// Params replaces the session's generation parameters.
	Params map[string]interface{}
	// Save overrides the session's persistence flag for this turn.
	Save *bool
	// FunctionName marks the prompt as the result of the named tool.
	FunctionName string

	// InputSchema sends Input as a structured function message instead of
	// the prompt.
	InputSchema *tools.Spec
	Input       interface{}
	// OutputSchema forces the model to answer by calling it; the answer is
	// the call's arguments.
	OutputSchema *tools.Spec
}

// Reply is the result of a non-streaming turn.
type Reply struct {
	Text         string
	FinishReason string
	// Arguments holds the raw structured answer in output-schema mode.
	Arguments string
}

// Config configures a Dispatcher.
type Config struct {
	// MaxDepth bounds nested tool calls per turn; 0 leaves it unbounded.
	MaxDepth       int
	Metrics        *metrics.Recorder
	TracerProvider trace.TracerProvider
}

// Dispatcher drives conversations against one transport and tool registry.
// It holds no per-conversation state and may serve many sessions at once.
type Dispatcher struct {
	transport llm.Transport
	registry  *tools.Registry
	packs     *toolpack.Adapter
	maxDepth  int
	metrics   *metrics.Recorder
	tracer    trace.Tracer
}

// NewDispatcher creates a Dispatcher. packs may be nil, in which case hub
// pack names are not resolved.
func NewDispatcher(transport llm.Transport, registry *tools.Registry, packs *toolpack.Adapter, cfg Config) *Dispatcher {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Dispatcher{
		transport: transport,
		registry:  registry,
		packs:     packs,
		maxDepth:  cfg.MaxDepth,
		metrics:   cfg.Metrics,
		tracer:    tp.Tracer(tracerName),
	}
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Gen runs a turn and returns the answer text.
func (d *Dispatcher) Gen(ctx context.Context, sess *session.Session, prompt string, opts Options) (string, error) {
	reply, err := d.Generate(ctx, sess, prompt, opts)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// GenStructured runs a turn in output-schema mode and decodes the answer
// into out.
func (d *Dispatcher) GenStructured(ctx context.Context, sess *session.Session, prompt string, opts Options, out interface{}) error {
	if opts.OutputSchema == nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "structured generation needs an output schema", nil)
	}
	reply, err := d.Generate(ctx, sess, prompt, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(reply.Arguments), out); err != nil {
		return apperrors.New(apperrors.ErrCodeUpstream,
			fmt.Sprintf("structured answer does not match %s", opts.OutputSchema.Name), err)
	}
	return nil
}

// Generate runs the non-streaming cycle until the model answers in plain
// text (or, with an output schema, with structured arguments).
func (d *Dispatcher) Generate(ctx context.Context, sess *session.Session, prompt string, opts Options) (*Reply, error) {
	return d.generate(ctx, sess, prompt, opts, 0)
}

func (d *Dispatcher) generate(ctx context.Context, sess *session.Session, prompt string, opts Options, depth int) (*Reply, error) {
	log := ctrllog.FromContext(ctx).WithName("chat-dispatcher")

	if err := d.checkDepth(depth); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "chat.generate", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("model", sess.Model),
		attribute.Int("depth", depth),
	))
	defer span.End()

	req, user, err := d.prepare(ctx, sess, prompt, opts, false)
	if err != nil {
		return nil, spanError(span, err)
	}

	started := time.Now()
	resp, err := d.transport.Complete(ctx, endpointOf(sess), req)
	d.metrics.ModelRequest("complete", started, err)
	if err != nil {
		return nil, spanError(span, err)
	}
	choice, err := resp.First()
	if err != nil {
		return nil, spanError(span, err)
	}
	d.recordUsage(sess, resp.Usage)

	if opts.OutputSchema != nil {
		call := choice.Message.FunctionCall
		if call == nil {
			return nil, spanError(span, apperrors.Newf(apperrors.ErrCodeUpstream,
				"no structured answer for %s", opts.OutputSchema.Name))
		}
		return &Reply{Arguments: call.Arguments, FinishReason: choice.FinishReason}, nil
	}

	content := choice.Message.Text()
	if content != "" {
		role := choice.Message.Role
		if role == "" {
			role = session.RoleAssistant
		}
		assistant := completed(session.NewMessage(role, content), choice.FinishReason, resp.Usage)
		sess.AppendPair(user, assistant, opts.Save)
	} else {
		sess.Append(user, opts.Save)
	}

	call := choice.Message.FunctionCall
	if call == nil {
		if content == "" {
			log.V(1).Info("Model returned neither content nor a function call", "session", sess.ID)
		}
		return &Reply{Text: content, FinishReason: choice.FinishReason}, nil
	}

	outcome, err := d.runTool(ctx, *call)
	if err != nil {
		return nil, spanError(span, err)
	}
	sess.Append(functionCallRecord(*call, choice.FinishReason, resp.Usage), opts.Save)

	log.V(1).Info("Returning tool result to model", "tool", outcome.Name, "depth", depth+1, "functions", outcome.Tools)
	return d.generate(ctx, sess, outcome.Text, followUp(opts, outcome), depth+1)
}

// prepare builds the request and the user message for a turn.
func (d *Dispatcher) prepare(ctx context.Context, sess *session.Session, prompt string, opts Options, stream bool) (*llm.ChatRequest, session.Message, error) {
	specs, err := d.resolveFunctions(ctx, opts.Functions)
	if err != nil {
		return nil, session.Message{}, err
	}
	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}

	var user session.Message
	switch {
	case opts.InputSchema != nil:
		if opts.Input == nil {
			return nil, session.Message{}, apperrors.Newf(apperrors.ErrCodeInvalidInput,
				"input for %s is missing", opts.InputSchema.Name)
		}
		data, err := json.Marshal(opts.Input)
		if err != nil {
			return nil, session.Message{}, apperrors.New(apperrors.ErrCodeInvalidInput,
				fmt.Sprintf("input for %s cannot be encoded", opts.InputSchema.Name), err)
		}
		user = session.NewMessage(session.RoleFunction, string(data))
		user.Name = opts.InputSchema.Name
	case opts.FunctionName != "":
		user = session.NewMessage(session.RoleFunction, prompt)
		user.Name = opts.FunctionName
		user.Functions = names
	default:
		user = session.NewMessage(session.RoleUser, prompt)
		user.Functions = names
	}

	system := opts.System
	if system == "" {
		system = sess.System
	}
	params := opts.Params
	if params == nil {
		params = sess.Params
	}

	req := &llm.ChatRequest{
		Model:     sess.Model,
		Messages:  sess.RenderForRequest(session.NewMessage(session.RoleSystem, system), user),
		Stream:    stream,
		Params:    params,
		Functions: specs,
	}

	if opts.InputSchema != nil || opts.OutputSchema != nil {
		var fns []tools.Spec
		if opts.InputSchema != nil {
			fns = append(fns, *opts.InputSchema)
		}
		if opts.OutputSchema != nil {
			if opts.InputSchema == nil || opts.InputSchema.Name != opts.OutputSchema.Name {
				fns = append(fns, *opts.OutputSchema)
			}
			req.ForceFunction = opts.OutputSchema.Name
		}
		req.Functions = fns
	}
	return req, user, nil
}

// resolveFunctions turns requested names into specs, loading hub packs as
// needed. Duplicate names keep their first spec.
func (d *Dispatcher) resolveFunctions(ctx context.Context, names []string) ([]tools.Spec, error) {
	log := ctrllog.FromContext(ctx).WithName("chat-dispatcher")

	var specs []tools.Spec
	seen := map[string]struct{}{}
	add := func(s tools.Spec) {
		if _, dup := seen[s.Name]; dup {
			return
		}
		seen[s.Name] = struct{}{}
		specs = append(specs, s)
	}

	for _, name := range names {
		if d.packs != nil && d.packs.IsPackID(name) {
			pack, err := d.packs.Resolve(ctx, name)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrCodePackNotFound) {
					log.Info("Skipping unknown tool pack", "pack", name)
					continue
				}
				return nil, err
			}
			for _, s := range pack.Functions {
				add(s)
			}
			continue
		}
		if spec, ok := d.registry.SpecFor(name); ok {
			add(spec)
			continue
		}
		log.V(1).Info("Skipping unknown function", "function", name)
	}
	return specs, nil
}

// runTool executes a model-requested call. Tool failures become result text
// the model can react to; unknown functions and cancellation end the turn.
func (d *Dispatcher) runTool(ctx context.Context, call tools.Call) (*tools.Outcome, error) {
	log := ctrllog.FromContext(ctx).WithName("chat-dispatcher")

	ctx, span := d.tracer.Start(ctx, "chat.tool", trace.WithAttributes(attribute.String("tool", call.Name)))
	defer span.End()

	outcome, err := d.registry.Invoke(ctx, call)
	if err != nil && apperrors.Is(err, apperrors.ErrCodeUnknownTool) && d.packs != nil {
		loaded, loadErr := d.packs.EnsureDiscovery(ctx, call.Name)
		if loadErr != nil {
			log.Error(loadErr, "Failed to load default tool pack", "tool", call.Name)
		}
		if loaded {
			outcome, err = d.registry.Invoke(ctx, call)
		}
	}
	d.metrics.ToolInvocation(call.Name, err)

	switch {
	case err == nil:
		return outcome, nil
	case apperrors.Is(err, apperrors.ErrCodeUnknownTool):
		return nil, spanError(span, apperrors.New(apperrors.ErrCodeUnknownFunction,
			fmt.Sprintf("no function exists with name %s", call.Name), err))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return nil, spanError(span, err)
	}

	log.Info("Tool failed, returning error to model", "tool", call.Name, "error", err.Error())
	span.RecordError(err)
	return &tools.Outcome{
		Name: call.Name,
		Text: fmt.Sprintf("Error executing tool %s: %v", call.Name, err),
	}, nil
}

func (d *Dispatcher) checkDepth(depth int) error {
	if d.maxDepth > 0 && depth > d.maxDepth {
		return apperrors.Newf(apperrors.ErrCodeMaxDepthExceeded,
			"tool call depth %d exceeds the limit of %d", depth, d.maxDepth)
	}
	return nil
}

func (d *Dispatcher) recordUsage(sess *session.Session, u *session.Usage) {
	if u == nil {
		return
	}
	sess.AddUsage(*u)
	d.metrics.Tokens(u.PromptTokens, u.CompletionTokens)
}

// completed stamps completion metadata on m; token counts only when the
// provider reported usage.
func completed(m session.Message, finishReason string, u *session.Usage) session.Message {
	if u == nil {
		m.FinishReason = finishReason
		return m
	}
	return m.WithUsage(finishReason, *u)
}

// followUp derives the options of the recursive turn that returns a tool
// result to the model.
func followUp(opts Options, outcome *tools.Outcome) Options {
	return Options{
		Functions:    outcome.Tools,
		System:       opts.System,
		Params:       opts.Params,
		Save:         opts.Save,
		FunctionName: outcome.Name,
	}
}

// functionCallRecord is the assistant message logging a function call.
func functionCallRecord(call tools.Call, finishReason string, u *session.Usage) session.Message {
	data, _ := json.Marshal(map[string]tools.Call{"function_call": call})
	return completed(session.NewMessage(session.RoleAssistant, string(data)), finishReason, u)
}

func endpointOf(sess *session.Session) llm.Endpoint {
	return llm.Endpoint{URL: sess.APIURL, APIKey: sess.APIKey}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

package chat

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/llm"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
)

// StreamEvent is one item of StreamEvents: a content delta, or, last, the
// final message or the error that ended the turn.
type StreamEvent struct {
	Delta   *llm.DeltaEvent
	Message *session.Message
	Err     error
}

// Stream runs the streaming cycle, calling emit for every content fragment
// as it arrives. Each nested tool round trip streams its own fragments
// through the same emit. Messages are committed only after each stream
// ends; a failed or cancelled stream commits nothing. The returned message
// is the final answer, which is not committed when the turn produced no
// text.
func (d *Dispatcher) Stream(ctx context.Context, sess *session.Session, prompt string, opts Options, emit func(llm.DeltaEvent) error) (*session.Message, error) {
	if opts.OutputSchema != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "structured output is not supported when streaming", nil)
	}
	return d.stream(ctx, sess, prompt, opts, emit, 0)
}

func (d *Dispatcher) stream(ctx context.Context, sess *session.Session, prompt string, opts Options, emit func(llm.DeltaEvent) error, depth int) (*session.Message, error) {
	log := ctrllog.FromContext(ctx).WithName("chat-dispatcher")

	if err := d.checkDepth(depth); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("model", sess.Model),
		attribute.Int("depth", depth),
	))
	defer span.End()

	req, user, err := d.prepare(ctx, sess, prompt, opts, true)
	if err != nil {
		return nil, spanError(span, err)
	}

	started := time.Now()
	body, err := d.transport.Stream(ctx, endpointOf(sess), req)
	if err != nil {
		d.metrics.ModelRequest("stream", started, err)
		return nil, spanError(span, err)
	}
	defer body.Close()

	agg := llm.NewAggregator()
	err = agg.Consume(ctx, body, emit)
	d.metrics.ModelRequest("stream", started, err)
	if err != nil {
		return nil, spanError(span, err)
	}

	final := session.NewMessage(session.RoleAssistant, agg.Text())
	final.FinishReason = agg.FinishReason()
	call, called := agg.FunctionCall()
	if final.Content != "" {
		sess.AppendPair(user, final, opts.Save)
	} else {
		sess.Append(user, opts.Save)
	}

	if !called {
		return &final, nil
	}

	outcome, err := d.runTool(ctx, *call)
	if err != nil {
		return nil, spanError(span, err)
	}
	sess.Append(functionCallRecord(*call, llm.FinishReasonFunctionCall, nil), opts.Save)

	log.V(1).Info("Streaming tool result to model", "tool", outcome.Name, "depth", depth+1, "functions", outcome.Tools)
	return d.stream(ctx, sess, outcome.Text, followUp(opts, outcome), emit, depth+1)
}

// StreamEvents is Stream in channel form. The channel is closed after the
// final event. Callers that stop reading early must cancel ctx.
func (d *Dispatcher) StreamEvents(ctx context.Context, sess *session.Session, prompt string, opts Options) <-chan StreamEvent {
	events := make(chan StreamEvent)

	go func() {
		defer close(events)

		send := func(ev StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		msg, err := d.Stream(ctx, sess, prompt, opts, func(delta llm.DeltaEvent) error {
			return send(StreamEvent{Delta: &delta})
		})
		if err != nil {
			_ = send(StreamEvent{Err: err})
			return
		}
		_ = send(StreamEvent{Message: msg})
	}()

	return events
}

package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

type streamState int

const (
	stateReading streamState = iota
	stateDone
)

// Aggregator reassembles a line-framed streamed completion. Grammar:
//
//	line    = "" | ":" comment | "data:" payload | other
//	payload = "[DONE]" | frame-json
//
// Empty and comment lines are skipped and "[DONE]" ends the stream. Any
// other line goes to the error buffer, as does a payload that fails to
// decode, carries an "error" object or has no choices.
// An Aggregator serves one turn and is not safe for concurrent use.
type Aggregator struct {
	state streamState

	content strings.Builder
	name    string
	args    strings.Builder
	called  bool
	finish  string

	frames int
	failed bool
	errBuf []string
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Feed processes one line. It returns the delta event for the line, if the
// line carried a content fragment.
func (a *Aggregator) Feed(line string) (DeltaEvent, bool) {
	if a.state == stateDone {
		return DeltaEvent{}, false
	}

	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return DeltaEvent{}, false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		a.errBuf = append(a.errBuf, line)
		return DeltaEvent{}, false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneMarker {
		a.state = stateDone
		return DeltaEvent{}, false
	}

	var frame StreamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		a.errBuf = append(a.errBuf, line)
		return DeltaEvent{}, false
	}
	if len(frame.Error) > 0 && string(frame.Error) != "null" {
		a.failed = true
		a.errBuf = append(a.errBuf, line)
		return DeltaEvent{}, false
	}
	if len(frame.Choices) == 0 {
		a.errBuf = append(a.errBuf, line)
		return DeltaEvent{}, false
	}
	a.frames++

	choice := frame.Choices[0]
	if fc := choice.Delta.FunctionCall; fc != nil {
		if fc.Name != nil {
			a.name = *fc.Name
		}
		if fc.Arguments != nil {
			a.args.WriteString(*fc.Arguments)
		}
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finish = *choice.FinishReason
		if a.finish == FinishReasonFunctionCall {
			a.called = true
		}
	}

	if c := choice.Delta.Content; c != nil && *c != "" {
		a.content.WriteString(*c)
		return DeltaEvent{Fragment: *c, Response: a.content.String()}, true
	}
	return DeltaEvent{}, false
}

// Consume feeds every line of r to the aggregator, calling emit for each
// content fragment. It stops at the end marker, at EOF, when ctx is done or
// when emit fails, and returns Err once the stream is exhausted.
func (a *Aggregator) Consume(ctx context.Context, r io.Reader, emit func(DeltaEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, ok := a.Feed(scanner.Text())
		if ok && emit != nil {
			if err := emit(ev); err != nil {
				return err
			}
		}
		if a.Done() {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.New(apperrors.ErrCodeUpstream, "failed to read model stream", err)
	}
	return a.Err()
}

// Done reports whether the end marker was seen.
func (a *Aggregator) Done() bool {
	return a.state == stateDone
}

// Text returns the content received so far.
func (a *Aggregator) Text() string {
	return a.content.String()
}

// FinishReason returns the last finish reason the provider reported.
func (a *Aggregator) FinishReason() string {
	return a.finish
}

// FunctionCall returns the reassembled call once the provider has signalled
// a function-call finish.
func (a *Aggregator) FunctionCall() (*tools.Call, bool) {
	if !a.called {
		return nil, false
	}
	return &tools.Call{Name: a.name, Arguments: a.args.String()}, true
}

// ErrorText returns the buffered non-conforming lines.
func (a *Aggregator) ErrorText() string {
	return strings.Join(a.errBuf, "\n")
}

// Err reports an UpstreamError when the provider sent an error frame or
// the stream produced only non-conforming lines.
func (a *Aggregator) Err() error {
	if a.failed || (len(a.errBuf) > 0 && a.frames == 0) {
		return apperrors.New(apperrors.ErrCodeUpstream, a.ErrorText(), nil)
	}
	return nil
}

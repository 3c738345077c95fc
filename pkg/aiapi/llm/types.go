package llm

import (
	"encoding/json"
	"fmt"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

// FinishReasonFunctionCall is the finish reason a provider reports when the
// turn ends with a function-call request.
const FinishReasonFunctionCall = "function_call"

// Endpoint is where a chat request is sent and the key used to send it.
type Endpoint struct {
	URL    string
	APIKey auth.Secret
}

// ChatRequest is a chat-completions request using the legacy functions
// protocol. Params are flattened into the top-level object.
type ChatRequest struct {
	Model    string
	Messages []map[string]interface{}
	Stream   bool
	Params   map[string]interface{}
	// Functions offered to the model; omitted when empty.
	Functions []tools.Spec
	// ForceFunction, when set, requires the model to call the named function.
	ForceFunction string
}

// MarshalJSON renders the request body. Generation params are applied after
// the fixed fields, so a param may override them.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	body := map[string]interface{}{
		"model":    r.Model,
		"messages": r.Messages,
		"stream":   r.Stream,
	}
	for k, v := range r.Params {
		body[k] = v
	}
	if len(r.Functions) > 0 {
		body["functions"] = r.Functions
	}
	if r.ForceFunction != "" {
		body["function_call"] = map[string]string{"name": r.ForceFunction}
	}
	return json.Marshal(body)
}

// ChatResponse is a non-streaming chat-completions response.
type ChatResponse struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []Choice       `json:"choices"`
	Usage   *session.Usage `json:"usage,omitempty"`
	Error   *APIError      `json:"error,omitempty"`
}

// Choice is one candidate completion.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a Choice. Content is nil when
// the model answered with a function call only.
type ResponseMessage struct {
	Role         session.Role `json:"role"`
	Content      *string      `json:"content"`
	FunctionCall *tools.Call  `json:"function_call,omitempty"`
}

// Text returns the message content, or "" when there is none.
func (m ResponseMessage) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// APIError is the error object providers return in place of choices.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// First returns the first choice, or an UpstreamError when the response
// carries none.
func (r *ChatResponse) First() (*Choice, error) {
	if r == nil {
		return nil, apperrors.New(apperrors.ErrCodeUpstream, "no AI generation: empty response", nil)
	}
	if len(r.Choices) == 0 {
		if r.Error != nil {
			return nil, apperrors.New(apperrors.ErrCodeUpstream,
				fmt.Sprintf("no AI generation: %s", r.Error.Message), nil)
		}
		return nil, apperrors.New(apperrors.ErrCodeUpstream, "no AI generation: response has no choices", nil)
	}
	return &r.Choices[0], nil
}

// StreamFrame is one decoded `data:` payload of a streamed response.
type StreamFrame struct {
	Choices []StreamChoice  `json:"choices"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// StreamChoice carries the incremental delta of one frame.
type StreamChoice struct {
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta holds the optional content and function-call fragments.
type StreamDelta struct {
	Role         session.Role       `json:"role,omitempty"`
	Content      *string            `json:"content,omitempty"`
	FunctionCall *FunctionCallDelta `json:"function_call,omitempty"`
}

// FunctionCallDelta is a partial function call. Name replaces the buffered
// name; Arguments is a slice of JSON text appended to the buffer.
type FunctionCallDelta struct {
	Name      *string `json:"name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

// DeltaEvent is what a streaming caller observes per content fragment.
type DeltaEvent struct {
	Fragment string `json:"delta"`
	// Response is the text received so far, this fragment included.
	Response string `json:"response"`
}

package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/llm"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

// scriptedTransport replays canned responses in order and records requests.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	streams   []string
	requests  []*llm.ChatRequest
	err       error
}

func (s *scriptedTransport) Complete(ctx context.Context, ep llm.Endpoint, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedTransport) Stream(ctx context.Context, ep llm.Endpoint, req *llm.ChatRequest) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.streams) == 0 {
		return nil, fmt.Errorf("no scripted stream left")
	}
	body := s.streams[0]
	s.streams = s.streams[1:]
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *scriptedTransport) request(i int) *llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *scriptedTransport) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func usage(prompt, completion int) *session.Usage {
	return &session.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func textResponse(content string, u *session.Usage) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message:      llm.ResponseMessage{Role: session.RoleAssistant, Content: &content},
			FinishReason: "stop",
		}},
		Usage: u,
	}
}

func callResponse(name, args string, u *session.Usage) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message: llm.ResponseMessage{
				Role:         session.RoleAssistant,
				FunctionCall: &tools.Call{Name: name, Arguments: args},
			},
			FinishReason: llm.FinishReasonFunctionCall,
		}},
		Usage: u,
	}
}

func textStream(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", f)
	}
	b.WriteString("data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	return b.String()
}

func callStream(name string, argFragments ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":null,\"function_call\":{\"name\":%q,\"arguments\":\"\"}},\"finish_reason\":null}]}\n\n", name)
	for _, f := range argFragments {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"function_call\":{\"arguments\":%q}},\"finish_reason\":null}]}\n\n", f)
	}
	b.WriteString("data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"function_call\"}]}\n\ndata: [DONE]\n\n")
	return b.String()
}

func lastMessage(req *llm.ChatRequest) map[string]interface{} {
	return req.Messages[len(req.Messages)-1]
}

func functionNames(req *llm.ChatRequest) []string {
	var names []string
	for _, f := range req.Functions {
		names = append(names, f.Name)
	}
	return names
}

func roles(msgs []session.Message) []session.Role {
	out := make([]session.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

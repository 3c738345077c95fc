package session

import (
	"fmt"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Field names accepted by RenderForRequest's allow-list.
const (
	FieldRole             = "role"
	FieldContent          = "content"
	FieldName             = "name"
	FieldFunctions        = "functions"
	FieldReceivedAt       = "received_at"
	FieldFinishReason     = "finish_reason"
	FieldPromptLength     = "prompt_length"
	FieldCompletionLength = "completion_length"
	FieldTotalLength      = "total_length"
)

// DefaultInputFields is the projection used for chat-completions endpoints.
var DefaultInputFields = []string{FieldRole, FieldContent, FieldName}

// Message is one conversation turn. Messages are values; once appended to a
// Session they are never modified.
type Message struct {
	Role Role `json:"role"`
	// Content may hold a serialized structured payload (function-call records,
	// structured input).
	Content string `json:"content"`
	// Name identifies the tool that produced or consumes a function message.
	Name string `json:"name,omitempty"`
	// Functions lists the tool names offered to the model at this turn.
	Functions        []string  `json:"functions,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	PromptLength     *int      `json:"prompt_length,omitempty"`
	CompletionLength *int      `json:"completion_length,omitempty"`
	TotalLength      *int      `json:"total_length,omitempty"`
}

// NewMessage returns a message stamped with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:       role,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}
}

// WithUsage records completion metadata on a copy of m.
func (m Message) WithUsage(finishReason string, u Usage) Message {
	m.FinishReason = finishReason
	m.PromptLength = intPtr(u.PromptTokens)
	m.CompletionLength = intPtr(u.CompletionTokens)
	m.TotalLength = intPtr(u.TotalTokens)
	return m
}

// Project returns the message restricted to fields, with absent optional
// fields dropped. Content and role are always present when allowed.
func (m Message) Project(fields []string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		switch f {
		case FieldRole:
			out[f] = string(m.Role)
		case FieldContent:
			out[f] = m.Content
		case FieldName:
			if m.Name != "" {
				out[f] = m.Name
			}
		case FieldFunctions:
			if m.Functions != nil {
				out[f] = append([]string(nil), m.Functions...)
			}
		case FieldReceivedAt:
			if !m.ReceivedAt.IsZero() {
				out[f] = m.ReceivedAt
			}
		case FieldFinishReason:
			if m.FinishReason != "" {
				out[f] = m.FinishReason
			}
		case FieldPromptLength:
			if m.PromptLength != nil {
				out[f] = *m.PromptLength
			}
		case FieldCompletionLength:
			if m.CompletionLength != nil {
				out[f] = *m.CompletionLength
			}
		case FieldTotalLength:
			if m.TotalLength != nil {
				out[f] = *m.TotalLength
			}
		}
	}
	return out
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

func (m Message) clone() Message {
	if m.Functions != nil {
		m.Functions = append([]string(nil), m.Functions...)
	}
	return m
}

// Usage is the token accounting reported by the model endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Override returns a pointer to b for use as an explicit persistence choice.
func Override(b bool) *bool {
	return &b
}

func intPtr(v int) *int {
	return &v
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
)

const (
	DefaultAPIURL = "https://api.openai.com/v1/chat/completions"
	DefaultModel  = "gpt-3.5-turbo-1106"
	DefaultSystem = "You are a helpful assistant."
)

// DefaultParams returns the generation parameters used when none are configured.
func DefaultParams() map[string]interface{} {
	return map[string]interface{}{"temperature": 0.7}
}

// Options configures a new Session. Zero values fall back to defaults.
type Options struct {
	ID             string
	Title          string
	APIURL         string
	APIKey         auth.Secret
	Model          string
	System         string
	Params         map[string]interface{}
	InputFields    []string
	RecentMessages int
	// SaveMessages is the default persistence flag; nil means true.
	SaveMessages *bool
}

// Session is the aggregate root of one conversation: its configuration, the
// append-only message log and running token totals.
type Session struct {
	ID        string
	CreatedAt time.Time
	Title     string

	APIKey auth.Secret
	APIURL string
	Model  string
	System string
	Params map[string]interface{}

	// InputFields is the allow-list of message fields submitted to the endpoint.
	InputFields []string
	// RecentMessages bounds how many stored messages are replayed; 0 replays all.
	RecentMessages int
	SaveMessages   bool

	mu       sync.RWMutex
	messages []Message
	totals   Usage
}

// New creates a Session from opts.
func New(opts Options) *Session {
	s := &Session{
		ID:             opts.ID,
		CreatedAt:      time.Now().UTC(),
		Title:          opts.Title,
		APIKey:         opts.APIKey,
		APIURL:         opts.APIURL,
		Model:          opts.Model,
		System:         opts.System,
		Params:         opts.Params,
		InputFields:    opts.InputFields,
		RecentMessages: opts.RecentMessages,
		SaveMessages:   true,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.System == "" {
		s.System = DefaultSystem
	}
	if s.Params == nil {
		s.Params = DefaultParams()
	}
	if len(s.InputFields) == 0 {
		s.InputFields = append([]string(nil), DefaultInputFields...)
	}
	if s.RecentMessages < 0 {
		s.RecentMessages = 0
	}
	if opts.SaveMessages != nil {
		s.SaveMessages = *opts.SaveMessages
	}
	return s
}

// shouldPersist applies the override rule: an explicit override alone decides,
// otherwise the session default does.
func (s *Session) shouldPersist(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.SaveMessages
}

// Append stores msg subject to the persistence rule and reports whether it was stored.
func (s *Session) Append(msg Message, override *bool) bool {
	if !s.shouldPersist(override) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.clone())
	return true
}

// AppendPair stores a user turn and its reply together, or neither.
func (s *Session) AppendPair(user, assistant Message, override *bool) bool {
	if !s.shouldPersist(override) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, user.clone(), assistant.clone())
	return true
}

// Messages returns a copy of the full message log.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages)
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// WindowedHistory returns the last RecentMessages messages, or all of them
// when no window is configured. The store is never modified.
func (s *Session) WindowedHistory() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(window(s.messages, s.RecentMessages))
}

// RenderForRequest builds the message list submitted to the model:
// system, the windowed history, then the new message, each projected onto
// InputFields with absent fields dropped.
func (s *Session) RenderForRequest(system, next Message) []map[string]interface{} {
	s.mu.RLock()
	history := window(s.messages, s.RecentMessages)
	out := make([]map[string]interface{}, 0, len(history)+2)
	out = append(out, system.Project(s.InputFields))
	for _, m := range history {
		out = append(out, m.Project(s.InputFields))
	}
	s.mu.RUnlock()

	return append(out, next.Project(s.InputFields))
}

// AddUsage accumulates token counts. Negative counts are ignored so totals
// never decrease.
func (s *Session) AddUsage(u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.PromptTokens += nonNegative(u.PromptTokens)
	s.totals.CompletionTokens += nonNegative(u.CompletionTokens)
	s.totals.TotalTokens += nonNegative(u.TotalTokens)
}

// Totals returns the running token totals.
func (s *Session) Totals() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

func (s *Session) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := "never"
	if n := len(s.messages); n > 0 {
		last = s.messages[n-1].ReceivedAt.Format(time.DateTime)
	}
	return fmt.Sprintf("Chat session started at %s:\n- %d Messages\n- Last message sent at %s",
		s.CreatedAt.Format(time.DateTime), len(s.messages), last)
}

func window(messages []Message, n int) []Message {
	if n <= 0 || n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

package session

import (
	"time"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
)

// Snapshot is the serializable state of a Session. It never carries the API key.
type Snapshot struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	APIURL         string                 `json:"api_url"`
	Model          string                 `json:"model"`
	System         string                 `json:"system"`
	Params         map[string]interface{} `json:"params,omitempty"`
	InputFields    []string               `json:"input_fields"`
	RecentMessages int                    `json:"recent_messages,omitempty"`
	SaveMessages   bool                   `json:"save_messages"`
	Messages       []Message              `json:"messages"`
	Totals         Usage                  `json:"totals"`
}

// Snapshot captures the current state of s.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	params := make(map[string]interface{}, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	return &Snapshot{
		ID:             s.ID,
		Title:          s.Title,
		CreatedAt:      s.CreatedAt,
		APIURL:         s.APIURL,
		Model:          s.Model,
		System:         s.System,
		Params:         params,
		InputFields:    append([]string(nil), s.InputFields...),
		RecentMessages: s.RecentMessages,
		SaveMessages:   s.SaveMessages,
		Messages:       cloneMessages(s.messages),
		Totals:         s.totals,
	}
}

// Restore rebuilds a Session from snap, attaching key as its credential.
func Restore(snap *Snapshot, key auth.Secret) *Session {
	s := New(Options{
		ID:             snap.ID,
		Title:          snap.Title,
		APIURL:         snap.APIURL,
		APIKey:         key,
		Model:          snap.Model,
		System:         snap.System,
		Params:         snap.Params,
		InputFields:    snap.InputFields,
		RecentMessages: snap.RecentMessages,
		SaveMessages:   Override(snap.SaveMessages),
	})
	if !snap.CreatedAt.IsZero() {
		s.CreatedAt = snap.CreatedAt
	}
	s.messages = cloneMessages(snap.Messages)
	s.totals = snap.Totals
	return s
}

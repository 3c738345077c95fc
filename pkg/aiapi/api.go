package aiapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/chat"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

// CreateSessionRequest is the body of POST /sessions. Empty fields take the
// configured defaults.
type CreateSessionRequest struct {
	Title          string                 `json:"title,omitempty"`
	Model          string                 `json:"model,omitempty"`
	System         string                 `json:"system,omitempty"`
	Params         map[string]interface{} `json:"params,omitempty"`
	RecentMessages *int                   `json:"recent_messages,omitempty"`
	SaveMessages   *bool                  `json:"save_messages,omitempty"`
}

// ChatRequest is the body of POST /sessions/{id}/chat and /stream.
type ChatRequest struct {
	Prompt    string                 `json:"prompt"`
	Functions []string               `json:"functions,omitempty"`
	System    string                 `json:"system,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Save      *bool                  `json:"save,omitempty"`
}

func (r ChatRequest) options() chat.Options {
	return chat.Options{
		Functions: r.Functions,
		System:    r.System,
		Params:    r.Params,
		Save:      r.Save,
	}
}

// ChatResponse is the body returned by POST /sessions/{id}/chat.
type ChatResponse struct {
	Response     string `json:"response"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody(err))
}

func errorBody(err error) ErrorResponse {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = "INTERNAL"
	}
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: err.Error()}}
}

func statusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodePackNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeInvalidArguments, apperrors.ErrCodeInvalidSpec:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnknownFunction, apperrors.ErrCodeMaxDepthExceeded:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeUpstream, apperrors.ErrCodeHTTPFailure:
		return http.StatusBadGateway
	case apperrors.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

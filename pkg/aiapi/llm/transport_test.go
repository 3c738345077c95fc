package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

func TestChatRequest_MarshalJSON(t *testing.T) {
	req := ChatRequest{
		Model:         "gpt-test",
		Messages:      []map[string]interface{}{{"role": "user", "content": "ping"}},
		Params:        map[string]interface{}{"temperature": 0.7},
		Functions:     []tools.Spec{{Name: "currentTime"}},
		ForceFunction: "Answer",
	}

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, false, body["stream"])
	assert.Equal(t, 0.7, body["temperature"])
	assert.Len(t, body["functions"], 1)
	assert.Equal(t, map[string]interface{}{"name": "Answer"}, body["function_call"])
}

func TestChatRequest_MarshalJSONOmitsEmptyFunctions(t *testing.T) {
	b, err := json.Marshal(ChatRequest{Model: "m"})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.NotContains(t, body, "functions")
	assert.NotContains(t, body, "function_call")
}

func TestChatResponse_First(t *testing.T) {
	_, err := (&ChatResponse{}).First()
	assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.CodeOf(err))

	_, err = (&ChatResponse{Error: &APIError{Message: "quota"}}).First()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")

	content := "pong"
	choice, err := (&ChatResponse{Choices: []Choice{{Message: ResponseMessage{Content: &content}}}}).First()
	require.NoError(t, err)
	assert.Equal(t, "pong", choice.Message.Text())
}

func newModelServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc("/v1/chat/completions", handler).Methods(http.MethodPost)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPTransport_Complete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	server := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}
		}`)
	})

	transport := NewHTTPTransport(server.Client())
	resp, err := transport.Complete(context.Background(),
		Endpoint{URL: server.URL + "/v1/chat/completions", APIKey: auth.NewSecret("sk-test")},
		&ChatRequest{Model: "m", Messages: []map[string]interface{}{{"role": "user", "content": "ping"}}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "m", gotBody["model"])

	choice, err := resp.First()
	require.NoError(t, err)
	assert.Equal(t, "pong", choice.Message.Text())
	assert.Equal(t, "stop", choice.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestHTTPTransport_CompleteFunctionCall(t *testing.T) {
	server := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":null,
			"function_call":{"name":"currentTime","arguments":""}},"finish_reason":"function_call"}]}`)
	})

	resp, err := NewHTTPTransport(nil).Complete(context.Background(),
		Endpoint{URL: server.URL + "/v1/chat/completions"}, &ChatRequest{Model: "m"})
	require.NoError(t, err)

	choice, err := resp.First()
	require.NoError(t, err)
	assert.Nil(t, choice.Message.Content)
	require.NotNil(t, choice.Message.FunctionCall)
	assert.Equal(t, "currentTime", choice.Message.FunctionCall.Name)
	assert.Nil(t, resp.Usage)
}

func TestHTTPTransport_CompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errText string
	}{
		{"error object", http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`, "rate limited"},
		{"malformed body", http.StatusBadGateway, `<html>bad gateway</html>`, "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := NewHTTPTransport(nil).Complete(context.Background(),
				Endpoint{URL: server.URL + "/v1/chat/completions"}, &ChatRequest{Model: "m"})
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestHTTPTransport_Stream(t *testing.T) {
	var streamed interface{}
	server := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		streamed = body["stream"]
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, contentFrame("po")+"\n\n"+contentFrame("ng")+"\n\ndata: [DONE]\n\n")
	})

	body, err := NewHTTPTransport(nil).Stream(context.Background(),
		Endpoint{URL: server.URL + "/v1/chat/completions"}, &ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer body.Close()

	agg := NewAggregator()
	require.NoError(t, agg.Consume(context.Background(), body, nil))
	assert.Equal(t, true, streamed)
	assert.Equal(t, "pong", agg.Text())
}

func TestHTTPTransport_StreamErrorStatusSurfacesBody(t *testing.T) {
	server := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	})

	body, err := NewHTTPTransport(nil).Stream(context.Background(),
		Endpoint{URL: server.URL + "/v1/chat/completions"}, &ChatRequest{Model: "m"})
	require.NoError(t, err)
	defer body.Close()

	err = NewAggregator().Consume(context.Background(), body, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPTransport(nil).Complete(context.Background(), Endpoint{URL: url}, &ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.CodeOf(err))
}

package aiapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/chat"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/llm"
)

func TestWithKeepAliveForwardsEvents(t *testing.T) {
	events := make(chan chat.StreamEvent, 2)
	events <- chat.StreamEvent{Delta: &llm.DeltaEvent{Fragment: "a", Response: "a"}}
	events <- chat.StreamEvent{Delta: &llm.DeltaEvent{Fragment: "b", Response: "ab"}}
	close(events)

	var got []string
	for item := range withKeepAlive(context.Background(), events, time.Hour) {
		require.False(t, item.KeepAlive)
		got = append(got, item.Event.Delta.Fragment)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestWithKeepAliveInjectsWhenIdle(t *testing.T) {
	events := make(chan chat.StreamEvent)
	out := withKeepAlive(context.Background(), events, 10*time.Millisecond)

	item := <-out
	assert.True(t, item.KeepAlive)

	events <- chat.StreamEvent{Delta: &llm.DeltaEvent{Fragment: "x", Response: "x"}}
	for item = range out {
		if !item.KeepAlive {
			break
		}
	}
	require.NotNil(t, item.Event.Delta)
	assert.Equal(t, "x", item.Event.Delta.Fragment)
	close(events)
}

func TestWithKeepAliveStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := withKeepAlive(ctx, make(chan chat.StreamEvent), time.Hour)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("keep-alive did not stop after cancel")
	}
}

// slowModel delays the stream so the route has to send keep-alives.
type slowModel struct {
	fakeModel
	delay time.Duration
}

func (s *slowModel) Stream(ctx context.Context, ep llm.Endpoint, req *llm.ChatRequest) (io.ReadCloser, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.fakeModel.Stream(ctx, ep, req)
}

func TestStreamSendsKeepAlive(t *testing.T) {
	model := &slowModel{fakeModel: fakeModel{streams: []string{sseStream("done")}}, delay: 100 * time.Millisecond}
	app, err := NewApp(testConfig(), Options{Transport: model, KeepAlive: 10 * time.Millisecond})
	require.NoError(t, err)
	sess, err := app.NewSession(context.Background(), CreateSessionRequest{})
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	data, err := json.Marshal(ChatRequest{Prompt: "Hi"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/sessions/"+sess.ID+"/stream", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), ": keep-alive\n\n"))
	assert.True(t, strings.HasSuffix(string(body), "data: {\"delta\":\"done\",\"response\":\"done\"}\n\ndata: [DONE]\n\n"))
}

func TestStreamErrorAfterStart(t *testing.T) {
	model := &slowModel{fakeModel: fakeModel{}, delay: 50 * time.Millisecond}
	app, err := NewApp(testConfig(), Options{Transport: model, KeepAlive: 10 * time.Millisecond})
	require.NoError(t, err)
	sess, err := app.NewSession(context.Background(), CreateSessionRequest{})
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()
	data, err := json.Marshal(ChatRequest{Prompt: "Hi"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/sessions/"+sess.ID+"/stream", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: error\ndata: ")
	assert.NotContains(t, string(body), "[DONE]")
}

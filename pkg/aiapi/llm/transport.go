package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

// Transport exchanges chat requests with a model endpoint. Timeouts and
// retries are the transport's concern.
type Transport interface {
	// Complete sends a non-streaming request and decodes the response.
	Complete(ctx context.Context, ep Endpoint, req *ChatRequest) (*ChatResponse, error)
	// Stream sends a streaming request and returns the raw line-framed body.
	// The caller closes it.
	Stream(ctx context.Context, ep Endpoint, req *ChatRequest) (io.ReadCloser, error)
}

// HTTPTransport is a Transport over net/http.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport using client, or a client with no
// timeout when nil. Cancellation is driven by the request context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

// Complete implements Transport.
func (t *HTTPTransport) Complete(ctx context.Context, ep Endpoint, req *ChatRequest) (*ChatResponse, error) {
	log := ctrllog.FromContext(ctx).WithName("llm-transport")

	resp, err := t.post(ctx, ep, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeUpstream, "failed to read model response", err)
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeUpstream,
			fmt.Sprintf("malformed model response (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))), err)
	}
	if resp.StatusCode >= 400 && len(out.Choices) == 0 {
		msg := strings.TrimSpace(string(body))
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, apperrors.New(apperrors.ErrCodeUpstream,
			fmt.Sprintf("model endpoint returned %d: %s", resp.StatusCode, msg), nil)
	}

	log.V(1).Info("Model response received", "status", resp.StatusCode, "choices", len(out.Choices))
	return &out, nil
}

// Stream implements Transport. The body is returned whatever the status, so
// provider error payloads reach the aggregator's error buffer.
func (t *HTTPTransport) Stream(ctx context.Context, ep Endpoint, req *ChatRequest) (io.ReadCloser, error) {
	streamReq := *req
	streamReq.Stream = true

	resp, err := t.post(ctx, ep, &streamReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		ctrllog.FromContext(ctx).WithName("llm-transport").Info("Model stream returned error status", "status", resp.StatusCode)
	}
	return resp.Body, nil
}

func (t *HTTPTransport) post(ctx context.Context, ep Endpoint, req *ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeUpstream, "failed to encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeUpstream, "failed to create chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	auth.AddBearer(httpReq, ep.APIKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeUpstream, "chat request failed", err)
	}
	return resp, nil
}

package toolpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

const (
	DefaultHubURL  = "https://api.vand.io/api/v1"
	DefaultHubHost = "vand.io"
	DefaultPackID  = "default"
	PackPrefix     = "vand-"
)

// Hub fetches tool packs from the tool-hosting service.
type Hub struct {
	baseURL    string
	httpClient *http.Client
	tokenFunc  func() auth.Secret
}

// NewHub creates a Hub client. tokenFunc may be nil.
func NewHub(baseURL string, httpClient *http.Client, tokenFunc func() auth.Secret) *Hub {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Hub{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokenFunc:  tokenFunc,
	}
}

// BaseURL returns the hub's API root.
func (h *Hub) BaseURL() string {
	return h.baseURL
}

// GetToolPack fetches the pack published under id. An empty response means
// the hub has no such pack.
func (h *Hub) GetToolPack(ctx context.Context, id string) (*Pack, error) {
	log := ctrllog.FromContext(ctx).WithName("toolpack-hub")

	endpoint := fmt.Sprintf("%s/getToolPack/%s", h.baseURL, url.PathEscape(id))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeHTTPFailure, "failed to create request", err)
	}
	if h.tokenFunc != nil {
		auth.AddBearer(httpReq, h.tokenFunc())
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeHTTPFailure, "failed to send request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeHTTPFailure, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrCodeHTTPFailure,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)
	}
	if isEmptyPayload(body) {
		log.Info("No tool pack found", "id", id)
		return nil, apperrors.Newf(apperrors.ErrCodePackNotFound, "no tool pack found for %s", id)
	}

	var pack Pack
	if err := json.Unmarshal(body, &pack); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidSpec, "failed to decode tool pack", err)
	}
	if pack.ID == "" {
		pack.ID = id
	}

	log.V(1).Info("Fetched tool pack", "id", pack.ID, "functions", len(pack.Functions))
	return &pack, nil
}

func isEmptyPayload(body []byte) bool {
	switch string(bytes.TrimSpace(body)) {
	case "", "{}", "[]", "null":
		return true
	}
	return false
}

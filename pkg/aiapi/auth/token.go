package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
)

const (
	DefaultKeyEnv        = "OPENAI_API_KEY"
	DefaultRefreshPeriod = 60 * time.Second
)

// TokenService manages the API key used for model requests. The key comes
// from a file (re-read periodically so rotated keys are picked up) or, when
// no file is configured, from a static value.
type TokenService struct {
	keyPath       string
	refreshPeriod time.Duration
	token         Secret
	mu            sync.RWMutex
	stopCh        chan struct{}
	stopOnce      sync.Once
	started       bool
}

// NewTokenService creates a TokenService that reads keyPath. An empty keyPath
// means the static key is used as-is.
func NewTokenService(keyPath string, static Secret) *TokenService {
	return &TokenService{
		keyPath:       keyPath,
		refreshPeriod: DefaultRefreshPeriod,
		token:         static,
		stopCh:        make(chan struct{}),
	}
}

// FromEnv builds a static TokenService from the named environment variable.
func FromEnv(name string) *TokenService {
	if name == "" {
		name = DefaultKeyEnv
	}
	return NewTokenService("", NewSecret(strings.TrimSpace(os.Getenv(name))))
}

// Start loads the key and begins the refresh cycle when a key file is set.
// Later calls are no-ops.
func (t *TokenService) Start(ctx context.Context) error {
	if t.keyPath == "" {
		return nil
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	if err := t.refreshToken(); err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeAuthFailed, "failed to load initial token", err)
	}

	log := ctrllog.FromContext(ctx).WithName("token-service")
	ticker := time.NewTicker(t.refreshPeriod)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := t.refreshToken(); err != nil {
					log.Error(err, "failed to refresh token", "path", t.keyPath)
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-t.stopCh:
				ticker.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop stops the refresh cycle. It is safe to call more than once.
func (t *TokenService) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *TokenService) refreshToken() error {
	data, err := os.ReadFile(t.keyPath)
	if err != nil {
		// a missing key file is normal for local development
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	t.mu.Lock()
	t.token = NewSecret(strings.TrimSpace(string(data)))
	t.mu.Unlock()

	return nil
}

// Token returns the current key.
func (t *TokenService) Token() Secret {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// AddHeaders adds authentication headers to an HTTP request
func (t *TokenService) AddHeaders(req *http.Request) {
	AddBearer(req, t.Token())
}

// AddBearer sets the Authorization header when s is non-empty.
func AddBearer(req *http.Request, s Secret) {
	if !s.IsZero() {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.Reveal()))
	}
}

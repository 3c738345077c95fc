// Package aiapi wires sessions, tools, tool packs and the chat dispatcher
// into an application and serves it over HTTP.
package aiapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/aiapi-dev/aiapi/pkg/aiapi/auth"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/chat"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/config"
	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/llm"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/metrics"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/toolpack"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/tools"
)

const AppName = "aiapi"

// Options supplies collaborators that NewApp would otherwise build from the
// configuration.
type Options struct {
	Version        string
	HTTPClient     *http.Client
	Transport      llm.Transport
	Store          session.Store
	TracerProvider trace.TracerProvider
	// KeepAlive overrides KeepAliveInterval for streamed turns.
	KeepAlive time.Duration
}

// App represents the main aiapi application
type App struct {
	Config       *config.Config
	Version      string
	Registry     *tools.Registry
	Packs        *toolpack.Adapter
	Dispatcher   *chat.Dispatcher
	Store        session.Store
	TokenService *auth.TokenService
	Metrics      *metrics.Recorder

	gatherer  prometheus.Gatherer
	router    *mux.Router
	keepAlive time.Duration

	mu       sync.RWMutex
	sessions map[string]*liveSession
}

// liveSession serializes turns on one session.
type liveSession struct {
	turn sync.Mutex
	sess *session.Session
}

// NewApp creates a new aiapi application
func NewApp(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.New(promRegistry)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	transport := opts.Transport
	if transport == nil {
		transport = llm.NewHTTPTransport(httpClient)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	hub := toolpack.NewHub(cfg.Hub.BaseURL, httpClient, nil)
	packs := toolpack.NewAdapter(registry, nil, hub, cfg.AdapterConfig(httpClient, rec))

	dispatcherCfg := cfg.DispatcherConfig(rec)
	dispatcherCfg.TracerProvider = opts.TracerProvider

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = KeepAliveInterval
	}

	return &App{
		Config:       cfg,
		Version:      version,
		Registry:     registry,
		Packs:        packs,
		Dispatcher:   chat.NewDispatcher(transport, registry, packs, dispatcherCfg),
		Store:        opts.Store,
		TokenService: cfg.TokenService(),
		Metrics:      rec,
		gatherer:     promRegistry,
		keepAlive:    keepAlive,
		sessions:     make(map[string]*liveSession),
	}, nil
}

// ResponseHeaderTimeout bounds the wait for a model or endpoint to start
// answering. Streamed bodies are not bounded; callers cancel through ctx.
const ResponseHeaderTimeout = 5 * time.Minute

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = ResponseHeaderTimeout
	return &http.Client{Transport: transport}
}

// Build starts the key source and creates the HTTP server.
func (a *App) Build(ctx context.Context) (*http.Server, error) {
	if err := a.TokenService.Start(ctx); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeAuthFailed, "failed to start token service", err)
	}

	return &http.Server{
		Addr:              a.Config.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
	}, nil
}

// Close stops background work started by Build.
func (a *App) Close() {
	a.TokenService.Stop()
}

// Handler returns the application's HTTP routes.
func (a *App) Handler() http.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.router == nil {
		a.router = mux.NewRouter()
		a.setupRoutes()
	}
	return a.router
}

func (a *App) setupRoutes() {
	a.router.Use(a.logRequests)

	a.router.HandleFunc("/health", a.handleHealth).Methods("GET")
	a.router.HandleFunc("/info", a.handleInfo).Methods("GET")
	a.router.HandleFunc("/tools", a.handleTools).Methods("GET")

	a.router.HandleFunc("/sessions", a.handleListSessions).Methods("GET")
	a.router.HandleFunc("/sessions", a.handleCreateSession).Methods("POST")
	a.router.HandleFunc("/sessions/{id}", a.handleGetSession).Methods("GET")
	a.router.HandleFunc("/sessions/{id}/chat", a.handleChat).Methods("POST")
	a.router.HandleFunc("/sessions/{id}/stream", a.handleStream).Methods("POST")

	a.router.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		ctrllog.FromContext(r.Context()).WithName("http").V(1).Info("Handled request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(started).String())
	})
}

// NewSession creates a session from the configured defaults, applies the
// non-empty fields of req and tracks it as live.
func (a *App) NewSession(ctx context.Context, req CreateSessionRequest) (*session.Session, error) {
	opts := a.Config.SessionOptions(a.TokenService.Token())
	opts.Title = req.Title
	if req.Model != "" {
		opts.Model = req.Model
	}
	if req.System != "" {
		opts.System = req.System
	}
	if req.Params != nil {
		opts.Params = req.Params
	}
	if req.RecentMessages != nil {
		if *req.RecentMessages < 0 {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "recent_messages must not be negative")
		}
		opts.RecentMessages = *req.RecentMessages
	}
	if req.SaveMessages != nil {
		opts.SaveMessages = req.SaveMessages
	}

	sess := session.New(opts)
	a.mu.Lock()
	a.sessions[sess.ID] = &liveSession{sess: sess}
	a.mu.Unlock()

	a.persist(ctx, sess)
	return sess, nil
}

// lookup returns the live session for id, restoring it from the store when
// it is not in memory.
func (a *App) lookup(ctx context.Context, id string) (*liveSession, error) {
	a.mu.RLock()
	live, ok := a.sessions[id]
	a.mu.RUnlock()
	if ok {
		return live, nil
	}

	if a.Store == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	snap, err := a.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if live, ok := a.sessions[id]; ok {
		return live, nil
	}
	live = &liveSession{sess: session.Restore(snap, a.TokenService.Token())}
	a.sessions[id] = live
	return live, nil
}

// Session returns the session for id.
func (a *App) Session(ctx context.Context, id string) (*session.Session, error) {
	live, err := a.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return live.sess, nil
}

func (a *App) persist(ctx context.Context, sess *session.Session) {
	if a.Store == nil {
		return
	}
	if err := a.Store.Save(ctx, sess.Snapshot()); err != nil {
		ctrllog.FromContext(ctx).WithName("app").Error(err, "Failed to save session", "id", sess.ID)
	}
}

// Chat runs one non-streaming turn on the session id.
func (a *App) Chat(ctx context.Context, id string, req ChatRequest) (*chat.Reply, error) {
	live, err := a.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "prompt is required")
	}

	live.turn.Lock()
	defer live.turn.Unlock()

	live.sess.APIKey = a.TokenService.Token()
	reply, err := a.Dispatcher.Generate(ctx, live.sess, req.Prompt, req.options())
	a.persist(ctx, live.sess)
	return reply, err
}

// Stream runs one streaming turn on the session id, passing each content
// fragment to emit.
func (a *App) Stream(ctx context.Context, id string, req ChatRequest, emit func(llm.DeltaEvent) error) (*session.Message, error) {
	live, err := a.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "prompt is required")
	}

	live.turn.Lock()
	defer live.turn.Unlock()

	live.sess.APIKey = a.TokenService.Token()
	msg, err := a.Dispatcher.Stream(ctx, live.sess, req.Prompt, req.options(), emit)
	a.persist(ctx, live.sess)
	return msg, err
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"app":    AppName,
	})
}

func (a *App) handleInfo(w http.ResponseWriter, r *http.Request) {
	packs := []string{}
	for _, p := range a.Packs.Catalog().Packs() {
		packs = append(packs, p.ID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"app_name":  AppName,
		"version":   a.Version,
		"model":     a.Config.Model.Model,
		"api_url":   a.Config.Model.APIURL,
		"hub_url":   a.Config.Hub.BaseURL,
		"max_depth": a.Config.Model.MaxDepth,
		"tools":     len(a.Registry.Names()),
		"packs":     packs,
	})
}

func (a *App) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Registry.Specs())
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if a.Store != nil {
		list, err := a.Store.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	a.mu.RLock()
	list := make([]session.Summary, 0, len(a.sessions))
	for _, live := range a.sessions {
		list = append(list, summarize(live.sess))
	}
	a.mu.RUnlock()
	writeJSON(w, http.StatusOK, list)
}

func (a *App) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := a.NewSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply, err := a.Chat(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:     reply.Text,
		FinishReason: reply.FinishReason,
	})
}

// handleStream answers with server-sent events: one data line per content
// fragment, then data: [DONE]. Idle periods get a keep-alive comment. Errors
// after the response has started are reported as an error event.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := a.lookup(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan chat.StreamEvent)
	go func() {
		defer close(events)
		send := func(ev chat.StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		msg, err := a.Stream(ctx, id, req, func(delta llm.DeltaEvent) error {
			return send(chat.StreamEvent{Delta: &delta})
		})
		if err != nil {
			_ = send(chat.StreamEvent{Err: err})
			return
		}
		_ = send(chat.StreamEvent{Message: msg})
	}()

	flusher, _ := w.(http.Flusher)
	started := false
	write := func(format string, args ...interface{}) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	for item := range withKeepAlive(ctx, events, a.keepAlive) {
		ev := item.Event
		switch {
		case item.KeepAlive:
			if err := write(": keep-alive\n\n"); err != nil {
				return
			}
		case ev.Delta != nil:
			data, err := json.Marshal(ev.Delta)
			if err != nil {
				return
			}
			if err := write("data: %s\n\n", data); err != nil {
				return
			}
		case ev.Err != nil:
			if !started {
				writeError(w, ev.Err)
				return
			}
			data, _ := json.Marshal(errorBody(ev.Err))
			_ = write("event: error\ndata: %s\n\n", data)
			return
		default:
			_ = write("data: [DONE]\n\n")
			return
		}
	}
}

func summarize(sess *session.Session) session.Summary {
	msgs := sess.Messages()
	updated := sess.CreatedAt
	if n := len(msgs); n > 0 {
		updated = msgs[n-1].ReceivedAt
	}
	return session.Summary{
		ID:        sess.ID,
		Title:     sess.Title,
		Model:     sess.Model,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: updated,
		Messages:  len(msgs),
	}
}

// Package metrics exposes Prometheus collectors for model requests, tool
// invocations and remote endpoint calls. A nil *Recorder is valid and
// records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aiapi"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder groups the collectors.
type Recorder struct {
	modelRequests   *prometheus.CounterVec
	modelLatency    *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	endpointCalls   *prometheus.CounterVec
	packsLoaded     prometheus.Counter
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		modelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Chat requests sent to the model endpoint.",
		}, []string{"mode", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_duration_seconds",
			Help:      "Latency of model requests, streams included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by the model endpoint.",
		}, []string{"kind"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations requested by the model.",
		}, []string{"tool", "outcome"}),
		endpointCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_calls_total",
			Help:      "HTTP calls made by remote tool packs.",
		}, []string{"operation", "code"}),
		packsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_packs_loaded_total",
			Help:      "Tool packs registered from the hub or from files.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.modelRequests, r.modelLatency, r.tokens, r.toolInvocations, r.endpointCalls, r.packsLoaded,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ModelRequest records one model exchange.
func (r *Recorder) ModelRequest(mode string, started time.Time, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	r.modelRequests.WithLabelValues(mode, outcome).Inc()
	r.modelLatency.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

// Tokens adds reported usage.
func (r *Recorder) Tokens(prompt, completion int) {
	if r == nil {
		return
	}
	if prompt > 0 {
		r.tokens.WithLabelValues("prompt").Add(float64(prompt))
	}
	if completion > 0 {
		r.tokens.WithLabelValues("completion").Add(float64(completion))
	}
}

// ToolInvocation records a tool run.
func (r *Recorder) ToolInvocation(tool string, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	r.toolInvocations.WithLabelValues(tool, outcome).Inc()
}

// EndpointCall records a remote endpoint response status; 0 means the call
// never got a response.
func (r *Recorder) EndpointCall(operation string, status int) {
	if r == nil {
		return
	}
	r.endpointCalls.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}

// EndpointFailure records a remote endpoint call that could not be made,
// labelled with the error code instead of a status.
func (r *Recorder) EndpointFailure(operation, code string) {
	if r == nil {
		return
	}
	r.endpointCalls.WithLabelValues(operation, code).Inc()
}

// PackLoaded counts a registered tool pack.
func (r *Recorder) PackLoaded() {
	if r == nil {
		return
	}
	r.packsLoaded.Inc()
}

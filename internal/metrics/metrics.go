// ABOUTME: Prometheus instruments for relay turns, run waits, sessions and threads
// ABOUTME: A nil *Recorder is valid and records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_relay"

// Turn outcomes.
const (
	OutcomeReply    = "reply"
	OutcomeError    = "error"
	OutcomeNoThread = "no_thread"
)

// Recorder owns a registry and the relay's instruments.
type Recorder struct {
	registry *prometheus.Registry
	turns    *prometheus.CounterVec
	runWait  prometheus.Histogram
	sessions *prometheus.GaugeVec
	threads  *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns handled, by outcome.",
		}, []string{"outcome"}),
		runWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_wait_seconds",
			Help:      "Time from run creation to terminal status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Connected chat sessions, by frontend.",
		}, []string{"frontend"}),
		threads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_created_total",
			Help:      "Threads created on the agent service, by bootstrap policy.",
		}, []string{"policy"}),
	}
	reg.MustRegister(
		r.turns,
		r.runWait,
		r.sessions,
		r.threads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// TurnFinished counts one turn with the given outcome.
func (r *Recorder) TurnFinished(outcome string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(outcome).Inc()
}

// ObserveRunWait records how long a run took to become terminal.
func (r *Recorder) ObserveRunWait(d time.Duration) {
	if r == nil {
		return
	}
	r.runWait.Observe(d.Seconds())
}

// SessionOpened increments the active session gauge for frontend.
func (r *Recorder) SessionOpened(frontend string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(frontend).Inc()
}

// SessionClosed decrements the active session gauge for frontend.
func (r *Recorder) SessionClosed(frontend string) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(frontend).Dec()
}

// ThreadCreated counts a thread created under policy.
func (r *Recorder) ThreadCreated(policy string) {
	if r == nil {
		return
	}
	r.threads.WithLabelValues(policy).Inc()
}

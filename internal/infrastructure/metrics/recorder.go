// Package metrics exposes orchestrator and connection pool counters to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

const namespace = "opsai"

// Recorder implements ports.MetricsRecorder on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	executions *prometheus.CounterVec
	commands   *prometheus.CounterVec
	reconnects prometheus.Counter
}

// NewRecorder registers the opsai collectors plus the Go and process
// collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions by final or parked status",
		}, []string{"status"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Remote commands by result",
		}, []string{"result"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Visible mid-run reconnect attempts",
		}),
	}
}

// ExecutionFinished counts an execution reaching status.
func (r *Recorder) ExecutionFinished(status domain.ExecutionStatus) {
	r.executions.WithLabelValues(string(status)).Inc()
}

// CommandExecuted counts one remote command.
func (r *Recorder) CommandExecuted(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	r.commands.WithLabelValues(result).Inc()
}

// ReconnectAttempt counts one reconnect attempt.
func (r *Recorder) ReconnectAttempt() {
	r.reconnects.Inc()
}

// ObservePool publishes the number of live pooled sessions.
func (r *Recorder) ObservePool(activeSessions func() int) {
	promauto.With(r.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ssh_sessions_active",
		Help:      "Live pooled SSH sessions",
	}, func() float64 { return float64(activeSessions()) })
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

var _ ports.MetricsRecorder = (*Recorder)(nil)

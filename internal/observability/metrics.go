package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric this process exports
const namespace = "agentic"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionAppendTotal  *prometheus.CounterVec
	sessionAppendLength prometheus.Histogram

	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	stepTotal    *prometheus.CounterVec

	inferenceDuration *prometheus.HistogramVec
	inferenceErrors   *prometheus.CounterVec
	providerCooldown  *prometheus.GaugeVec

	shieldVerdictTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

// collectors accumulates metrics as they are built so they can be
// registered together
type collectors []prometheus.Collector

func (c *collectors) counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
	*c = append(*c, v)
	return v
}

func (c *collectors) gauge(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
	*c = append(*c, v)
	return v
}

func (c *collectors) histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
	*c = append(*c, v)
	return v
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		var c collectors
		m := &moduleMetrics{
			queueSize:    c.gauge("queue", "size", "Tasks waiting per lane kind.", "lane"),
			enqueueTotal: c.counter("queue", "enqueue_total", "Tasks enqueued per lane kind.", "lane"),
			dequeueTotal: c.counter("queue", "dequeue_total", "Tasks finished per lane kind and status.", "lane", "status"),
			taskDuration: c.histogram("queue", "task_duration_seconds", "Task run time per lane kind.", prometheus.DefBuckets, "lane"),

			sessionAppendTotal: c.counter("session", "turn_append_total", "Turns appended to sessions by status.", "status"),

			turnTotal:    c.counter("", "turn_total", "Turns by agent and terminal status.", "agent", "status"),
			turnDuration: c.histogram("", "turn_duration_seconds", "Turn duration by agent.", prometheus.DefBuckets, "agent"),
			stepTotal:    c.counter("", "step_total", "Completed steps by step type.", "step_type"),

			inferenceDuration: c.histogram("inference", "duration_seconds", "Streaming inference duration by provider.", prometheus.DefBuckets, "provider"),
			inferenceErrors:   c.counter("inference", "errors_total", "Inference errors by provider.", "provider"),
			providerCooldown:  c.gauge("inference", "profile_cooldown", "1 while a provider profile is cooling down after failures.", "profile"),

			shieldVerdictTotal: c.counter("shield", "verdict_total", "Shield verdicts by shield type and outcome.", "shield_type", "outcome"),

			toolExecutionTotal:    c.counter("tool", "execution_total", "Tool executions by tool and status.", "tool", "status"),
			toolExecutionDuration: c.histogram("tool", "execution_duration_seconds", "Tool execution duration by tool.", prometheus.DefBuckets, "tool"),
			toolErrorsTotal:       c.counter("tool", "errors_total", "Tool execution errors by tool.", "tool"),

			rpcTotal:    c.counter("gateway", "rpc_total", "Gateway RPC calls by method and outcome.", "method", "outcome"),
			rpcDuration: c.histogram("gateway", "rpc_duration_seconds", "Gateway RPC latency by method.", prometheus.ExponentialBuckets(0.005, 4, 8), "method"),
		}

		m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active", Help: "Sessions held in memory.",
		})
		m.sessionAppendLength = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "turns",
			Help:    "Turns held by a session after an append.",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		})
		c = append(c, m.activeSessions, m.sessionAppendLength)

		prometheus.MustRegister(c...)
		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers the metrics with the default registry once
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry in the Prometheus text format
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordTurnAppend(status string, sessionTurns int) {
	m := getMetrics()
	m.sessionAppendTotal.WithLabelValues(status).Inc()
	m.sessionAppendLength.Observe(float64(sessionTurns))
}

// RecordTurn counts a finished turn under its terminal status
func RecordTurn(agentID, status string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(agentID, status).Inc()
	m.turnDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

func RecordStep(stepType string) {
	getMetrics().stepTotal.WithLabelValues(stepType).Inc()
}

func RecordInference(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.inferenceDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.inferenceErrors.WithLabelValues(provider).Inc()
	}
}

func SetProviderCooldown(profile string, cooling bool) {
	v := 0.0
	if cooling {
		v = 1
	}
	getMetrics().providerCooldown.WithLabelValues(profile).Set(v)
}

func RecordShieldVerdict(shieldType string, violation bool) {
	outcome := "pass"
	if violation {
		outcome = "violation"
	}
	getMetrics().shieldVerdictTotal.WithLabelValues(shieldType, outcome).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// RecordRPC counts one routed call. Outcome is "ok", "replayed" or an error
// code name.
func RecordRPC(method, outcome string, duration time.Duration) {
	m := getMetrics()
	m.rpcTotal.WithLabelValues(method, outcome).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

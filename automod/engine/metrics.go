package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "guardbot_event_duration_sec",
	Help: "Total duration of moderation event processing, including side effects",
}, []string{"kind"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_event_processed",
	Help: "Number of events processed",
}, []string{"kind"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_event_errors",
	Help: "Number of events which failed processing",
}, []string{"kind"})

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_decisions",
	Help: "Number of decisions, by primary action",
}, []string{"action"})

var failOpenCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_fail_open",
	Help: "Number of decisions which allowed because a state lookup failed",
}, []string{"check"})

var sideEffectErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_side_effect_errors",
	Help: "Number of moderation side effects which failed after retries",
}, []string{"effect"})

var cooldownSuppressCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardbot_cooldown_suppressed",
	Help: "Number of repeat actions suppressed by the cooldown guard",
})

var circuitBreakCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_circuit_breaks",
	Help: "Number of actions dropped by a quota circuit breaker",
}, []string{"type"})

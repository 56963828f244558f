package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardbot_commands",
	Help: "Number of admin commands dispatched, by outcome",
}, []string{"name", "outcome"})

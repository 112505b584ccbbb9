// Package metrics defines Parrot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parrot"

// Flush results, used as the "result" label of Flushes.
const (
	FlushOK    = "ok"
	FlushError = "error"
)

// Metrics groups every collector. Construct it with New; the zero value is
// not usable.
type Metrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	LoadErrors    prometheus.Counter
	Sessions      prometheus.Gauge
	SavesSkipped  prometheus.Counter
	Flushes       *prometheus.CounterVec
	MessagesFed   prometheus.Counter
	TrainingRuns  prometheus.Counter
	RepliesSent   prometheus.Counter
	HandlerErrors prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "GetChain calls served from memory.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "GetChain calls that loaded or created a chain.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "load_errors_total",
			Help: "Chain loads that failed to read or decode.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "sessions",
			Help: "Sessions currently held in memory.",
		}),
		SavesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "saves_skipped_total",
			Help: "SaveChain calls absorbed by the countdown.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "flushes_total",
			Help: "Chain writes to the store, by result.",
		}, []string{"result"}),
		MessagesFed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "messages_fed_total",
			Help: "Messages fed into a chain, including training exports.",
		}),
		TrainingRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "training_runs_total",
			Help: "Training exports processed.",
		}),
		RepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "replies_sent_total",
			Help: "Generated replies sent to rooms.",
		}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "handler_errors_total",
			Help: "Message handling failures.",
		}),
	}
	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.LoadErrors, m.Sessions, m.SavesSkipped, m.Flushes,
		m.MessagesFed, m.TrainingRuns, m.RepliesSent, m.HandlerErrors,
	)
	return m
}

// Discard returns collectors registered on a private registry, for callers
// that do not export metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Package metrics exposes the relay's Prometheus collectors. There is no
// concrete usage of prometheus/client_golang elsewhere in the retrieved
// pack to imitate line-by-line (arkeep-io-arkeep carries the dependency
// in go.mod but does not exercise it), so this package follows the
// library's own canonical promauto/promhttp idiom.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JournalAppendFailures counts journal.Append calls that returned an
	// error, across all sessions (no labels).
	JournalAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "journal",
		Name:      "append_failures_total",
		Help:      "Number of journal append calls that failed.",
	})

	// ActiveHubs tracks the number of Session Hubs currently registered in
	// the Hub Manager.
	ActiveHubs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "hub",
		Name:      "active_total",
		Help:      "Number of session hubs currently held by the hub manager.",
	})

	// SlowConsumerDrops counts clients disconnected for failing to drain
	// their outbound queue (spec §5 SLOW_CONSUMER).
	SlowConsumerDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "hub",
		Name:      "slow_consumer_drops_total",
		Help:      "Number of client connections closed for being a slow consumer.",
	})

	// IdlePauses counts sessions paused by the idle reaper.
	IdlePauses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "reaper",
		Name:      "idle_pauses_total",
		Help:      "Number of sessions paused by the idle reaper due to inactivity.",
	})

	// ReconnectAttempts counts client-side reconnect attempts, labeled by
	// outcome.
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "reconnect",
		Name:      "attempts_total",
		Help:      "Number of reconnect attempts by outcome.",
	}, []string{"outcome"})
)

// Handler serves the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

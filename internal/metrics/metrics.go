// Package metrics defines the Prometheus collectors the relay updates while
// it runs:
//
//   - relay_chat_events_total{kind}           – chat events processed (new|edited|deleted)
//   - relay_extractions_total{kind,outcome}   – extraction attempts (signal|reply, ok|none)
//   - relay_trades_distributed_total          – trades pushed to client queues
//   - relay_replies_distributed_total         – signal replies pushed to client queues
//   - relay_queue_retries_total               – Redis operations that needed a retry
//   - relay_sessions_pruned_total             – dead session tokens removed by the janitor
//   - relay_api_requests_total{endpoint,code} – HTTP requests by endpoint and status
//   - relay_chat_feed_connected               – 1 while the chat feed socket is up
//
// Collectors register against the default registry in init() and are served
// by the promhttp handler mounted at /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxChatEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_chat_events_total",
			Help: "Chat events processed, by kind",
		},
		[]string{"kind"},
	)

	mtxExtractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_extractions_total",
			Help: "Extraction attempts by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: signal|reply, outcome: ok|none
	)

	mtxTradesDistributed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_trades_distributed_total",
			Help: "Trades generated and pushed to client pending queues",
		},
	)

	mtxRepliesDistributed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_replies_distributed_total",
			Help: "Signal replies pushed to client pending queues",
		},
	)

	mtxQueueRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_queue_retries_total",
			Help: "Redis operations retried after a transient failure",
		},
	)

	mtxSessionsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_sessions_pruned_total",
			Help: "Dead session tokens pruned from copy-setup indexes",
		},
	)

	mtxAPIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "HTTP requests by endpoint and response code",
		},
		[]string{"endpoint", "code"},
	)

	// relay_chat_feed_connected flips between 0/1 so dashboards can alert on
	// a feed that stays down.
	feedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_chat_feed_connected",
			Help: "Whether the chat feed WebSocket is currently connected",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxChatEvents, mtxExtractions)
	prometheus.MustRegister(mtxTradesDistributed, mtxRepliesDistributed)
	prometheus.MustRegister(mtxQueueRetries, mtxSessionsPruned)
	prometheus.MustRegister(mtxAPIRequests, feedConnected)
}

func IncChatEvent(kind string) { mtxChatEvents.WithLabelValues(kind).Inc() }

func IncExtraction(kind, outcome string) {
	mtxExtractions.WithLabelValues(kind, outcome).Inc()
}

func AddTradesDistributed(n int)  { mtxTradesDistributed.Add(float64(n)) }
func AddRepliesDistributed(n int) { mtxRepliesDistributed.Add(float64(n)) }
func IncQueueRetry()              { mtxQueueRetries.Inc() }
func AddSessionsPruned(n int)     { mtxSessionsPruned.Add(float64(n)) }

func IncAPIRequest(endpoint string, code int) {
	mtxAPIRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func SetFeedConnected(up bool) {
	if up {
		feedConnected.Set(1)
	} else {
		feedConnected.Set(0)
	}
}

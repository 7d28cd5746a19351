package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "minicraft"

// 服务运行期的关键指标（用于监控与调试），通过 /metrics 暴露
var (
	metricSessionsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_online",
		Help:      "Sessions that completed login and hold a player slot.",
	})
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_started_total",
		Help:      "Accepted connections that started a session.",
	})
	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "bytes_sent_total",
		Help:      "Bytes written to clients.",
	})
	metricBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "bytes_received_total",
		Help:      "Bytes read from clients.",
	})
	metricDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "disconnects_total",
		Help:      "Session disconnects by leave reason.",
	}, []string{"reason"})
	metricAbuse = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "abuse_detections_total",
		Help:      "Anti-abuse detector triggers by kind.",
	}, []string{"kind"})
	metricMapTransfers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "map_transfers_total",
		Help:      "Completed world-join map transfers.",
	})
	metricVisibilityPass = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "visibility_pass_seconds",
		Help:      "Duration of one entity visibility pass.",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
	})
	metricWorldTick = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "world_tick_seconds",
		Help:      "Duration of one world block-update tick.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"world"})
	metricBlockUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "block_updates_total",
		Help:      "Block updates applied to world maps.",
	}, []string{"world"})
	metricCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "crashes_total",
		Help:      "Unexpected faults caught at a session or world boundary.",
	})
)

// abuse kinds
const (
	abuseSpeedhack    = "speedhack"
	abuseMovementSpam = "movement_spam"
	abuseChatSpam     = "chat_spam"
	abuseBlockSpam    = "block_spam"
	abuseBadOpcode    = "bad_opcode"
)

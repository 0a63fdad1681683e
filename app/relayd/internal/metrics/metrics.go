package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RelaydMetrics relayd 服务指标
type RelaydMetrics struct {
	// 会话生命周期
	SessionsCreated *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	LiveSessions    prometheus.Gauge

	// 中继路由
	LiveRooms         prometheus.Gauge
	MessagesForwarded *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	FrameBytes        prometheus.Histogram

	// 存储
	TransitionConflicts prometheus.Counter
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *RelaydMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &RelaydMetrics{
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remotectl",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Remote sessions created",
		}, []string{"result"}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remotectl",
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Remote sessions ended by reason",
		}, []string{"reason"}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remotectl",
			Subsystem: "session",
			Name:      "live",
			Help:      "Sessions currently in a non-terminal state",
		}),
		LiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remotectl",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one bound peer",
		}),
		MessagesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remotectl",
			Subsystem: "relay",
			Name:      "messages_forwarded_total",
			Help:      "Envelopes forwarded between peers by type",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remotectl",
			Subsystem: "relay",
			Name:      "messages_dropped_total",
			Help:      "Envelopes dropped (backpressure, unbound peer)",
		}, []string{"reason"}),
		FrameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remotectl",
			Subsystem: "relay",
			Name:      "frame_bytes",
			Help:      "Size of forwarded screenshot frames",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		TransitionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remotectl",
			Subsystem: "store",
			Name:      "transition_conflicts_total",
			Help:      "State transitions lost to a concurrent writer",
		}),
	}

	reg.MustRegister(
		m.SessionsCreated,
		m.SessionsEnded,
		m.LiveSessions,
		m.LiveRooms,
		m.MessagesForwarded,
		m.MessagesDropped,
		m.FrameBytes,
		m.TransitionConflicts,
	)

	return m
}

// Package observability Prometheus 指标
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 客户端使用的全部指标，注册在独立的 Registry 上，便于测试中多次创建
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionState  *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec
	FramesSent       prometheus.Counter
	BytesSent        prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	InboundMessages  *prometheus.CounterVec
	InboundBytes     *prometheus.CounterVec
	StorageErrors    prometheus.Counter
	Recording        prometheus.Gauge
	Recordings       prometheus.Counter
}

// NewMetrics 创建并注册指标
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"to"}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Captured audio frames handed to the network session.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Captured audio bytes handed to the network session.",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Capture periods dropped by reason.",
		}, []string{"reason"}),
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound WebSocket messages by type.",
		}, []string{"type"}),
		InboundBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_bytes_total",
			Help:      "Inbound WebSocket payload bytes by type.",
		}, []string{"type"}),
		StorageErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Failed artifact or control message writes.",
		}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "1 while the microphone is recording.",
		}),
		Recordings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Recordings started.",
		}),
	}
}

// SetConnectionState 将当前状态置1，其余置0
func (m *Metrics) SetConnectionState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
	m.StateTransitions.WithLabelValues(current).Inc()
}

// FrameSent 实现 capture.Observer
func (m *Metrics) FrameSent(bytes int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// FrameDropped 实现 capture.Observer
func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// ObserveInbound 记录一条入站消息
func (m *Metrics) ObserveInbound(kind string, bytes int, failed bool) {
	m.InboundMessages.WithLabelValues(kind).Inc()
	m.InboundBytes.WithLabelValues(kind).Add(float64(bytes))
	if failed {
		m.StorageErrors.Inc()
	}
}

// SetRecording 录音开始或结束
func (m *Metrics) SetRecording(active bool) {
	if active {
		m.Recording.Set(1)
		m.Recordings.Inc()
		return
	}
	m.Recording.Set(0)
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

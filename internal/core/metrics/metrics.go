package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/types"
)

var log = logger.Logger("core/metrics")

// 指标命名空间
const namespace = "ensync"

// 发布结果标签
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultTimeout  = "timeout"
	ResultError    = "error"
)

// 帧方向标签
const (
	DirectionOut = "out"
	DirectionIn  = "in"
)

// Metrics 客户端指标集合
type Metrics struct {
	publishTotal      *prometheus.CounterVec
	publishInFlight   prometheus.Gauge
	deliveriesTotal   *prometheus.CounterVec
	acksTotal         *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	connectionState   prometheus.Gauge
	framesTotal       *prometheus.CounterVec
}

// New 创建指标集合
//
// reg 为 nil 时只创建不注册，指标仍可读取（测试场景）。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish operations by result.",
		}, []string{"result"}),
		publishInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_inflight",
			Help:      "Publish operations currently holding an in-flight slot.",
		}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Inbound event deliveries.",
		}, []string{"opaque"}),
		acksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Acknowledgments sent to the broker by outcome.",
		}, []string{"outcome"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected .. 5 closed).",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Protocol frames by direction and type.",
		}, []string{"direction", "type"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				log.Warn("注册指标失败", "err", err)
			}
		}
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.publishTotal,
		m.publishInFlight,
		m.deliveriesTotal,
		m.acksTotal,
		m.reconnectAttempts,
		m.connectionState,
		m.framesTotal,
	}
}

// PublishStarted 占用在途槽位
func (m *Metrics) PublishStarted() {
	if m == nil {
		return
	}
	m.publishInFlight.Inc()
}

// PublishDone 释放在途槽位并记录结果
func (m *Metrics) PublishDone(result string) {
	if m == nil {
		return
	}
	m.publishInFlight.Dec()
	m.publishTotal.WithLabelValues(result).Inc()
}

// Delivery 记录一次入站投递
func (m *Metrics) Delivery(opaque bool) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(strconv.FormatBool(opaque)).Inc()
}

// Acked 记录一次发往 Broker 的确认
func (m *Metrics) Acked(outcome types.AckOutcome) {
	if m == nil {
		return
	}
	m.acksTotal.WithLabelValues(outcome.String()).Inc()
}

// ReconnectAttempt 记录一次重连尝试
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// SetState 记录连接状态
func (m *Metrics) SetState(state types.ConnState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// Frame 记录一帧
func (m *Metrics) Frame(direction, frameType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction, frameType).Inc()
}

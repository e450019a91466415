package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "artnet2ha"

// Datagram results.
const (
	ResultAccepted     = "accepted"
	ResultRejected     = "rejected"
	ResultFiltered     = "filtered"
	ResultReceiveError = "receive_error"
)

// Suppression reasons and publish error kinds.
const (
	ReasonUnchanged = "unchanged"
	ReasonThrottled = "throttled"

	KindChannel = "channel"
	KindAddress = "address"
)

// Metrics holds the bridge collectors.
type Metrics struct {
	Datagrams        *prometheus.CounterVec
	ChannelPublishes prometheus.Counter
	PublishErrors    *prometheus.CounterVec
	Suppressed       *prometheus.CounterVec
	BridgeState      prometheus.Gauge
}

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Datagrams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_total",
				Help:      "UDP datagrams handled by the Art-Net listener by result",
			},
			[]string{"result"},
		),
		ChannelPublishes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_publishes_total",
				Help:      "DMX channel values handed to MQTT",
			},
		),
		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_errors_total",
				Help:      "Failed MQTT publishes by kind",
			},
			[]string{"kind"},
		),
		Suppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_suppressed_total",
				Help:      "Channel updates suppressed by the publish policy by reason",
			},
			[]string{"reason"},
		),
		BridgeState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_state",
				Help:      "Bridge lifecycle state (0=created, 1=running, 2=stopping, 3=stopped)",
			},
		),
	}
	reg.MustRegister(m.Datagrams, m.ChannelPublishes, m.PublishErrors, m.Suppressed, m.BridgeState)
	return m
}

// NewUnregistered returns collectors that are not exported anywhere.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

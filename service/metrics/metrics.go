package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "consult"

// Collectors implements the gateway's metrics hooks on a private registry.
type Collectors struct {
	reg *prometheus.Registry

	connections      prometheus.Gauge
	onlineIdentities prometheus.Gauge
	roomsActive      prometheus.Gauge
	events           *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	broadcastFrames  prometheus.Counter
	slowConsumers    prometheus.Counter
}

func New() *Collectors {
	c := &Collectors{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections", Help: "Open websocket connections.",
		}),
		onlineIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "online_identities", Help: "Identities with at least one connection.",
		}),
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms_active", Help: "Rooms with at least one joined connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total", Help: "Inbound events by name.",
		}, []string{"event"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mutations_total", Help: "Message mutations by kind and result.",
		}, []string{"kind", "result"}),
		broadcastFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_frames_total", Help: "Frames queued by room broadcasts.",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumers_total", Help: "Connections closed on send queue overflow.",
		}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.connections, c.onlineIdentities, c.roomsActive,
		c.events, c.mutations, c.broadcastFrames, c.slowConsumers,
	)
	return c
}

func (c *Collectors) Registry() *prometheus.Registry { return c.reg }

// Handler 暴露 /metrics
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func (c *Collectors) ConnOpened() { c.connections.Inc() }
func (c *Collectors) ConnClosed() { c.connections.Dec() }

func (c *Collectors) OnlineIdentities(n int) { c.onlineIdentities.Set(float64(n)) }
func (c *Collectors) RoomsActive(n int)      { c.roomsActive.Set(float64(n)) }

// Event 未知事件名统一记为 other，避免标签爆炸
func (c *Collectors) Event(name string) {
	if !knownEvents[name] {
		name = "other"
	}
	c.events.WithLabelValues(name).Inc()
}

func (c *Collectors) Mutation(kind, result string) { c.mutations.WithLabelValues(kind, result).Inc() }

func (c *Collectors) BroadcastFrames(n int) { c.broadcastFrames.Add(float64(n)) }

func (c *Collectors) SlowConsumer() { c.slowConsumers.Inc() }

var knownEvents = map[string]bool{
	"join-room":      true,
	"send-message":   true,
	"edit-message":   true,
	"delete-message": true,
	"typing":         true,
}

package ramses

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors the gateway exposes over its
// debug HTTP surface (see SPEC_FULL.md DOMAIN STACK). Grounded on the
// hmgo example's use of client_golang gauges/counters for runner and
// session state, applied here to QoS and entity-graph state instead.
type Metrics struct {
	commandsQueued     prometheus.Counter
	commandsSent       prometheus.Counter
	commandsRetried    prometheus.Counter
	commandsExpired    prometheus.Counter
	commandsCompleted  prometheus.Counter
	parseErrors        prometheus.Counter
	packetsDropped     prometheus.Counter
	knownDevices       prometheus.Gauge
	inFlightCommands   prometheus.Gauge
}

// NewMetrics constructs and registers the gateway's collectors against
// reg. Pass prometheus.NewRegistry() for test isolation, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "qos", Name: "commands_queued_total",
			Help: "Commands submitted to the QoS engine.",
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "qos", Name: "commands_sent_total",
			Help: "On-wire transmissions, including retries.",
		}),
		commandsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "qos", Name: "commands_retried_total",
			Help: "Retransmissions due to echo/reply timeout.",
		}),
		commandsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "qos", Name: "commands_expired_total",
			Help: "Commands that exhausted their retry budget.",
		}),
		commandsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "qos", Name: "commands_completed_total",
			Help: "Commands that received a matching reply.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "parser", Name: "errors_total",
			Help: "Packets dropped due to a decoder error.",
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ramses", Subsystem: "framer", Name: "packets_dropped_total",
			Help: "Lines dropped for failing structural validation.",
		}),
		knownDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ramses", Subsystem: "graph", Name: "known_devices",
			Help: "Devices currently present in the entity graph.",
		}),
		inFlightCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ramses", Subsystem: "qos", Name: "in_flight_commands",
			Help: "1 if a command is currently in flight, else 0.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.commandsQueued, m.commandsSent, m.commandsRetried,
			m.commandsExpired, m.commandsCompleted, m.parseErrors,
			m.packetsDropped, m.knownDevices, m.inFlightCommands,
		)
	}
	return m
}

// ParseError records a dropped/failed decode.
func (m *Metrics) ParseError() {
	if m != nil {
		m.parseErrors.Inc()
	}
}

// PacketDropped records a framer/validator rejection.
func (m *Metrics) PacketDropped() {
	if m != nil {
		m.packetsDropped.Inc()
	}
}

// SetKnownDevices updates the entity-graph device gauge.
func (m *Metrics) SetKnownDevices(n int) {
	if m != nil {
		m.knownDevices.Set(float64(n))
	}
}

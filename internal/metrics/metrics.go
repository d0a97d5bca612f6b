package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the client collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "groupwatch").
	Namespace string

	// Registry is where collectors are registered.
	// Default: a fresh prometheus.Registry.
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the client collectors. A nil *Metrics records nothing.
type Metrics struct {
	connState          prometheus.Gauge
	reconnectAttempts  prometheus.Counter
	reconnectExhausted prometheus.Counter
	framesReceived     *prometheus.CounterVec
	framesDropped      *prometheus.CounterVec
	actionsSent        *prometheus.CounterVec
	actionsDropped     prometheus.Counter
	suppressedActions  prometheus.Counter
	playbackErrors     prometheus.Counter
	readinessTimeouts  prometheus.Counter
}

func New(opts ...Option) *Metrics {
	config := Config{Namespace: "groupwatch"}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected)",
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after unplanned closures",
		}),
		reconnectExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Sessions that gave up after the reconnect ceiling",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames routed by type",
		}, []string{"type"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason",
		}, []string{"reason"}),
		actionsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "video_actions_sent_total",
			Help:      "Outbound video control frames by action",
		}, []string{"action"}),
		actionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "video_actions_dropped_total",
			Help:      "Local video actions dropped because no connection was open",
		}),
		suppressedActions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "video_actions_suppressed_total",
			Help:      "Local player transitions attributed to remote commands",
		}),
		playbackErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "playback_errors_total",
			Help:      "Programmatic playback starts refused by the player",
		}),
		readinessTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "sync_ready_timeouts_total",
			Help:      "Sync applications forced by the metadata fallback timeout",
		}),
	}
}

func (m *Metrics) SetConnState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) ReconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectExhausted.Inc()
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ActionSent(action string) {
	if m == nil {
		return
	}
	m.actionsSent.WithLabelValues(action).Inc()
}

func (m *Metrics) ActionDropped() {
	if m == nil {
		return
	}
	m.actionsDropped.Inc()
}

func (m *Metrics) ActionSuppressed() {
	if m == nil {
		return
	}
	m.suppressedActions.Inc()
}

func (m *Metrics) PlaybackError() {
	if m == nil {
		return
	}
	m.playbackErrors.Inc()
}

func (m *Metrics) ReadinessTimeout() {
	if m == nil {
		return
	}
	m.readinessTimeouts.Inc()
}

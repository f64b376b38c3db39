package zinguo

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zinguo_login_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)
	tokenPresent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zinguo_token_present",
			Help: "Bearer token held (1=yes, 0=no)",
		},
	)
	pollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zinguo_poll_total",
			Help: "Completed poll cycles by result",
		},
		[]string{"result"},
	)
	pollSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zinguo_poll_skipped_total",
			Help: "Poll ticks dropped because a cycle was still running",
		},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zinguo_poll_duration_seconds",
			Help:    "Poll cycle duration",
			Buckets: prometheus.DefBuckets,
		},
	)
	commandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zinguo_command_total",
			Help: "Control commands by result",
		},
		[]string{"result"},
	)
)

// MetricsCollectors returns the process-wide session and scheduler counters.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginTotal,
		tokenPresent,
		pollTotal,
		pollSkipped,
		pollDuration,
		commandTotal,
	}
}

func recordPoll(outcome PollOutcome) {
	if outcome.OK() {
		pollTotal.WithLabelValues("success").Inc()
		return
	}
	pollTotal.WithLabelValues(Kind(outcome.Err).String()).Inc()
}

func recordCommand(record CommandRecord) {
	if record.Err == nil {
		commandTotal.WithLabelValues("success").Inc()
		return
	}
	commandTotal.WithLabelValues(Kind(record.Err).String()).Inc()
}

// MetricsCollector exports the coordinator's cached device state. It never
// calls the cloud; scrapes read whatever the last cycle published.
type MetricsCollector struct {
	coordinator *Coordinator

	temperature *prometheus.GaugeVec
	online      *prometheus.GaugeVec
	switches    *prometheus.GaugeVec
	comovement  *prometheus.GaugeVec
	lastUpdated *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	success     prometheus.Gauge
}

func NewMetricsCollector(coordinator *Coordinator) *MetricsCollector {
	labels := []string{"mac", "name"}
	return &MetricsCollector{
		coordinator: coordinator,
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zinguo_temperature_celsius",
			Help: "Room temperature reported by the controller",
		}, labels),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zinguo_online_bool",
			Help: "Controller online (1=online, 0=offline)",
		}, labels),
		switches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zinguo_switch_on_bool",
			Help: "Relay state per switch (1=on, 0=off)",
		}, append(labels, "switch")),
		comovement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zinguo_comovement_mode",
			Help: "Linked operation mode code",
		}, labels),
		lastUpdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zinguo_last_updated_timestamp_seconds",
			Help: "Fetch time of the published snapshot (epoch seconds)",
		}, labels),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zinguo_last_success_timestamp_seconds",
			Help: "Last successful poll timestamp (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zinguo_poll_success",
			Help: "Last poll success (1=ok, 0=error)",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.temperature.Describe(ch)
	c.online.Describe(ch)
	c.switches.Describe(ch)
	c.comovement.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.temperature.Reset()
	c.online.Reset()
	c.switches.Reset()
	c.comovement.Reset()
	c.lastUpdated.Reset()

	c.success.Set(boolToFloat(c.coordinator.LastUpdateSuccess()))
	if ts := c.coordinator.LastSuccessAt(); !ts.IsZero() {
		c.lastSuccess.Set(float64(ts.Unix()))
	}

	if snap, ok := c.coordinator.Snapshot(); ok {
		labels := prometheus.Labels{"mac": snap.MAC, "name": snap.Name}
		if snap.Temperature != nil {
			c.temperature.With(labels).Set(*snap.Temperature)
		}
		if snap.Comovement != nil {
			c.comovement.With(labels).Set(float64(*snap.Comovement))
		}
		c.online.With(labels).Set(boolToFloat(snap.Online))
		c.lastUpdated.With(labels).Set(float64(snap.FetchedAt.Unix()))
		for _, key := range SwitchKeys() {
			c.switches.WithLabelValues(snap.MAC, snap.Name, string(key)).Set(boolToFloat(snap.Switch(key)))
		}
	}

	c.temperature.Collect(ch)
	c.online.Collect(ch)
	c.switches.Collect(ch)
	c.comovement.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}

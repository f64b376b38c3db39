package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zinguo_rate_limit_remaining",
		Help: "Requests the upstream reports as remaining in its current window.",
	}, []string{"provider"})
	limitGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zinguo_rate_limit_limit",
		Help: "Window size the upstream reports for its quota.",
	}, []string{"provider"})
	retryAfterGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zinguo_rate_limit_retry_after_seconds",
		Help: "Most recent cooldown imposed by the upstream.",
	}, []string{"provider"})
	lastStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zinguo_rate_limit_last_status_code",
		Help: "HTTP status of the last upstream response.",
	}, []string{"provider"})
	blockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zinguo_rate_limit_blocked_total",
		Help: "Calls refused locally before reaching the upstream.",
	}, []string{"provider", "reason"})
)

// MetricsCollectors returns the package collectors for registration.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{remainingGauge, limitGauge, retryAfterGauge, lastStatusGauge, blockedTotal}
}

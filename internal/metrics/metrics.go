// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Outbound send/edit attempts by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "delivery",
			Name:      "failures_total",
			Help:      "Calls that failed after classification and retries.",
		},
		[]string{"op", "kind"},
	)

	RateLimitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "daily_tasks",
			Subsystem: "delivery",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the outbound rate limiter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	AutoUnsubscribes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "delivery",
			Name:      "auto_unsubscribes_total",
			Help:      "Users unsubscribed after a permanent delivery failure.",
		},
	)

	Reminders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "reminders",
			Name:      "deliveries_total",
			Help:      "Reminder outcomes per recipient.",
		},
		[]string{"outcome"},
	)

	ReminderZones = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "daily_tasks",
			Subsystem: "reminders",
			Name:      "scheduled_zones",
			Help:      "Timezones with an installed daily reminder job.",
		},
	)

	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "progress",
			Name:      "completions_total",
			Help:      "Advance calls by result.",
		},
		[]string{"result"},
	)

	AchievementsUnlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "progress",
			Name:      "achievements_unlocked_total",
			Help:      "Achievements granted.",
		},
	)

	RetentionDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "retention",
			Name:      "deleted_users_total",
			Help:      "Users removed by the retention sweep.",
		},
	)

	Updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "bot",
			Name:      "updates_total",
			Help:      "Inbound updates by kind.",
		},
		[]string{"kind"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daily_tasks",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "daily_tasks",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		DeliveryAttempts,
		DeliveryFailures,
		RateLimitWait,
		AutoUnsubscribes,
		Reminders,
		ReminderZones,
		Completions,
		AchievementsUnlocked,
		RetentionDeleted,
		Updates,
		HTTPRequests,
		HTTPDuration,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

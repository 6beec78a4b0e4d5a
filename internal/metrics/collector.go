package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the bridge's Prometheus metrics on a private registry
// so the /metrics endpoint only exposes what the bridge owns.
type Collector struct {
	registry *prometheus.Registry

	DeviceUp        *prometheus.GaugeVec
	PollFailures    *prometheus.CounterVec
	EventsIngested  *prometheus.CounterVec
	EventsDeduped   *prometheus.CounterVec
	AlarmsActive    *prometheus.GaugeVec
	AlarmTriggers   *prometheus.CounterVec
	DetectionsSaved *prometheus.CounterVec
	WebhookRequests *prometheus.CounterVec
	BusPublishes    *prometheus.CounterVec
	SessionLogins   *prometheus.CounterVec
}

// NewCollector registers every metric family on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.DeviceUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrbridge_device_up",
		Help: "Device link status (1=up, 0=down)",
	}, []string{"instance"})
	reg.MustRegister(c.DeviceUp)

	c.PollFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_poll_failures_total",
		Help: "Failed core poll cycles",
	}, []string{"instance"})
	reg.MustRegister(c.PollFailures)

	c.EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_events_ingested_total",
		Help: "Raw device payloads received, by delivery path",
	}, []string{"instance", "source"})
	reg.MustRegister(c.EventsIngested)

	c.EventsDeduped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_events_deduped_total",
		Help: "Alarms and detections discarded as duplicates",
	}, []string{"instance"})
	reg.MustRegister(c.EventsDeduped)

	c.AlarmsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvrbridge_alarms_active",
		Help: "Alarm machines currently in the active state",
	}, []string{"instance"})
	reg.MustRegister(c.AlarmsActive)

	c.AlarmTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_alarm_triggers_total",
		Help: "Normalized alarm triggers, by type",
	}, []string{"instance", "type"})
	reg.MustRegister(c.AlarmTriggers)

	c.DetectionsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_detections_saved_total",
		Help: "AI detections accepted into the history store, by kind",
	}, []string{"instance", "kind"})
	reg.MustRegister(c.DetectionsSaved)

	c.WebhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_webhook_requests_total",
		Help: "Webhook deliveries, by outcome",
	}, []string{"instance", "outcome"})
	reg.MustRegister(c.WebhookRequests)

	c.BusPublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_bus_publishes_total",
		Help: "NATS publishes, by topic and outcome",
	}, []string{"instance", "topic", "outcome"})
	reg.MustRegister(c.BusPublishes)

	c.SessionLogins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvrbridge_session_logins_total",
		Help: "Digest login attempts against the device, by outcome",
	}, []string{"instance", "outcome"})
	reg.MustRegister(c.SessionLogins)

	return c
}

// Handler serves the registry for Prometheus scrapes.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

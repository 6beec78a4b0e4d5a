// Package bridge wires one NVR instance end to end: vendor session,
// poll coordinator, dual-path event ingest, alarm machines, detection
// history and the outbound event bus.
package bridge

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/alarm"
	"github.com/technosupport/ts-nvr-bridge/internal/bus"
	"github.com/technosupport/ts-nvr-bridge/internal/config"
	"github.com/technosupport/ts-nvr-bridge/internal/data"
	"github.com/technosupport/ts-nvr-bridge/internal/detections"
	"github.com/technosupport/ts-nvr-bridge/internal/event"
	"github.com/technosupport/ts-nvr-bridge/internal/ingest"
	"github.com/technosupport/ts-nvr-bridge/internal/metrics"
	"github.com/technosupport/ts-nvr-bridge/internal/poll"
	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// Publisher is the slice of the event bus the controller needs.
type Publisher interface {
	Publish(instanceID, topic string, payload any) error
}

// Controller runs one NVR instance. It is the ingest.Sink for both the
// webhook and the long-poll checker, so events from either path flow
// through the same dedup, alarm and history pipeline.
type Controller struct {
	instanceID string
	dev        *raysharp.Device
	alarms     *alarm.Set
	store      *detections.Store
	resolver   *detections.Resolver
	coord      *poll.Coordinator
	watchdog   *ingest.Watchdog
	checker    *ingest.Checker
	pub        Publisher
	col        *metrics.Collector
	hub        *Hub
	dedup      *event.Dedup

	hbEvery  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// alarmDedupKeys bounds the alarm dedup window. Alarms are keyed by
// second, so the window only needs to cover delivery jitter.
const (
	alarmDedupKeys = 2048
	alarmDedupTTL  = 10 * time.Second

	heartbeatInterval = 60 * time.Second
	enrichTimeout     = 30 * time.Second
)

// NewController builds the full pipeline for one configured instance.
// pushAddr and pushPort are where the device should POST event pushes.
func NewController(ctx context.Context, inst config.Instance, tun config.Tunables, db data.DBTX,
	pub Publisher, col *metrics.Collector, hub *Hub, pushAddr string, pushPort int) (*Controller, error) {

	client := raysharp.NewClient(inst.Host, inst.Port, inst.Username, inst.Password,
		&http.Client{Timeout: tun.DeviceTimeout()})
	if inst.HTTPS {
		client.UseTLS()
	}
	client.SetLoginHook(func(success bool) {
		outcome := "ok"
		if !success {
			outcome = "error"
		}
		col.SessionLogins.WithLabelValues(inst.ID, outcome).Inc()
	})
	dev := raysharp.NewDevice(client)

	c := &Controller{
		instanceID: inst.ID,
		dev:        dev,
		pub:        pub,
		col:        col,
		hub:        hub,
		dedup:      event.NewDedup(alarmDedupKeys, alarmDedupTTL),
		hbEvery:    heartbeatInterval,
		stop:       make(chan struct{}),
	}

	c.alarms = alarm.NewSet(inst.ID, tun.AlarmReset(), c.onTransition)
	c.resolver = detections.NewResolver(dev)

	store, err := detections.NewStore(ctx, inst.ID, db, detections.Options{
		Retention:   tun.Retention(),
		CapPerKind:  tun.DetectionCapPerKind,
		FlushDelay:  tun.FlushDelay(),
		PlateWindow: tun.PlateWindow(),
	})
	if err != nil {
		return nil, err
	}
	c.store = store

	c.watchdog = ingest.NewWatchdog(inst.ID, dev, "ts-nvr-bridge", pushAddr, pushPort,
		"/webhook/"+inst.ID, tun.PushReassert())

	c.coord = poll.New(inst.ID, dev, poll.Config{Interval: tun.PollInterval()},
		c.onChannels, c.onLink)

	c.checker = ingest.NewChecker(inst.ID, dev, c)
	return c, nil
}

// Start launches the poll loop, the long-poll checker and the session
// keepalive.
func (c *Controller) Start() {
	c.coord.Start()
	c.checker.Start()
	c.wg.Add(1)
	go c.heartbeatLoop()
}

// heartbeatLoop pings the device session on a fixed cadence so it does
// not idle out between poll cycles. Failures are left to the next Call
// to recover via re-login.
func (c *Controller) heartbeatLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.hbEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.dev.Client().Heartbeat(ctx); err != nil {
				log.Printf("[DEBUG] bridge: %s: heartbeat: %v", c.instanceID, err)
			}
			cancel()
		}
	}
}

// Stop shuts the instance down: loops first, then a final history flush
// and a best-effort device logout.
func (c *Controller) Stop(ctx context.Context) {
	c.checker.Stop()
	c.coord.Stop()
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	c.alarms.Clear()
	if err := c.store.Close(ctx); err != nil {
		log.Printf("[ERROR] bridge: %s: close store: %v", c.instanceID, err)
	}
	c.dev.Client().Logout(ctx)
}

func (c *Controller) InstanceID() string       { return c.instanceID }
func (c *Controller) Device() *raysharp.Device { return c.dev }
func (c *Controller) Alarms() *alarm.Set       { return c.alarms }
func (c *Controller) Store() *detections.Store { return c.store }
func (c *Controller) PollState() poll.State    { return c.coord.State() }
func (c *Controller) Hub() *Hub                { return c.hub }

func (c *Controller) RunPollCycle(ctx context.Context) { c.coord.RunCycle(ctx) }

// PushConfigured reports whether the device-side push target was ever
// confirmed to point at this bridge.
func (c *Controller) PushConfigured() bool { return c.watchdog.Configured() }

// ForceEventPush rewrites the device push target immediately.
func (c *Controller) ForceEventPush(ctx context.Context) error { return c.watchdog.Force(ctx) }

// ApplyTunables hot-applies the reloadable knobs.
func (c *Controller) ApplyTunables(tun config.Tunables) {
	c.alarms.SetResetAfter(tun.AlarmReset())
	c.coord.SetInterval(tun.PollInterval())
	c.watchdog.SetRate(tun.PushReassert())
	c.store.SetOptions(detections.Options{
		Retention:   tun.Retention(),
		CapPerKind:  tun.DetectionCapPerKind,
		FlushDelay:  tun.FlushDelay(),
		PlateWindow: tun.PlateWindow(),
	})
	log.Printf("[DEBUG] bridge: %s: tunables applied (instance and server changes need a restart)", c.instanceID)
}

// IngestPayload feeds one raw device payload through the pipeline. Both
// delivery paths land here; dedup collapses double deliveries. Returns an
// error only when the payload is not valid JSON, so the webhook can answer
// 400 and the checker can log the drop.
func (c *Controller) IngestPayload(source string, raw []byte) error {
	c.col.EventsIngested.WithLabelValues(c.instanceID, source).Inc()

	now := time.Now()
	parsed, err := event.Parse(raw, now)
	if err != nil {
		log.Printf("[WARN] bridge: %s: malformed payload from %s: %v", c.instanceID, source, err)
		return err
	}

	for _, a := range parsed.Alarms {
		key := event.DedupKey(c.instanceID, a.Channel, a.Type, a.OccurredAt)
		if c.dedup.Seen(key) {
			c.col.EventsDeduped.WithLabelValues(c.instanceID).Inc()
			continue
		}
		c.col.AlarmTriggers.WithLabelValues(c.instanceID, string(a.Type)).Inc()
		c.alarms.Trigger(a.Channel, a.Type, a.OccurredAt)
	}

	for _, d := range parsed.Detections {
		if !c.store.Add(d) {
			c.col.EventsDeduped.WithLabelValues(c.instanceID).Inc()
			continue
		}
		c.col.DetectionsSaved.WithLabelValues(c.instanceID, string(d.Kind)).Inc()
		// Registry lookups go to the device and must not hold up the
		// delivery path, so enrichment and fan-out happen off-thread.
		c.wg.Add(1)
		go c.finishDetection(d)
	}
	return nil
}

// finishDetection enriches one stored detection from the device registry
// and fans it out to NATS and the live stream.
func (c *Controller) finishDetection(d event.Detection) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	before := d
	c.resolver.Enrich(ctx, &d)
	if d != before {
		c.store.Update(d)
	}

	c.publish(bus.TopicSnapshot, d)
	c.hub.Broadcast(Event{
		Instance:  c.instanceID,
		Topic:     bus.TopicSnapshot,
		Time:      d.ReceivedAt,
		Detection: &d,
	})
}

// onTransition is the alarm set listener: every edge goes to NATS and the
// live stream.
func (c *Controller) onTransition(tr alarm.Transition) {
	c.col.AlarmsActive.WithLabelValues(c.instanceID).Set(float64(c.alarms.ActiveCount()))
	c.publish(bus.TopicAlarm, tr)
	c.hub.Broadcast(Event{
		Instance: c.instanceID,
		Topic:    bus.TopicAlarm,
		Time:     time.Now(),
		Alarm:    &tr,
	})
}

// onChannels fires after each successful poll cycle with the fresh
// channel table.
func (c *Controller) onChannels(channels []raysharp.Channel) {
	ids := make([]int, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	c.alarms.RegisterChannels(ids)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.watchdog.Ensure(ctx)
	if err := c.store.Prune(ctx); err != nil {
		log.Printf("[ERROR] bridge: %s: prune: %v", c.instanceID, err)
	}
}

func (c *Controller) onLink(online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	c.col.DeviceUp.WithLabelValues(c.instanceID).Set(v)
	if !online {
		c.col.PollFailures.WithLabelValues(c.instanceID).Inc()
	}
	c.publish(bus.TopicLink, map[string]any{"online": online, "at": time.Now()})
	c.hub.Broadcast(Event{
		Instance: c.instanceID,
		Topic:    bus.TopicLink,
		Time:     time.Now(),
		Online:   &online,
	})
}

func (c *Controller) publish(topic string, payload any) {
	outcome := "ok"
	if err := c.pub.Publish(c.instanceID, topic, payload); err != nil {
		outcome = "error"
		log.Printf("[ERROR] bridge: %s: publish %s: %v", c.instanceID, topic, err)
	}
	c.col.BusPublishes.WithLabelValues(c.instanceID, topic, outcome).Inc()
}

package poll

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// Device is the slice of the vendor API the coordinator drives.
type Device interface {
	DeviceInfo(ctx context.Context) (raysharp.DeviceInfo, error)
	Channels(ctx context.Context) ([]raysharp.Channel, error)
	SystemInfo(ctx context.Context) (json.RawMessage, error)
	NetworkState(ctx context.Context) (json.RawMessage, error)
	RecordInfo(ctx context.Context) (json.RawMessage, error)
	Disks(ctx context.Context) ([]raysharp.DiskInfo, error)
	AlarmConfig(ctx context.Context, kind raysharp.AlarmKind) (json.RawMessage, error)
	Disarming(ctx context.Context) (json.RawMessage, error)
	EventPush(ctx context.Context) (raysharp.EventPushConfig, error)
	VhdLogCount(ctx context.Context, from, to time.Time) (raysharp.VhdCounts, error)
}

// State is the latest polled view of one device. API reads serve from
// this snapshot instead of hitting the device per request.
type State struct {
	Online              bool                                   `json:"online"`
	ConsecutiveFailures int                                    `json:"consecutive_failures"`
	LastSuccessAt       time.Time                              `json:"last_success_at,omitempty"`
	LastAttemptAt       time.Time                              `json:"last_attempt_at,omitempty"`
	LastError           string                                 `json:"last_error,omitempty"`
	DeviceInfo          raysharp.DeviceInfo                    `json:"device_info"`
	Channels            []raysharp.Channel                     `json:"channels"`
	Disks               []raysharp.DiskInfo                    `json:"disks,omitempty"`
	SystemInfo          json.RawMessage                        `json:"system_info,omitempty"`
	NetworkState        json.RawMessage                        `json:"network_state,omitempty"`
	RecordInfo          json.RawMessage                        `json:"record_info,omitempty"`
	Disarming           json.RawMessage                        `json:"disarming,omitempty"`
	EventPush           raysharp.EventPushConfig               `json:"event_push"`
	VhdCounts           raysharp.VhdCounts                     `json:"vhd_counts"`
	AlarmConfigs        map[raysharp.AlarmKind]json.RawMessage `json:"alarm_configs,omitempty"`
	UpdatedAt           time.Time                              `json:"updated_at"`
}

// Config tunes the coordinator.
type Config struct {
	Interval time.Duration
	// FailThreshold is how many consecutive failed cycles mark the
	// device link down.
	FailThreshold int
	// TimeBudget bounds one full cycle.
	TimeBudget time.Duration
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 3
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = 25 * time.Second
	}
}

// Coordinator runs the periodic device poll in three tiers. The core tier
// (identity, channels, system state) decides link health and logs at WARN
// when it fails; alarm configuration and AI counters are best effort and
// only log at DEBUG.
type Coordinator struct {
	instanceID string
	dev        Device
	cfg        Config

	// onChannels fires after every successful channel refresh.
	onChannels func([]raysharp.Channel)
	// onLink fires on every link up/down edge.
	onLink func(online bool)

	mu       sync.RWMutex
	state    State
	interval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a coordinator. onChannels and onLink may be nil.
func New(instanceID string, dev Device, cfg Config, onChannels func([]raysharp.Channel), onLink func(bool)) *Coordinator {
	cfg.withDefaults()
	if onChannels == nil {
		onChannels = func([]raysharp.Channel) {}
	}
	if onLink == nil {
		onLink = func(bool) {}
	}
	return &Coordinator{
		instanceID: instanceID,
		dev:        dev,
		cfg:        cfg,
		interval:   cfg.Interval,
		onChannels: onChannels,
		onLink:     onLink,
		stopChan:   make(chan struct{}),
	}
}

// SetInterval changes the poll interval, taking effect after the current
// wait elapses.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
}

func (c *Coordinator) currentInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// Start runs one immediate cycle and then polls on the configured
// interval until Stop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.RunCycle(context.Background())
		for {
			select {
			case <-c.stopChan:
				return
			case <-time.After(c.currentInterval()):
				c.RunCycle(context.Background())
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

// State returns the latest snapshot.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RunCycle executes one full poll cycle. Exported so webhooks and API
// commands can force a refresh outside the timer.
func (c *Coordinator) RunCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TimeBudget)
	defer cancel()

	next := c.State()
	next.LastAttemptAt = time.Now()

	if err := c.pollCore(ctx, &next); err != nil {
		next.ConsecutiveFailures++
		next.LastError = err.Error()
		log.Printf("[WARN] poll: %s: core poll failed (%d consecutive): %v",
			c.instanceID, next.ConsecutiveFailures, err)
		c.commit(next)
		return
	}

	next.ConsecutiveFailures = 0
	next.LastError = ""
	next.LastSuccessAt = time.Now()

	c.pollAlarmConfigs(ctx, &next)
	c.pollAI(ctx, &next)

	next.UpdatedAt = time.Now()
	c.commit(next)
	c.onChannels(next.Channels)
}

// pollCore fetches the tier that defines link health. The first failure
// aborts the cycle; the vendor client already retried once on a session
// expiry, so an error here means the device is really unhappy.
func (c *Coordinator) pollCore(ctx context.Context, next *State) error {
	info, err := c.dev.DeviceInfo(ctx)
	if err != nil {
		return err
	}
	next.DeviceInfo = info

	channels, err := c.dev.Channels(ctx)
	if err != nil {
		return err
	}
	next.Channels = channels

	if next.SystemInfo, err = c.dev.SystemInfo(ctx); err != nil {
		return err
	}
	if next.NetworkState, err = c.dev.NetworkState(ctx); err != nil {
		return err
	}
	if next.RecordInfo, err = c.dev.RecordInfo(ctx); err != nil {
		return err
	}
	if next.Disks, err = c.dev.Disks(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) pollAlarmConfigs(ctx context.Context, next *State) {
	configs := make(map[raysharp.AlarmKind]json.RawMessage)
	for _, kind := range []raysharp.AlarmKind{
		raysharp.AlarmKindMotion, raysharp.AlarmKindIO, raysharp.AlarmKindException,
		raysharp.AlarmKindPIR, raysharp.AlarmKindFD, raysharp.AlarmKindLCD,
		raysharp.AlarmKindPID, raysharp.AlarmKindSOD,
	} {
		raw, err := c.dev.AlarmConfig(ctx, kind)
		if err != nil {
			log.Printf("[DEBUG] poll: %s: alarm config %s: %v", c.instanceID, kind, err)
			continue
		}
		configs[kind] = raw
	}
	if len(configs) > 0 {
		next.AlarmConfigs = configs
	}

	if raw, err := c.dev.Disarming(ctx); err == nil {
		next.Disarming = raw
	} else {
		log.Printf("[DEBUG] poll: %s: disarming: %v", c.instanceID, err)
	}
	if push, err := c.dev.EventPush(ctx); err == nil {
		next.EventPush = push
	} else {
		log.Printf("[DEBUG] poll: %s: event push: %v", c.instanceID, err)
	}
}

// pollAI fetches today's detection counters. Skipped entirely when no
// channel carries an AI engine.
func (c *Coordinator) pollAI(ctx context.Context, next *State) {
	hasAI := false
	for _, ch := range next.Channels {
		if ch.Ability != "" {
			hasAI = true
			break
		}
	}
	if !hasAI {
		return
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	counts, err := c.dev.VhdLogCount(ctx, midnight, now)
	if err != nil {
		log.Printf("[DEBUG] poll: %s: vhd count: %v", c.instanceID, err)
		return
	}
	next.VhdCounts = counts
}

// commit stores the snapshot and fires the link edge callback when the
// online flag flips.
func (c *Coordinator) commit(next State) {
	online := !next.LastSuccessAt.IsZero() && next.ConsecutiveFailures < c.cfg.FailThreshold

	c.mu.Lock()
	wasOnline := c.state.Online
	next.Online = online
	c.state = next
	c.mu.Unlock()

	if online != wasOnline {
		if online {
			log.Printf("[DEBUG] poll: %s: link up", c.instanceID)
		} else {
			log.Printf("[ERROR] poll: %s: link down after %d consecutive failures",
				c.instanceID, next.ConsecutiveFailures)
		}
		c.onLink(online)
	}
}

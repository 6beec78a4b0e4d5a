package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// pushConfigurer is the slice of the device API the watchdog needs.
type pushConfigurer interface {
	EventPush(ctx context.Context) (raysharp.EventPushConfig, error)
	ConfigureEventPush(ctx context.Context, name, addr string, port int, url string) error
}

// Watchdog keeps the device's EventPush target pointed at this bridge.
// Users and other integrations can overwrite the push table from the
// device UI, so the target is re-checked on every poll cycle but
// rewritten at most once per rate window to avoid fighting a human.
type Watchdog struct {
	instanceID string
	dev        pushConfigurer

	name string
	addr string
	port int
	url  string

	mu         sync.Mutex
	rate       time.Duration
	lastWrite  time.Time
	configured bool
}

// NewWatchdog builds a watchdog that enforces addr:port/url as the push
// target. rate <= 0 defaults to 5 minutes.
func NewWatchdog(instanceID string, dev pushConfigurer, name, addr string, port int, url string, rate time.Duration) *Watchdog {
	if rate <= 0 {
		rate = 5 * time.Minute
	}
	return &Watchdog{
		instanceID: instanceID,
		dev:        dev,
		name:       name,
		addr:       addr,
		port:       port,
		url:        url,
		rate:       rate,
	}
}

// SetRate changes the rewrite rate window.
func (w *Watchdog) SetRate(rate time.Duration) {
	if rate <= 0 {
		return
	}
	w.mu.Lock()
	w.rate = rate
	w.mu.Unlock()
}

// Ensure checks the device-side push table and rewrites it when it does
// not point at the bridge. Returns true when a write happened.
func (w *Watchdog) Ensure(ctx context.Context) bool {
	current, err := w.dev.EventPush(ctx)
	if err != nil {
		log.Printf("[DEBUG] ingest: %s: event push read: %v", w.instanceID, err)
		return false
	}
	if w.matches(current) {
		w.mu.Lock()
		w.configured = true
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	if time.Since(w.lastWrite) < w.rate {
		w.mu.Unlock()
		return false
	}
	w.lastWrite = time.Now()
	w.mu.Unlock()

	if err := w.dev.ConfigureEventPush(ctx, w.name, w.addr, w.port, w.url); err != nil {
		log.Printf("[WARN] ingest: %s: event push configure: %v", w.instanceID, err)
		return false
	}
	log.Printf("[DEBUG] ingest: %s: event push -> http://%s:%d%s", w.instanceID, w.addr, w.port, w.url)
	w.mu.Lock()
	w.configured = true
	w.mu.Unlock()
	return true
}

// Force writes the push target immediately, bypassing the rate window.
// Used by the manual configure command.
func (w *Watchdog) Force(ctx context.Context) error {
	if err := w.dev.ConfigureEventPush(ctx, w.name, w.addr, w.port, w.url); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastWrite = time.Now()
	w.configured = true
	w.mu.Unlock()
	return nil
}

// Configured reports whether the push target was ever confirmed correct.
func (w *Watchdog) Configured() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.configured
}

func (w *Watchdog) matches(c raysharp.EventPushConfig) bool {
	return c.Enable &&
		c.Addr == w.addr &&
		c.Port == w.port &&
		c.URL == w.url &&
		c.PushWay == "HTTP" &&
		c.Method == "POST"
}

package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// eventPoller is the slice of the device API the checker needs.
type eventPoller interface {
	EventCheck(ctx context.Context, readerID string, sequence, lap int64) (raysharp.EventCheckResult, error)
}

// Checker backoff and failure policy.
const (
	checkerBaseDelay = 2 * time.Second
	checkerMaxDelay  = 60 * time.Second
	// checkerDropAfter is how many consecutive transient errors discard
	// the subscription cursor. Some firmwares wedge a reader and only a
	// fresh subscribe recovers it.
	checkerDropAfter = 5
)

// Checker runs the Event Check long-poll loop. The device assigns a
// reader id on the first call; sequence and lap_number form the resume
// cursor. Auth failures resubscribe immediately (the reader died with the
// session); transient failures back off 1.5x up to a minute.
type Checker struct {
	instanceID string
	dev        eventPoller
	sink       Sink

	mu        sync.Mutex
	readerID  string
	sequence  int64
	lap       int64
	transient int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker builds a long-poll checker delivering payloads to sink.
func NewChecker(instanceID string, dev eventPoller, sink Sink) *Checker {
	return &Checker{
		instanceID: instanceID,
		dev:        dev,
		sink:       sink,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the loop.
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts the loop and waits for the in-flight poll to return.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *Checker) run() {
	defer c.wg.Done()
	delay := checkerBaseDelay

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ok := c.pollOnce()
		if ok {
			delay = checkerBaseDelay
			continue
		}

		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * 1.5)
		if delay > checkerMaxDelay {
			delay = checkerMaxDelay
		}
	}
}

// pollOnce issues one Event Check call and reports whether it succeeded.
func (c *Checker) pollOnce() bool {
	c.mu.Lock()
	readerID, seq, lap := c.readerID, c.sequence, c.lap
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	res, err := c.dev.EventCheck(ctx, readerID, seq, lap)
	cancel()

	if err != nil {
		if errors.Is(err, raysharp.ErrAuth) {
			// The reader belongs to the dead session.
			log.Printf("[DEBUG] ingest: %s: event check auth lost, resubscribing", c.instanceID)
			c.resetCursor()
			return false
		}
		c.mu.Lock()
		c.transient++
		dropped := c.transient >= checkerDropAfter
		if dropped {
			c.readerID = ""
			c.sequence, c.lap = 0, 0
			c.transient = 0
		}
		c.mu.Unlock()
		if dropped {
			log.Printf("[WARN] ingest: %s: event check wedged, dropping subscription", c.instanceID)
		} else {
			log.Printf("[DEBUG] ingest: %s: event check: %v", c.instanceID, err)
		}
		return false
	}

	c.mu.Lock()
	c.readerID = res.ReaderID
	c.sequence = res.Sequence
	c.lap = res.LapNumber
	c.transient = 0
	c.mu.Unlock()

	if len(res.Payload) > 0 {
		if err := c.sink.IngestPayload(SourceEventPoll, res.Payload); err != nil {
			log.Printf("[DEBUG] ingest: %s: dropped undecodable poll payload: %v", c.instanceID, err)
		}
	}
	return true
}

func (c *Checker) resetCursor() {
	c.mu.Lock()
	c.readerID = ""
	c.sequence, c.lap = 0, 0
	c.transient = 0
	c.mu.Unlock()
}

package alarm

import (
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/event"
)

// State is the binary alarm condition for one (channel, type) pair.
type State struct {
	Channel   int             `json:"channel"`
	Type      event.AlarmType `json:"alarm_type"`
	Active    bool            `json:"active"`
	Since     time.Time       `json:"since,omitempty"`
	LastFired time.Time       `json:"last_fired,omitempty"`
	Count     int64           `json:"count"`
}

// Transition describes one observable state change pushed to listeners.
type Transition struct {
	State
	// Reset is true when the transition came from the auto-reset timer
	// rather than a fresh trigger.
	Reset bool `json:"reset"`
}

// Listener receives transitions. Called outside the machine lock.
type Listener func(Transition)

// machine tracks one (channel, type) pair. Each trigger re-arms the reset
// timer; the pair stays active until resetAfter elapses with no triggers.
type machine struct {
	channel int
	typ     event.AlarmType

	mu       sync.Mutex
	active   bool
	since    time.Time
	last     time.Time
	count    int64
	deadline time.Time
	timer    *time.Timer
}

// Set owns the machines of one device instance. Machines for every
// (channel, type) combination are created up front when channels are
// registered, so state reads never allocate and unknown pairs are
// distinguishable from inactive ones.
type Set struct {
	instanceID string
	listener   Listener

	mu         sync.RWMutex
	resetAfter time.Duration
	machines   map[key]*machine
}

type key struct {
	channel int
	typ     event.AlarmType
}

// NewSet builds an empty machine set. resetAfter is how long an alarm
// stays active after its last trigger.
func NewSet(instanceID string, resetAfter time.Duration, listener Listener) *Set {
	if listener == nil {
		listener = func(Transition) {}
	}
	return &Set{
		instanceID: instanceID,
		resetAfter: resetAfter,
		listener:   listener,
		machines:   make(map[key]*machine),
	}
}

// RegisterChannels pre-creates inactive machines for every alarm type on
// the given channels. Safe to call repeatedly as the channel table
// refreshes; existing machines keep their state.
func (s *Set) RegisterChannels(channels []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		for _, t := range event.AllAlarmTypes {
			k := key{channel: ch, typ: t}
			if _, ok := s.machines[k]; !ok {
				s.machines[k] = &machine{channel: ch, typ: t}
			}
		}
	}
}

// SetResetAfter changes the reset window. Applies to future triggers;
// already-armed timers keep their deadline.
func (s *Set) SetResetAfter(d time.Duration) {
	s.mu.Lock()
	s.resetAfter = d
	s.mu.Unlock()
}

// Trigger activates the (channel, type) machine and re-arms its reset
// timer. Triggers for unregistered channels create the machine on the fly
// so webhook events racing the first channel poll are not dropped.
func (s *Set) Trigger(channel int, t event.AlarmType, at time.Time) {
	s.mu.Lock()
	resetAfter := s.resetAfter
	k := key{channel: channel, typ: t}
	m, ok := s.machines[k]
	if !ok {
		m = &machine{channel: channel, typ: t}
		s.machines[k] = m
	}
	s.mu.Unlock()

	m.mu.Lock()
	wasActive := m.active
	m.count++
	m.last = at
	if !m.active {
		m.active = true
		m.since = at
	}
	deadline := time.Now().Add(resetAfter)
	m.deadline = deadline
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(resetAfter, func() { s.expire(m, deadline) })
	state := m.snapshotLocked()
	m.mu.Unlock()

	if !wasActive {
		log.Printf("[DEBUG] alarm: %s CH%d %s active", s.instanceID, channel, t)
		s.listener(Transition{State: state})
	}
}

// expire fires when a reset timer elapses. The deadline check discards
// stale timers that lost a race with a newer trigger.
func (s *Set) expire(m *machine, deadline time.Time) {
	m.mu.Lock()
	if !m.active || !m.deadline.Equal(deadline) {
		m.mu.Unlock()
		return
	}
	m.active = false
	state := m.snapshotLocked()
	m.mu.Unlock()

	log.Printf("[DEBUG] alarm: %s CH%d %s reset", s.instanceID, m.channel, m.typ)
	s.listener(Transition{State: state, Reset: true})
}

// Clear deactivates every machine immediately, firing reset transitions
// for the ones that were active.
func (s *Set) Clear() {
	s.mu.RLock()
	machines := make([]*machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.RUnlock()

	for _, m := range machines {
		m.mu.Lock()
		if !m.active {
			m.mu.Unlock()
			continue
		}
		m.active = false
		if m.timer != nil {
			m.timer.Stop()
		}
		state := m.snapshotLocked()
		m.mu.Unlock()
		s.listener(Transition{State: state, Reset: true})
	}
}

// State returns the state of one pair. ok is false when the pair was
// never registered or triggered.
func (s *Set) State(channel int, t event.AlarmType) (State, bool) {
	s.mu.RLock()
	m, ok := s.machines[key{channel: channel, typ: t}]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), true
}

// Snapshot returns the state of every machine in unspecified order;
// callers sort as needed.
func (s *Set) Snapshot() []State {
	s.mu.RLock()
	machines := make([]*machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.RUnlock()

	out := make([]State, 0, len(machines))
	for _, m := range machines {
		m.mu.Lock()
		out = append(out, m.snapshotLocked())
		m.mu.Unlock()
	}
	return out
}

// ActiveCount reports how many machines are currently active.
func (s *Set) ActiveCount() int {
	n := 0
	for _, st := range s.Snapshot() {
		if st.Active {
			n++
		}
	}
	return n
}

func (m *machine) snapshotLocked() State {
	return State{
		Channel:   m.channel,
		Type:      m.typ,
		Active:    m.active,
		Since:     m.since,
		LastFired: m.last,
		Count:     m.count,
	}
}

package bridge

import (
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/alarm"
	"github.com/technosupport/ts-nvr-bridge/internal/event"
)

// Event is one entry on the live stream: an alarm transition, a stored
// detection or a link edge, tagged with the instance it came from.
type Event struct {
	Instance  string            `json:"instance"`
	Topic     string            `json:"topic"`
	Time      time.Time         `json:"time"`
	Alarm     *alarm.Transition `json:"alarm,omitempty"`
	Detection *event.Detection  `json:"detection,omitempty"`
	Online    *bool             `json:"online,omitempty"`
}

// Hub fans events out to websocket subscribers. Slow subscribers lose
// events rather than blocking the ingest path.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]string
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]string)}
}

// Subscribe registers a listener for one instance's events, or all of
// them when instanceID is empty. The returned cancel must be called.
func (h *Hub) Subscribe(instanceID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[ch] = instanceID
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// Broadcast delivers e to every matching subscriber without blocking.
func (h *Hub) Broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch, want := range h.subs {
		if want != "" && want != e.Instance {
			continue
		}
		select {
		case ch <- e:
		default:
		}
	}
}

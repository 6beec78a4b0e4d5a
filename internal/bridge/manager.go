package bridge

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/technosupport/ts-nvr-bridge/internal/config"
	"github.com/technosupport/ts-nvr-bridge/internal/data"
	"github.com/technosupport/ts-nvr-bridge/internal/metrics"
)

// Manager owns one controller per configured instance.
type Manager struct {
	controllers map[string]*Controller
	order       []string
	hub         *Hub
}

// NewManager builds a controller for every instance in cfg. The push
// target handed to each watchdog comes from server.public_url.
func NewManager(ctx context.Context, cfg *config.Config, db data.DBTX, pub Publisher, col *metrics.Collector) (*Manager, error) {
	pushAddr, pushPort, err := splitPushTarget(cfg.Server.PublicURL)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		controllers: make(map[string]*Controller, len(cfg.Instances)),
		hub:         NewHub(),
	}
	for _, inst := range cfg.Instances {
		ctrl, err := NewController(ctx, inst, cfg.Tunables, db, pub, col, m.hub, pushAddr, pushPort)
		if err != nil {
			return nil, fmt.Errorf("bridge: instance %s: %w", inst.ID, err)
		}
		m.controllers[inst.ID] = ctrl
		m.order = append(m.order, inst.ID)
	}
	sort.Strings(m.order)
	return m, nil
}

// splitPushTarget parses "host:port" into the address the NVR should
// push to.
func splitPushTarget(publicURL string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(publicURL)
	if err != nil {
		return "", 0, fmt.Errorf("bridge: server.public_url %q must be host:port: %w", publicURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bridge: server.public_url port %q: %w", portStr, err)
	}
	return host, port, nil
}

// Start launches every controller.
func (m *Manager) Start() {
	for _, id := range m.order {
		m.controllers[id].Start()
	}
}

// Stop shuts every controller down.
func (m *Manager) Stop(ctx context.Context) {
	for _, id := range m.order {
		m.controllers[id].Stop(ctx)
	}
}

// Get returns the controller for one instance.
func (m *Manager) Get(instanceID string) (*Controller, bool) {
	c, ok := m.controllers[instanceID]
	return c, ok
}

// List returns the controllers in stable id order.
func (m *Manager) List() []*Controller {
	out := make([]*Controller, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.controllers[id])
	}
	return out
}

// Hub returns the shared live event hub.
func (m *Manager) Hub() *Hub { return m.hub }

// ApplyTunables hot-applies reloaded tunables to every controller.
func (m *Manager) ApplyTunables(tun config.Tunables) {
	for _, id := range m.order {
		m.controllers[id].ApplyTunables(tun)
	}
}

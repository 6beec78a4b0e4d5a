package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: ":9090"
  jwt_secret: "hunter2"
bus:
  url: "nats://127.0.0.1:4222"
database:
  path: "/var/lib/nvrbridge/bridge.db"
instances:
  - id: "front"
    host: "192.168.1.50"
    username: "admin"
    password: "secret"
  - id: "back"
    host: "192.168.1.51"
    port: 8000
    username: "admin"
    password: "secret"
tunables:
  alarm_reset_seconds: 45
  retention_days: 14
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	require.Len(t, cfg.Instances, 2)
	assert.Equal(t, 80, cfg.Instances[0].Port, "port defaults to 80")
	assert.Equal(t, 8000, cfg.Instances[1].Port)
	assert.Equal(t, 45*time.Second, cfg.Tunables.AlarmReset())
	assert.Equal(t, 14*24*time.Hour, cfg.Tunables.Retention())
	assert.Equal(t, 30*time.Second, cfg.Tunables.PollInterval(), "unset tunables default")
	assert.Equal(t, "nvrbridge", cfg.Bus.SubjectPrefix)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	_, err := Load(writeConfig(t, `
instances:
  - id: "a"
    host: "h"
    username: "u"
`))
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestLoadRejectsDuplicateInstanceIDs(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  jwt_secret: "s"
instances:
  - id: "a"
    host: "h1"
    username: "u"
  - id: "a"
    host: "h2"
    username: "u"
`))
	assert.ErrorContains(t, err, "duplicate instance id")
}

func TestLoadRejectsNoInstances(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  jwt_secret: "s"
`))
	assert.ErrorContains(t, err, "no instances")
}

func TestWatcherReloadsTunables(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Tunables, 4)
	StartWatcher(ctx, path, func(tun Tunables) { got <- tun })

	updated := sampleYAML + "\n" // touch content so mtime and bytes change
	updated += "# note\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case tun := <-got:
		assert.Equal(t, 45, tun.AlarmResetSeconds)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not deliver reloaded tunables")
	}
}

func TestWatcherKeepsTunablesOnBrokenFile(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Tunables, 4)
	StartWatcher(ctx, path, func(tun Tunables) { got <- tun })

	require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0o644))

	select {
	case <-got:
		t.Fatal("broken file must not produce a reload")
	case <-time.After(500 * time.Millisecond):
	}
}

package poll

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

type fakeDevice struct {
	mu       sync.Mutex
	coreErr  error
	aiErr    error
	channels []raysharp.Channel
	counts   raysharp.VhdCounts
	aiCalls  int
}

func (f *fakeDevice) setCoreErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coreErr = err
}

func (f *fakeDevice) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coreErr
}

func (f *fakeDevice) DeviceInfo(ctx context.Context) (raysharp.DeviceInfo, error) {
	if err := f.err(); err != nil {
		return raysharp.DeviceInfo{}, err
	}
	return raysharp.DeviceInfo{DeviceName: "nvr-01", MacAddr: "aa:bb"}, nil
}

func (f *fakeDevice) Channels(ctx context.Context) ([]raysharp.Channel, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.channels, nil
}

func (f *fakeDevice) SystemInfo(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), f.err()
}

func (f *fakeDevice) NetworkState(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), f.err()
}

func (f *fakeDevice) RecordInfo(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), f.err()
}

func (f *fakeDevice) Disks(ctx context.Context) ([]raysharp.DiskInfo, error) {
	return nil, f.err()
}

func (f *fakeDevice) AlarmConfig(ctx context.Context, kind raysharp.AlarmKind) (json.RawMessage, error) {
	return json.RawMessage(`{"enabled":true}`), nil
}

func (f *fakeDevice) Disarming(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *fakeDevice) EventPush(ctx context.Context) (raysharp.EventPushConfig, error) {
	return raysharp.EventPushConfig{Enable: true}, nil
}

func (f *fakeDevice) VhdLogCount(ctx context.Context, from, to time.Time) (raysharp.VhdCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aiCalls++
	if f.aiErr != nil {
		return raysharp.VhdCounts{}, f.aiErr
	}
	return f.counts, nil
}

func aiChannels() []raysharp.Channel {
	return []raysharp.Channel{{ID: 1, Name: "Yard", Online: true, Ability: "fd,lpd"}}
}

func TestCycleSuccess(t *testing.T) {
	dev := &fakeDevice{channels: aiChannels(), counts: raysharp.VhdCounts{Plates: 3}}
	var gotChannels []raysharp.Channel
	c := New("nvr-01", dev, Config{}, func(chs []raysharp.Channel) { gotChannels = chs }, nil)

	c.RunCycle(context.Background())

	st := c.State()
	assert.True(t, st.Online)
	assert.Equal(t, "nvr-01", st.DeviceInfo.DeviceName)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, 3, st.VhdCounts.Plates)
	assert.Len(t, st.AlarmConfigs, 8)
	require.Len(t, gotChannels, 1)
	assert.Equal(t, "Yard", gotChannels[0].Name)
}

func TestLinkDownAfterThreshold(t *testing.T) {
	dev := &fakeDevice{channels: aiChannels()}
	var edges []bool
	c := New("nvr-01", dev, Config{FailThreshold: 3}, nil, func(online bool) { edges = append(edges, online) })

	c.RunCycle(context.Background())
	require.True(t, c.State().Online)

	dev.setCoreErr(errors.New("boom"))
	c.RunCycle(context.Background())
	assert.True(t, c.State().Online, "one failure is not a link loss")
	c.RunCycle(context.Background())
	assert.True(t, c.State().Online)
	c.RunCycle(context.Background())
	assert.False(t, c.State().Online, "third consecutive failure drops the link")
	assert.Equal(t, 3, c.State().ConsecutiveFailures)
	assert.Equal(t, []bool{true, false}, edges)
}

func TestLinkRecovers(t *testing.T) {
	dev := &fakeDevice{channels: aiChannels()}
	var edges []bool
	c := New("nvr-01", dev, Config{FailThreshold: 2}, nil, func(online bool) { edges = append(edges, online) })

	dev.setCoreErr(errors.New("boom"))
	c.RunCycle(context.Background())
	c.RunCycle(context.Background())
	require.False(t, c.State().Online)

	dev.setCoreErr(nil)
	c.RunCycle(context.Background())

	st := c.State()
	assert.True(t, st.Online)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
	assert.Equal(t, []bool{false, true}, edges)
}

func TestNeverReachedStaysOffline(t *testing.T) {
	dev := &fakeDevice{coreErr: errors.New("unreachable")}
	c := New("nvr-01", dev, Config{FailThreshold: 5}, nil, nil)

	c.RunCycle(context.Background())
	assert.False(t, c.State().Online, "no success yet means offline regardless of threshold")
}

func TestAISkippedWithoutAbility(t *testing.T) {
	dev := &fakeDevice{channels: []raysharp.Channel{{ID: 1, Name: "Plain"}}}
	c := New("nvr-01", dev, Config{}, nil, nil)

	c.RunCycle(context.Background())
	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Zero(t, dev.aiCalls)
}

func TestAIFailureIsBestEffort(t *testing.T) {
	dev := &fakeDevice{channels: aiChannels(), aiErr: errors.New("ai down")}
	c := New("nvr-01", dev, Config{}, nil, nil)

	c.RunCycle(context.Background())

	st := c.State()
	assert.True(t, st.Online, "AI tier failures never drop the link")
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestStartStop(t *testing.T) {
	dev := &fakeDevice{channels: aiChannels()}
	c := New("nvr-01", dev, Config{Interval: 10 * time.Millisecond}, nil, nil)

	c.Start()
	require.Eventually(t, func() bool { return c.State().Online }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop() // idempotent
}

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

type fakeEventPoller struct {
	mu      sync.Mutex
	results []func(readerID string, seq, lap int64) (raysharp.EventCheckResult, error)
	calls   []struct {
		readerID string
		seq, lap int64
	}
}

func (f *fakeEventPoller) push(fn func(readerID string, seq, lap int64) (raysharp.EventCheckResult, error)) {
	f.results = append(f.results, fn)
}

func (f *fakeEventPoller) EventCheck(ctx context.Context, readerID string, seq, lap int64) (raysharp.EventCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		readerID string
		seq, lap int64
	}{readerID, seq, lap})
	if len(f.results) == 0 {
		return raysharp.EventCheckResult{}, errors.New("no more scripted results")
	}
	fn := f.results[0]
	f.results = f.results[1:]
	return fn(readerID, seq, lap)
}

type captureSink struct {
	mu       sync.Mutex
	payloads []string
	sources  []string
}

func (s *captureSink) IngestPayload(source string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, source)
	s.payloads = append(s.payloads, string(raw))
	return nil
}

func TestCheckerTracksCursor(t *testing.T) {
	dev := &fakeEventPoller{}
	sink := &captureSink{}
	c := NewChecker("nvr-01", dev, sink)

	dev.push(func(readerID string, seq, lap int64) (raysharp.EventCheckResult, error) {
		assert.Empty(t, readerID, "first call subscribes fresh")
		return raysharp.EventCheckResult{ReaderID: "rdr-1", Sequence: 5, LapNumber: 1, Payload: []byte(`{"a":1}`)}, nil
	})
	dev.push(func(readerID string, seq, lap int64) (raysharp.EventCheckResult, error) {
		assert.Equal(t, "rdr-1", readerID)
		assert.EqualValues(t, 5, seq)
		assert.EqualValues(t, 1, lap)
		return raysharp.EventCheckResult{ReaderID: "rdr-1", Sequence: 6, LapNumber: 1, Payload: []byte(`{"a":2}`)}, nil
	})

	require.True(t, c.pollOnce())
	require.True(t, c.pollOnce())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, sink.payloads)
	assert.Equal(t, []string{SourceEventPoll, SourceEventPoll}, sink.sources)
}

func TestCheckerResubscribesOnAuthError(t *testing.T) {
	dev := &fakeEventPoller{}
	c := NewChecker("nvr-01", dev, &captureSink{})

	dev.push(func(string, int64, int64) (raysharp.EventCheckResult, error) {
		return raysharp.EventCheckResult{ReaderID: "rdr-1", Sequence: 3, LapNumber: 0}, nil
	})
	dev.push(func(string, int64, int64) (raysharp.EventCheckResult, error) {
		return raysharp.EventCheckResult{}, raysharp.ErrAuth
	})
	dev.push(func(readerID string, seq, lap int64) (raysharp.EventCheckResult, error) {
		assert.Empty(t, readerID, "auth loss discards the reader")
		assert.Zero(t, seq)
		return raysharp.EventCheckResult{ReaderID: "rdr-2"}, nil
	})

	require.True(t, c.pollOnce())
	require.False(t, c.pollOnce())
	require.True(t, c.pollOnce())
}

func TestCheckerDropsWedgedSubscription(t *testing.T) {
	dev := &fakeEventPoller{}
	c := NewChecker("nvr-01", dev, &captureSink{})

	dev.push(func(string, int64, int64) (raysharp.EventCheckResult, error) {
		return raysharp.EventCheckResult{ReaderID: "rdr-1", Sequence: 9}, nil
	})
	for i := 0; i < checkerDropAfter; i++ {
		dev.push(func(string, int64, int64) (raysharp.EventCheckResult, error) {
			return raysharp.EventCheckResult{}, errors.New("timeout")
		})
	}
	dev.push(func(readerID string, seq, lap int64) (raysharp.EventCheckResult, error) {
		assert.Empty(t, readerID, "wedged subscription is dropped after repeated failures")
		return raysharp.EventCheckResult{ReaderID: "rdr-2"}, nil
	})

	require.True(t, c.pollOnce())
	for i := 0; i < checkerDropAfter-1; i++ {
		require.False(t, c.pollOnce())
		// Cursor survives early transient errors.
		dev.mu.Lock()
		last := dev.calls[len(dev.calls)-1]
		dev.mu.Unlock()
		assert.Equal(t, "rdr-1", last.readerID)
	}
	require.False(t, c.pollOnce(), "threshold failure drops the cursor")
	require.True(t, c.pollOnce())
}

func TestCheckerEmptyPayloadNotDelivered(t *testing.T) {
	dev := &fakeEventPoller{}
	sink := &captureSink{}
	c := NewChecker("nvr-01", dev, sink)

	dev.push(func(string, int64, int64) (raysharp.EventCheckResult, error) {
		return raysharp.EventCheckResult{ReaderID: "rdr-1"}, nil
	})
	require.True(t, c.pollOnce())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.payloads)
}

package detections

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr-bridge/internal/data"
	"github.com/technosupport/ts-nvr-bridge/internal/event"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := data.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T, db *sql.DB, opts Options) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), "nvr-01", db, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func plateDetection(plate string, at time.Time) event.Detection {
	return event.Detection{
		ID:          uuid.New(),
		Kind:        event.AlarmPlate,
		Channel:     1,
		PlateNumber: plate,
		ListType:    event.ListUnknown,
		SnapID:      uuid.NewString(),
		OccurredAt:  at,
		ReceivedAt:  at,
	}
}

func faceDetection(name string, at time.Time) event.Detection {
	return event.Detection{
		ID:         uuid.New(),
		Kind:       event.AlarmFace,
		Channel:    2,
		FaceName:   name,
		ListType:   event.ListUnknown,
		SnapID:     uuid.NewString(),
		OccurredAt: at,
		ReceivedAt: at,
	}
}

func TestAddAndQuery(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{})
	now := time.Now()

	require.True(t, s.Add(plateDetection("A123BC77", now)))
	require.True(t, s.Add(faceDetection("Ivan", now)))

	got, err := s.Query(context.Background(), data.DetectionFilter{Kind: event.AlarmPlate})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A123BC77", got[0].PlateNumber)
}

func TestAddRejectsExactDuplicate(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{})
	now := time.Now()

	d := plateDetection("A123BC77", now)
	require.True(t, s.Add(d))

	dup := d
	dup.ID = uuid.New()
	dup.DedupKey = ""
	// Same SnapID yields the same dedup key.
	assert.False(t, s.Add(dup))
}

func TestAddRejectsSimilarPlateInWindow(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{PlateWindow: time.Minute})
	now := time.Now()

	require.True(t, s.Add(plateDetection("A123BC77", now)))
	// OCR misread of the same plate seconds later.
	assert.False(t, s.Add(plateDetection("A123BK77", now.Add(5*time.Second))))
	// Cyrillic rendering of the same plate.
	assert.False(t, s.Add(plateDetection("А123ВС77", now.Add(10*time.Second))))
	// Different vehicle passes.
	assert.True(t, s.Add(plateDetection("E555KX99", now.Add(15*time.Second))))
}

func TestSimilarPlateAcceptedAfterWindow(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{PlateWindow: 20 * time.Millisecond})
	now := time.Now()

	require.True(t, s.Add(plateDetection("A123BC77", now)))
	assert.True(t, s.Add(plateDetection("A123BC77", now.Add(time.Minute))),
		"same plate after the window is a new pass")
}

func TestFlushDebounce(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{FlushDelay: 25 * time.Millisecond})
	m := data.DetectionModel{DB: db}

	require.True(t, s.Add(faceDetection("Ivan", time.Now())))

	got, err := m.Query(context.Background(), "nvr-01", data.DetectionFilter{})
	require.NoError(t, err)
	assert.Empty(t, got, "row stays in memory until the debounce fires")

	require.Eventually(t, func() bool {
		got, err := m.Query(context.Background(), "nvr-01", data.DetectionFilter{})
		return err == nil && len(got) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCounts24h(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{})
	now := time.Now()

	require.True(t, s.Add(plateDetection("A123BC77", now)))
	require.True(t, s.Add(plateDetection("B777OP99", now.Add(-2*time.Hour))))
	require.True(t, s.Add(plateDetection("C001CC01", now.Add(-30*time.Hour))))
	require.True(t, s.Add(faceDetection("Ivan", now)))

	counts, err := s.Counts24h(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[event.AlarmPlate])
	assert.Equal(t, 1, counts[event.AlarmFace])
	assert.Equal(t, 0, counts[event.AlarmPerson])
}

func TestClearByKind(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{})
	now := time.Now()

	require.True(t, s.Add(plateDetection("A123BC77", now)))
	require.True(t, s.Add(faceDetection("Ivan", now)))
	require.NoError(t, s.Flush(context.Background()))

	_, err := s.Clear(context.Background(), event.AlarmPlate)
	require.NoError(t, err)

	got, err := s.Query(context.Background(), data.DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event.AlarmFace, got[0].Kind)

	// The similarity window resets with the plate history.
	assert.True(t, s.Add(plateDetection("A123BC99", now.Add(time.Second))))
}

func TestDedupSurvivesRestart(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	s1, err := NewStore(ctx, "nvr-01", db, Options{})
	require.NoError(t, err)
	d := faceDetection("Ivan", now)
	require.True(t, s1.Add(d))
	require.NoError(t, s1.Close(ctx))

	s2, err := NewStore(ctx, "nvr-01", db, Options{})
	require.NoError(t, err)
	defer s2.Close(ctx)

	dup := d
	dup.ID = uuid.New()
	dup.DedupKey = ""
	assert.False(t, s2.Add(dup), "dedup index warm-starts from persisted rows")
}

func TestCapEnforcedOnFlush(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{CapPerKind: 3})
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 6; i++ {
		require.True(t, s.Add(faceDetection("f", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Flush(context.Background()))

	got, err := s.Query(context.Background(), data.DetectionFilter{Kind: event.AlarmFace})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.WithinDuration(t, base.Add(5*time.Minute), got[0].OccurredAt, time.Second)
}

func TestUpdateMergesEnrichment(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{})
	now := time.Now()

	d := plateDetection("A123BC77", now)
	require.True(t, s.Add(d))

	d.Owner = "Ivan"
	d.ListType = event.ListAllowed
	d.ListTypeLabel = event.ListAllowed.Label()
	s.Update(d)

	got, err := s.Query(context.Background(), data.DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ivan", got[0].Owner)
	assert.Equal(t, event.ListAllowed, got[0].ListType)
	assert.Equal(t, "Разрешённые", got[0].ListTypeLabel)
}

func TestQueryHidesExpiredRows(t *testing.T) {
	db := openTestDB(t)
	s := newTestStore(t, db, Options{Retention: time.Hour})

	require.True(t, s.Add(plateDetection("A123BC77", time.Now().Add(-2*time.Hour))))

	// The load-time sweep just ran, so the delete is debounced; the query
	// window clamp must hide the stale row anyway.
	got, err := s.Query(context.Background(), data.DetectionFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	m := data.DetectionModel{DB: db}
	rows, err := m.Query(context.Background(), "nvr-01", data.DetectionFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "row still on disk until the next sweep")
}

func TestPruneDeletesExpiredRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := newTestStore(t, db, Options{Retention: time.Hour})

	require.True(t, s.Add(plateDetection("A123BC77", time.Now().Add(-2*time.Hour))))
	require.True(t, s.Add(plateDetection("E555KX99", time.Now())))
	require.NoError(t, s.Flush(ctx))

	meta := data.InstanceMetaModel{DB: db}
	require.NoError(t, meta.SetLastPrunedAt(ctx, "nvr-01", time.Now().Add(-time.Hour)))
	require.NoError(t, s.Prune(ctx))

	m := data.DetectionModel{DB: db}
	rows, err := m.Query(ctx, "nvr-01", data.DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "E555KX99", rows[0].PlateNumber)
}

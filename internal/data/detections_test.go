package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr-bridge/internal/event"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newDetection(kind event.AlarmType, channel int, occurredAt time.Time) event.Detection {
	d := event.Detection{
		ID:         uuid.New(),
		Kind:       kind,
		Channel:    channel,
		ChannelRef: fmt.Sprintf("CH%d", channel),
		ListType:   event.ListUnknown,
		OccurredAt: occurredAt,
		ReceivedAt: occurredAt,
	}
	d.DedupKey = event.DetectionKey("nvr-01", d) + "|" + d.ID.String()
	return d
}

func TestUpsertAndQuery(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()

	d := newDetection(event.AlarmPlate, 3, time.Now().Add(-time.Hour))
	d.PlateNumber = "A123BC77"
	d.GrpID = 1
	d.ListType = event.ListAllowed
	d.ListTypeLabel = event.ListAllowed.Label()
	require.NoError(t, m.Upsert(ctx, "nvr-01", d))

	got, err := m.Query(ctx, "nvr-01", DetectionFilter{Kind: event.AlarmPlate})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, "A123BC77", got[0].PlateNumber)
	assert.Equal(t, event.ListAllowed, got[0].ListType)
	assert.Equal(t, "Разрешённые", got[0].ListTypeLabel)
	assert.Equal(t, 3, got[0].Channel)
	assert.WithinDuration(t, d.OccurredAt, got[0].OccurredAt, time.Second)
}

func TestUpsertRefreshesEnrichment(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()

	d := newDetection(event.AlarmPlate, 1, time.Now())
	d.PlateNumber = "B777OP99"
	require.NoError(t, m.Upsert(ctx, "nvr-01", d))

	d.Owner = "Ivan"
	d.CarBrand = "Lada"
	d.ListType = event.ListAllowed
	d.ListTypeLabel = event.ListAllowed.Label()
	require.NoError(t, m.Upsert(ctx, "nvr-01", d))

	got, err := m.Query(ctx, "nvr-01", DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1, "same dedup key must not duplicate")
	assert.Equal(t, "Ivan", got[0].Owner)
	assert.Equal(t, "Lada", got[0].CarBrand)
	assert.Equal(t, "Разрешённые", got[0].ListTypeLabel)
}

func TestQueryFilters(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmPlate, 1, base)))
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 1, base.Add(time.Hour))))
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 2, base.Add(90*time.Minute))))
	require.NoError(t, m.Upsert(ctx, "nvr-02", newDetection(event.AlarmFace, 1, base)))

	got, err := m.Query(ctx, "nvr-01", DetectionFilter{Kind: event.AlarmFace})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got[0].OccurredAt.After(got[1].OccurredAt), "newest first")

	got, err = m.Query(ctx, "nvr-01", DetectionFilter{Channel: 2})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = m.Query(ctx, "nvr-01", DetectionFilter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = m.Query(ctx, "nvr-01", DetectionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCountSince(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 1, now.Add(-30*time.Hour))))
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 1, now.Add(-2*time.Hour))))
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 1, now.Add(-time.Hour))))

	n, err := m.CountSince(ctx, "nvr-01", event.AlarmFace, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPruneBefore(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmPlate, 1, now.AddDate(0, 0, -40))))
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmPlate, 1, now.AddDate(0, 0, -10))))

	pruned, err := m.PruneBefore(ctx, "nvr-01", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	got, err := m.Query(ctx, "nvr-01", DetectionFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEnforceCapKeepsNewest(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 1, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmPlate, 1, base)))

	deleted, err := m.EnforceCap(ctx, "nvr-01", event.AlarmFace, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 6, deleted)

	got, err := m.Query(ctx, "nvr-01", DetectionFilter{Kind: event.AlarmFace})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.WithinDuration(t, base.Add(9*time.Minute), got[0].OccurredAt, time.Second)

	got, err = m.Query(ctx, "nvr-01", DetectionFilter{Kind: event.AlarmPlate})
	require.NoError(t, err)
	assert.Len(t, got, 1, "cap is per kind")
}

func TestClear(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmFace, 1, now)))
	require.NoError(t, m.Upsert(ctx, "nvr-01", newDetection(event.AlarmPlate, 1, now)))

	n, err := m.Clear(ctx, "nvr-01", event.AlarmFace)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = m.Clear(ctx, "nvr-01", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRecentDedupKeys(t *testing.T) {
	db := openTestDB(t)
	m := DetectionModel{DB: db}
	ctx := context.Background()
	now := time.Now()

	old := newDetection(event.AlarmFace, 1, now.Add(-48*time.Hour))
	old.ReceivedAt = now.Add(-48 * time.Hour)
	recent := newDetection(event.AlarmFace, 1, now)
	require.NoError(t, m.Upsert(ctx, "nvr-01", old))
	require.NoError(t, m.Upsert(ctx, "nvr-01", recent))

	keys, err := m.RecentDedupKeys(ctx, "nvr-01", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, recent.DedupKey, keys[0])
}

func TestInstanceMeta(t *testing.T) {
	db := openTestDB(t)
	m := InstanceMetaModel{DB: db}
	ctx := context.Background()

	got, err := m.LastPrunedAt(ctx, "nvr-01")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	at := time.Now().Truncate(time.Second)
	require.NoError(t, m.SetLastPrunedAt(ctx, "nvr-01", at))
	got, err = m.LastPrunedAt(ctx, "nvr-01")
	require.NoError(t, err)
	assert.WithinDuration(t, at, got, time.Second)

	at2 := at.Add(time.Hour)
	require.NoError(t, m.SetLastPrunedAt(ctx, "nvr-01", at2))
	got, err = m.LastPrunedAt(ctx, "nvr-01")
	require.NoError(t, err)
	assert.WithinDuration(t, at2, got, time.Second)
}

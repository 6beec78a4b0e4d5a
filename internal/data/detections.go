package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr-bridge/internal/event"
)

// DetectionModel persists enrichable AI detections per bridge instance.
type DetectionModel struct {
	DB DBTX
}

const detectionColumns = `id, instance_id, kind, channel, channel_ref, snap_id,
	plate_number, car_brand, car_type, car_color, owner,
	face_id, face_name, similarity, grp_id, list_type, list_type_label, image,
	occurred_at, received_at, dedup_key`

// Upsert inserts a detection, or refreshes its enrichable fields when the
// same dedup key was already stored. The batch persist path replays the
// in-memory store on every flush, so conflicts are the normal case.
func (m DetectionModel) Upsert(ctx context.Context, instanceID string, d event.Detection) error {
	query := `
		INSERT INTO detections (` + detectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, dedup_key) DO UPDATE SET
			plate_number    = excluded.plate_number,
			car_brand       = excluded.car_brand,
			car_type        = excluded.car_type,
			car_color       = excluded.car_color,
			owner           = excluded.owner,
			face_name       = excluded.face_name,
			similarity      = excluded.similarity,
			grp_id          = excluded.grp_id,
			list_type       = excluded.list_type,
			list_type_label = excluded.list_type_label`

	_, err := m.DB.ExecContext(ctx, query,
		d.ID.String(), instanceID, string(d.Kind), d.Channel, d.ChannelRef, d.SnapID,
		d.PlateNumber, d.CarBrand, d.CarType, d.CarColor, d.Owner,
		d.FaceID, d.FaceName, d.Similarity, d.GrpID, string(d.ListType), d.ListTypeLabel, d.Image,
		d.OccurredAt.UTC(), d.ReceivedAt.UTC(), d.DedupKey,
	)
	return err
}

// DetectionFilter narrows Query results. Zero values mean "any".
type DetectionFilter struct {
	Kind    event.AlarmType
	Channel int
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Query returns detections newest first.
func (m DetectionModel) Query(ctx context.Context, instanceID string, f DetectionFilter) ([]event.Detection, error) {
	where := "WHERE instance_id = ?"
	args := []any{instanceID}

	if f.Kind != "" {
		where += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	if f.Channel > 0 {
		where += " AND channel = ?"
		args = append(args, f.Channel)
	}
	if !f.Since.IsZero() {
		where += " AND occurred_at >= ?"
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		where += " AND occurred_at < ?"
		args = append(args, f.Until.UTC())
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT %s FROM detections
		%s
		ORDER BY occurred_at DESC, id
		LIMIT ?`, detectionColumns, where)
	args = append(args, limit)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDetection(rows *sql.Rows) (event.Detection, error) {
	var d event.Detection
	var id, kind, listType string
	var instanceID string
	err := rows.Scan(
		&id, &instanceID, &kind, &d.Channel, &d.ChannelRef, &d.SnapID,
		&d.PlateNumber, &d.CarBrand, &d.CarType, &d.CarColor, &d.Owner,
		&d.FaceID, &d.FaceName, &d.Similarity, &d.GrpID, &listType, &d.ListTypeLabel, &d.Image,
		&d.OccurredAt, &d.ReceivedAt, &d.DedupKey,
	)
	if err != nil {
		return event.Detection{}, err
	}
	d.ID, err = uuid.Parse(id)
	if err != nil {
		return event.Detection{}, fmt.Errorf("data: bad detection id %q: %w", id, err)
	}
	d.Kind = event.AlarmType(kind)
	d.ListType = event.ListType(listType)
	d.OccurredAt = d.OccurredAt.Local()
	d.ReceivedAt = d.ReceivedAt.Local()
	return d, nil
}

// CountSince reports how many detections of one kind occurred at or after
// since. Used for the rolling 24h aggregates.
func (m DetectionModel) CountSince(ctx context.Context, instanceID string, kind event.AlarmType, since time.Time) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM detections WHERE instance_id = ? AND kind = ? AND occurred_at >= ?`,
		instanceID, string(kind), since.UTC(),
	).Scan(&n)
	return n, err
}

// PruneBefore deletes detections older than cutoff and returns the count.
func (m DetectionModel) PruneBefore(ctx context.Context, instanceID string, cutoff time.Time) (int64, error) {
	res, err := m.DB.ExecContext(ctx,
		`DELETE FROM detections WHERE instance_id = ? AND occurred_at < ?`,
		instanceID, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EnforceCap deletes the oldest rows of one kind beyond keep entries.
func (m DetectionModel) EnforceCap(ctx context.Context, instanceID string, kind event.AlarmType, keep int) (int64, error) {
	res, err := m.DB.ExecContext(ctx, `
		DELETE FROM detections
		WHERE instance_id = ? AND kind = ? AND id NOT IN (
			SELECT id FROM detections
			WHERE instance_id = ? AND kind = ?
			ORDER BY occurred_at DESC, id
			LIMIT ?
		)`, instanceID, string(kind), instanceID, string(kind), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Clear removes all detections of one kind, or every kind when kind is
// empty.
func (m DetectionModel) Clear(ctx context.Context, instanceID string, kind event.AlarmType) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if kind == "" {
		res, err = m.DB.ExecContext(ctx, `DELETE FROM detections WHERE instance_id = ?`, instanceID)
	} else {
		res, err = m.DB.ExecContext(ctx, `DELETE FROM detections WHERE instance_id = ? AND kind = ?`, instanceID, string(kind))
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecentDedupKeys loads the dedup keys of detections received at or after
// since, newest first. Warm-starts the in-memory dedup index on boot so a
// restart does not double-store pushes the device re-delivers.
func (m DetectionModel) RecentDedupKeys(ctx context.Context, instanceID string, since time.Time) ([]string, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT dedup_key FROM detections WHERE instance_id = ? AND received_at >= ? ORDER BY received_at DESC`,
		instanceID, since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// InstanceMetaModel tracks per-instance bookkeeping that must survive
// restarts.
type InstanceMetaModel struct {
	DB DBTX
}

// LastPrunedAt returns the zero time when the instance has never pruned.
func (m InstanceMetaModel) LastPrunedAt(ctx context.Context, instanceID string) (time.Time, error) {
	var t sql.NullTime
	err := m.DB.QueryRowContext(ctx,
		`SELECT last_pruned_at FROM instance_meta WHERE instance_id = ?`, instanceID,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time.Local(), nil
}

// SetLastPrunedAt upserts the prune watermark.
func (m InstanceMetaModel) SetLastPrunedAt(ctx context.Context, instanceID string, at time.Time) error {
	_, err := m.DB.ExecContext(ctx, `
		INSERT INTO instance_meta (instance_id, last_pruned_at) VALUES (?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET last_pruned_at = excluded.last_pruned_at`,
		instanceID, at.UTC(),
	)
	return err
}

package detections

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr-bridge/internal/data"
	"github.com/technosupport/ts-nvr-bridge/internal/event"
)

// Store defaults. Retention and caps bound the on-disk footprint of a
// camera that fires continuously.
const (
	DefaultRetention   = 30 * 24 * time.Hour
	DefaultCapPerKind  = 5000
	DefaultFlushDelay  = 60 * time.Second
	DefaultPlateWindow = 60 * time.Second

	dedupCacheSize = 4096
	pruneDebounce  = 10 * time.Second
)

// Options tune a Store. Zero values fall back to the defaults above.
type Options struct {
	Retention   time.Duration
	CapPerKind  int
	FlushDelay  time.Duration
	PlateWindow time.Duration
}

func (o *Options) withDefaults() {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.CapPerKind <= 0 {
		o.CapPerKind = DefaultCapPerKind
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = DefaultFlushDelay
	}
	if o.PlateWindow <= 0 {
		o.PlateWindow = DefaultPlateWindow
	}
}

type plateSeen struct {
	normalized string
	at         time.Time
}

// Store is the bounded detection history of one instance. Writes land in
// memory immediately and reach SQLite on a debounced flush, so a burst of
// captures costs one transaction instead of one per row.
type Store struct {
	instanceID string
	opts       Options
	model      data.DetectionModel
	meta       data.InstanceMetaModel
	dedup      *event.Dedup

	mu         sync.Mutex
	pending    map[uuid.UUID]event.Detection
	plates     []plateSeen
	flushTimer *time.Timer
	closed     bool
}

// NewStore builds a store and warm-starts its dedup index from rows
// persisted in the last 24 hours, so restarting the bridge does not
// double-store pushes the device re-delivers.
func NewStore(ctx context.Context, instanceID string, db data.DBTX, opts Options) (*Store, error) {
	opts.withDefaults()
	s := &Store{
		instanceID: instanceID,
		opts:       opts,
		model:      data.DetectionModel{DB: db},
		meta:       data.InstanceMetaModel{DB: db},
		dedup:      event.NewDedup(dedupCacheSize, opts.Retention),
		pending:    make(map[uuid.UUID]event.Detection),
	}

	keys, err := s.model.RecentDedupKeys(ctx, instanceID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		s.dedup.Seen(k)
	}
	if err := s.Prune(ctx); err != nil {
		log.Printf("[WARN] detections: %s: prune on load: %v", instanceID, err)
	}
	return s, nil
}

// SetOptions applies new tuning. The dedup index keeps its current TTL;
// retention changes only affect future prune sweeps.
func (s *Store) SetOptions(opts Options) {
	opts.withDefaults()
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// Add records a detection. Returns false when it was discarded as a
// duplicate, either by exact dedup key or, for plates, by OCR-tolerant
// similarity against recent captures.
func (s *Store) Add(d event.Detection) bool {
	if d.DedupKey == "" {
		d.DedupKey = event.DetectionKey(s.instanceID, d)
	}
	if s.dedup.Seen(d.DedupKey) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if d.Kind == event.AlarmPlate && d.PlateNumber != "" {
		norm := event.NormalizePlate(d.PlateNumber)
		cutoff := d.ReceivedAt.Add(-s.opts.PlateWindow)
		kept := s.plates[:0]
		for _, p := range s.plates {
			if p.at.After(cutoff) {
				kept = append(kept, p)
			}
		}
		s.plates = kept
		for _, p := range s.plates {
			if event.SamePlate(norm, p.normalized) {
				return false
			}
		}
		s.plates = append(s.plates, plateSeen{normalized: norm, at: d.ReceivedAt})
	}

	s.pending[d.ID] = d
	s.scheduleFlushLocked()
	return true
}

// Update merges enrichment results into a pending or persisted row.
func (s *Store) Update(d event.Detection) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[d.ID] = d
	s.scheduleFlushLocked()
	s.mu.Unlock()
}

func (s *Store) scheduleFlushLocked() {
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.opts.FlushDelay, func() {
		if err := s.Flush(context.Background()); err != nil {
			log.Printf("[ERROR] detections: %s: flush: %v", s.instanceID, err)
		}
	})
}

// Flush writes every pending row to SQLite. On failure the rows stay
// pending and a new flush is scheduled, so transient disk errors only
// delay persistence.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make([]event.Detection, 0, len(s.pending))
	for _, d := range s.pending {
		batch = append(batch, d)
	}
	s.mu.Unlock()

	written := make([]uuid.UUID, 0, len(batch))
	var firstErr error
	for _, d := range batch {
		if err := s.model.Upsert(ctx, s.instanceID, d); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written = append(written, d.ID)
	}

	s.mu.Lock()
	for _, id := range written {
		delete(s.pending, id)
	}
	if len(s.pending) > 0 && !s.closed {
		s.scheduleFlushLocked()
	}
	capPerKind := s.opts.CapPerKind
	s.mu.Unlock()

	if firstErr != nil {
		return firstErr
	}

	for _, kind := range []event.AlarmType{event.AlarmPlate, event.AlarmFace, event.AlarmPerson, event.AlarmVehicle} {
		if _, err := s.model.EnforceCap(ctx, s.instanceID, kind, capPerKind); err != nil {
			return err
		}
	}
	return nil
}

// Query flushes pending writes, sweeps expired rows, and returns matching
// rows newest first. The time window is clamped to the retention horizon
// so a stale row never surfaces even if the delete has not landed yet.
func (s *Store) Query(ctx context.Context, f data.DetectionFilter) ([]event.Detection, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if err := s.Prune(ctx); err != nil {
		log.Printf("[ERROR] detections: %s: prune: %v", s.instanceID, err)
	}
	s.mu.Lock()
	horizon := time.Now().Add(-s.opts.Retention)
	s.mu.Unlock()
	if f.Since.Before(horizon) {
		f.Since = horizon
	}
	return s.model.Query(ctx, s.instanceID, f)
}

// Counts24h returns the rolling 24-hour totals per enrichable kind.
func (s *Store) Counts24h(ctx context.Context) (map[event.AlarmType]int, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	since := time.Now().Add(-24 * time.Hour)
	out := make(map[event.AlarmType]int, 4)
	for _, kind := range []event.AlarmType{event.AlarmPlate, event.AlarmFace, event.AlarmPerson, event.AlarmVehicle} {
		n, err := s.model.CountSince(ctx, s.instanceID, kind, since)
		if err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, nil
}

// Clear drops the history of one kind, or everything when kind is empty.
func (s *Store) Clear(ctx context.Context, kind event.AlarmType) (int64, error) {
	s.mu.Lock()
	for id, d := range s.pending {
		if kind == "" || d.Kind == kind {
			delete(s.pending, id)
		}
	}
	if kind == "" || kind == event.AlarmPlate {
		s.plates = nil
	}
	s.mu.Unlock()
	return s.model.Clear(ctx, s.instanceID, kind)
}

// Prune deletes rows past the retention horizon. Callers invoke it on
// load, on every query and on every poll cycle; the persisted watermark
// debounces the actual delete so back-to-back calls are cheap.
func (s *Store) Prune(ctx context.Context) error {
	last, err := s.meta.LastPrunedAt(ctx, s.instanceID)
	if err != nil {
		return err
	}
	if time.Since(last) < pruneDebounce {
		return nil
	}
	s.mu.Lock()
	retention := s.opts.Retention
	s.mu.Unlock()
	n, err := s.model.PruneBefore(ctx, s.instanceID, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[DEBUG] detections: %s: pruned %d expired rows", s.instanceID, n)
	}
	return s.meta.SetLastPrunedAt(ctx, s.instanceID, time.Now())
}

// Close flushes synchronously and stops the debounce timer.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

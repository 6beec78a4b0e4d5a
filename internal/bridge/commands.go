package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr-bridge/internal/bus"
	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// Command results go to both the HTTP caller and the event bus. The
// correlation id lets bus consumers tie a result to the command that
// produced it.

// SnapshotResult is the outcome of a snapshot capture command.
type SnapshotResult struct {
	CorrelationID string    `json:"correlation_id"`
	Channel       int       `json:"channel"`
	Format        string    `json:"format"`
	Image         string    `json:"image"`
	CapturedAt    time.Time `json:"captured_at"`
}

// CaptureSnapshot grabs a still from one channel and announces it on the
// bus.
func (c *Controller) CaptureSnapshot(ctx context.Context, channel int) (SnapshotResult, error) {
	snap, err := c.dev.Snapshot(ctx, channel)
	if err != nil {
		return SnapshotResult{}, err
	}
	res := SnapshotResult{
		CorrelationID: uuid.New().String(),
		Channel:       channel,
		Format:        snap.Format,
		Image:         snap.Data,
		CapturedAt:    time.Now(),
	}
	c.publish(bus.TopicSnapshot, res)
	return res, nil
}

// RecordSearchResult is the outcome of a record search command.
type RecordSearchResult struct {
	CorrelationID string                `json:"correlation_id"`
	Channels      []int                 `json:"channels"`
	Records       []raysharp.RecordSpan `json:"records"`
}

// SearchRecords queries the device recording index.
func (c *Controller) SearchRecords(ctx context.Context, channels []int, from, to time.Time) (RecordSearchResult, error) {
	records, err := c.dev.SearchRecords(ctx, channels, from, to)
	if err != nil {
		return RecordSearchResult{}, err
	}
	res := RecordSearchResult{
		CorrelationID: uuid.New().String(),
		Channels:      channels,
		Records:       records,
	}
	c.publish(bus.TopicSearchRecords, res)
	return res, nil
}

// PlateSearchResult is the outcome of a plate history search.
type PlateSearchResult struct {
	CorrelationID string                  `json:"correlation_id"`
	Plates        []raysharp.SnappedPlate `json:"plates"`
	Truncated     bool                    `json:"truncated"`
}

// SearchPlates runs the two-step AI plate search. maxResults <= 0 means
// unbounded; includeImages=false strips the base64 payloads before
// publishing.
func (c *Controller) SearchPlates(ctx context.Context, channels []int, from, to time.Time,
	plateNumbers []string, includeImages bool, maxResults int) (PlateSearchResult, error) {

	plates, err := c.dev.SearchPlates(ctx, channels, from, to)
	if err != nil {
		return PlateSearchResult{}, err
	}
	if len(plateNumbers) > 0 {
		wanted := make(map[string]bool, len(plateNumbers))
		for _, p := range plateNumbers {
			wanted[p] = true
		}
		kept := plates[:0]
		for _, p := range plates {
			if wanted[p.PlateID] {
				kept = append(kept, p)
			}
		}
		plates = kept
	}
	res := PlateSearchResult{CorrelationID: uuid.New().String()}
	if maxResults > 0 && len(plates) > maxResults {
		plates = plates[:maxResults]
		res.Truncated = true
	}
	if !includeImages {
		for i := range plates {
			plates[i].BgImg = ""
			plates[i].PlateImg = ""
		}
	}
	res.Plates = plates
	c.publish(bus.TopicSearchPlates, res)
	return res, nil
}

// FaceSearchResult is the outcome of a face history search.
type FaceSearchResult struct {
	CorrelationID string                 `json:"correlation_id"`
	Faces         []raysharp.SnappedFace `json:"faces"`
	Truncated     bool                   `json:"truncated"`
}

// SearchFaces runs the two-step AI face search. matchedOnly keeps only
// captures that matched a registered face.
func (c *Controller) SearchFaces(ctx context.Context, channels []int, from, to time.Time,
	matchedOnly, includeImages bool, maxResults int) (FaceSearchResult, error) {

	faces, err := c.dev.SearchFaces(ctx, channels, from, to)
	if err != nil {
		return FaceSearchResult{}, err
	}
	if matchedOnly {
		kept := faces[:0]
		for _, f := range faces {
			if f.Name != "" {
				kept = append(kept, f)
			}
		}
		faces = kept
	}
	res := FaceSearchResult{CorrelationID: uuid.New().String()}
	if maxResults > 0 && len(faces) > maxResults {
		faces = faces[:maxResults]
		res.Truncated = true
	}
	if !includeImages {
		for i := range faces {
			faces[i].FaceImg = ""
			faces[i].BgImg = ""
		}
	}
	res.Faces = faces
	c.publish(bus.TopicSearchFaces, res)
	return res, nil
}

// PlateDBResult is the outcome of a plate registry lookup.
type PlateDBResult struct {
	CorrelationID string                     `json:"correlation_id"`
	Plates        []raysharp.RegisteredPlate `json:"plates"`
}

// LookupPlateDB reads registered plates from the device plate database.
func (c *Controller) LookupPlateDB(ctx context.Context, plateNumbers []string) (PlateDBResult, error) {
	plates, err := c.dev.AddedPlates(ctx, plateNumbers)
	if err != nil {
		return PlateDBResult{}, err
	}
	res := PlateDBResult{
		CorrelationID: uuid.New().String(),
		Plates:        plates,
	}
	c.publish(bus.TopicPlateDB, res)
	return res, nil
}

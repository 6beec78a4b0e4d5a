package detections

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/event"
	"github.com/technosupport/ts-nvr-bridge/internal/raysharp"
)

// registryClient is the slice of the device API enrichment needs.
type registryClient interface {
	AddedPlates(ctx context.Context, ids []string) ([]raysharp.RegisteredPlate, error)
	FaceGroups(ctx context.Context) ([]raysharp.FaceGroup, error)
}

const faceGroupCacheTTL = 10 * time.Minute

// Resolver fills in registry data the push payload omits: owner and
// vehicle details for DB-registered plates, and list classification for
// faces whose GrpId is a group table id rather than a policy code.
// Lookups go to the device, so results are cached and failures degrade to
// the unenriched detection.
type Resolver struct {
	client registryClient

	mu         sync.Mutex
	plateCache map[string]raysharp.RegisteredPlate
	groups     map[int]int // group id -> policy
	groupsAt   time.Time
}

// NewResolver builds a resolver over one device.
func NewResolver(client registryClient) *Resolver {
	return &Resolver{
		client:     client,
		plateCache: make(map[string]raysharp.RegisteredPlate),
	}
}

// Enrich resolves registry fields in place. It never fails: on lookup
// errors the detection keeps its push-time fields.
func (r *Resolver) Enrich(ctx context.Context, d *event.Detection) {
	switch d.Kind {
	case event.AlarmPlate:
		r.enrichPlate(ctx, d)
	case event.AlarmFace:
		r.enrichFace(ctx, d)
	}
}

// enrichPlate looks up DB-registered plates (allow or block list) in the
// device plate registry. Strangers have nothing to look up.
func (r *Resolver) enrichPlate(ctx context.Context, d *event.Detection) {
	if d.PlateNumber == "" || d.ListType == event.ListStranger {
		return
	}
	if d.Owner != "" && d.CarBrand != "" {
		return
	}

	r.mu.Lock()
	reg, cached := r.plateCache[d.PlateNumber]
	r.mu.Unlock()

	if !cached {
		plates, err := r.client.AddedPlates(ctx, []string{d.PlateNumber})
		if err != nil {
			log.Printf("[DEBUG] detections: plate lookup %s: %v", d.PlateNumber, err)
			return
		}
		if len(plates) == 0 {
			return
		}
		reg = plates[0]
		r.mu.Lock()
		r.plateCache[d.PlateNumber] = reg
		r.mu.Unlock()
	}

	if d.Owner == "" {
		d.Owner = reg.Owner
	}
	if d.CarBrand == "" {
		d.CarBrand = reg.CarBrand
	}
	if d.CarType == "" {
		d.CarType = reg.CarType
	}
	if reg.GrpID != 0 {
		d.GrpID = reg.GrpID
		d.ListType = event.PlateListType(reg.GrpID)
		d.ListTypeLabel = d.ListType.Label()
	}
}

// enrichFace re-resolves the list classification through the face group
// table when the capture's GrpId is outside the policy code range, which
// means it is a group table id.
func (r *Resolver) enrichFace(ctx context.Context, d *event.Detection) {
	if d.GrpID <= 2 {
		return
	}
	policy, ok := r.groupPolicy(ctx, d.GrpID)
	if !ok {
		return
	}
	d.ListType = event.FaceListType(policy)
	d.ListTypeLabel = d.ListType.Label()
}

func (r *Resolver) groupPolicy(ctx context.Context, groupID int) (int, bool) {
	r.mu.Lock()
	fresh := r.groups != nil && time.Since(r.groupsAt) < faceGroupCacheTTL
	if fresh {
		policy, ok := r.groups[groupID]
		r.mu.Unlock()
		return policy, ok
	}
	r.mu.Unlock()

	groups, err := r.client.FaceGroups(ctx)
	if err != nil {
		log.Printf("[DEBUG] detections: face group lookup: %v", err)
		return 0, false
	}
	table := make(map[int]int, len(groups))
	for _, g := range groups {
		table[g.GroupID] = g.Policy
	}

	r.mu.Lock()
	r.groups = table
	r.groupsAt = time.Now()
	policy, ok := r.groups[groupID]
	r.mu.Unlock()
	return policy, ok
}

// InvalidateGroups drops the cached face group table, forcing a refresh
// on the next lookup. Called when the poll loop sees the table change.
func (r *Resolver) InvalidateGroups() {
	r.mu.Lock()
	r.groups = nil
	r.mu.Unlock()
}

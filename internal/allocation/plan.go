package allocation

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// Candidate is the proposed state of one channel after a pass.
type Candidate struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Allocated int       `json:"allocated"`
	Reserved  int       `json:"reserved"`
	Buffer    int       `json:"buffer"`
	Priority  int       `json:"priority"`

	// seen is the reservation the pass read; the row is only written while
	// it still holds.
	seen int
}

// Plan is a full candidate allocation set for one product.
type Plan struct {
	Strategy   enums.AllocationStrategy `json:"strategy"`
	Available  int                      `json:"available"`
	Candidates []Candidate              `json:"candidates"`
}

// Total sums the allocated quantities of the plan.
func (p Plan) Total() int {
	total := 0
	for _, c := range p.Candidates {
		total += c.Allocated
	}
	return total
}

// buildPlan computes the candidate set. Outstanding reservations are kept in
// list order while capacity allows, and only the free pool is split.
func buildPlan(strategy Strategy, channels []ChannelInput, reserved map[uuid.UUID]int, available int, bounds map[uuid.UUID]Bounds) (Plan, error) {
	plan := Plan{
		Strategy:   strategy.Name(),
		Available:  available,
		Candidates: make([]Candidate, len(channels)),
	}
	for i, ch := range channels {
		plan.Candidates[i] = Candidate{ChannelID: ch.ChannelID, Priority: ch.Priority, seen: reserved[ch.ChannelID]}
	}
	if available <= 0 {
		return plan, nil
	}

	capacity := available
	for i, ch := range channels {
		keep := reserved[ch.ChannelID]
		if keep < 0 {
			keep = 0
		}
		if keep > capacity {
			keep = capacity
		}
		plan.Candidates[i].Reserved = keep
		plan.Candidates[i].Allocated = keep
		capacity -= keep
	}

	shares, err := strategy.Split(channels, capacity, bounds)
	if err != nil {
		return Plan{}, err
	}
	if len(shares) != len(channels) {
		return Plan{}, pkgerrors.New(pkgerrors.CodeAllocationInvariant, "strategy returned a partial allocation")
	}
	policy := strategy.Buffer()
	for i := range plan.Candidates {
		plan.Candidates[i].Allocated += shares[i]
		plan.Candidates[i].Buffer = policy.Buffer(plan.Candidates[i].Allocated)
	}
	return plan, nil
}

// validatePlan enforces the per-pass invariants before anything is persisted.
func validatePlan(plan Plan) error {
	limit := plan.Available
	if limit < 0 {
		limit = 0
	}
	total := 0
	for _, c := range plan.Candidates {
		if c.Allocated < 0 || c.Reserved < 0 || c.Buffer < 0 {
			return pkgerrors.New(pkgerrors.CodeAllocationInvariant, "allocation quantities must be non-negative").
				WithDetails(map[string]any{"channel_id": c.ChannelID})
		}
		if c.Reserved > c.Allocated {
			return pkgerrors.New(pkgerrors.CodeAllocationInvariant, "reserved quantity exceeds allocation").
				WithDetails(map[string]any{"channel_id": c.ChannelID, "allocated": c.Allocated, "reserved": c.Reserved})
		}
		total += c.Allocated
	}
	if total > limit {
		return pkgerrors.New(pkgerrors.CodeAllocationInvariant, "allocated total exceeds available stock").
			WithDetails(map[string]any{"allocated": total, "available": plan.Available})
	}
	return nil
}

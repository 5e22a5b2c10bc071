package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/macrolens/larder/internal/domain"
)

// DefaultEpsilon absorbs floating-point drift when comparing quantities.
const DefaultEpsilon = 1e-9

// Ledger tracks how much of each record earlier plans in the same request
// already claimed, so two ingredients never allocate the same quantity twice.
type Ledger struct {
	claimed map[string]float64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{claimed: make(map[string]float64)}
}

// Remaining is the record quantity not yet claimed.
func (l *Ledger) Remaining(c SizedCandidate) float64 {
	return c.Candidate.Record.Quantity - l.taken(c.RecordID())
}

func (l *Ledger) taken(recordID string) float64 {
	return l.claimed[recordID]
}

func (l *Ledger) claim(recordID string, quantity float64) {
	l.claimed[recordID] += quantity
}

// AllocationPlanner builds per-ingredient consumption plans.
type AllocationPlanner struct {
	epsilon float64
	log     *zap.Logger
}

// NewAllocationPlanner creates a planner. A non-positive epsilon falls back to DefaultEpsilon.
func NewAllocationPlanner(epsilon float64, log *zap.Logger) *AllocationPlanner {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AllocationPlanner{epsilon: epsilon, log: log}
}

// Plan walks the candidates in order and takes min(remaining, available) from
// each consumable one until the requirement is met. A record drained by the
// plan is consumed by exactly its available quantity.
func (p *AllocationPlanner) Plan(ingredient domain.RequiredIngredient, candidates []SizedCandidate, ledger *Ledger) domain.AllocationPlan {
	plan := newPlan(ingredient)
	remaining := ingredient.RequestedQuantity

	for _, c := range candidates {
		if remaining <= p.epsilon {
			break
		}
		if !c.Consumable {
			continue
		}
		available := ledger.Remaining(c)
		if available <= p.epsilon {
			continue
		}

		need := remaining * c.Ratio
		take := need
		if need >= available-p.epsilon {
			take = available
		}

		plan.Entries = append(plan.Entries, entryFor(c, take))
		ledger.claim(c.RecordID(), take)

		if need <= available+p.epsilon {
			remaining = 0
		} else {
			remaining -= take / c.Ratio
		}
	}

	plan.ShortfallQuantity = p.clampShortfall(remaining)
	return plan
}

// ApplyOverride validates a client-chosen distribution and turns it into a
// plan. Every entry must name a consumable candidate and stay within what the
// record still has after earlier plans. Nothing is clamped: the first problem
// is returned as *domain.OverrideError and the ledger is left untouched.
func (p *AllocationPlanner) ApplyOverride(
	ingredient domain.RequiredIngredient,
	candidates []SizedCandidate,
	override domain.ClientOverride,
	ledger *Ledger,
) (domain.AllocationPlan, error) {
	byID := make(map[string]SizedCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.RecordID()] = c
	}

	reject := func(recordID, format string, args ...any) (domain.AllocationPlan, error) {
		return domain.AllocationPlan{}, &domain.OverrideError{
			Ingredient: ingredient.CanonicalName,
			RecordID:   recordID,
			Reason:     fmt.Sprintf(format, args...),
		}
	}

	seen := make(map[string]bool, len(override.Entries))
	for _, e := range override.Entries {
		c, ok := byID[e.RecordID]
		switch {
		case e.RecordID == "":
			return reject("", "entry without record id")
		case seen[e.RecordID]:
			return reject(e.RecordID, "record listed more than once")
		case e.Quantity < 0:
			return reject(e.RecordID, "negative quantity %g", e.Quantity)
		case !ok:
			return reject(e.RecordID, "record is not a candidate for this ingredient")
		case !c.Consumable && e.Quantity > 0:
			return reject(e.RecordID, "record cannot be sized: %s", c.Reason)
		}
		seen[e.RecordID] = true

		if available := ledger.Remaining(c); e.Quantity > available+p.epsilon {
			return reject(e.RecordID, "quantity %g %s exceeds available %g %s",
				e.Quantity, c.RecordUnit, max(available, 0), c.RecordUnit)
		}
	}

	plan := newPlan(ingredient)
	plan.Overridden = true
	remaining := ingredient.RequestedQuantity
	for _, e := range override.Entries {
		if e.Quantity == 0 {
			continue
		}
		c := byID[e.RecordID]
		take := e.Quantity
		if available := ledger.Remaining(c); take > available {
			take = available
		}
		plan.Entries = append(plan.Entries, entryFor(c, take))
		ledger.claim(c.RecordID(), take)
		remaining -= take / c.Ratio
	}

	plan.ShortfallQuantity = p.clampShortfall(remaining)
	return plan, nil
}

func (p *AllocationPlanner) clampShortfall(remaining float64) float64 {
	if remaining <= p.epsilon {
		return 0
	}
	return remaining
}

func newPlan(ingredient domain.RequiredIngredient) domain.AllocationPlan {
	return domain.AllocationPlan{
		Ingredient:        ingredient.CanonicalName,
		RawText:           ingredient.RawText,
		RequestedQuantity: ingredient.RequestedQuantity,
		RequestedUnit:     ingredient.RequestedUnit,
		Entries:           []domain.AllocationEntry{},
		ShortfallUnit:     ingredient.RequestedUnit,
	}
}

func entryFor(c SizedCandidate, take float64) domain.AllocationEntry {
	return domain.AllocationEntry{
		RecordID:          c.RecordID(),
		QuantityToConsume: take,
		UnitAtRecord:      c.RecordUnit,
		AvailableQuantity: c.Candidate.Record.Quantity,
	}
}

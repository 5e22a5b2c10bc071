package usecase

import (
	"github.com/macrolens/larder/internal/domain"
)

// ShortfallResolver turns unmet requirements into shopping-list candidates.
type ShortfallResolver struct{}

// NewShortfallResolver creates a resolver.
func NewShortfallResolver() *ShortfallResolver {
	return &ShortfallResolver{}
}

// Resolve emits one candidate per distinct ingredient name: plans with a
// shortfall first, in plan order, then unmatched ingredients that have no
// plan of their own. Repeated names keep their first occurrence.
func (r *ShortfallResolver) Resolve(plans []domain.AllocationPlan, unmatched []domain.RequiredIngredient) []domain.ShortfallCandidate {
	out := []domain.ShortfallCandidate{}
	seen := make(map[string]bool)

	add := func(name string, quantity float64, unit string) {
		if name == "" || quantity <= 0 || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, domain.ShortfallCandidate{
			CanonicalName: name,
			Quantity:      quantity,
			Unit:          unit,
		})
	}

	for _, plan := range plans {
		add(plan.Ingredient, plan.ShortfallQuantity, plan.ShortfallUnit)
	}
	for _, ing := range unmatched {
		add(ing.CanonicalName, ing.RequestedQuantity, ing.RequestedUnit)
	}
	return out
}

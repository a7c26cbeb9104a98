package engine

import "statusbridge/internal/domain"

// Aggregate computes the aggregate health of a service from its member targets.
// Params: member target snapshots taken under the target locks.
// Returns: Healthy/Partial/Down classification.
// Pure and total: the same snapshot always yields the same result regardless
// of delivery history, so state can be re-derived after a restart. A down
// critical target dominates every other signal; an empty member set is
// Healthy by definition.
func Aggregate(members []domain.TargetHealth) domain.Health {
	if len(members) == 0 {
		return domain.HealthHealthy
	}

	allHealthy := true
	allDown := true
	for _, member := range members {
		switch member.Health {
		case domain.HealthDown:
			if member.Critical {
				return domain.HealthDown
			}
			allHealthy = false
		default:
			allDown = false
		}
	}

	switch {
	case allHealthy:
		return domain.HealthHealthy
	case allDown:
		return domain.HealthDown
	default:
		return domain.HealthPartial
	}
}

package domain

// Health is the logical health classification shared by targets and services.
// Params: three-state constants for aggregate health, two used for targets.
// Returns: backend numeric codes are mapped at the cachet client boundary only.
type Health string

const (
	// HealthHealthy indicates no active alerts.
	HealthHealthy Health = "healthy"
	// HealthPartial indicates a degraded service with some members down.
	HealthPartial Health = "partial"
	// HealthDown indicates a full outage.
	HealthDown Health = "down"
)

// TargetHealth is an immutable snapshot of one member target used by aggregation.
// Params: binary health and critical flag copied under the target lock.
// Returns: safe-to-share value for pure aggregate computation.
type TargetHealth struct {
	Instance string
	Health   Health
	Critical bool
}

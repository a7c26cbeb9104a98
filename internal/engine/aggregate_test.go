package engine

import (
	"testing"

	"statusbridge/internal/domain"
)

func TestAggregateEmptyMembershipIsHealthy(t *testing.T) {
	t.Parallel()

	if got := Aggregate(nil); got != domain.HealthHealthy {
		t.Fatalf("expected healthy for empty membership, got %q", got)
	}
}

func TestAggregateAllHealthy(t *testing.T) {
	t.Parallel()

	members := []domain.TargetHealth{
		member("10.0.0.1:9100", domain.HealthHealthy, false),
		member("10.0.0.2:9100", domain.HealthHealthy, true),
	}
	if got := Aggregate(members); got != domain.HealthHealthy {
		t.Fatalf("expected healthy, got %q", got)
	}
}

func TestAggregateMixedIsPartial(t *testing.T) {
	t.Parallel()

	members := []domain.TargetHealth{
		member("10.0.0.1:9100", domain.HealthDown, false),
		member("10.0.0.2:9100", domain.HealthHealthy, false),
	}
	if got := Aggregate(members); got != domain.HealthPartial {
		t.Fatalf("expected partial, got %q", got)
	}
}

func TestAggregateAllDown(t *testing.T) {
	t.Parallel()

	members := []domain.TargetHealth{
		member("10.0.0.1:9100", domain.HealthDown, false),
		member("10.0.0.2:9100", domain.HealthDown, false),
	}
	if got := Aggregate(members); got != domain.HealthDown {
		t.Fatalf("expected down, got %q", got)
	}
}

func TestAggregateCriticalDownOverridesHealthyMajority(t *testing.T) {
	t.Parallel()

	members := []domain.TargetHealth{
		member("10.0.0.1:9100", domain.HealthHealthy, false),
		member("10.0.0.2:9100", domain.HealthHealthy, false),
		member("10.0.0.3:9100", domain.HealthDown, true),
	}
	if got := Aggregate(members); got != domain.HealthDown {
		t.Fatalf("expected critical override to down, got %q", got)
	}
}

func TestAggregateCriticalHealthyDoesNotOverride(t *testing.T) {
	t.Parallel()

	members := []domain.TargetHealth{
		member("10.0.0.1:9100", domain.HealthDown, false),
		member("10.0.0.2:9100", domain.HealthHealthy, true),
	}
	if got := Aggregate(members); got != domain.HealthPartial {
		t.Fatalf("expected partial, got %q", got)
	}
}

func member(instance string, health domain.Health, critical bool) domain.TargetHealth {
	return domain.TargetHealth{Instance: instance, Health: health, Critical: critical}
}

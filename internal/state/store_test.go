package state

import (
	"testing"

	"statusbridge/internal/domain"
)

func TestApplyFirstFiringAlertFlipsTargetDown(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	result := store.Apply(firingEvent("InstanceDown", "10.0.0.1:9100", "Web"))

	if result.Health != domain.HealthDown {
		t.Fatalf("expected down, got %q", result.Health)
	}
	if !result.HealthChanged || !result.Changed || !result.AlertsChanged {
		t.Fatalf("expected all change flags set, got %+v", result)
	}
	if result.ComponentName != "10.0.0.1:9100 | Web" {
		t.Fatalf("unexpected component name %q", result.ComponentName)
	}
}

func TestApplyDuplicateFiringIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	store.Apply(firingEvent("InstanceDown", "10.0.0.1:9100", "Web"))
	result := store.Apply(firingEvent("InstanceDown", "10.0.0.1:9100", "Web"))

	if result.Health != domain.HealthDown {
		t.Fatalf("expected down, got %q", result.Health)
	}
	if result.Changed || result.AlertsChanged {
		t.Fatalf("duplicate firing must not report change, got %+v", result)
	}
}

func TestApplyResolveUnknownAlertIsNoOp(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	result := store.Apply(resolvedEvent("NeverSeen", "10.0.0.1:9100", "Web"))

	if result.Health != domain.HealthHealthy {
		t.Fatalf("expected healthy, got %q", result.Health)
	}
	if result.AlertsChanged {
		t.Fatalf("resolving an absent alert must not report alert change")
	}
	// First reference still registers the service membership.
	if !result.Changed {
		t.Fatalf("first membership registration must report change")
	}
}

func TestApplySecondAlertChangesSetButNotHealth(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	store.Apply(firingEvent("InstanceDown", "10.0.0.1:9100", "Web"))
	result := store.Apply(firingEvent("HighLoad", "10.0.0.1:9100", "Web"))

	if result.Health != domain.HealthDown || result.HealthChanged {
		t.Fatalf("expected unchanged down health, got %+v", result)
	}
	if !result.AlertsChanged {
		t.Fatalf("second alert must report alert-set change")
	}
	if len(result.ActiveAlerts) != 2 || result.ActiveAlerts[0] != "HighLoad" || result.ActiveAlerts[1] != "InstanceDown" {
		t.Fatalf("expected sorted active alerts, got %v", result.ActiveAlerts)
	}
}

func TestApplyTargetRecoversWhenLastAlertResolves(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	store.Apply(firingEvent("InstanceDown", "10.0.0.1:9100", "Web"))
	store.Apply(firingEvent("HighLoad", "10.0.0.1:9100", "Web"))

	partial := store.Apply(resolvedEvent("HighLoad", "10.0.0.1:9100", "Web"))
	if partial.Health != domain.HealthDown || partial.HealthChanged {
		t.Fatalf("one alert still active, expected down, got %+v", partial)
	}

	recovered := store.Apply(resolvedEvent("InstanceDown", "10.0.0.1:9100", "Web"))
	if recovered.Health != domain.HealthHealthy || !recovered.HealthChanged {
		t.Fatalf("expected recovery to healthy, got %+v", recovered)
	}
	if len(recovered.ActiveAlerts) != 0 {
		t.Fatalf("expected empty alert set, got %v", recovered.ActiveAlerts)
	}
}

func TestApplyCriticalFlagIsSticky(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	critical := firingEvent("InstanceDown", "10.0.0.1:9100", "Web")
	critical.Critical = true
	store.Apply(critical)

	// Later events without the label must not clear the flag.
	result := store.Apply(firingEvent("HighLoad", "10.0.0.1:9100", "Web"))
	if !result.Critical {
		t.Fatalf("critical flag must stay set")
	}

	members := store.Snapshot("Web")
	if len(members) != 1 || !members[0].Critical {
		t.Fatalf("expected critical member in snapshot, got %+v", members)
	}
}

func TestTargetSnapshotReadsCurrentState(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	if _, ok := store.TargetSnapshot("10.0.0.1:9100"); ok {
		t.Fatalf("expected no snapshot for unknown target")
	}

	critical := firingEvent("InstanceDown", "10.0.0.1:9100", "Web")
	critical.Critical = true
	store.Apply(critical)
	store.Apply(firingEvent("HighLoad", "10.0.0.1:9100", "Web"))

	snapshot, ok := store.TargetSnapshot("10.0.0.1:9100")
	if !ok {
		t.Fatalf("expected snapshot for known target")
	}
	if snapshot.Health != domain.HealthDown || !snapshot.Critical {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(snapshot.ActiveAlerts) != 2 || snapshot.ActiveAlerts[0] != "HighLoad" {
		t.Fatalf("expected sorted alert set, got %v", snapshot.ActiveAlerts)
	}
	if snapshot.ComponentName != "10.0.0.1:9100 | Web" {
		t.Fatalf("unexpected component name %q", snapshot.ComponentName)
	}

	// The snapshot tracks later mutations on the next read.
	store.Apply(resolvedEvent("InstanceDown", "10.0.0.1:9100", "Web"))
	store.Apply(resolvedEvent("HighLoad", "10.0.0.1:9100", "Web"))
	snapshot, _ = store.TargetSnapshot("10.0.0.1:9100")
	if snapshot.Health != domain.HealthHealthy || len(snapshot.ActiveAlerts) != 0 {
		t.Fatalf("expected recovered snapshot, got %+v", snapshot)
	}
}

func TestSnapshotReturnsOnlyMembersSortedByInstance(t *testing.T) {
	t.Parallel()

	store := NewTargetStore()
	store.Apply(firingEvent("InstanceDown", "10.0.0.2:9100", "Web"))
	store.Apply(resolvedEvent("InstanceDown", "10.0.0.1:9100", "Web"))
	store.Apply(firingEvent("InstanceDown", "10.0.0.3:9100", "Mail"))

	members := store.Snapshot("Web")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %+v", members)
	}
	if members[0].Instance != "10.0.0.1:9100" || members[1].Instance != "10.0.0.2:9100" {
		t.Fatalf("expected sorted members, got %+v", members)
	}
	if members[0].Health != domain.HealthHealthy || members[1].Health != domain.HealthDown {
		t.Fatalf("unexpected member health %+v", members)
	}

	if unknown := store.Snapshot("Unknown"); len(unknown) != 0 {
		t.Fatalf("expected empty snapshot for unknown service, got %+v", unknown)
	}
}

func TestServiceStatesCreatesHealthyRecordOnFirstReference(t *testing.T) {
	t.Parallel()

	services := NewServiceStates()
	svc := services.Get("Web")
	if svc.Name() != "Web" {
		t.Fatalf("unexpected name %q", svc.Name())
	}
	health, incidentID := svc.Confirmed()
	if health != domain.HealthHealthy || incidentID != 0 {
		t.Fatalf("expected healthy/no-incident, got %q/%d", health, incidentID)
	}
	if services.Get("Web") != svc {
		t.Fatalf("expected same record on repeat lookup")
	}
}

func TestServiceStateCommitStoresConfirmedTransition(t *testing.T) {
	t.Parallel()

	svc := NewServiceStates().Get("Web")
	svc.Commit(domain.HealthDown, 42)

	health, incidentID := svc.Confirmed()
	if health != domain.HealthDown || incidentID != 42 {
		t.Fatalf("expected down/42, got %q/%d", health, incidentID)
	}

	svc.Commit(domain.HealthHealthy, 0)
	health, incidentID = svc.Confirmed()
	if health != domain.HealthHealthy || incidentID != 0 {
		t.Fatalf("expected cleared incident, got %q/%d", health, incidentID)
	}
}

func firingEvent(alertName, instance string, services ...string) domain.AlertEvent {
	return domain.AlertEvent{
		AlertName:      alertName,
		TargetInstance: instance,
		Firing:         true,
		ServiceNames:   services,
	}
}

func resolvedEvent(alertName, instance string, services ...string) domain.AlertEvent {
	event := firingEvent(alertName, instance, services...)
	event.Firing = false
	return event
}

package state

import (
	"sort"
	"sync"

	"statusbridge/internal/domain"
)

// ApplyResult reports the outcome of applying one alert event to a target.
// Params: recomputed health, change flags, and snapshot fields for backend writes.
// Returns: caller decides whether to cascade into service recomputation.
type ApplyResult struct {
	Health        domain.Health
	HealthChanged bool
	AlertsChanged bool
	Changed       bool
	Critical      bool
	ActiveAlerts  []string
	ServiceNames  []string
	ComponentName string
}

// TargetStore owns per-target alert state with per-target exclusion.
// Params: target entries keyed by instance, map guarded separately from entries.
// Returns: concurrent-safe mutation for different targets, serialized per target.
type TargetStore struct {
	mu      sync.RWMutex
	targets map[string]*targetEntry
}

// targetEntry is one monitored target's mutable record.
// Params: active alert set, sticky critical flag, and service membership.
// Returns: all fields guarded by the entry mutex.
type targetEntry struct {
	mu            sync.Mutex
	instance      string
	activeAlerts  map[string]struct{}
	critical      bool
	serviceNames  []string
	serviceSet    map[string]struct{}
	componentName string
}

// NewTargetStore creates an empty target state store.
// Params: none.
// Returns: initialized store.
func NewTargetStore() *TargetStore {
	return &TargetStore{targets: make(map[string]*targetEntry)}
}

// Apply applies one alert event to its target, creating it on first reference.
// Params: normalized alert event.
// Returns: recomputed target health and change flags.
// Firing adds the alert name to the active set and sticky-ORs the critical
// flag; resolved removes it, where removing an absent name is a no-op so
// duplicate and out-of-order deliveries stay harmless.
func (s *TargetStore) Apply(event domain.AlertEvent) ApplyResult {
	entry := s.ensureEntry(event)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	wasDown := len(entry.activeAlerts) > 0
	wasCritical := entry.critical
	_, wasActive := entry.activeAlerts[event.AlertName]

	if event.Firing {
		entry.activeAlerts[event.AlertName] = struct{}{}
		if event.Critical {
			entry.critical = true
		}
	} else {
		delete(entry.activeAlerts, event.AlertName)
	}
	alertsChanged := wasActive != event.Firing

	membershipChanged := false
	for _, service := range event.ServiceNames {
		if _, known := entry.serviceSet[service]; known {
			continue
		}
		entry.serviceSet[service] = struct{}{}
		entry.serviceNames = append(entry.serviceNames, service)
		membershipChanged = true
	}

	isDown := len(entry.activeAlerts) > 0
	health := domain.HealthHealthy
	if isDown {
		health = domain.HealthDown
	}

	alerts := make([]string, 0, len(entry.activeAlerts))
	for name := range entry.activeAlerts {
		alerts = append(alerts, name)
	}
	sort.Strings(alerts)

	return ApplyResult{
		Health:        health,
		HealthChanged: wasDown != isDown,
		AlertsChanged: alertsChanged,
		Changed:       wasDown != isDown || wasCritical != entry.critical || membershipChanged,
		Critical:      entry.critical,
		ActiveAlerts:  alerts,
		ServiceNames:  append([]string(nil), entry.serviceNames...),
		ComponentName: entry.componentName,
	}
}

// TargetSnapshot reads the current state of one target for backend mirroring.
// Params: target instance.
// Returns: point-in-time copy with change flags cleared, false when the
// target was never referenced.
func (s *TargetStore) TargetSnapshot(instance string) (ApplyResult, bool) {
	s.mu.RLock()
	entry, ok := s.targets[instance]
	s.mu.RUnlock()
	if !ok {
		return ApplyResult{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	health := domain.HealthHealthy
	if len(entry.activeAlerts) > 0 {
		health = domain.HealthDown
	}
	alerts := make([]string, 0, len(entry.activeAlerts))
	for name := range entry.activeAlerts {
		alerts = append(alerts, name)
	}
	sort.Strings(alerts)

	return ApplyResult{
		Health:        health,
		Critical:      entry.critical,
		ActiveAlerts:  alerts,
		ServiceNames:  append([]string(nil), entry.serviceNames...),
		ComponentName: entry.componentName,
	}, true
}

// Snapshot copies the member targets of one service for aggregation.
// Params: visible service name.
// Returns: immutable member health snapshots; empty slice when unreferenced.
func (s *TargetStore) Snapshot(service string) []domain.TargetHealth {
	s.mu.RLock()
	entries := make([]*targetEntry, 0, len(s.targets))
	for _, entry := range s.targets {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	members := make([]domain.TargetHealth, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if _, member := entry.serviceSet[service]; member {
			health := domain.HealthHealthy
			if len(entry.activeAlerts) > 0 {
				health = domain.HealthDown
			}
			members = append(members, domain.TargetHealth{
				Instance: entry.instance,
				Health:   health,
				Critical: entry.critical,
			})
		}
		entry.mu.Unlock()
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Instance < members[j].Instance })
	return members
}

// ensureEntry returns the entry for a target, creating it on first reference.
// Params: event carrying target instance and service label order.
// Returns: target entry pointer.
func (s *TargetStore) ensureEntry(event domain.AlertEvent) *targetEntry {
	s.mu.RLock()
	entry, ok := s.targets[event.TargetInstance]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.targets[event.TargetInstance]; ok {
		return entry
	}
	entry = &targetEntry{
		instance:      event.TargetInstance,
		activeAlerts:  make(map[string]struct{}),
		serviceSet:    make(map[string]struct{}),
		componentName: domain.TargetComponentName(event.TargetInstance, event.ServiceNames),
	}
	s.targets[event.TargetInstance] = entry
	return entry
}

// ServiceStates owns per-service lifecycle records.
// Params: service entries keyed by visible service name.
// Returns: per-service recompute serialization and confirmed-state storage.
type ServiceStates struct {
	mu       sync.Mutex
	services map[string]*ServiceState
}

// NewServiceStates creates an empty service registry.
// Params: none.
// Returns: initialized registry.
func NewServiceStates() *ServiceStates {
	return &ServiceStates{services: make(map[string]*ServiceState)}
}

// Get returns the state record for one service, creating it on first reference.
// Params: visible service name.
// Returns: service state pointer.
func (r *ServiceStates) Get(name string) *ServiceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.services[name]
	if !ok {
		entry = &ServiceState{name: name, health: domain.HealthHealthy}
		r.services[name] = entry
	}
	return entry
}

// ServiceState records the last backend-confirmed aggregate of one service.
// Params: confirmed health and open incident back-reference.
// Returns: cycle mutex serializes recomputation, field mutex guards reads/writes.
// The cycle mutex is distinct from the field mutex so backend calls never
// happen under the state lock.
type ServiceState struct {
	cycle sync.Mutex

	mu         sync.Mutex
	name       string
	health     domain.Health
	incidentID int
}

// Name returns the visible service name.
// Params: none.
// Returns: service name.
func (s *ServiceState) Name() string {
	return s.name
}

// LockCycle serializes one recomputation cycle for this service.
// Params: none.
// Returns: caller must UnlockCycle when the cycle ends.
func (s *ServiceState) LockCycle() {
	s.cycle.Lock()
}

// UnlockCycle releases the recomputation cycle.
// Params: none.
// Returns: none.
func (s *ServiceState) UnlockCycle() {
	s.cycle.Unlock()
}

// Confirmed reads the last backend-confirmed aggregate state.
// Params: none.
// Returns: confirmed health and open incident id (0 when none).
func (s *ServiceState) Confirmed() (domain.Health, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health, s.incidentID
}

// Commit stores a backend-confirmed aggregate transition.
// Params: confirmed health and open incident id (0 clears the back-reference).
// Returns: none. Only confirmed values are ever stored, never optimistic ones.
func (s *ServiceState) Commit(health domain.Health, incidentID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = health
	s.incidentID = incidentID
}

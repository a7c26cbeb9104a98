package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"statusbridge/internal/cachet"
	"statusbridge/internal/config"
	"statusbridge/internal/domain"
	"statusbridge/internal/engine"
	"statusbridge/internal/ingest"
	"statusbridge/internal/notify"
	"statusbridge/internal/state"
)

// Backend is the narrow status-page surface the manager drives.
// Params: component/incident operations with bounded retry inside.
// Returns: implemented by the cachet client, faked in tests.
type Backend interface {
	ResolveComponentID(ctx context.Context, name string) (int, error)
	UpdateComponentStatus(ctx context.Context, id int, health domain.Health) error
	UpdateTargetComponent(ctx context.Context, id int, health domain.Health, description string) error
	CreateIncident(ctx context.Context, componentID int, name, message string) (int, error)
	CreateIncidentUpdate(ctx context.Context, incidentID int, message string) error
	ResolveIncident(ctx context.Context, incidentID int) error
	FindOpenIncident(ctx context.Context, componentID int) (int, bool, error)
}

// Manager coordinates normalization, state mutation, and incident lifecycle.
// Params: target/service stores, backend client, and optional notifier.
// Returns: payload sink for ingest interfaces.
type Manager struct {
	logger   *slog.Logger
	targets  *state.TargetStore
	services *state.ServiceStates
	backend  Backend
	notifier notify.Notifier
	incident config.IncidentConfig
	stats    *ingest.Stats

	pushMu    sync.Mutex
	pushLocks map[string]*sync.Mutex
}

// NewManager creates the aggregation manager.
// Params: logger, backend, incident text config, stats sink, optional notifier.
// Returns: initialized manager with empty state.
func NewManager(logger *slog.Logger, backend Backend, incident config.IncidentConfig, stats *ingest.Stats, notifier notify.Notifier) *Manager {
	return &Manager{
		logger:    logger,
		targets:   state.NewTargetStore(),
		services:  state.NewServiceStates(),
		backend:   backend,
		notifier:  notifier,
		incident:  incident,
		stats:     stats,
		pushLocks: make(map[string]*sync.Mutex),
	}
}

// ProcessBatch applies one notification batch end to end.
// Params: context and decoded payload.
// Returns: error only on cancellation; backend failures are logged and the
// affected update is dropped for this cycle, self-correcting on the next
// state-changing event.
func (m *Manager) ProcessBatch(ctx context.Context, payload domain.WebhookPayload) error {
	events, batchStats := domain.Normalize(payload)
	if m.stats != nil {
		m.stats.Record(batchStats)
	}
	if batchStats.Malformed > 0 {
		m.logger.Warn("notification records dropped as malformed", "count", batchStats.Malformed)
	}
	if batchStats.UnrecognizedBool > 0 {
		m.logger.Warn("unrecognized boolean label values treated as false", "count", batchStats.UnrecognizedBool)
	}

	affected := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		result := m.targets.Apply(event)
		m.logger.Info("alert event applied",
			"alert", event.AlertName,
			"target", event.TargetInstance,
			"firing", event.Firing,
			"health", string(result.Health),
			"critical", result.Critical,
		)

		if result.AlertsChanged || result.Changed {
			m.pushTargetComponent(ctx, event.TargetInstance)
		}
		if !result.Changed {
			continue
		}
		for _, service := range result.ServiceNames {
			if _, dup := seen[service]; dup {
				continue
			}
			seen[service] = struct{}{}
			affected = append(affected, service)
		}
	}

	for _, service := range affected {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.recomputeService(ctx, service)
	}
	return nil
}

// pushTargetComponent mirrors one target's state onto its backend component.
// Params: context and target instance.
// Returns: none; resolution/update failures are logged and dropped.
// Pushes for the same target are serialized and each push re-reads the
// current state under its lock, so an in-flight update from an earlier batch
// can never overwrite a later-applied one. The description is display-only
// and never parsed back.
func (m *Manager) pushTargetComponent(ctx context.Context, instance string) {
	lock := m.pushLock(instance)
	lock.Lock()
	defer lock.Unlock()

	snapshot, ok := m.targets.TargetSnapshot(instance)
	if !ok {
		return
	}

	componentID, err := m.backend.ResolveComponentID(ctx, snapshot.ComponentName)
	if err != nil {
		if errors.Is(err, cachet.ErrComponentNotFound) {
			m.logger.Error("target component is not provisioned", "component", snapshot.ComponentName)
		} else {
			m.logger.Error("target component lookup failed", "component", snapshot.ComponentName, "error", err.Error())
		}
		return
	}

	description := targetDescription(snapshot.Critical, snapshot.ActiveAlerts)
	if err := m.backend.UpdateTargetComponent(ctx, componentID, snapshot.Health, description); err != nil {
		m.logger.Error("target component update failed", "component", snapshot.ComponentName, "error", err.Error())
	}
}

// pushLock returns the push serialization lock for one target.
// Params: target instance.
// Returns: per-target mutex, created on first reference.
func (m *Manager) pushLock(instance string) *sync.Mutex {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()
	lock, ok := m.pushLocks[instance]
	if !ok {
		lock = &sync.Mutex{}
		m.pushLocks[instance] = lock
	}
	return lock
}

// recomputeService recomputes one service aggregate and drives its incident.
// Params: context and visible service name.
// Returns: none; every failure leaves the recorded state untouched so the
// service stays eligible for retry on the next trigger.
// The cycle lock serializes recomputation per service; backend calls run on
// snapshots outside the state field lock.
func (m *Manager) recomputeService(ctx context.Context, serviceName string) {
	svc := m.services.Get(serviceName)
	svc.LockCycle()
	defer svc.UnlockCycle()

	members := m.targets.Snapshot(serviceName)
	next := engine.Aggregate(members)
	prev, incidentID := svc.Confirmed()
	if next == prev {
		return
	}

	componentID, err := m.backend.ResolveComponentID(ctx, serviceName)
	if err != nil {
		m.logger.Error("service component lookup failed", "service", serviceName, "error", err.Error())
		return
	}

	if err := m.backend.UpdateComponentStatus(ctx, componentID, next); err != nil {
		m.logger.Error("service status update failed", "service", serviceName, "error", err.Error())
		return
	}
	m.logger.Info("component status transition",
		"component", serviceName,
		"old", string(prev),
		"new", string(next),
	)

	newIncidentID := incidentID
	switch {
	case next == domain.HealthDown && incidentID == 0:
		newIncidentID, err = m.openIncident(ctx, serviceName, componentID)
		if err != nil {
			m.logger.Error("incident open failed", "service", serviceName, "error", err.Error())
			return
		}
	case next == domain.HealthHealthy && incidentID != 0:
		if err := m.closeIncident(ctx, serviceName, incidentID); err != nil {
			m.logger.Error("incident close failed", "service", serviceName, "incident_id", incidentID, "error", err.Error())
			return
		}
		newIncidentID = 0
	}
	// Down -> Partial keeps the incident open; only a full recovery closes it.

	svc.Commit(next, newIncidentID)
}

// openIncident opens (or adopts) the outage incident for one service.
// Params: context, service name, and resolved component id.
// Returns: backend-confirmed incident id or error.
// An already-open backend incident is adopted instead of duplicated, which
// covers cold starts into an ongoing outage.
func (m *Manager) openIncident(ctx context.Context, serviceName string, componentID int) (int, error) {
	if existingID, found, err := m.backend.FindOpenIncident(ctx, componentID); err != nil {
		return 0, fmt.Errorf("find open incident: %w", err)
	} else if found {
		m.logger.Info("adopting open incident", "service", serviceName, "incident_id", existingID)
		return existingID, nil
	}

	incidentName := fmt.Sprintf(m.incident.NameTemplate, serviceName)
	incidentID, err := m.backend.CreateIncident(ctx, componentID, incidentName, m.incident.OpeningMessage)
	if err != nil {
		return 0, fmt.Errorf("create incident: %w", err)
	}
	m.logger.Info("incident opened", "service", serviceName, "incident_id", incidentID)
	m.notifyIncident(ctx, notify.IncidentEvent{
		Service:    serviceName,
		Health:     domain.HealthDown,
		IncidentID: incidentID,
		Opened:     true,
	})
	return incidentID, nil
}

// closeIncident resolves one incident with a resolution update.
// Params: context, service name, and open incident id.
// Returns: first backend error.
func (m *Manager) closeIncident(ctx context.Context, serviceName string, incidentID int) error {
	if err := m.backend.CreateIncidentUpdate(ctx, incidentID, m.incident.ResolvedMessage); err != nil {
		return fmt.Errorf("incident update: %w", err)
	}
	if err := m.backend.ResolveIncident(ctx, incidentID); err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	m.logger.Info("incident resolved", "service", serviceName, "incident_id", incidentID)
	m.notifyIncident(ctx, notify.IncidentEvent{
		Service:    serviceName,
		Health:     domain.HealthHealthy,
		IncidentID: incidentID,
	})
	return nil
}

// notifyIncident sends one optional operator ping.
// Params: context and incident event.
// Returns: none; delivery failures are logged only.
func (m *Manager) notifyIncident(ctx context.Context, event notify.IncidentEvent) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyIncident(ctx, event); err != nil {
		m.logger.Warn("operator notification failed", "service", event.Service, "error", err.Error())
	}
}

// targetDescription renders the display-only target component description.
// Params: critical flag and sorted active alert names.
// Returns: two-line description matching the provisioned format.
func targetDescription(critical bool, alerts []string) string {
	criticalLine := "critical: no"
	if critical {
		criticalLine = "critical: yes"
	}
	if len(alerts) == 0 {
		return criticalLine + "\nno alerts"
	}
	return criticalLine + "\n" + strings.Join(alerts, ",") + ","
}

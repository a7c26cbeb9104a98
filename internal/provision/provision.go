package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"statusbridge/internal/cachet"
	"statusbridge/internal/domain"

	"gopkg.in/yaml.v3"
)

// Backend is the provisioning surface of the status-page client.
// Params: list/create/delete operations for groups and components.
// Returns: implemented by the cachet client, faked in tests.
type Backend interface {
	ListComponents(ctx context.Context) ([]cachet.Component, error)
	ListComponentGroups(ctx context.Context) ([]cachet.ComponentGroup, error)
	CreateComponent(ctx context.Context, spec cachet.ComponentSpec) (int, error)
	CreateComponentGroup(ctx context.Context, name string) (int, error)
	DeleteComponent(ctx context.Context, id int) error
	DeleteComponentGroup(ctx context.Context, id int) error
}

// TargetsFile mirrors the alerting source's static target configuration.
// Params: job name to target-group list mapping.
// Returns: read-only provisioning input.
type TargetsFile struct {
	PrometheusTargets map[string][]TargetGroup `yaml:"prometheus_targets"`
}

// TargetGroup is one scrape target group with its labels.
// Params: target addresses and flat label mapping; label values may be
// encoded as booleans or strings in YAML.
// Returns: provisioning input for component derivation.
type TargetGroup struct {
	Targets []string       `yaml:"targets"`
	Labels  map[string]any `yaml:"labels"`
}

// TargetComponent describes one target component to provision.
// Params: display name, critical flag, and the services the target feeds.
// Returns: create input for the invisible component.
type TargetComponent struct {
	Name     string
	Critical bool
	Services []string
}

// Plan is the derived provisioning work set.
// Params: target components and the distinct visible service names.
// Returns: input for the sync phase.
type Plan struct {
	TargetComponents []TargetComponent
	ServiceNames     []string
}

// LoadTargetsFile reads and parses the Prometheus targets YAML.
// Params: file path.
// Returns: decoded targets file or error.
func LoadTargetsFile(path string) (TargetsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TargetsFile{}, fmt.Errorf("read targets file %q: %w", path, err)
	}
	var file TargetsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return TargetsFile{}, fmt.Errorf("parse targets file %q: %w", path, err)
	}
	return file, nil
}

// BuildPlan derives the provisioning work set from the targets file.
// Params: decoded targets file and logger for skip warnings.
// Returns: plan with one target component per target and the sorted set of
// visible service names. Target groups without the enablement label are
// skipped silently; groups missing the component label are logged.
func BuildPlan(file TargetsFile, logger *slog.Logger) Plan {
	var plan Plan
	serviceSet := make(map[string]struct{})

	jobs := make([]string, 0, len(file.PrometheusTargets))
	for job := range file.PrometheusTargets {
		jobs = append(jobs, job)
	}
	sort.Strings(jobs)

	for _, job := range jobs {
		for _, group := range file.PrometheusTargets[job] {
			if !labelBool(group.Labels[domain.LabelStatusPageAlert]) {
				continue
			}
			componentLabel := labelString(group.Labels[domain.LabelStatusPageComponent])
			services := domain.SplitServiceNames(componentLabel)
			if len(services) == 0 {
				logger.Warn("target group skipped, missing component label", "job", job)
				continue
			}
			critical := labelBool(group.Labels[domain.LabelCriticalTarget])

			for _, service := range services {
				serviceSet[service] = struct{}{}
			}
			for _, target := range group.Targets {
				plan.TargetComponents = append(plan.TargetComponents, TargetComponent{
					Name:     domain.TargetComponentName(target, services),
					Critical: critical,
					Services: services,
				})
			}
		}
	}

	plan.ServiceNames = make([]string, 0, len(serviceSet))
	for service := range serviceSet {
		plan.ServiceNames = append(plan.ServiceNames, service)
	}
	sort.Strings(plan.ServiceNames)
	return plan
}

// Provisioner performs the one-shot backend sync.
// Params: backend client, component-to-group mapping, status code for new
// records, and logger.
// Returns: idempotent sync runner.
type Provisioner struct {
	backend        Backend
	componentGroup map[string]string
	healthyStatus  int
	logger         *slog.Logger
}

// New creates a provisioner.
// Params: backend, component-to-group mapping from config, healthy status
// code, and logger.
// Returns: initialized provisioner.
func New(backend Backend, componentGroup map[string]string, healthyStatus int, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		backend:        backend,
		componentGroup: componentGroup,
		healthyStatus:  healthyStatus,
		logger:         logger,
	}
}

// Sync ensures the backend matches the plan.
// Params: context, derived plan, and reset flag.
// Returns: first backend error. Existing records are matched by name and kept;
// with reset enabled, components and groups absent from the plan are deleted
// first. Re-running Sync against an already-synced backend performs no writes.
func (p *Provisioner) Sync(ctx context.Context, plan Plan, reset bool) error {
	existingComponents, err := p.backend.ListComponents(ctx)
	if err != nil {
		return fmt.Errorf("list components: %w", err)
	}
	existingGroups, err := p.backend.ListComponentGroups(ctx)
	if err != nil {
		return fmt.Errorf("list component groups: %w", err)
	}

	wantComponents := make(map[string]struct{}, len(plan.TargetComponents)+len(plan.ServiceNames))
	for _, target := range plan.TargetComponents {
		wantComponents[target.Name] = struct{}{}
	}
	for _, service := range plan.ServiceNames {
		wantComponents[service] = struct{}{}
	}
	wantGroups := p.wantedGroups(plan.ServiceNames)

	if reset {
		if err := p.deleteStale(ctx, existingComponents, existingGroups, wantComponents, wantGroups); err != nil {
			return err
		}
		existingComponents = filterComponents(existingComponents, wantComponents)
		existingGroups = filterGroups(existingGroups, wantGroups)
	}

	componentByName := make(map[string]cachet.Component, len(existingComponents))
	for _, component := range existingComponents {
		componentByName[component.Name] = component
	}
	groupIDByName := make(map[string]int, len(existingGroups))
	for _, group := range existingGroups {
		groupIDByName[group.Name] = group.ID
	}

	for _, groupName := range wantGroups {
		if _, exists := groupIDByName[groupName]; exists {
			continue
		}
		id, err := p.backend.CreateComponentGroup(ctx, groupName)
		if err != nil {
			return fmt.Errorf("create group %q: %w", groupName, err)
		}
		groupIDByName[groupName] = id
		p.logger.Info("component group created", "group", groupName, "id", id)
	}

	for _, target := range plan.TargetComponents {
		if _, exists := componentByName[target.Name]; exists {
			continue
		}
		id, err := p.backend.CreateComponent(ctx, cachet.ComponentSpec{
			Name:        target.Name,
			Status:      p.healthyStatus,
			Enabled:     false,
			Description: targetBootstrapDescription(target.Critical),
		})
		if err != nil {
			return fmt.Errorf("create target component %q: %w", target.Name, err)
		}
		componentByName[target.Name] = cachet.Component{ID: id, Name: target.Name}
		p.logger.Info("target component created", "component", target.Name, "id", id, "critical", target.Critical)
	}

	for _, service := range plan.ServiceNames {
		if _, exists := componentByName[service]; exists {
			continue
		}
		groupName, mapped := p.componentGroup[service]
		if !mapped {
			p.logger.Warn("service has no group mapping, skipping", "service", service)
			continue
		}
		groupID, created := groupIDByName[groupName]
		if !created {
			p.logger.Warn("group missing for service, skipping", "service", service, "group", groupName)
			continue
		}
		id, err := p.backend.CreateComponent(ctx, cachet.ComponentSpec{
			Name:    service,
			Status:  p.healthyStatus,
			Enabled: true,
			GroupID: groupID,
		})
		if err != nil {
			return fmt.Errorf("create service component %q: %w", service, err)
		}
		componentByName[service] = cachet.Component{ID: id, Name: service}
		p.logger.Info("service component created", "service", service, "id", id, "group", groupName)
	}

	return nil
}

// wantedGroups derives the sorted distinct group names for the plan services.
// Params: visible service names.
// Returns: sorted group names; unmapped services are reported by Sync later.
func (p *Provisioner) wantedGroups(services []string) []string {
	set := make(map[string]struct{})
	for _, service := range services {
		if group, ok := p.componentGroup[service]; ok {
			set[group] = struct{}{}
		}
	}
	groups := make([]string, 0, len(set))
	for group := range set {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// deleteStale removes backend records absent from the configuration.
// Params: current records and wanted name sets.
// Returns: first delete error.
func (p *Provisioner) deleteStale(
	ctx context.Context,
	components []cachet.Component,
	groups []cachet.ComponentGroup,
	wantComponents map[string]struct{},
	wantGroups []string,
) error {
	groupSet := make(map[string]struct{}, len(wantGroups))
	for _, group := range wantGroups {
		groupSet[group] = struct{}{}
	}

	for _, component := range components {
		if _, keep := wantComponents[component.Name]; keep {
			continue
		}
		if err := p.backend.DeleteComponent(ctx, component.ID); err != nil {
			return fmt.Errorf("delete component %q: %w", component.Name, err)
		}
		p.logger.Info("stale component deleted", "component", component.Name, "id", component.ID)
	}
	for _, group := range groups {
		if _, keep := groupSet[group.Name]; keep {
			continue
		}
		if err := p.backend.DeleteComponentGroup(ctx, group.ID); err != nil {
			return fmt.Errorf("delete group %q: %w", group.Name, err)
		}
		p.logger.Info("stale group deleted", "group", group.Name, "id", group.ID)
	}
	return nil
}

// filterComponents keeps components present in the wanted set.
// Params: records and wanted name set.
// Returns: filtered slice.
func filterComponents(components []cachet.Component, want map[string]struct{}) []cachet.Component {
	kept := components[:0]
	for _, component := range components {
		if _, ok := want[component.Name]; ok {
			kept = append(kept, component)
		}
	}
	return kept
}

// filterGroups keeps groups present in the wanted list.
// Params: records and wanted names.
// Returns: filtered slice.
func filterGroups(groups []cachet.ComponentGroup, want []string) []cachet.ComponentGroup {
	set := make(map[string]struct{}, len(want))
	for _, name := range want {
		set[name] = struct{}{}
	}
	kept := groups[:0]
	for _, group := range groups {
		if _, ok := set[group.Name]; ok {
			kept = append(kept, group)
		}
	}
	return kept
}

// targetBootstrapDescription renders the initial target component description.
// Params: critical flag.
// Returns: two-line description with an empty alert list.
func targetBootstrapDescription(critical bool) string {
	if critical {
		return "critical: yes\nno alerts"
	}
	return "critical: no\nno alerts"
}

// labelBool reads a YAML label value as boolean.
// Params: label value decoded as bool or string.
// Returns: true only for explicit true encodings.
func labelBool(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return domain.ParseBoolToken(typed)
	default:
		return false
	}
}

// labelString reads a YAML label value as string.
// Params: label value.
// Returns: string form or empty for unsupported types.
func labelString(value any) string {
	typed, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(typed)
}

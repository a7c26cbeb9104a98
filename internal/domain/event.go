package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Alert status values delivered by the alerting source.
const (
	// AlertStatusFiring marks an active alert record.
	AlertStatusFiring = "firing"
	// AlertStatusResolved marks a recovered alert record.
	AlertStatusResolved = "resolved"
)

// Label keys consumed from the notification payload.
const (
	// LabelAlertName carries the alert rule name.
	LabelAlertName = "alertname"
	// LabelInstance carries the monitored target instance (host:port).
	LabelInstance = "instance"
	// LabelStatusPageAlert enables status page processing when set to "true".
	LabelStatusPageAlert = "status_page_alert"
	// LabelStatusPageComponent carries the comma-separated visible service names.
	LabelStatusPageComponent = "status_page_component"
	// LabelCriticalTarget flags a target whose failure alone downs its services.
	LabelCriticalTarget = "status_page_critical_target"
)

// WebhookAlert is one raw alert record inside a notification batch.
// Params: status and flat label mapping from the alerting source.
// Returns: input for normalization into AlertEvent.
type WebhookAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt,omitempty"`
	EndsAt       time.Time         `json:"endsAt,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// WebhookPayload is the inbound notification batch shape.
// Params: group metadata and alert record list from the alerting source.
// Returns: decoded batch for normalization.
type WebhookPayload struct {
	Version           string            `json:"version,omitempty"`
	GroupKey          string            `json:"groupKey,omitempty"`
	Status            string            `json:"status,omitempty"`
	Receiver          string            `json:"receiver,omitempty"`
	GroupLabels       map[string]string `json:"groupLabels,omitempty"`
	CommonLabels      map[string]string `json:"commonLabels,omitempty"`
	CommonAnnotations map[string]string `json:"commonAnnotations,omitempty"`
	ExternalURL       string            `json:"externalURL,omitempty"`
	Alerts            []WebhookAlert    `json:"alerts"`
}

// AlertEvent is one normalized status-page mutation derived from a record.
// Params: alert identity, target instance, firing flag, and service bindings.
// Returns: consumed once by the target state store, never retained.
type AlertEvent struct {
	AlertName      string
	TargetInstance string
	Firing         bool
	ServiceNames   []string
	Critical       bool
}

// NormalizeStats counts normalization outcomes for one batch.
// Params: accepted/ignored/malformed record counters.
// Returns: observability input for the ingest drop metrics.
type NormalizeStats struct {
	Accepted         int
	Ignored          int
	Malformed        int
	UnrecognizedBool int
}

// DecodePayload decodes and validates one notification batch.
// Params: JSON document bytes from webhook or queue transport.
// Returns: decoded payload or decode/validation error.
func DecodePayload(raw []byte) (WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return WebhookPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return WebhookPayload{}, err
	}
	return payload, nil
}

// Validate checks the minimal payload contract.
// Params: decoded payload fields.
// Returns: validation error when the batch shape is unusable.
func (p WebhookPayload) Validate() error {
	if len(p.Alerts) == 0 {
		return errors.New("payload must contain at least one alert")
	}
	for i, alert := range p.Alerts {
		switch alert.Status {
		case AlertStatusFiring, AlertStatusResolved:
		default:
			return fmt.Errorf("alert[%d]: unsupported status %q", i, alert.Status)
		}
	}
	return nil
}

// Normalize expands a payload into typed alert events.
// Params: decoded notification batch.
// Returns: events for status-page-relevant records plus drop statistics.
// Records without the enablement label are ignored silently; records missing
// required labels are counted as malformed, never a batch error.
func Normalize(payload WebhookPayload) ([]AlertEvent, NormalizeStats) {
	events := make([]AlertEvent, 0, len(payload.Alerts))
	var stats NormalizeStats

	for _, alert := range payload.Alerts {
		enablement := alert.Labels[LabelStatusPageAlert]
		if !RecognizedBoolToken(enablement) {
			stats.UnrecognizedBool++
		}
		if !ParseBoolToken(enablement) {
			stats.Ignored++
			continue
		}

		instance := strings.TrimSpace(alert.Labels[LabelInstance])
		alertName := strings.TrimSpace(alert.Labels[LabelAlertName])
		services := SplitServiceNames(alert.Labels[LabelStatusPageComponent])
		if instance == "" || alertName == "" || len(services) == 0 {
			stats.Malformed++
			continue
		}

		critical := alert.Labels[LabelCriticalTarget]
		if !RecognizedBoolToken(critical) {
			stats.UnrecognizedBool++
		}

		events = append(events, AlertEvent{
			AlertName:      alertName,
			TargetInstance: instance,
			Firing:         alert.Status == AlertStatusFiring,
			ServiceNames:   services,
			Critical:       ParseBoolToken(critical),
		})
		stats.Accepted++
	}

	return events, stats
}

// SplitServiceNames splits the comma-separated service label into clean names.
// Params: raw label value.
// Returns: trimmed non-empty names preserving label order.
func SplitServiceNames(raw string) []string {
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// ParseBoolToken parses recognized boolean tokens, defaulting to false.
// Params: raw label value.
// Returns: true only for explicit true tokens.
func ParseBoolToken(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// RecognizedBoolToken reports whether a label value is a known boolean
// encoding. An absent or empty label counts as recognized false.
// Params: raw label value.
// Returns: false for values like "enabled" or "ture" that fall back to false.
func RecognizedBoolToken(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "true", "yes", "1", "false", "no", "0":
		return true
	default:
		return false
	}
}

// TargetComponentName builds the backend display key for one target component.
// Params: target instance and the service names it feeds.
// Returns: "<instance> | <svc1>, <svc2>" display name.
func TargetComponentName(instance string, serviceNames []string) string {
	return instance + " | " + strings.Join(serviceNames, ", ")
}

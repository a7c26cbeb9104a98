package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen     = ":8080"
	defaultWebhookPath    = "/webhook"
	defaultHealthPath     = "/healthz"
	defaultStatusPath     = "/statusz"
	defaultMaxBodyBytes   = 1 << 20
	defaultNATSURL        = "nats://127.0.0.1:4222"
	defaultNATSSubject    = "statusbridge.notifications"
	defaultNATSStream     = "STATUSBRIDGE_NOTIFICATIONS"
	defaultNATSConsumer   = "statusbridge-ingest"
	defaultNATSGroup      = "statusbridge-workers"
	defaultNATSAckWaitSec = 30
	defaultNATSNackDelay  = 1000
	defaultNATSMaxDeliver = -1
	defaultNATSAckPending = 1024
	defaultTimeoutSec     = 10
	defaultPerPage        = 50
	defaultRetryAttempts  = 3
	defaultRetryInitialMS = 500
	defaultRetryMaxMS     = 5000

	// ServiceModeSingle keeps HTTP-only ingest without NATS dependencies.
	ServiceModeSingle = "single"
	// ServiceModeNATS adds the JetStream queue consumer as a second ingest path.
	ServiceModeNATS = "nats"
)

// Backend numeric status defaults follow the live backend's enumeration.
const (
	defaultStatusHealthy         = 1
	defaultStatusPartial         = 3
	defaultStatusDown            = 4
	defaultIncidentInvestigating = 1
	defaultIncidentResolved      = 4
)

// Config holds service runtime settings and provisioning group mappings.
// Params: TOML sections decoded from one config file.
// Returns: validated runtime configuration with defaults applied.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Log      LogConfig      `toml:"log"`
	Ingest   IngestConfig   `toml:"ingest"`
	Backend  BackendConfig  `toml:"backend"`
	Incident IncidentConfig `toml:"incident"`
	Notify   NotifyConfig   `toml:"notify"`
	Group    []GroupConfig  `toml:"group"`
}

// ServiceConfig contains process-level settings.
// Params: service name and ingest mode.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name string `toml:"name"`
	Mode string `toml:"mode"`
}

// LogConfig defines log sinks.
// Params: console and optional file sink settings.
// Returns: logging runtime options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one log sink.
// Params: enabled flag, level, format, and file path for file sinks.
// Returns: sink configuration for the logging package.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound notification interfaces.
// Params: HTTP webhook and optional NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig defines the webhook HTTP listener.
// Params: listen address, paths, body limit, and basic-auth credentials.
// Returns: HTTP ingest options; auth is enforced when username is non-empty.
type HTTPIngestConfig struct {
	Listen       string `toml:"listen"`
	WebhookPath  string `toml:"webhook_path"`
	HealthPath   string `toml:"health_path"`
	StatusPath   string `toml:"status_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	AuthUsername string `toml:"auth_username"`
	AuthPassword string `toml:"auth_password"`
}

// NATSIngestConfig defines the JetStream queue consumer for bridged deliveries.
// Params: connection URLs and durable consumer settings.
// Returns: NATS ingest options used in "nats" service mode.
type NATSIngestConfig struct {
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	Stream        string   `toml:"stream"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// BackendConfig defines the status-page backend endpoint and status mapping.
// Params: API endpoint, token, timeouts, pagination, numeric codes, retry.
// Returns: backend client options.
type BackendConfig struct {
	APIURL     string      `toml:"api_url"`
	APIToken   string      `toml:"api_token"`
	TimeoutSec int         `toml:"timeout_sec"`
	PerPage    int         `toml:"per_page"`
	Status     StatusCodes `toml:"status"`
	Retry      RetryConfig `toml:"retry"`
}

// StatusCodes maps logical health and incident states to backend numbers.
// Params: numeric codes confirmed against the live backend enumeration.
// Returns: boundary-only mapping used by the cachet client.
type StatusCodes struct {
	Healthy               int `toml:"healthy"`
	Partial               int `toml:"partial"`
	Down                  int `toml:"down"`
	IncidentInvestigating int `toml:"incident_investigating"`
	IncidentResolved      int `toml:"incident_resolved"`
}

// RetryConfig defines bounded retry with backoff for backend calls.
// Params: attempt cap and backoff strategy fields.
// Returns: retry policy for transient failures. Retry is on by default;
// disabled opts out.
type RetryConfig struct {
	Disabled       bool   `toml:"disabled"`
	MaxAttempts    int    `toml:"max_attempts"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// IncidentConfig defines the text used for backend incident records.
// Params: printf-style name template and open/resolve messages.
// Returns: incident message settings.
type IncidentConfig struct {
	NameTemplate    string `toml:"name_template"`
	OpeningMessage  string `toml:"opening_message"`
	ResolvedMessage string `toml:"resolved_message"`
}

// NotifyConfig defines optional operator notification channels.
// Params: Telegram channel settings.
// Returns: notification runtime options.
type NotifyConfig struct {
	Telegram TelegramNotifier `toml:"telegram"`
}

// TelegramNotifier defines the optional Telegram operator channel.
// Params: bot credentials and destination chat.
// Returns: channel settings; disabled by default.
type TelegramNotifier struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

// GroupConfig maps one backend component group to its member service names.
// Params: group display name and visible component names.
// Returns: provisioning group mapping.
type GroupConfig struct {
	Name       string   `toml:"name"`
	Components []string `toml:"components"`
}

// Load reads, decodes, and validates one TOML config file.
// Params: config file path from CLI.
// Returns: validated configuration or load error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %q: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills unset fields with runtime defaults.
// Params: decoded config in place.
// Returns: config mutated with defaults.
func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "statusbridge"
	}
	if c.Service.Mode == "" {
		c.Service.Mode = ServiceModeSingle
	}

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}
	if c.Log.Console.Level == "" {
		c.Log.Console.Level = "info"
	}
	if c.Log.Console.Format == "" {
		c.Log.Console.Format = "line"
	}
	if c.Log.File.Level == "" {
		c.Log.File.Level = "info"
	}
	if c.Log.File.Format == "" {
		c.Log.File.Format = "json"
	}

	if c.Ingest.HTTP.Listen == "" {
		c.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if c.Ingest.HTTP.WebhookPath == "" {
		c.Ingest.HTTP.WebhookPath = defaultWebhookPath
	}
	if c.Ingest.HTTP.HealthPath == "" {
		c.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if c.Ingest.HTTP.StatusPath == "" {
		c.Ingest.HTTP.StatusPath = defaultStatusPath
	}
	if c.Ingest.HTTP.MaxBodyBytes <= 0 {
		c.Ingest.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}

	if len(c.Ingest.NATS.URL) == 0 {
		c.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if c.Ingest.NATS.Subject == "" {
		c.Ingest.NATS.Subject = defaultNATSSubject
	}
	if c.Ingest.NATS.Stream == "" {
		c.Ingest.NATS.Stream = defaultNATSStream
	}
	if c.Ingest.NATS.ConsumerName == "" {
		c.Ingest.NATS.ConsumerName = defaultNATSConsumer
	}
	if c.Ingest.NATS.DeliverGroup == "" {
		c.Ingest.NATS.DeliverGroup = defaultNATSGroup
	}
	if c.Ingest.NATS.AckWaitSec <= 0 {
		c.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
	}
	if c.Ingest.NATS.NackDelayMS <= 0 {
		c.Ingest.NATS.NackDelayMS = defaultNATSNackDelay
	}
	if c.Ingest.NATS.MaxDeliver == 0 {
		c.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	if c.Ingest.NATS.MaxAckPending <= 0 {
		c.Ingest.NATS.MaxAckPending = defaultNATSAckPending
	}

	if c.Backend.TimeoutSec <= 0 {
		c.Backend.TimeoutSec = defaultTimeoutSec
	}
	if c.Backend.PerPage <= 0 {
		c.Backend.PerPage = defaultPerPage
	}
	if c.Backend.Status.Healthy == 0 {
		c.Backend.Status.Healthy = defaultStatusHealthy
	}
	if c.Backend.Status.Partial == 0 {
		c.Backend.Status.Partial = defaultStatusPartial
	}
	if c.Backend.Status.Down == 0 {
		c.Backend.Status.Down = defaultStatusDown
	}
	if c.Backend.Status.IncidentInvestigating == 0 {
		c.Backend.Status.IncidentInvestigating = defaultIncidentInvestigating
	}
	if c.Backend.Status.IncidentResolved == 0 {
		c.Backend.Status.IncidentResolved = defaultIncidentResolved
	}
	if c.Backend.Retry.MaxAttempts <= 0 {
		c.Backend.Retry.MaxAttempts = defaultRetryAttempts
	}
	if c.Backend.Retry.Backoff == "" {
		c.Backend.Retry.Backoff = "exponential"
	}
	if c.Backend.Retry.InitialMS <= 0 {
		c.Backend.Retry.InitialMS = defaultRetryInitialMS
	}
	if c.Backend.Retry.MaxMS <= 0 {
		c.Backend.Retry.MaxMS = defaultRetryMaxMS
	}

	if c.Incident.NameTemplate == "" {
		c.Incident.NameTemplate = "%s is experiencing issues"
	}
	if c.Incident.OpeningMessage == "" {
		c.Incident.OpeningMessage = "We are currently investigating this issue."
	}
	if c.Incident.ResolvedMessage == "" {
		c.Incident.ResolvedMessage = "The issue has been resolved."
	}
}

// Validate checks configuration consistency after defaults.
// Params: config fields with defaults applied.
// Returns: first validation error.
func (c Config) Validate() error {
	switch c.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode must be %q or %q, got %q", ServiceModeSingle, ServiceModeNATS, c.Service.Mode)
	}

	if strings.TrimSpace(c.Backend.APIURL) == "" {
		return errors.New("backend.api_url is required")
	}
	if strings.TrimSpace(c.Backend.APIToken) == "" {
		return errors.New("backend.api_token is required")
	}

	if c.Log.File.Enabled && strings.TrimSpace(c.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}
	if c.Ingest.HTTP.AuthUsername != "" && c.Ingest.HTTP.AuthPassword == "" {
		return errors.New("ingest.http.auth_password is required when auth_username is set")
	}
	if !strings.Contains(c.Incident.NameTemplate, "%s") {
		return errors.New("incident.name_template must contain %s for the service name")
	}

	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when telegram is enabled")
		}
		if strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when telegram is enabled")
		}
	}

	seen := make(map[string]struct{}, len(c.Group))
	for _, group := range c.Group {
		name := strings.TrimSpace(group.Name)
		if name == "" {
			return errors.New("group.name must not be empty")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate group %q", name)
		}
		seen[name] = struct{}{}
	}

	return nil
}

// ComponentGroups builds the component-name to group-name mapping.
// Params: none.
// Returns: lookup used by the provisioning tool.
func (c Config) ComponentGroups() map[string]string {
	mapping := make(map[string]string)
	for _, group := range c.Group {
		for _, component := range group.Components {
			name := strings.TrimSpace(component)
			if name == "" {
				continue
			}
			mapping[name] = group.Name
		}
	}
	return mapping
}

package cachet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"statusbridge/internal/config"
	"statusbridge/internal/domain"
)

// ErrComponentNotFound reports a name lookup miss across all backend pages.
var ErrComponentNotFound = errors.New("component not found")

// APIError is a backend response with a non-success HTTP status.
// Params: HTTP status code and response body excerpt.
// Returns: error classified as permanent for 4xx, transient for 5xx.
type APIError struct {
	StatusCode int
	Body       string
}

// Error renders the API error.
// Params: none.
// Returns: error text with status code.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Body)
}

// IsPermanent classifies errors that retrying cannot recover.
// Params: error from a client call.
// Returns: true for 4xx responses (logic bug, operator attention required).
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// Component is one backend component record.
// Params: flattened attributes from the JSON:API response.
// Returns: typed record for engine and provisioning use.
type Component struct {
	ID          int
	Name        string
	Status      int
	Enabled     bool
	Description string
	GroupID     int
}

// ComponentGroup is one backend component group record.
// Params: id and display name.
// Returns: typed record for provisioning use.
type ComponentGroup struct {
	ID   int
	Name string
}

// ComponentSpec describes one component to create.
// Params: display name, initial status, visibility, group, and description.
// Returns: create-component request body fields.
type ComponentSpec struct {
	Name        string
	Status      int
	Enabled     bool
	GroupID     int
	Description string
}

// Client is a narrow retrying REST client for the status-page backend.
// Params: endpoint, token, bounded retry policy, and numeric status mapping.
// Returns: typed component/incident operations with finite timeouts.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	perPage    int
	codes      config.StatusCodes
	retry      config.RetryConfig
	logger     *slog.Logger

	cacheMu sync.Mutex
	idCache map[string]int
}

// New creates a backend client from configuration.
// Params: backend config and logger.
// Returns: initialized client.
func New(cfg config.BackendConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		perPage:    cfg.PerPage,
		codes:      cfg.Status,
		retry:      cfg.Retry,
		logger:     logger,
		idCache:    make(map[string]int),
	}
}

// StatusCode maps logical health to the backend's numeric component status.
// Params: health classification.
// Returns: configured numeric code. This is the only health-to-number boundary.
func (c *Client) StatusCode(health domain.Health) int {
	switch health {
	case domain.HealthPartial:
		return c.codes.Partial
	case domain.HealthDown:
		return c.codes.Down
	default:
		return c.codes.Healthy
	}
}

// GetComponent fetches one component by id.
// Params: context and component id.
// Returns: component record or error.
func (c *Client) GetComponent(ctx context.Context, id int) (Component, error) {
	var envelope struct {
		Data componentResource `json:"data"`
	}
	err := c.doWithRetry(ctx, http.MethodGet, "/components/"+strconv.Itoa(id), nil, nil, &envelope)
	if err != nil {
		return Component{}, err
	}
	return envelope.Data.component(), nil
}

// ResolveComponentID looks up a component id by display name.
// Params: context and exact component display name.
// Returns: cached or paginated-lookup id, ErrComponentNotFound on miss.
// The cache is the engine's backendComponentId mapping; ids are resolved by
// name at first reference and never invalidated during a process lifetime.
func (c *Client) ResolveComponentID(ctx context.Context, name string) (int, error) {
	c.cacheMu.Lock()
	if id, ok := c.idCache[name]; ok {
		c.cacheMu.Unlock()
		return id, nil
	}
	c.cacheMu.Unlock()

	components, err := c.ListComponents(ctx)
	if err != nil {
		return 0, err
	}
	for _, component := range components {
		if component.Name == name {
			c.cacheMu.Lock()
			c.idCache[name] = component.ID
			c.cacheMu.Unlock()
			return component.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrComponentNotFound, name)
}

// ListComponents fetches all components across pages.
// Params: context.
// Returns: component records or first page error.
func (c *Client) ListComponents(ctx context.Context) ([]Component, error) {
	var out []Component
	err := c.eachPage(ctx, "/components", func(data json.RawMessage) error {
		var resources []componentResource
		if err := json.Unmarshal(data, &resources); err != nil {
			return fmt.Errorf("decode components page: %w", err)
		}
		for _, resource := range resources {
			out = append(out, resource.component())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListComponentGroups fetches all component groups across pages.
// Params: context.
// Returns: group records or first page error.
func (c *Client) ListComponentGroups(ctx context.Context) ([]ComponentGroup, error) {
	var out []ComponentGroup
	err := c.eachPage(ctx, "/component-groups", func(data json.RawMessage) error {
		var resources []componentResource
		if err := json.Unmarshal(data, &resources); err != nil {
			return fmt.Errorf("decode groups page: %w", err)
		}
		for _, resource := range resources {
			out = append(out, ComponentGroup{ID: int(resource.ID), Name: resource.Attributes.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateComponentStatus updates one visible component's status.
// Params: context, component id, and logical health.
// Returns: backend error after bounded retry.
func (c *Client) UpdateComponentStatus(ctx context.Context, id int, health domain.Health) error {
	body := map[string]any{"status": c.StatusCode(health)}
	return c.doWithRetry(ctx, http.MethodPatch, "/components/"+strconv.Itoa(id), nil, body, nil)
}

// UpdateTargetComponent updates one target component's status and description.
// Params: context, component id, health, and display-only description.
// Returns: backend error after bounded retry. Target components stay disabled
// (invisible); the description is never read back by the engine.
func (c *Client) UpdateTargetComponent(ctx context.Context, id int, health domain.Health, description string) error {
	body := map[string]any{
		"status":      c.StatusCode(health),
		"enabled":     false,
		"description": description,
	}
	return c.doWithRetry(ctx, http.MethodPut, "/components/"+strconv.Itoa(id), nil, body, nil)
}

// CreateComponent creates one component record.
// Params: context and component spec.
// Returns: created component id or error.
func (c *Client) CreateComponent(ctx context.Context, spec ComponentSpec) (int, error) {
	body := map[string]any{
		"name":    spec.Name,
		"status":  spec.Status,
		"enabled": spec.Enabled,
	}
	if spec.GroupID > 0 {
		body["component_group_id"] = spec.GroupID
	}
	if spec.Description != "" {
		body["description"] = spec.Description
	}
	var envelope struct {
		Data componentResource `json:"data"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, "/components", nil, body, &envelope); err != nil {
		return 0, err
	}
	return int(envelope.Data.ID), nil
}

// CreateComponentGroup creates one visible component group.
// Params: context and group display name.
// Returns: created group id or error.
func (c *Client) CreateComponentGroup(ctx context.Context, name string) (int, error) {
	body := map[string]any{"name": name, "visible": 1}
	var envelope struct {
		Data componentResource `json:"data"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, "/component-groups", nil, body, &envelope); err != nil {
		return 0, err
	}
	return int(envelope.Data.ID), nil
}

// DeleteComponent removes one component record.
// Params: context and component id.
// Returns: backend error after bounded retry.
func (c *Client) DeleteComponent(ctx context.Context, id int) error {
	return c.doWithRetry(ctx, http.MethodDelete, "/components/"+strconv.Itoa(id), nil, nil, nil)
}

// DeleteComponentGroup removes one component group record.
// Params: context and group id.
// Returns: backend error after bounded retry.
func (c *Client) DeleteComponentGroup(ctx context.Context, id int) error {
	return c.doWithRetry(ctx, http.MethodDelete, "/component-groups/"+strconv.Itoa(id), nil, nil, nil)
}

// CreateIncident opens a new incident for one visible component.
// Params: context, component id, incident name, and opening message.
// Returns: created incident id or error.
func (c *Client) CreateIncident(ctx context.Context, componentID int, name, message string) (int, error) {
	body := map[string]any{
		"name":             name,
		"message":          message,
		"status":           c.codes.IncidentInvestigating,
		"visible":          1,
		"component_id":     componentID,
		"component_status": c.codes.Down,
	}
	var envelope struct {
		Data componentResource `json:"data"`
	}
	if err := c.doWithRetry(ctx, http.MethodPost, "/incidents", nil, body, &envelope); err != nil {
		return 0, err
	}
	return int(envelope.Data.ID), nil
}

// CreateIncidentUpdate appends a resolution update to an incident.
// Params: context, incident id, and update message.
// Returns: backend error after bounded retry.
func (c *Client) CreateIncidentUpdate(ctx context.Context, incidentID int, message string) error {
	body := map[string]any{
		"status":  c.codes.IncidentResolved,
		"message": message,
		"visible": 1,
	}
	return c.doWithRetry(ctx, http.MethodPost, "/incidents/"+strconv.Itoa(incidentID)+"/updates", nil, body, nil)
}

// ResolveIncident marks one incident resolved.
// Params: context and incident id.
// Returns: backend error after bounded retry.
func (c *Client) ResolveIncident(ctx context.Context, incidentID int) error {
	body := map[string]any{"status": c.codes.IncidentResolved}
	return c.doWithRetry(ctx, http.MethodPut, "/incidents/"+strconv.Itoa(incidentID), nil, body, nil)
}

// FindOpenIncident searches for an unresolved incident bound to a component.
// Params: context and component id.
// Returns: incident id and found flag. Used on cold start so an already-open
// incident is adopted instead of duplicated.
func (c *Client) FindOpenIncident(ctx context.Context, componentID int) (int, bool, error) {
	query := url.Values{"filter[status]": {"0,1,2,3"}}
	var envelope struct {
		Data []incidentResource `json:"data"`
	}
	if err := c.doWithRetry(ctx, http.MethodGet, "/incidents", query, nil, &envelope); err != nil {
		return 0, false, err
	}
	for _, incident := range envelope.Data {
		if int(incident.Attributes.ComponentID) == componentID {
			return int(incident.ID), true, nil
		}
	}
	return 0, false, nil
}

// eachPage iterates a paginated collection endpoint.
// Params: context, collection path, and per-page data callback.
// Returns: first request or callback error.
func (c *Client) eachPage(ctx context.Context, path string, visit func(json.RawMessage) error) error {
	page := 1
	for {
		query := url.Values{
			"per_page": {strconv.Itoa(c.perPage)},
			"page":     {strconv.Itoa(page)},
		}
		var envelope struct {
			Data  json.RawMessage `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := c.doWithRetry(ctx, http.MethodGet, path, query, nil, &envelope); err != nil {
			return err
		}
		if err := visit(envelope.Data); err != nil {
			return err
		}
		if envelope.Links.Next == "" {
			return nil
		}
		page++
	}
}

// doWithRetry performs one request with bounded retry on transient failures.
// Params: request parts and optional response destination.
// Returns: final error after the attempt cap; permanent errors never retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.retry.Disabled {
		return c.do(ctx, method, path, query, body, out)
	}

	attempt := 0
	backoff := time.Duration(c.retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(c.retry.MaxMS) * time.Millisecond

	for {
		attempt++
		err := c.do(ctx, method, path, query, body, out)
		if err == nil {
			if c.retry.LogEachAttempt && attempt > 1 && c.logger != nil {
				c.logger.Info("backend call recovered after retries", "method", method, "path", path, "attempt", attempt)
			}
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if c.retry.LogEachAttempt && c.logger != nil {
			c.logger.Warn("backend call attempt failed", "method", method, "path", path, "attempt", attempt, "error", err.Error())
		}
		if attempt >= c.retry.MaxAttempts {
			return fmt.Errorf("backend %s %s failed after %d attempts: %w", method, path, attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if strings.EqualFold(c.retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// do performs one HTTP request against the backend.
// Params: request parts and optional response destination.
// Returns: decode result, APIError for non-2xx, or transport error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		excerpt := string(raw)
		if len(excerpt) > 256 {
			excerpt = excerpt[:256]
		}
		return &APIError{StatusCode: response.StatusCode, Body: excerpt}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// componentResource mirrors one JSON:API component or incident resource.
// Params: flexible id/status encodings observed in the backend responses.
// Returns: intermediate decode shape.
type componentResource struct {
	ID         flexInt             `json:"id"`
	Attributes componentAttributes `json:"attributes"`
}

type componentAttributes struct {
	Name        string     `json:"name"`
	Status      flexStatus `json:"status"`
	Enabled     *bool      `json:"enabled"`
	Description string     `json:"description"`
	GroupID     flexInt    `json:"component_group_id"`
}

type incidentResource struct {
	ID         flexInt            `json:"id"`
	Attributes incidentAttributes `json:"attributes"`
}

type incidentAttributes struct {
	ComponentID flexInt    `json:"component_id"`
	Status      flexStatus `json:"status"`
}

// component flattens a decoded resource into the public record.
// Params: none.
// Returns: typed component.
func (r componentResource) component() Component {
	enabled := true
	if r.Attributes.Enabled != nil {
		enabled = *r.Attributes.Enabled
	}
	return Component{
		ID:          int(r.ID),
		Name:        r.Attributes.Name,
		Status:      int(r.Attributes.Status),
		Enabled:     enabled,
		Description: r.Attributes.Description,
		GroupID:     int(r.Attributes.GroupID),
	}
}

// flexInt decodes ids delivered as numbers or numeric strings.
type flexInt int

// UnmarshalJSON accepts number or quoted-number encodings.
// Params: raw JSON token.
// Returns: decode error for any other shape.
func (f *flexInt) UnmarshalJSON(raw []byte) error {
	trimmed := strings.Trim(string(raw), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return fmt.Errorf("parse id %q: %w", trimmed, err)
	}
	*f = flexInt(value)
	return nil
}

// flexStatus decodes statuses delivered as numbers or {"value": n} objects.
type flexStatus int

// UnmarshalJSON accepts number or object-with-value encodings.
// Params: raw JSON token.
// Returns: decode error for any other shape.
func (f *flexStatus) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = 0
		return nil
	}
	if trimmed[0] == '{' {
		var wrapped struct {
			Value int `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return fmt.Errorf("parse status object: %w", err)
		}
		*f = flexStatus(wrapped.Value)
		return nil
	}
	var value int
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}
	*f = flexStatus(value)
	return nil
}

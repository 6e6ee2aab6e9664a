package caseflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseflow HTTP API client for upstream services.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type NextAction struct {
	Type          *string `json:"type,omitempty"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	Description   *string `json:"description,omitempty"`
}

// Stage represents a pipeline (partial).
type Stage struct {
	ID                string          `json:"id"`
	EntityID          string          `json:"entity_id"`
	EntityType        string          `json:"entity_type"`
	CurrentStage      string          `json:"current_stage"`
	SituacionMigrante json.RawMessage `json:"situacion_migrante,omitempty"`
	CreatedByAgentID  *string         `json:"created_by_agent_id,omitempty"`
	HiringCodeID      *string         `json:"hiring_code_id,omitempty"`
	NextAction        NextAction      `json:"next_action"`
	IsActive          bool            `json:"is_active"`
	StageSeq          int             `json:"stage_seq"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

type Status struct {
	StageID             string     `json:"stage_id"`
	EntityID            string     `json:"entity_id"`
	EntityType          string     `json:"entity_type"`
	CurrentStage        string     `json:"current_stage"`
	NextAction          NextAction `json:"next_action"`
	ActionsCount        int        `json:"actions_count"`
	PendingActionsCount int        `json:"pending_actions_count"`
	IsActive            bool       `json:"is_active"`
}

type Action struct {
	ID                         string          `json:"id"`
	PipelineStageID            string          `json:"pipeline_stage_id"`
	Seq                        int             `json:"seq"`
	Stage                      string          `json:"stage"`
	ActionType                 string          `json:"action_type"`
	ActionName                 string          `json:"action_name,omitempty"`
	PerformedByID              string          `json:"performed_by_id"`
	ResponsibleForValidationID *string         `json:"responsible_for_validation_id,omitempty"`
	Status                     string          `json:"status"`
	ActionData                 json.RawMessage `json:"action_data,omitempty"`
	ValidatedByID              *string         `json:"validated_by_id,omitempty"`
	CreatedAt                  string          `json:"created_at"`
}

// ActionOutcome is returned by record and resolve.
type ActionOutcome struct {
	Action   Action `json:"action"`
	Stage    Stage  `json:"stage"`
	Advanced bool   `json:"advanced"`
	Replayed bool   `json:"replayed"`
}

type OfferedAction struct {
	ActionCode     string `json:"action_code"`
	DisplayName    string `json:"display_name"`
	DefaultDueDays int    `json:"default_due_days"`
	IsRequired     bool   `json:"is_required"`
	CanModify      bool   `json:"can_modify"`
}

type NextActions struct {
	StageID      string          `json:"stage_id"`
	CurrentStage string          `json:"current_stage"`
	Role         string          `json:"role"`
	Actions      []OfferedAction `json:"actions"`
}

type ActionType struct {
	Code             string   `json:"action_code"`
	DisplayName      string   `json:"display_name"`
	RequiredRole     string   `json:"required_role"`
	ValidationRole   *string  `json:"validation_role,omitempty"`
	DefaultDueDays   int      `json:"default_due_days"`
	ApplicableStages []string `json:"applicable_stages,omitempty"`
	IsActive         bool     `json:"is_active"`
}

type ActionPage struct {
	Items []Action `json:"items"`
	Total int      `json:"total"`
	Skip  int      `json:"skip"`
	Limit int      `json:"limit"`
}

type CreateStageInput struct {
	EntityID          string         `json:"entity_id"`
	EntityType        string         `json:"entity_type"`
	SituacionMigrante map[string]any `json:"situacion_migrante,omitempty"`
	CreatedByAgentID  string         `json:"created_by_agent_id,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

type RecordActionInput struct {
	PipelineStageID            string         `json:"pipeline_stage_id"`
	ActionType                 string         `json:"action_type"`
	ActionName                 string         `json:"action_name,omitempty"`
	ResponsibleForValidationID string         `json:"responsible_for_validation_id,omitempty"`
	ActionData                 map[string]any `json:"action_data,omitempty"`
	Description                string         `json:"description,omitempty"`
	IdempotencyKey             string         `json:"idempotency_key,omitempty"`
	ExpectedStage              string         `json:"expected_stage,omitempty"`
}

// UpdateNextActionInput leaves nil fields untouched; a pointer to "" clears the field.
type UpdateNextActionInput struct {
	Type          *string `json:"type,omitempty"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	Description   *string `json:"description,omitempty"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateStage opens a pipeline for an entity.
func (c *Client) CreateStage(ctx context.Context, in CreateStageInput) (Stage, error) {
	var resp Stage
	err := c.do(ctx, http.MethodPost, "stages", in, &resp)
	return resp, err
}

// GetStage returns the active pipeline of an entity, or its latest closed one.
func (c *Client) GetStage(ctx context.Context, entityType, entityID string) (Stage, error) {
	var resp Stage
	err := c.do(ctx, http.MethodGet, entityPath(entityType, entityID, "stage"), nil, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context, entityType, entityID string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, entityPath(entityType, entityID, "status"), nil, &resp)
	return resp, err
}

// NextActions lists what role may do now. An empty role means the caller's.
func (c *Client) NextActions(ctx context.Context, entityType, entityID, role string) (NextActions, error) {
	endpoint := entityPath(entityType, entityID, "next-actions")
	if role != "" {
		endpoint += "?role=" + url.QueryEscape(role)
	}
	var resp NextActions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) RecordAction(ctx context.Context, in RecordActionInput) (ActionOutcome, error) {
	var resp ActionOutcome
	err := c.do(ctx, http.MethodPost, "actions", in, &resp)
	return resp, err
}

// ResolveAction validates or rejects a pending action. outcome is "validated" or "rejected".
func (c *Client) ResolveAction(ctx context.Context, actionID, outcome, notes string) (ActionOutcome, error) {
	body := map[string]any{"outcome": outcome}
	if notes != "" {
		body["notes"] = notes
	}
	var resp ActionOutcome
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("actions/%s/resolve", url.PathEscape(actionID)), body, &resp)
	return resp, err
}

func (c *Client) UpdateNextAction(ctx context.Context, stageID string, in UpdateNextActionInput) (Stage, error) {
	var resp Stage
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("stages/%s/next-action", url.PathEscape(stageID)), in, &resp)
	return resp, err
}

// ListActions pages through a pipeline's action log. Zero limit uses the server default.
func (c *Client) ListActions(ctx context.Context, stageID, status string, skip, limit int) (ActionPage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if skip > 0 {
		q.Set("skip", fmt.Sprint(skip))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := fmt.Sprintf("stages/%s/actions", url.PathEscape(stageID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp ActionPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListActionTypes returns the catalog, optionally filtered by required role.
func (c *Client) ListActionTypes(ctx context.Context, role string) ([]ActionType, error) {
	endpoint := "action-types"
	if role != "" {
		endpoint += "?role=" + url.QueryEscape(role)
	}
	var resp struct {
		Items []ActionType `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func entityPath(entityType, entityID, leaf string) string {
	return fmt.Sprintf("entities/%s/%s/%s", url.PathEscape(entityType), url.PathEscape(entityID), leaf)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

package vectorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vector/internal/engine/auth"
)

// Client is a minimal VECTOR HTTP API client.
type Client struct {
	BaseURL string
	// BasePath is the API prefix, "/api" unless the server is configured otherwise.
	BasePath      string
	BearerToken   string
	ActorID       string
	WebhookSecret string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

type Journey struct {
	Client struct {
		ID                string `json:"id"`
		Name              string `json:"name"`
		Sport             string `json:"sport"`
		TerminalGoal      string `json:"terminalGoal"`
		Pathology         string `json:"pathology"`
		JourneyID         string `json:"journeyId"`
		CurrentPhaseID    string `json:"currentPhaseId"`
		CurrentPhaseIndex int    `json:"currentPhaseIndex"`
	} `json:"client"`
	Phases []Phase `json:"phases"`
}

type Phase struct {
	ID         string      `json:"id"`
	OrderIndex int         `json:"orderIndex"`
	Name       string      `json:"name"`
	Status     string      `json:"status"`
	Criteria   []Criterion `json:"criteria"`
}

type Criterion struct {
	ID         string  `json:"id"`
	MetricName string  `json:"metricName"`
	Label      string  `json:"label"`
	Target     string  `json:"target"`
	Unit       string  `json:"unit"`
	Current    *string `json:"current,omitempty"`
	Met        bool    `json:"met"`
}

type Recording struct {
	ID          string    `json:"id"`
	JourneyID   string    `json:"journey_id,omitempty"`
	PhaseID     string    `json:"phase_id,omitempty"`
	CriterionID string    `json:"criterion_id"`
	MetricName  string    `json:"metric_name"`
	Value       string    `json:"value,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type RecordingList struct {
	JourneyID string      `json:"journey_id"`
	Items     []Recording `json:"items"`
}

// MetricInput is the body of POST /metric/record.
type MetricInput struct {
	ClientID   string     `json:"client_id"`
	MetricName string     `json:"metric_name"`
	Value      string     `json:"value"`
	Unit       string     `json:"unit,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type WebhookResult struct {
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	MetricsRecorded int    `json:"metrics_recorded"`
	Fields          []struct {
		Label       string `json:"label"`
		Status      string `json:"status"`
		MetricName  string `json:"metric_name,omitempty"`
		RecordingID string `json:"recording_id,omitempty"`
		Reason      string `json:"reason,omitempty"`
	} `json:"fields"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id"`
	ClientID   string         `json:"client_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope when present.
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

func (c *Client) GetJourney(ctx context.Context, clientID string) (Journey, error) {
	var resp Journey
	err := c.do(ctx, http.MethodGet, "client/"+url.PathEscape(clientID)+"/journey", nil, nil, &resp)
	return resp, err
}

func (c *Client) RecordMetric(ctx context.Context, in MetricInput) (Recording, error) {
	var resp Recording
	err := c.do(ctx, http.MethodPost, "metric/record", in, nil, &resp)
	return resp, err
}

func (c *Client) ListRecordings(ctx context.Context, clientID string, limit int) (RecordingList, error) {
	endpoint := "client/" + url.PathEscape(clientID) + "/recordings"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp RecordingList
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

// SendTreatmentNote posts a raw webhook payload, signed when WebhookSecret is set.
func (c *Client) SendTreatmentNote(ctx context.Context, payload []byte) (WebhookResult, error) {
	headers := map[string]string{}
	if c.WebhookSecret != "" {
		headers[auth.SignatureHeader] = auth.Sign(payload, c.WebhookSecret)
	}
	var resp WebhookResult
	err := c.do(ctx, http.MethodPost, "webhooks/treatment-note", json.RawMessage(payload), headers, &resp)
	return resp, err
}

// EventsPage returns one page of the event log; pass NextCursor back to continue.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
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

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

package server

import (
	"encoding/json"
	"time"

	"vector/internal/domain"
	"vector/internal/repo"
)

// Request payloads

type RecordMetricRequest struct {
	ClientID   string     `json:"client_id" minLength:"1"`
	MetricName string     `json:"metric_name" minLength:"1"`
	Value      string     `json:"value" minLength:"1"`
	Unit       string     `json:"unit,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// Responses

type RecordMetricResponse struct {
	ID          string    `json:"id"`
	JourneyID   string    `json:"journey_id"`
	CriterionID string    `json:"criterion_id"`
	MetricName  string    `json:"metric_name"`
	RecordedAt  time.Time `json:"recorded_at" format:"date-time"`
}

type RecordingResponse struct {
	ID          string    `json:"id"`
	PhaseID     string    `json:"phase_id"`
	CriterionID string    `json:"criterion_id"`
	MetricName  string    `json:"metric_name"`
	Value       string    `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	RecordedAt  time.Time `json:"recorded_at" format:"date-time"`
}

type RecordingList struct {
	JourneyID string              `json:"journey_id"`
	Items     []RecordingResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id"`
	ClientID   string         `json:"client_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func recordMetricResponse(m domain.MetricRecording) RecordMetricResponse {
	return RecordMetricResponse{
		ID:          m.ID,
		JourneyID:   m.JourneyID,
		CriterionID: m.CriterionID,
		MetricName:  m.MetricName,
		RecordedAt:  m.RecordedAt,
	}
}

func mapRecordings(items []domain.MetricRecording) []RecordingResponse {
	out := make([]RecordingResponse, 0, len(items))
	for _, m := range items {
		out = append(out, RecordingResponse{
			ID:          m.ID,
			PhaseID:     m.PhaseID,
			CriterionID: m.CriterionID,
			MetricName:  m.MetricName,
			Value:       m.Value,
			Unit:        m.Unit,
			RecordedAt:  m.RecordedAt,
		})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ActorID:    e.ActorID,
		ClientID:   e.ClientID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Outcome:    e.Outcome,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func eventFilter(evtType, clientID, entityKind, entityID, outcome string, cursor int64) repo.EventFilter {
	return repo.EventFilter{
		Type:       evtType,
		ClientID:   clientID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Outcome:    outcome,
		Before:     cursor,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

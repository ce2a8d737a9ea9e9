package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"vector/internal/audit"
	"vector/internal/domain"
	"vector/internal/engine/auth"
	"vector/internal/repo"
)

// TreatmentNoteCreated is the only webhook event type that is ingested.
const TreatmentNoteCreated = "treatment_note.created"

const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
)

const (
	FieldRecorded = "recorded"
	FieldSkipped  = "skipped"
	FieldFailed   = "failed"
)

type WebhookEvent struct {
	Event   string `json:"event"`
	Patient struct {
		ExternalID string `json:"external_id"`
	} `json:"patient"`
	Appointment struct {
		Date string `json:"date"`
	} `json:"appointment"`
	TreatmentNote struct {
		Fields []WebhookField `json:"fields"`
	} `json:"treatment_note"`
}

type WebhookField struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit,omitempty"`
}

// FieldResult is the outcome for one entry of treatment_note.fields.
type FieldResult struct {
	Label       string `json:"label"`
	Status      string `json:"status" enum:"recorded,skipped,failed"`
	CriterionID string `json:"criterion_id,omitempty"`
	MetricName  string `json:"metric_name,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type WebhookResult struct {
	Status          string        `json:"status" enum:"processed,ignored"`
	Reason          string        `json:"reason,omitempty"`
	MetricsRecorded int           `json:"metrics_recorded"`
	Fields          []FieldResult `json:"fields,omitempty"`
}

// VerifyWebhookSignature checks header against body when a real secret is configured.
func (e Engine) VerifyWebhookSignature(ctx context.Context, body []byte, header string) error {
	if !auth.SecretConfigured(e.WebhookSecret) {
		return nil
	}
	if err := auth.Verify(body, e.WebhookSecret, header); err != nil {
		entry := audit.Entry{
			Type:       audit.TypeWebhookRejected,
			ActorID:    "webhook",
			EntityKind: "webhook",
			Outcome:    audit.OutcomeDenied,
			Payload:    audit.Payload{"reason": err.Error(), "bytes": len(body)},
		}
		if aerr := e.appendAudit(ctx, e.DB, entry); aerr != nil {
			e.Log.Error().Err(aerr).Msg("audit append failed")
		}
		return errors.Join(ErrUnauthorized, err)
	}
	return nil
}

// ResolveField returns the first criterion whose metric name equals label or whose
// description contains it. Matching is case-sensitive and empty labels never match.
func ResolveField(criteria []domain.ExitCriterion, label string) (domain.ExitCriterion, bool) {
	if label == "" {
		return domain.ExitCriterion{}, false
	}
	for _, c := range criteria {
		if c.MetricName == label || strings.Contains(c.Description, label) {
			return c, true
		}
	}
	return domain.ExitCriterion{}, false
}

// IngestWebhookEvent records every resolvable field of a treatment note against the
// client's current phase. Fields are written independently; one failure does not undo others.
func (e Engine) IngestWebhookEvent(ctx context.Context, body []byte) (WebhookResult, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookResult{}, invalidInput("malformed webhook payload: %v", err)
	}
	entry := audit.Entry{
		Type:       audit.TypeWebhookReceived,
		ActorID:    "webhook",
		EntityKind: "webhook",
		Payload:    audit.Payload{"event": evt.Event},
	}
	if evt.Event != TreatmentNoteCreated {
		return WebhookResult{Status: WebhookIgnored, Reason: "unsupported event"}, nil
	}
	clientID := strings.TrimSpace(evt.Patient.ExternalID)
	if clientID == "" {
		return WebhookResult{}, invalidInput("patient.external_id is required")
	}
	entry.ClientID = clientID

	aj, err := e.Repo.ActiveJourney(ctx, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		entry.Outcome = audit.OutcomeIgnored
		e.auditBestEffort(ctx, entry)
		return WebhookResult{Status: WebhookIgnored, Reason: "no active journey"}, nil
	}
	if err != nil {
		return WebhookResult{}, e.fail(ctx, nil, entry, "ingest webhook", err)
	}
	entry.EntityKind = "journey"
	entry.EntityID = aj.Journey.ID

	now := e.now()
	recordedAt := now
	if d := strings.TrimSpace(evt.Appointment.Date); d != "" {
		if t, ok := parseAppointmentDate(d); ok {
			recordedAt = t
		} else {
			e.Log.Warn().Str("client_id", clientID).Str("date", d).Msg("unparseable appointment date, recording at receipt time")
			entry.Payload["date_fallback"] = true
		}
	}
	criteria, err := e.Repo.CriteriaByPhase(ctx, aj.Journey.CurrentPhaseID)
	if err != nil {
		return WebhookResult{}, e.fail(ctx, nil, entry, "ingest webhook", err)
	}

	res := WebhookResult{Status: WebhookProcessed, Fields: make([]FieldResult, 0, len(evt.TreatmentNote.Fields))}
	var failed, skipped int
	for _, f := range evt.TreatmentNote.Fields {
		fr := e.ingestField(ctx, aj, criteria, f, recordedAt, now)
		switch fr.Status {
		case FieldRecorded:
			res.MetricsRecorded++
		case FieldFailed:
			failed++
		default:
			skipped++
		}
		res.Fields = append(res.Fields, fr)
	}
	entry.Payload["recorded"] = res.MetricsRecorded
	entry.Payload["skipped"] = skipped
	entry.Payload["failed"] = failed
	if failed > 0 {
		entry.Outcome = audit.OutcomeError
	}
	e.auditBestEffort(ctx, entry)
	return res, nil
}

func (e Engine) ingestField(ctx context.Context, aj domain.ActiveJourney, criteria []domain.ExitCriterion, f WebhookField, recordedAt, now time.Time) FieldResult {
	fr := FieldResult{Label: f.Label, Status: FieldSkipped}
	crit, ok := ResolveField(criteria, f.Label)
	if !ok {
		fr.Reason = "no matching criterion"
		return fr
	}
	fr.CriterionID = crit.ID
	fr.MetricName = crit.MetricName
	value, ok := fieldValue(f.Value)
	if !ok {
		fr.Reason = "missing value"
		return fr
	}
	unit := strings.TrimSpace(f.Unit)
	if unit == "" {
		unit = crit.Unit
	}
	rec := domain.MetricRecording{
		ID:          uuid.NewString(),
		JourneyID:   aj.Journey.ID,
		PhaseID:     aj.Journey.CurrentPhaseID,
		CriterionID: crit.ID,
		MetricName:  crit.MetricName,
		Value:       value,
		Unit:        unit,
		RecordedAt:  recordedAt.UTC(),
		CreatedAt:   now.UTC(),
	}
	if err := e.Repo.InsertRecording(ctx, rec); err != nil {
		e.Log.Error().Err(err).Str("journey_id", aj.Journey.ID).Str("criterion_id", crit.ID).Msg("webhook field not recorded")
		fr.Status = FieldFailed
		fr.Reason = "storage failure"
		return fr
	}
	fr.Status = FieldRecorded
	fr.RecordingID = rec.ID
	return fr
}

func (e Engine) auditBestEffort(ctx context.Context, entry audit.Entry) {
	if err := e.appendAudit(ctx, e.DB, entry); err != nil {
		e.Log.Error().Err(err).Str("event", entry.Type).Msg("audit append failed")
	}
}

// fieldValue renders a JSON scalar as the stored text. Null, absent and composite values are rejected.
func fieldValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	case '{', '[':
		return "", false
	default:
		return string(raw), true
	}
}

// Zone-less layouts are read as UTC. The fractional-second variants accept any precision.
var appointmentLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.DateOnly,
}

func parseAppointmentDate(s string) (time.Time, bool) {
	for _, layout := range appointmentLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

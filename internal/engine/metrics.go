package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"vector/internal/audit"
	"vector/internal/domain"
	"vector/internal/repo"
)

type RecordMetricInput struct {
	ClientID   string
	MetricName string
	Value      string
	// Unit defaults to the criterion's measurement unit.
	Unit string
	// RecordedAt defaults to now.
	RecordedAt *time.Time
	ActorID    string
	// Source tags the audit entry: api, mcp or cli.
	Source string
}

// RecordMetric appends a recording for a criterion of the client's current phase.
// Repeated calls append repeated rows.
func (e Engine) RecordMetric(ctx context.Context, in RecordMetricInput) (domain.MetricRecording, error) {
	in.ClientID = strings.TrimSpace(in.ClientID)
	in.MetricName = strings.TrimSpace(in.MetricName)
	if in.Source == "" {
		in.Source = "api"
	}
	entry := audit.Entry{
		Type:       audit.TypeMetricRecorded,
		ActorID:    in.ActorID,
		ClientID:   in.ClientID,
		EntityKind: "metric_recording",
		Payload:    audit.Payload{"metric_name": in.MetricName},
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MetricRecording{}, e.fail(ctx, nil, entry, "record metric", err)
	}
	defer tx.Rollback()

	rejected := entry
	rejected.Type = audit.TypeMetricRejected
	switch {
	case in.ClientID == "":
		return domain.MetricRecording{}, e.reject(ctx, tx, rejected, invalidInput("client_id is required"))
	case in.MetricName == "":
		return domain.MetricRecording{}, e.reject(ctx, tx, rejected, invalidInput("metric_name is required"))
	case strings.TrimSpace(in.Value) == "":
		return domain.MetricRecording{}, e.reject(ctx, tx, rejected, invalidInput("value is required"))
	}

	r := e.Repo.WithTx(tx)
	aj, err := r.ActiveJourney(ctx, in.ClientID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.MetricRecording{}, e.reject(ctx, tx, rejected, err)
	}
	if err != nil {
		return domain.MetricRecording{}, e.fail(ctx, tx, entry, "record metric", err)
	}
	criteria, err := r.CriteriaByPhase(ctx, aj.Journey.CurrentPhaseID)
	if err != nil {
		return domain.MetricRecording{}, e.fail(ctx, tx, entry, "record metric", err)
	}
	crit, ok := criterionByMetric(criteria, in.MetricName)
	if !ok {
		rejected.EntityID = aj.Journey.ID
		return domain.MetricRecording{}, e.reject(ctx, tx, rejected,
			invalidInput("metric %s is not an exit criterion of phase %s", in.MetricName, aj.Journey.CurrentPhaseID))
	}

	now := e.now()
	recordedAt := now
	if in.RecordedAt != nil {
		recordedAt = *in.RecordedAt
	}
	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = crit.Unit
	}
	rec := domain.MetricRecording{
		ID:          uuid.NewString(),
		JourneyID:   aj.Journey.ID,
		PhaseID:     aj.Journey.CurrentPhaseID,
		CriterionID: crit.ID,
		MetricName:  crit.MetricName,
		Value:       in.Value,
		Unit:        unit,
		RecordedAt:  recordedAt.UTC(),
		CreatedAt:   now.UTC(),
	}
	if err := r.InsertRecording(ctx, rec); err != nil {
		return domain.MetricRecording{}, e.fail(ctx, tx, entry, "record metric", err)
	}
	entry.EntityID = rec.ID
	entry.Payload["journey_id"] = rec.JourneyID
	entry.Payload["criterion_id"] = rec.CriterionID
	entry.Payload["source"] = in.Source
	if err := e.appendAudit(ctx, tx, entry); err != nil {
		return domain.MetricRecording{}, e.fail(ctx, tx, entry, "record metric", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.MetricRecording{}, e.fail(ctx, nil, entry, "record metric", err)
	}
	return rec, nil
}

// ListRecordings returns the active journey's recordings newest first.
func (e Engine) ListRecordings(ctx context.Context, clientID string, limit int) (domain.ActiveJourney, []domain.MetricRecording, error) {
	aj, err := e.Repo.ActiveJourney(ctx, strings.TrimSpace(clientID))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return aj, nil, err
		}
		return aj, nil, e.fail(ctx, nil, audit.Entry{Type: audit.TypeRecordingsRead, ClientID: clientID, EntityKind: "journey"}, "list recordings", err)
	}
	recs, err := e.Repo.ListRecordings(ctx, aj.Journey.ID, limit)
	if err != nil {
		return aj, nil, e.fail(ctx, nil, audit.Entry{Type: audit.TypeRecordingsRead, ClientID: clientID, EntityKind: "journey", EntityID: aj.Journey.ID}, "list recordings", err)
	}
	return aj, recs, nil
}

func criterionByMetric(criteria []domain.ExitCriterion, metric string) (domain.ExitCriterion, bool) {
	for _, c := range criteria {
		if c.MetricName == metric {
			return c, true
		}
	}
	return domain.ExitCriterion{}, false
}

package seed

import (
	"context"
	"fmt"
	"time"

	"vector/internal/audit"
	"vector/internal/domain"
	"vector/internal/repo"
)

const (
	DemoClientID    = "CLT_DEMO_01"
	DemoJourneyID   = "JRN_DEMO_ACL"
	DemoPathologyID = "PATH_ACL_01"
	DemoPhaseID     = "PHASE_ACL_01_P1"
)

type demoRecording struct {
	id, criterionID, metric, value, unit string
}

// Three of the four phase 1 criteria are met; knee extension is still 3 degrees short.
var demoRecordings = []demoRecording{
	{"REC_01", "EC_ACL_P1_02", "quad_lag", "0", "degrees"},
	{"REC_02", "EC_ACL_P1_03", "pain_level", "1", "VAS (0-10)"},
	{"REC_03", "EC_ACL_P1_04", "effusion", "1", "grade (0-3)"},
	{"REC_04", "EC_ACL_P1_01", "knee_extension", "3", "degrees"},
}

// Demo (re)creates the demo client with an active ACL journey in phase 1.
// The base protocols must already be imported.
func Demo(ctx context.Context, r repo.Repo, now time.Time, actorID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	tr := r.WithTx(tx)

	ok, err := tr.PhaseBelongsTo(ctx, DemoPhaseID, DemoPathologyID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("demo needs protocol %s: %w", DemoPathologyID, repo.ErrNotFound)
	}
	if err := tr.UpsertClient(ctx, domain.Client{
		ID:            DemoClientID,
		DisplayName:   "Marcus D.",
		IntakeDate:    "2026-01-15",
		TerminalGoal:  "Return to 315lb Squat",
		SportActivity: "Powerlifting",
	}); err != nil {
		return fmt.Errorf("demo client: %w", err)
	}
	if err := tr.ReplaceJourneys(ctx, DemoClientID); err != nil {
		return fmt.Errorf("clear demo journeys: %w", err)
	}
	if err := tr.InsertJourney(ctx, domain.Journey{
		ID:             DemoJourneyID,
		ClientID:       DemoClientID,
		PathologyID:    DemoPathologyID,
		CurrentPhaseID: DemoPhaseID,
		Status:         domain.JourneyActive,
		StartedAt:      "2026-01-15",
	}); err != nil {
		return fmt.Errorf("demo journey: %w", err)
	}
	at := now.Add(-24 * time.Hour).UTC()
	for _, d := range demoRecordings {
		if err := tr.InsertRecording(ctx, domain.MetricRecording{
			ID:          d.id,
			JourneyID:   DemoJourneyID,
			PhaseID:     DemoPhaseID,
			CriterionID: d.criterionID,
			MetricName:  d.metric,
			Value:       d.value,
			Unit:        d.unit,
			RecordedAt:  at,
			CreatedAt:   now.UTC(),
		}); err != nil {
			return fmt.Errorf("demo recording %s: %w", d.id, err)
		}
	}
	w := audit.Writer{Dialect: r.Dialect, Now: func() time.Time { return now }}
	if err := w.Append(ctx, tx, audit.Entry{
		Type:       audit.TypeSeedImported,
		ActorID:    actorID,
		ClientID:   DemoClientID,
		EntityKind: "journey",
		EntityID:   DemoJourneyID,
		Payload:    audit.Payload{"recordings": len(demoRecordings)},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

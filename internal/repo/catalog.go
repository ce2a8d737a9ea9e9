package repo

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vector/internal/domain"
)

// UpsertPathology inserts or refreshes a pathology row.
func (r Repo) UpsertPathology(ctx context.Context, p domain.Pathology, now time.Time) error {
	contra, err := json.Marshal(nonNil(p.Contraindications))
	if err != nil {
		return err
	}
	active := 0
	if p.Active {
		active = 1
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return r.exec(ctx, r.sb().
		Insert("pathologies").
		Columns("id", "name", "osics_code", "body_region", "injury_mechanism", "research_source", "research_doi",
			"contraindications_json", "version", "is_active", "updated_at").
		Values(p.ID, p.Name, p.OsicsCode, nullable(p.BodyRegion), nullable(p.InjuryMechanism), nullable(p.ResearchSource),
			nullable(p.ResearchDOI), string(contra), p.Version, active, FormatTime(now)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET name=excluded.name, osics_code=excluded.osics_code,
body_region=excluded.body_region, injury_mechanism=excluded.injury_mechanism,
research_source=excluded.research_source, research_doi=excluded.research_doi,
contraindications_json=excluded.contraindications_json, version=excluded.version,
is_active=excluded.is_active, updated_at=excluded.updated_at`))
}

func (r Repo) GetPathology(ctx context.Context, id string) (domain.Pathology, error) {
	row, err := r.queryRow(ctx, r.sb().
		Select("id", "name", "osics_code", "COALESCE(body_region,'')", "COALESCE(injury_mechanism,'')",
			"COALESCE(research_source,'')", "COALESCE(research_doi,'')", "contraindications_json", "version", "is_active").
		From("pathologies").
		Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Pathology{}, err
	}
	var p domain.Pathology
	var contra string
	var active int
	if err := row.Scan(&p.ID, &p.Name, &p.OsicsCode, &p.BodyRegion, &p.InjuryMechanism, &p.ResearchSource, &p.ResearchDOI, &contra, &p.Version, &active); err != nil {
		if isNoRows(err) {
			return p, ErrNotFound
		}
		return p, err
	}
	p.Active = active != 0
	if err := json.Unmarshal([]byte(contra), &p.Contraindications); err != nil {
		return p, err
	}
	return p, nil
}

// DeletePhases removes a pathology's phases together with their criteria and slots.
func (r Repo) DeletePhases(ctx context.Context, pathologyID string) error {
	inPathology := sq.Expr("phase_id IN (SELECT id FROM phases WHERE pathology_id = ?)", pathologyID)
	for _, table := range []string{"exit_criteria", "programming_slots"} {
		if err := r.exec(ctx, r.sb().Delete(table).Where(inPathology)); err != nil {
			return err
		}
	}
	return r.exec(ctx, r.sb().Delete("phases").Where(sq.Eq{"pathology_id": pathologyID}))
}

func (r Repo) InsertPhase(ctx context.Context, p domain.Phase, now time.Time) error {
	return r.exec(ctx, r.sb().
		Insert("phases").
		Columns("id", "pathology_id", "order_index", "name", "description", "typical_duration", "precautions", "updated_at").
		Values(p.ID, p.PathologyID, p.OrderIndex, p.Name, nullable(p.Description), nullable(p.TypicalDuration), nullable(p.Precautions), FormatTime(now)))
}

func (r Repo) InsertCriterion(ctx context.Context, c domain.ExitCriterion) error {
	return r.exec(ctx, r.sb().
		Insert("exit_criteria").
		Columns("id", "phase_id", "order_index", "metric_name", "target_operator", "target_value", "measurement_unit", "measurement_tool", "description").
		Values(c.ID, c.PhaseID, c.OrderIndex, c.MetricName, c.Operator, c.TargetValue, nullable(c.Unit), nullable(c.MeasurementTool), nullable(c.Description)))
}

func (r Repo) InsertSlot(ctx context.Context, s domain.ProgrammingSlot, now time.Time) error {
	equipment, err := json.Marshal(nonNil(s.Equipment))
	if err != nil {
		return err
	}
	return r.exec(ctx, r.sb().
		Insert("programming_slots").
		Columns("id", "phase_id", "order_index", "slot_type", "intent_description", "standard_exercise", "regression", "progression",
			"high_density_option", "high_density_rationale", "sets_reps_guidance", "frequency", "equipment_json", "updated_at").
		Values(s.ID, s.PhaseID, s.OrderIndex, s.SlotType, nullable(s.IntentDescription), s.StandardExercise,
			nullableStringPtr(s.Regression), nullableStringPtr(s.Progression), nullableStringPtr(s.HighDensityOption),
			nullableStringPtr(s.HighDensityRationale), nullableStringPtr(s.SetsRepsGuidance), nullableStringPtr(s.Frequency),
			string(equipment), FormatTime(now)))
}

func (r Repo) UpsertClient(ctx context.Context, c domain.Client) error {
	return r.exec(ctx, r.sb().
		Insert("clients").
		Columns("id", "display_name", "intake_date", "terminal_goal", "sport_activity").
		Values(c.ID, c.DisplayName, nullable(c.IntakeDate), nullable(c.TerminalGoal), nullable(c.SportActivity)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, intake_date=excluded.intake_date,
terminal_goal=excluded.terminal_goal, sport_activity=excluded.sport_activity`))
}

// ReplaceJourneys drops the client's journeys and their recordings.
func (r Repo) ReplaceJourneys(ctx context.Context, clientID string) error {
	inClient := sq.Expr("journey_id IN (SELECT id FROM client_journeys WHERE client_id = ?)", clientID)
	if err := r.exec(ctx, r.sb().Delete("metric_recordings").Where(inClient)); err != nil {
		return err
	}
	return r.exec(ctx, r.sb().Delete("client_journeys").Where(sq.Eq{"client_id": clientID}))
}

func (r Repo) InsertJourney(ctx context.Context, j domain.Journey) error {
	return r.exec(ctx, r.sb().
		Insert("client_journeys").
		Columns("id", "client_id", "pathology_id", "current_phase_id", "status", "started_at").
		Values(j.ID, j.ClientID, j.PathologyID, j.CurrentPhaseID, j.Status, j.StartedAt))
}

// PhaseBelongsTo reports whether phaseID is part of pathologyID.
func (r Repo) PhaseBelongsTo(ctx context.Context, phaseID, pathologyID string) (bool, error) {
	row, err := r.queryRow(ctx, r.sb().
		Select("COUNT(*)").
		From("phases").
		Where(sq.Eq{"id": phaseID, "pathology_id": pathologyID}))
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vector/internal/db"
	"vector/internal/domain"
)

var ErrNotFound = errors.New("not found")

// TimeLayout is fixed-width UTC so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a TimeLayout timestamp, falling back to RFC3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
	tx      *sql.Tx
}

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{DB: conn, Dialect: dialect}
}

// WithTx returns a copy of the repo that runs every statement inside tx.
func (r Repo) WithTx(tx *sql.Tx) Repo {
	r.tx = tx
	return r
}

func (r Repo) q() DBTX {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) sb() sq.StatementBuilderType {
	return r.Dialect.Builder()
}

func (r Repo) exec(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, query, args...)
	return err
}

func (r Repo) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return r.q().QueryContext(ctx, query, args...)
}

func (r Repo) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return r.q().QueryRowContext(ctx, query, args...), nil
}

// ActiveJourney returns the client's single active journey with client and pathology header.
// No active journey, or more than one, is reported as ErrNotFound.
func (r Repo) ActiveJourney(ctx context.Context, clientID string) (domain.ActiveJourney, error) {
	rows, err := r.query(ctx, r.sb().
		Select(
			"j.id", "j.client_id", "j.pathology_id", "j.current_phase_id", "j.status", "j.started_at",
			"c.display_name", "COALESCE(c.intake_date,'')", "COALESCE(c.terminal_goal,'')", "COALESCE(c.sport_activity,'')",
			"p.name", "p.osics_code", "COALESCE(p.research_source,'')", "COALESCE(p.research_doi,'')", "p.version", "p.is_active",
		).
		From("client_journeys j").
		Join("clients c ON j.client_id = c.id").
		Join("pathologies p ON j.pathology_id = p.id").
		Where(sq.Eq{"c.id": clientID, "j.status": domain.JourneyActive}).
		OrderBy("j.started_at DESC", "j.id"))
	if err != nil {
		return domain.ActiveJourney{}, err
	}
	defer rows.Close()
	var found []domain.ActiveJourney
	for rows.Next() {
		var aj domain.ActiveJourney
		var active int
		if err := rows.Scan(
			&aj.Journey.ID, &aj.Journey.ClientID, &aj.Journey.PathologyID, &aj.Journey.CurrentPhaseID, &aj.Journey.Status, &aj.Journey.StartedAt,
			&aj.Client.DisplayName, &aj.Client.IntakeDate, &aj.Client.TerminalGoal, &aj.Client.SportActivity,
			&aj.Pathology.Name, &aj.Pathology.OsicsCode, &aj.Pathology.ResearchSource, &aj.Pathology.ResearchDOI, &aj.Pathology.Version, &active,
		); err != nil {
			return domain.ActiveJourney{}, err
		}
		aj.Client.ID = aj.Journey.ClientID
		aj.Pathology.ID = aj.Journey.PathologyID
		aj.Pathology.Active = active != 0
		found = append(found, aj)
	}
	if err := rows.Err(); err != nil {
		return domain.ActiveJourney{}, err
	}
	switch len(found) {
	case 0:
		return domain.ActiveJourney{}, fmt.Errorf("active journey for client %s: %w", clientID, ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return domain.ActiveJourney{}, fmt.Errorf("client %s has %d active journeys: %w", clientID, len(found), ErrNotFound)
	}
}

func (r Repo) PhasesByPathology(ctx context.Context, pathologyID string) ([]domain.Phase, error) {
	rows, err := r.query(ctx, r.sb().
		Select("id", "pathology_id", "order_index", "name", "COALESCE(description,'')", "COALESCE(typical_duration,'')", "COALESCE(precautions,'')").
		From("phases").
		Where(sq.Eq{"pathology_id": pathologyID}).
		OrderBy("order_index ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		var p domain.Phase
		if err := rows.Scan(&p.ID, &p.PathologyID, &p.OrderIndex, &p.Name, &p.Description, &p.TypicalDuration, &p.Precautions); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CriteriaByPhase(ctx context.Context, phaseID string) ([]domain.ExitCriterion, error) {
	rows, err := r.query(ctx, r.sb().
		Select("id", "phase_id", "order_index", "metric_name", "target_operator", "target_value",
			"COALESCE(measurement_unit,'')", "COALESCE(measurement_tool,'')", "COALESCE(description,'')").
		From("exit_criteria").
		Where(sq.Eq{"phase_id": phaseID}).
		OrderBy("order_index ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExitCriterion
	for rows.Next() {
		var c domain.ExitCriterion
		if err := rows.Scan(&c.ID, &c.PhaseID, &c.OrderIndex, &c.MetricName, &c.Operator, &c.TargetValue, &c.Unit, &c.MeasurementTool, &c.Description); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SlotsByPhase(ctx context.Context, phaseID string) ([]domain.ProgrammingSlot, error) {
	rows, err := r.query(ctx, r.sb().
		Select("id", "phase_id", "order_index", "slot_type", "COALESCE(intent_description,'')", "standard_exercise",
			"regression", "progression", "high_density_option", "high_density_rationale", "sets_reps_guidance", "frequency", "equipment_json").
		From("programming_slots").
		Where(sq.Eq{"phase_id": phaseID}).
		OrderBy("order_index ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgrammingSlot
	for rows.Next() {
		var s domain.ProgrammingSlot
		var regression, progression, hd, rationale, guidance, frequency sql.NullString
		var equipment string
		if err := rows.Scan(&s.ID, &s.PhaseID, &s.OrderIndex, &s.SlotType, &s.IntentDescription, &s.StandardExercise,
			&regression, &progression, &hd, &rationale, &guidance, &frequency, &equipment); err != nil {
			return nil, err
		}
		s.Regression = stringPtr(regression)
		s.Progression = stringPtr(progression)
		s.HighDensityOption = stringPtr(hd)
		s.HighDensityRationale = stringPtr(rationale)
		s.SetsRepsGuidance = stringPtr(guidance)
		s.Frequency = stringPtr(frequency)
		if equipment != "" {
			if err := json.Unmarshal([]byte(equipment), &s.Equipment); err != nil {
				return nil, fmt.Errorf("slot %s equipment: %w", s.ID, err)
			}
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"vector/internal/domain"
)

var recordingColumns = []string{
	"id", "journey_id", "phase_id", "criterion_id", "metric_name", "recorded_value",
	"COALESCE(measurement_unit,'')", "recorded_at", "created_at",
}

func scanRecording(scan func(dest ...any) error) (domain.MetricRecording, error) {
	var m domain.MetricRecording
	var recordedAt, createdAt string
	if err := scan(&m.ID, &m.JourneyID, &m.PhaseID, &m.CriterionID, &m.MetricName, &m.Value, &m.Unit, &recordedAt, &createdAt); err != nil {
		return m, err
	}
	var err error
	if m.RecordedAt, err = ParseTime(recordedAt); err != nil {
		return m, err
	}
	if m.CreatedAt, err = ParseTime(createdAt); err != nil {
		return m, err
	}
	return m, nil
}

// InsertRecording appends a metric recording. Recordings are never updated.
func (r Repo) InsertRecording(ctx context.Context, m domain.MetricRecording) error {
	return r.exec(ctx, r.sb().
		Insert("metric_recordings").
		Columns("id", "journey_id", "phase_id", "criterion_id", "metric_name", "recorded_value", "measurement_unit", "recorded_at", "created_at").
		Values(m.ID, m.JourneyID, m.PhaseID, m.CriterionID, m.MetricName, m.Value, nullable(m.Unit), FormatTime(m.RecordedAt), FormatTime(m.CreatedAt)))
}

// LatestRecording returns the most recent recording by recorded_at for the criterion.
// Ties go to the later insert.
func (r Repo) LatestRecording(ctx context.Context, journeyID, criterionID string) (domain.MetricRecording, error) {
	row, err := r.queryRow(ctx, r.sb().
		Select(recordingColumns...).
		From("metric_recordings").
		Where(sq.Eq{"journey_id": journeyID, "criterion_id": criterionID}).
		OrderBy("recorded_at DESC", "created_at DESC").
		Limit(1))
	if err != nil {
		return domain.MetricRecording{}, err
	}
	m, err := scanRecording(row.Scan)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// ListRecordings returns the journey's recordings newest first. limit <= 0 means all.
func (r Repo) ListRecordings(ctx context.Context, journeyID string, limit int) ([]domain.MetricRecording, error) {
	b := r.sb().
		Select(recordingColumns...).
		From("metric_recordings").
		Where(sq.Eq{"journey_id": journeyID}).
		OrderBy("recorded_at DESC", "created_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := r.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MetricRecording
	for rows.Next() {
		m, err := scanRecording(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountRecordings is used by tests and the CLI summary.
func (r Repo) CountRecordings(ctx context.Context, journeyID string) (int, error) {
	row, err := r.queryRow(ctx, r.sb().
		Select("COUNT(*)").
		From("metric_recordings").
		Where(sq.Eq{"journey_id": journeyID}))
	if err != nil {
		return 0, err
	}
	var n int
	err = row.Scan(&n)
	return n, err
}

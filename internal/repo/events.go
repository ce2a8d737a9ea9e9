package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"vector/internal/domain"
)

// EventFilter narrows LatestEvents. Empty fields match everything.
type EventFilter struct {
	Type       string
	ClientID   string
	EntityKind string
	EntityID   string
	Outcome    string
	// Before returns only events with id < Before when positive.
	Before int64
}

// LatestEvents returns audit events newest first.
func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	where := sq.Eq{}
	if f.Type != "" {
		where["type"] = f.Type
	}
	if f.ClientID != "" {
		where["client_id"] = f.ClientID
	}
	if f.EntityKind != "" {
		where["entity_kind"] = f.EntityKind
	}
	if f.EntityID != "" {
		where["entity_id"] = f.EntityID
	}
	if f.Outcome != "" {
		where["outcome"] = f.Outcome
	}
	b := r.sb().
		Select("id", "ts", "type", "actor_id", "COALESCE(client_id,'')", "entity_kind", "COALESCE(entity_id,'')", "outcome", "payload_json").
		From("events").
		Where(where).
		OrderBy("id DESC")
	if f.Before > 0 {
		b = b.Where(sq.Lt{"id": f.Before})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := r.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ActorID, &e.ClientID, &e.EntityKind, &e.EntityID, &e.Outcome, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

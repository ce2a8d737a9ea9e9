package engine

import (
	"context"

	"vector/internal/audit"
	"vector/internal/domain"
	"vector/internal/repo"
)

// Events lists the audit trail newest first.
func (e Engine) Events(ctx context.Context, limit int, f repo.EventFilter) ([]domain.Event, error) {
	evts, err := e.Repo.LatestEvents(ctx, limit, f)
	if err != nil {
		e.Log.Error().Err(err).Msg("list events")
		return nil, storageErr("list events", err)
	}
	return evts, nil
}

// AuditProtocolRead records a protocol document access. err is the lookup result.
func (e Engine) AuditProtocolRead(ctx context.Context, actorID, protocolID string, err error) {
	entry := audit.Entry{
		Type:       audit.TypeProtocolRead,
		ActorID:    actorID,
		EntityKind: "protocol",
		EntityID:   protocolID,
	}
	if err != nil {
		entry.Outcome = outcomeFor(err)
	}
	e.auditBestEffort(ctx, entry)
}

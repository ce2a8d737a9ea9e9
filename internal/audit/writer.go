package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vector/internal/db"
	"vector/internal/repo"
)

// Outcomes recorded on every entry.
const (
	OutcomeOK      = "ok"
	OutcomeIgnored = "ignored"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Event types.
const (
	TypeJourneyRead     = "journey.read"
	TypeMetricRecorded  = "metric.recorded"
	TypeMetricRejected  = "metric.rejected"
	TypeWebhookReceived = "webhook.received"
	TypeWebhookRejected = "webhook.rejected"
	TypeProtocolRead    = "protocol.read"
	TypeRecordingsRead  = "recordings.read"
	TypeSeedImported    = "seed.imported"
)

// Payload carries ids and counts. Never put clinical values in it.
type Payload map[string]any

type Entry struct {
	Type       string
	ActorID    string
	ClientID   string
	EntityKind string
	EntityID   string
	Outcome    string
	Payload    Payload
}

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

// Append writes one entry through exec, which may be the database or an open transaction.
func (w Writer) Append(ctx context.Context, exec repo.DBTX, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	if e.ActorID == "" {
		e.ActorID = "anonymous"
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query, args, err := w.Dialect.Builder().
		Insert("events").
		Columns("ts", "type", "actor_id", "client_id", "entity_kind", "entity_id", "outcome", "payload_json").
		Values(repo.FormatTime(w.Now()), e.Type, e.ActorID, nullable(e.ClientID), e.EntityKind, nullable(e.EntityID), e.Outcome, string(data)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, query, args...)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

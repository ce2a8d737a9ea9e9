package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vector/internal/audit"
	"vector/internal/db"
	"vector/internal/repo"
)

var (
	ErrNotFound     = repo.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStorage      = errors.New("storage failure")
)

// Options are fixed for the lifetime of an Engine.
type Options struct {
	Log zerolog.Logger
	// WebhookSecret is read once at startup. Empty or auth.DevWebhookSecret disables verification.
	WebhookSecret string
	Now           func() time.Time
}

type Engine struct {
	DB            *sql.DB
	Repo          repo.Repo
	Audit         audit.Writer
	Log           zerolog.Logger
	WebhookSecret string
	Now           func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, opts Options) Engine {
	e := Engine{
		DB:            conn,
		Repo:          repo.New(conn, dialect),
		Log:           opts.Log,
		WebhookSecret: opts.WebhookSecret,
		Now:           opts.Now,
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	e.Audit = audit.Writer{Dialect: dialect}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// appendAudit stamps entries with the engine clock.
func (e Engine) appendAudit(ctx context.Context, exec repo.DBTX, entry audit.Entry) error {
	w := e.Audit
	w.Now = e.now
	return w.Append(ctx, exec, entry)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnauthorized):
		return audit.OutcomeDenied
	default:
		return audit.OutcomeError
	}
}

// reject audits a refused request inside tx and commits, so only the audit row is written.
func (e Engine) reject(ctx context.Context, tx *sql.Tx, entry audit.Entry, err error) error {
	entry.Outcome = outcomeFor(err)
	if entry.Payload == nil {
		entry.Payload = audit.Payload{}
	}
	entry.Payload["error"] = err.Error()
	if aerr := e.appendAudit(ctx, tx, entry); aerr != nil {
		e.Log.Error().Err(aerr).Str("event", entry.Type).Msg("audit append failed")
		return err
	}
	if cerr := tx.Commit(); cerr != nil {
		e.Log.Error().Err(cerr).Str("event", entry.Type).Msg("audit commit failed")
	}
	return err
}

// fail rolls back tx (when set), logs the storage error and audits it outside the transaction.
func (e Engine) fail(ctx context.Context, tx *sql.Tx, entry audit.Entry, op string, err error) error {
	if tx != nil {
		_ = tx.Rollback()
	}
	e.Log.Error().Err(err).Str("op", op).Str("client_id", entry.ClientID).Msg("storage failure")
	entry.Outcome = audit.OutcomeError
	if aerr := e.appendAudit(ctx, e.DB, entry); aerr != nil {
		e.Log.Error().Err(aerr).Str("event", entry.Type).Msg("audit append failed")
	}
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

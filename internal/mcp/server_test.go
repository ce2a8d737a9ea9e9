package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vector/internal/db"
	"vector/internal/engine"
	"vector/internal/engine/auth"
	"vector/internal/migrate"
	"vector/internal/protocols"
	"vector/internal/repo"
	"vector/internal/seed"
)

var testNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func setupServer(t *testing.T) *Server {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, db.SQLite, engine.Options{
		WebhookSecret: auth.DevWebhookSecret,
		Now:           func() time.Time { return testNow },
	})
	ctx := context.Background()
	doc, err := seed.Base()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := seed.Import(ctx, e.Repo, doc, testNow, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := seed.Demo(ctx, e.Repo, testNow, "tester"); err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(workspace, "protocols")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "PATH_ACL_01.md"), []byte("# ACL"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewServer(e, protocols.Store{Root: dir}, "test")
	if s.mcpServer == nil {
		t.Fatal("expected mcp server")
	}
	return s
}

func TestHandleGetJourney(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, view, err := s.handleGetJourney(ctx, nil, clientInput{ClientID: seed.DemoClientID})
	if err != nil {
		t.Fatalf("get journey: %v", err)
	}
	if view.Client.JourneyID != seed.DemoJourneyID || len(view.Phases) != 4 {
		t.Fatalf("unexpected view %+v", view.Client)
	}

	_, _, err = s.handleGetJourney(ctx, nil, clientInput{ClientID: "CLT_NOPE"})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHandleRecordMetric(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   recordMetricInput
		wantErr error
	}{
		{name: "current phase metric", input: recordMetricInput{ClientID: seed.DemoClientID, MetricName: "pain_level", Value: "1"}},
		{name: "explicit timestamp", input: recordMetricInput{ClientID: seed.DemoClientID, MetricName: "effusion", Value: "0", RecordedAt: "2026-01-31T08:00:00Z"}},
		{name: "later phase metric", input: recordMetricInput{ClientID: seed.DemoClientID, MetricName: "knee_flexion", Value: "120"}, wantErr: engine.ErrInvalidInput},
		{name: "unknown client", input: recordMetricInput{ClientID: "CLT_NOPE", MetricName: "pain_level", Value: "1"}, wantErr: engine.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := s.handleRecordMetric(ctx, nil, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("record: %v", err)
			}
			if out.ID == "" || out.MetricName != tt.input.MetricName {
				t.Fatalf("unexpected output %+v", out)
			}
		})
	}

	if _, _, err := s.handleRecordMetric(ctx, nil, recordMetricInput{ClientID: seed.DemoClientID, MetricName: "pain_level", Value: "1", RecordedAt: "yesterday"}); err == nil {
		t.Fatal("expected error for bad timestamp")
	}

	evts, err := s.engine.Events(ctx, 10, repo.EventFilter{Type: "metric.recorded"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].ActorID != ActorID {
		t.Fatalf("expected 2 mcp audit entries, got %+v", evts)
	}
}

func TestHandleListRecordings(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, out, err := s.handleListRecordings(ctx, nil, listRecordingsInput{ClientID: seed.DemoClientID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out.JourneyID != seed.DemoJourneyID || len(out.Items) != 4 {
		t.Fatalf("unexpected output %+v", out)
	}
	_, out, err = s.handleListRecordings(ctx, nil, listRecordingsInput{ClientID: seed.DemoClientID, Limit: 2})
	if err != nil || len(out.Items) != 2 {
		t.Fatalf("limit not applied: %v %d", err, len(out.Items))
	}
}

func TestHandleGetProtocol(t *testing.T) {
	s := setupServer(t)
	ctx := context.Background()

	_, doc, err := s.handleGetProtocol(ctx, nil, protocolInput{ProtocolID: "PATH_ACL_01"})
	if err != nil || doc.Content != "# ACL" {
		t.Fatalf("get protocol: %v %q", err, doc.Content)
	}
	_, _, err = s.handleGetProtocol(ctx, nil, protocolInput{ProtocolID: "../PATH_NOPE"})
	if !errors.Is(err, protocols.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"vector/internal/engine"
	"vector/internal/protocols"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_journey",
		Description: "Show a client's active rehabilitation journey with phase statuses and exit criteria",
	}, s.handleGetJourney)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "record_metric",
		Description: "Record a measurement against an exit criterion of the client's current phase",
	}, s.handleRecordMetric)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_recordings",
		Description: "List the most recent metric recordings of a client's active journey",
	}, s.handleListRecordings)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_protocol",
		Description: "Read the raw protocol document for a pathology",
	}, s.handleGetProtocol)
}

type clientInput struct {
	ClientID string `json:"client_id" jsonschema:"client identifier, e.g. CLT_DEMO_01"`
}

type recordMetricInput struct {
	ClientID   string `json:"client_id" jsonschema:"client identifier"`
	MetricName string `json:"metric_name" jsonschema:"metric name of a criterion in the current phase"`
	Value      string `json:"value" jsonschema:"recorded value, numeric where possible"`
	Unit       string `json:"unit,omitempty" jsonschema:"unit, defaults to the criterion unit"`
	RecordedAt string `json:"recorded_at,omitempty" jsonschema:"RFC3339 timestamp, defaults to now"`
}

type recordingOutput struct {
	ID          string    `json:"id"`
	CriterionID string    `json:"criterion_id"`
	MetricName  string    `json:"metric_name"`
	Value       string    `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type listRecordingsInput struct {
	ClientID string `json:"client_id" jsonschema:"client identifier"`
	Limit    int    `json:"limit,omitempty" jsonschema:"max results, default 20"`
}

type recordingsOutput struct {
	JourneyID string            `json:"journey_id"`
	Items     []recordingOutput `json:"items"`
}

type protocolInput struct {
	ProtocolID string `json:"protocol_id" jsonschema:"protocol identifier, e.g. PATH_ACL_01"`
}

func (s *Server) handleGetJourney(ctx context.Context, req *mcp.CallToolRequest, input clientInput) (*mcp.CallToolResult, engine.JourneyView, error) {
	view, err := s.engine.GetJourney(ctx, input.ClientID, ActorID)
	if err != nil {
		return nil, engine.JourneyView{}, fmt.Errorf("get journey: %w", err)
	}
	return nil, view, nil
}

func (s *Server) handleRecordMetric(ctx context.Context, req *mcp.CallToolRequest, input recordMetricInput) (*mcp.CallToolResult, recordingOutput, error) {
	in := engine.RecordMetricInput{
		ClientID:   input.ClientID,
		MetricName: input.MetricName,
		Value:      input.Value,
		Unit:       input.Unit,
		ActorID:    ActorID,
		Source:     "mcp",
	}
	if input.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, input.RecordedAt)
		if err != nil {
			return nil, recordingOutput{}, fmt.Errorf("recorded_at must be RFC3339: %w", err)
		}
		in.RecordedAt = &t
	}
	rec, err := s.engine.RecordMetric(ctx, in)
	if err != nil {
		return nil, recordingOutput{}, fmt.Errorf("record metric: %w", err)
	}
	return nil, recordingOutput{
		ID:          rec.ID,
		CriterionID: rec.CriterionID,
		MetricName:  rec.MetricName,
		Value:       rec.Value,
		Unit:        rec.Unit,
		RecordedAt:  rec.RecordedAt,
	}, nil
}

func (s *Server) handleListRecordings(ctx context.Context, req *mcp.CallToolRequest, input listRecordingsInput) (*mcp.CallToolResult, recordingsOutput, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}
	aj, recs, err := s.engine.ListRecordings(ctx, input.ClientID, input.Limit)
	if err != nil {
		return nil, recordingsOutput{}, fmt.Errorf("list recordings: %w", err)
	}
	out := recordingsOutput{JourneyID: aj.Journey.ID, Items: make([]recordingOutput, 0, len(recs))}
	for _, r := range recs {
		out.Items = append(out.Items, recordingOutput{
			ID:          r.ID,
			CriterionID: r.CriterionID,
			MetricName:  r.MetricName,
			Value:       r.Value,
			Unit:        r.Unit,
			RecordedAt:  r.RecordedAt,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetProtocol(ctx context.Context, req *mcp.CallToolRequest, input protocolInput) (*mcp.CallToolResult, protocols.Document, error) {
	doc, err := s.protocols.Get(ctx, input.ProtocolID)
	s.engine.AuditProtocolRead(ctx, ActorID, protocols.SanitizeID(input.ProtocolID), err)
	if err != nil {
		return nil, protocols.Document{}, fmt.Errorf("get protocol: %w", err)
	}
	return nil, doc, nil
}

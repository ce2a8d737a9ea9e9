package domain

import "time"

type Pathology struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	OsicsCode         string   `json:"osics_code"`
	BodyRegion        string   `json:"body_region,omitempty"`
	InjuryMechanism   string   `json:"injury_mechanism,omitempty"`
	ResearchSource    string   `json:"research_source,omitempty"`
	ResearchDOI       string   `json:"research_doi,omitempty"`
	Contraindications []string `json:"contraindications,omitempty"`
	Version           int      `json:"version"`
	Active            bool     `json:"is_active"`
}

type Phase struct {
	ID              string `json:"id"`
	PathologyID     string `json:"pathology_id"`
	OrderIndex      int    `json:"order_index"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	TypicalDuration string `json:"typical_duration,omitempty"`
	Precautions     string `json:"precautions,omitempty"`
}

type ExitCriterion struct {
	ID              string `json:"id"`
	PhaseID         string `json:"phase_id"`
	OrderIndex      int    `json:"order_index"`
	MetricName      string `json:"metric_name"`
	Operator        string `json:"target_operator" enum:"=,>,>=,<,<="`
	TargetValue     string `json:"target_value"`
	Unit            string `json:"measurement_unit,omitempty"`
	MeasurementTool string `json:"measurement_tool,omitempty"`
	Description     string `json:"description,omitempty"`
}

type ProgrammingSlot struct {
	ID                   string   `json:"id"`
	PhaseID              string   `json:"phase_id"`
	OrderIndex           int      `json:"order_index"`
	SlotType             string   `json:"slot_type"`
	IntentDescription    string   `json:"intent_description,omitempty"`
	StandardExercise     string   `json:"standard_exercise"`
	Regression           *string  `json:"regression,omitempty"`
	Progression          *string  `json:"progression,omitempty"`
	HighDensityOption    *string  `json:"high_density_option,omitempty"`
	HighDensityRationale *string  `json:"high_density_rationale,omitempty"`
	SetsRepsGuidance     *string  `json:"sets_reps_guidance,omitempty"`
	Frequency            *string  `json:"frequency,omitempty"`
	Equipment            []string `json:"equipment_required,omitempty"`
}

type Client struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	IntakeDate    string `json:"intake_date,omitempty"`
	TerminalGoal  string `json:"terminal_goal,omitempty"`
	SportActivity string `json:"sport_activity,omitempty"`
}

// Journey statuses. Only one journey per client may be active.
const (
	JourneyActive    = "active"
	JourneyCompleted = "completed"
	JourneyWithdrawn = "withdrawn"
)

type Journey struct {
	ID             string `json:"id"`
	ClientID       string `json:"client_id"`
	PathologyID    string `json:"pathology_id"`
	CurrentPhaseID string `json:"current_phase_id"`
	Status         string `json:"status" enum:"active,completed,withdrawn"`
	StartedAt      string `json:"started_at"`
}

// ActiveJourney is a journey joined with its client and pathology header.
type ActiveJourney struct {
	Journey   Journey
	Client    Client
	Pathology Pathology
}

type MetricRecording struct {
	ID          string    `json:"id"`
	JourneyID   string    `json:"journey_id"`
	PhaseID     string    `json:"phase_id"`
	CriterionID string    `json:"criterion_id"`
	MetricName  string    `json:"metric_name"`
	Value       string    `json:"recorded_value"`
	Unit        string    `json:"measurement_unit,omitempty"`
	RecordedAt  time.Time `json:"recorded_at" format:"date-time"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

// Event is one audit trail entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ActorID    string `json:"actor_id"`
	ClientID   string `json:"client_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Outcome    string `json:"outcome"`
	Payload    string `json:"payload_json"`
}

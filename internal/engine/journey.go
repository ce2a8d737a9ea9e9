package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"vector/internal/audit"
	"vector/internal/domain"
	"vector/internal/engine/progress"
	"vector/internal/repo"
)

const defaultSlotDetail = "See clinician notes"

type JourneyView struct {
	Client ClientHeader `json:"client"`
	Phases []PhaseView  `json:"phases"`
}

type ClientHeader struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Sport             string `json:"sport"`
	TerminalGoal      string `json:"terminalGoal"`
	PathologyID       string `json:"pathologyId"`
	Pathology         string `json:"pathology"`
	OsicsCode         string `json:"osicsCode"`
	ResearchSource    string `json:"researchSource"`
	ResearchDOI       string `json:"researchDoi"`
	JourneyID         string `json:"journeyId"`
	StartDate         string `json:"startDate"`
	CurrentPhaseID    string `json:"currentPhaseId"`
	CurrentPhaseIndex int    `json:"currentPhaseIndex"`
}

type PhaseView struct {
	ID              string          `json:"id"`
	OrderIndex      int             `json:"orderIndex"`
	Name            string          `json:"name"`
	Status          progress.Status `json:"status" enum:"completed,active,locked"`
	Description     string          `json:"description"`
	TypicalDuration string          `json:"typicalDuration"`
	Criteria        []CriterionView `json:"criteria"`
	Programming     []SlotView      `json:"programming"`
}

type CriterionView struct {
	ID         string `json:"id"`
	MetricName string `json:"metricName"`
	Label      string `json:"label"`
	Target     string `json:"target"`
	Unit       string `json:"unit"`
	// Current is absent when nothing has been recorded for the criterion.
	Current    *string    `json:"current,omitempty"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
	Met        bool       `json:"met"`
}

type SlotView struct {
	Type        string   `json:"type"`
	Exercise    string   `json:"exercise"`
	Regression  *string  `json:"regression,omitempty"`
	Progression *string  `json:"progression,omitempty"`
	HD          *string  `json:"hd"`
	Rationale   *string  `json:"rationale"`
	Intent      string   `json:"intent"`
	Detail      string   `json:"detail"`
	Frequency   *string  `json:"frequency,omitempty"`
	Equipment   []string `json:"equipment"`
}

// GetJourney assembles the client's active journey with derived phase statuses and
// criteria evaluated against their latest recordings.
func (e Engine) GetJourney(ctx context.Context, clientID, actorID string) (JourneyView, error) {
	clientID = strings.TrimSpace(clientID)
	entry := audit.Entry{
		Type:       audit.TypeJourneyRead,
		ActorID:    actorID,
		ClientID:   clientID,
		EntityKind: "journey",
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return JourneyView{}, e.fail(ctx, nil, entry, "get journey", err)
	}
	defer tx.Rollback()
	r := e.Repo.WithTx(tx)

	aj, err := r.ActiveJourney(ctx, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		return JourneyView{}, e.reject(ctx, tx, entry, err)
	}
	if err != nil {
		return JourneyView{}, e.fail(ctx, tx, entry, "get journey", err)
	}
	entry.EntityID = aj.Journey.ID

	phases, err := r.PhasesByPathology(ctx, aj.Journey.PathologyID)
	if err != nil {
		return JourneyView{}, e.fail(ctx, tx, entry, "get journey", err)
	}
	ids := make([]string, len(phases))
	for i, p := range phases {
		ids[i] = p.ID
	}
	statuses, activeIdx := progress.DeriveStatuses(ids, aj.Journey.CurrentPhaseID)

	view := JourneyView{
		Client: ClientHeader{
			ID:                aj.Client.ID,
			Name:              aj.Client.DisplayName,
			Sport:             aj.Client.SportActivity,
			TerminalGoal:      aj.Client.TerminalGoal,
			PathologyID:       aj.Pathology.ID,
			Pathology:         aj.Pathology.Name,
			OsicsCode:         aj.Pathology.OsicsCode,
			ResearchSource:    aj.Pathology.ResearchSource,
			ResearchDOI:       aj.Pathology.ResearchDOI,
			JourneyID:         aj.Journey.ID,
			StartDate:         aj.Journey.StartedAt,
			CurrentPhaseID:    aj.Journey.CurrentPhaseID,
			CurrentPhaseIndex: activeIdx,
		},
		Phases: make([]PhaseView, 0, len(phases)),
	}
	for i, p := range phases {
		pv := PhaseView{
			ID:              p.ID,
			OrderIndex:      p.OrderIndex,
			Name:            p.Name,
			Status:          statuses[i],
			Description:     p.Description,
			TypicalDuration: p.TypicalDuration,
			Criteria:        []CriterionView{},
			Programming:     []SlotView{},
		}
		criteria, err := r.CriteriaByPhase(ctx, p.ID)
		if err != nil {
			return JourneyView{}, e.fail(ctx, tx, entry, "get journey", err)
		}
		for _, c := range criteria {
			cv, err := criterionView(ctx, r, aj.Journey.ID, c)
			if err != nil {
				return JourneyView{}, e.fail(ctx, tx, entry, "get journey", err)
			}
			pv.Criteria = append(pv.Criteria, cv)
		}
		slots, err := r.SlotsByPhase(ctx, p.ID)
		if err != nil {
			return JourneyView{}, e.fail(ctx, tx, entry, "get journey", err)
		}
		for _, s := range slots {
			pv.Programming = append(pv.Programming, slotView(s))
		}
		view.Phases = append(view.Phases, pv)
	}

	entry.Payload = audit.Payload{"phases": len(view.Phases), "current_phase_index": activeIdx}
	if err := e.appendAudit(ctx, tx, entry); err != nil {
		return JourneyView{}, e.fail(ctx, tx, entry, "get journey", err)
	}
	if err := tx.Commit(); err != nil {
		return JourneyView{}, e.fail(ctx, nil, entry, "get journey", err)
	}
	return view, nil
}

func criterionView(ctx context.Context, r repo.Repo, journeyID string, c domain.ExitCriterion) (CriterionView, error) {
	cv := CriterionView{
		ID:         c.ID,
		MetricName: c.MetricName,
		Label:      joinNonEmpty(c.MetricName, c.Operator, c.TargetValue, c.Unit),
		Target:     joinNonEmpty(c.Operator, c.TargetValue),
		Unit:       c.Unit,
	}
	rec, err := r.LatestRecording(ctx, journeyID, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		cv.Met = progress.IsMet(c.Operator, c.TargetValue, nil)
		return cv, nil
	}
	if err != nil {
		return cv, err
	}
	// Shown in the criterion's unit so it reads against the label and target.
	current := joinNonEmpty(rec.Value, c.Unit)
	recordedAt := rec.RecordedAt
	cv.Current = &current
	cv.RecordedAt = &recordedAt
	cv.Met = progress.IsMet(c.Operator, c.TargetValue, &rec.Value)
	return cv, nil
}

func slotView(s domain.ProgrammingSlot) SlotView {
	detail := defaultSlotDetail
	if s.SetsRepsGuidance != nil && *s.SetsRepsGuidance != "" {
		detail = *s.SetsRepsGuidance
	}
	equipment := s.Equipment
	if equipment == nil {
		equipment = []string{}
	}
	return SlotView{
		Type:        s.SlotType,
		Exercise:    s.StandardExercise,
		Regression:  s.Regression,
		Progression: s.Progression,
		HD:          s.HighDensityOption,
		Rationale:   s.HighDensityRationale,
		Intent:      s.IntentDescription,
		Detail:      detail,
		Frequency:   s.Frequency,
		Equipment:   equipment,
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

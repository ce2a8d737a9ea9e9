// Package seed loads protocol definitions and the demo client into the store.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vector/internal/audit"
	"vector/internal/domain"
	"vector/internal/engine/progress"
	"vector/internal/repo"
)

//go:embed data/base_seed.json
var baseSeed []byte

type Document struct {
	Protocols []Protocol `json:"protocols" yaml:"protocols"`
}

type Protocol struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	OsicsCode         string   `json:"osics_code" yaml:"osics_code"`
	BodyRegion        string   `json:"body_region" yaml:"body_region"`
	InjuryMechanism   string   `json:"injury_mechanism" yaml:"injury_mechanism"`
	ResearchSource    string   `json:"research_source" yaml:"research_source"`
	ResearchDOI       string   `json:"research_doi" yaml:"research_doi"`
	Contraindications []string `json:"contraindications" yaml:"contraindications"`
	Phases            []Phase  `json:"phases" yaml:"phases"`
}

type Phase struct {
	ID              string      `json:"id" yaml:"id"`
	OrderIndex      int         `json:"order_index" yaml:"order_index"`
	Name            string      `json:"name" yaml:"name"`
	Description     string      `json:"description" yaml:"description"`
	TypicalDuration string      `json:"typical_duration" yaml:"typical_duration"`
	Precautions     string      `json:"precautions" yaml:"precautions"`
	ExitCriteria    []Criterion `json:"exit_criteria" yaml:"exit_criteria"`
	Programming     []Slot      `json:"programming" yaml:"programming"`
}

type Criterion struct {
	ID              string `json:"id" yaml:"id"`
	MetricName      string `json:"metric_name" yaml:"metric_name"`
	Operator        string `json:"target_operator" yaml:"target_operator"`
	TargetValue     string `json:"target_value" yaml:"target_value"`
	Unit            string `json:"measurement_unit" yaml:"measurement_unit"`
	MeasurementTool string `json:"measurement_tool" yaml:"measurement_tool"`
	Description     string `json:"description" yaml:"description"`
}

type Slot struct {
	ID                   string   `json:"id" yaml:"id"`
	OrderIndex           int      `json:"order_index" yaml:"order_index"`
	SlotType             string   `json:"slot_type" yaml:"slot_type"`
	IntentDescription    string   `json:"intent_description" yaml:"intent_description"`
	StandardExercise     string   `json:"standard_exercise" yaml:"standard_exercise"`
	Regression           *string  `json:"regression" yaml:"regression"`
	Progression          *string  `json:"progression" yaml:"progression"`
	HighDensityOption    *string  `json:"high_density_option" yaml:"high_density_option"`
	HighDensityRationale *string  `json:"high_density_rationale" yaml:"high_density_rationale"`
	SetsRepsGuidance     *string  `json:"sets_reps_guidance" yaml:"sets_reps_guidance"`
	Frequency            *string  `json:"frequency" yaml:"frequency"`
	Equipment            []string `json:"equipment_required" yaml:"equipment_required"`
}

// Summary counts what an import wrote.
type Summary struct {
	Protocols int `json:"protocols"`
	Phases    int `json:"phases"`
	Criteria  int `json:"criteria"`
	Slots     int `json:"slots"`
}

// Base returns the embedded base protocol set.
func Base() (Document, error) {
	return Parse(baseSeed)
}

// Parse decodes a seed document. JSON is accepted as YAML.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse seed: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks ids, operators and phase ordering before anything is written.
func (d Document) Validate() error {
	var errs []error
	seen := map[string]bool{}
	unique := func(kind, id string) {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("%s id is required", kind))
			return
		}
		key := kind + ":" + id
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate %s id %s", kind, id))
		}
		seen[key] = true
	}
	for _, p := range d.Protocols {
		unique("protocol", p.ID)
		if p.Name == "" || p.OsicsCode == "" {
			errs = append(errs, fmt.Errorf("protocol %s: name and osics_code are required", p.ID))
		}
		orders := map[int]string{}
		for _, ph := range p.Phases {
			unique("phase", ph.ID)
			if prev, ok := orders[ph.OrderIndex]; ok {
				errs = append(errs, fmt.Errorf("protocol %s: phases %s and %s share order_index %d", p.ID, prev, ph.ID, ph.OrderIndex))
			}
			orders[ph.OrderIndex] = ph.ID
			for _, c := range ph.ExitCriteria {
				unique("criterion", c.ID)
				if c.MetricName == "" {
					errs = append(errs, fmt.Errorf("criterion %s: metric_name is required", c.ID))
				}
				if !progress.ValidOperator(c.Operator) {
					errs = append(errs, fmt.Errorf("criterion %s: operator %q not one of %s", c.ID, c.Operator, strings.Join(progress.Operators, " ")))
				}
			}
			for _, s := range ph.Programming {
				unique("slot", s.ID)
				if s.StandardExercise == "" {
					errs = append(errs, fmt.Errorf("slot %s: standard_exercise is required", s.ID))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Import upserts every protocol and replaces its phases, criteria and slots in one transaction.
func Import(ctx context.Context, r repo.Repo, doc Document, now time.Time, actorID string) (Summary, error) {
	if err := doc.Validate(); err != nil {
		return Summary{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, err
	}
	defer tx.Rollback()
	tr := r.WithTx(tx)

	var sum Summary
	for _, p := range doc.Protocols {
		if err := tr.UpsertPathology(ctx, domain.Pathology{
			ID:                p.ID,
			Name:              p.Name,
			OsicsCode:         p.OsicsCode,
			BodyRegion:        p.BodyRegion,
			InjuryMechanism:   p.InjuryMechanism,
			ResearchSource:    p.ResearchSource,
			ResearchDOI:       p.ResearchDOI,
			Contraindications: p.Contraindications,
			Version:           1,
			Active:            true,
		}, now); err != nil {
			return Summary{}, fmt.Errorf("protocol %s: %w", p.ID, err)
		}
		if err := tr.DeletePhases(ctx, p.ID); err != nil {
			return Summary{}, fmt.Errorf("protocol %s: clear phases: %w", p.ID, err)
		}
		sum.Protocols++
		for _, ph := range p.Phases {
			if err := tr.InsertPhase(ctx, domain.Phase{
				ID:              ph.ID,
				PathologyID:     p.ID,
				OrderIndex:      ph.OrderIndex,
				Name:            ph.Name,
				Description:     ph.Description,
				TypicalDuration: ph.TypicalDuration,
				Precautions:     ph.Precautions,
			}, now); err != nil {
				return Summary{}, fmt.Errorf("phase %s: %w", ph.ID, err)
			}
			sum.Phases++
			for i, c := range ph.ExitCriteria {
				if err := tr.InsertCriterion(ctx, domain.ExitCriterion{
					ID:              c.ID,
					PhaseID:         ph.ID,
					OrderIndex:      i,
					MetricName:      c.MetricName,
					Operator:        c.Operator,
					TargetValue:     c.TargetValue,
					Unit:            c.Unit,
					MeasurementTool: c.MeasurementTool,
					Description:     c.Description,
				}); err != nil {
					return Summary{}, fmt.Errorf("criterion %s: %w", c.ID, err)
				}
				sum.Criteria++
			}
			for _, s := range ph.Programming {
				if err := tr.InsertSlot(ctx, domain.ProgrammingSlot{
					ID:                   s.ID,
					PhaseID:              ph.ID,
					OrderIndex:           s.OrderIndex,
					SlotType:             s.SlotType,
					IntentDescription:    s.IntentDescription,
					StandardExercise:     s.StandardExercise,
					Regression:           s.Regression,
					Progression:          s.Progression,
					HighDensityOption:    s.HighDensityOption,
					HighDensityRationale: s.HighDensityRationale,
					SetsRepsGuidance:     s.SetsRepsGuidance,
					Frequency:            s.Frequency,
					Equipment:            s.Equipment,
				}, now); err != nil {
					return Summary{}, fmt.Errorf("slot %s: %w", s.ID, err)
				}
				sum.Slots++
			}
		}
	}
	w := audit.Writer{Dialect: r.Dialect, Now: func() time.Time { return now }}
	if err := w.Append(ctx, tx, audit.Entry{
		Type:       audit.TypeSeedImported,
		ActorID:    actorID,
		EntityKind: "pathology",
		Payload: audit.Payload{
			"protocols": sum.Protocols,
			"phases":    sum.Phases,
			"criteria":  sum.Criteria,
			"slots":     sum.Slots,
		},
	}); err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

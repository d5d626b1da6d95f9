// Package feedback turns feedback and interaction events into typed
// learning updates. Each processor is a fixed policy table: the event type
// decides the payload, confidence, priority and affected memory kinds.
package feedback

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// Explicit maps user-stated feedback onto updates.
type Explicit struct {
	now func() time.Time
}

// NewExplicit creates an explicit feedback processor.
func NewExplicit() *Explicit {
	return &Explicit{now: time.Now}
}

// Process returns the update for ev, or nil when ev is not explicit feedback.
func (e *Explicit) Process(ev *model.FeedbackEvent) *model.LearningUpdate {
	situation := ev.Context.Map()

	switch ev.Type {
	case model.FeedbackDirectCorrection:
		wrong := ev.Data["wrong_behavior"]
		correct := ev.Data["correct_behavior"]
		p := &model.CorrectionPayload{
			PayloadBase:     model.PayloadBase{Context: situation},
			IncorrectAction: wrong,
			CorrectAction:   correct,
			Tone:            ev.Tone,
		}
		if wrong != "" && correct != "" {
			p.Rule = &model.RuleSpec{
				Condition: fmt.Sprintf("When %s is attempted", strings.ToLower(wrong)),
				Action:    correct,
				Strength:  1.0,
			}
		}
		return e.update(ev, p, 0.95, model.PriorityHigh, model.KindProcedural, model.KindPreference)

	case model.FeedbackPraise:
		return e.update(ev, &model.RefinementPayload{
			PayloadBase:   model.PayloadBase{Context: situation},
			Behavior:      ev.Data["behavior"],
			Category:      ev.Data["category"],
			Reinforcement: model.ReinforcePositive,
			StrengthBoost: 0.2,
		}, 0.8, model.PriorityMedium, model.KindPreference)

	case model.FeedbackCriticism:
		return e.update(ev, &model.RefinementPayload{
			PayloadBase:       model.PayloadBase{Context: situation},
			Behavior:          ev.Data["behavior"],
			Category:          ev.Data["category"],
			Reinforcement:     model.ReinforceNegative,
			StrengthReduction: 0.3,
		}, 0.85, model.PriorityHigh, model.KindPreference, model.KindProcedural)

	case model.FeedbackRuleDefinition:
		return e.update(ev, &model.RulePayload{
			PayloadBase: model.PayloadBase{Context: situation},
			Condition:   ev.Data["condition"],
			Action:      ev.Data["preferred_action"],
			Strength:    1.0,
		}, 0.99, model.PriorityCritical, model.KindPreference)

	case model.FeedbackPreferenceStatement:
		category := ev.Data["category"]
		if category == "" {
			category = "general"
		}
		return e.update(ev, &model.RefinementPayload{
			PayloadBase: model.PayloadBase{Context: situation},
			Category:    category,
			Preference:  ev.Data["preference"],
			Strength:    0.9,
		}, 0.9, model.PriorityHigh, model.KindPreference)
	}
	return nil
}

func (e *Explicit) update(ev *model.FeedbackEvent, p model.Payload, confidence float64, priority model.Priority, kinds ...model.Kind) *model.LearningUpdate {
	return &model.LearningUpdate{
		ID:            uuid.NewString(),
		UserID:        ev.UserID,
		Confidence:    confidence,
		Priority:      priority,
		Payload:       p,
		AffectedKinds: kinds,
		Source:        model.SourceExplicit,
		CreatedAt:     e.now().UTC(),
	}
}

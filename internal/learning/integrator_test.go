package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/adaptive-memory/internal/model"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func refinement(id string, source model.Source, confidence float64, created time.Time) *model.LearningUpdate {
	return &model.LearningUpdate{
		ID:            id,
		UserID:        "u1",
		Confidence:    confidence,
		Priority:      model.PriorityMedium,
		Payload:       &model.RefinementPayload{Preference: "prefers short answers"},
		AffectedKinds: []model.Kind{model.KindPreference},
		Source:        source,
		CreatedAt:     created,
	}
}

func ids(updates []*model.LearningUpdate) []string {
	out := make([]string, len(updates))
	for i, u := range updates {
		out[i] = u.ID
	}
	return out
}

func TestIntegrateDropsImplicitAgainstExplicit(t *testing.T) {
	explicit := &model.LearningUpdate{
		ID:            "explicit",
		UserID:        "u1",
		Confidence:    0.9,
		Priority:      model.PriorityHigh,
		Payload:       &model.CorrectionPayload{IncorrectAction: "long answer", CorrectAction: "short answer"},
		AffectedKinds: []model.Kind{model.KindProcedural, model.KindPreference},
		Source:        model.SourceExplicit,
		CreatedAt:     testNow,
	}
	implicit := refinement("implicit", model.SourceImplicit, 0.7, testNow.Add(-3*time.Hour))

	for _, batch := range [][]*model.LearningUpdate{{explicit, implicit}, {implicit, explicit}} {
		res := NewIntegrator(IntegratorOptions{}).Integrate(batch)
		require.Len(t, res.Updates, 1)
		assert.Equal(t, "explicit", res.Updates[0].ID)
		assert.Equal(t, 0.9, res.Updates[0].Confidence)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, ConflictExplicitImplicit, res.Conflicts[0].Kind)
		assert.Equal(t, "implicit", res.Conflicts[0].Loser)
		assert.Equal(t, ResolutionDropped, res.Conflicts[0].Resolution)
	}
}

func TestIntegrateRecentVersusHistorical(t *testing.T) {
	in := NewIntegrator(IntegratorOptions{})

	t.Run("wide gap drops lower confidence", func(t *testing.T) {
		res := in.Integrate([]*model.LearningUpdate{
			refinement("low", model.SourceImplicit, 0.6, testNow),
			refinement("high", model.SourceImplicit, 0.9, testNow.Add(-30*time.Minute)),
		})
		assert.Equal(t, []string{"high"}, ids(res.Updates))
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, ConflictRecentHistorical, res.Conflicts[0].Kind)
		assert.Equal(t, "low", res.Conflicts[0].Loser)
	})

	t.Run("narrow gap decays older", func(t *testing.T) {
		res := in.Integrate([]*model.LearningUpdate{
			refinement("older", model.SourceImplicit, 0.8, testNow.Add(-10*time.Minute)),
			refinement("newer", model.SourceImplicit, 0.7, testNow),
		})
		require.Len(t, res.Updates, 2)
		byID := map[string]*model.LearningUpdate{}
		for _, u := range res.Updates {
			byID[u.ID] = u
		}
		assert.InDelta(t, 0.56, byID["older"].Confidence, 1e-9)
		assert.InDelta(t, 0.7, byID["newer"].Confidence, 1e-9)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, ResolutionDecayed, res.Conflicts[0].Resolution)
		assert.Equal(t, "older", res.Conflicts[0].Loser)
	})

	t.Run("outside window no conflict", func(t *testing.T) {
		res := in.Integrate([]*model.LearningUpdate{
			refinement("a", model.SourceImplicit, 0.9, testNow),
			refinement("b", model.SourceImplicit, 0.5, testNow.Add(-2*time.Hour)),
		})
		assert.Len(t, res.Updates, 2)
		assert.Empty(t, res.Conflicts)
	})
}

func TestIntegrateSpecificVersusGeneral(t *testing.T) {
	general := &model.LearningUpdate{
		ID:     "general",
		UserID: "u1",
		Payload: &model.RulePayload{
			PayloadBase: model.PayloadBase{Context: map[string]string{"time_of_day": "morning", "day_type": "workday"}},
			Condition:   "scheduling meetings",
			Action:      "prefer mornings",
		},
		Confidence:    0.95,
		Priority:      model.PriorityCritical,
		AffectedKinds: []model.Kind{model.KindProcedural},
		Source:        model.SourceExplicit,
		CreatedAt:     testNow,
	}
	specific := &model.LearningUpdate{
		ID:     "specific",
		UserID: "u1",
		Payload: &model.CorrectionPayload{
			PayloadBase: model.PayloadBase{Context: map[string]string{
				"time_of_day": "morning", "day_type": "workday", "environment": "travel", "user_state": "tired",
			}},
			IncorrectAction: "book 8am meeting",
			CorrectAction:   "book 10am meeting",
		},
		Confidence:    0.9,
		Priority:      model.PriorityHigh,
		AffectedKinds: []model.Kind{model.KindProcedural},
		Source:        model.SourceExplicit,
		CreatedAt:     testNow.Add(-5 * time.Minute),
	}

	res := NewIntegrator(IntegratorOptions{}).Integrate([]*model.LearningUpdate{general, specific})
	require.Equal(t, []string{"general", "specific"}, ids(res.Updates))
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, ConflictSpecificGeneral, res.Conflicts[0].Kind)

	exceptions := res.Updates[0].Payload.Base().Exceptions
	require.Len(t, exceptions, 1)
	assert.Equal(t, "specific", exceptions[0].UpdateID)
	assert.Equal(t, "book 8am meeting book 10am meeting", exceptions[0].Behavior)
	assert.Equal(t, "travel", exceptions[0].Context["environment"])

	assert.Empty(t, general.Payload.Base().Exceptions, "input must not be mutated")
}

func TestIntegrateSkipsUnrelatedPairs(t *testing.T) {
	a := refinement("a", model.SourceImplicit, 0.9, testNow)
	b := refinement("b", model.SourceImplicit, 0.5, testNow)
	b.UserID = "u2"
	c := refinement("c", model.SourceImplicit, 0.5, testNow)
	c.AffectedKinds = []model.Kind{model.KindSemantic}

	res := NewIntegrator(IntegratorOptions{}).Integrate([]*model.LearningUpdate{a, b, c})
	assert.Len(t, res.Updates, 3)
	assert.Empty(t, res.Conflicts)
}

func TestIntegrateConsistencyPass(t *testing.T) {
	high := &model.LearningUpdate{
		ID:            "high",
		UserID:        "u1",
		Confidence:    1.4,
		Priority:      model.PriorityLow,
		Payload:       &model.KnowledgePayload{Content: "likes tea"},
		AffectedKinds: []model.Kind{model.KindSemantic},
		Source:        model.SourceExplicit,
		CreatedAt:     testNow,
	}
	empty := &model.LearningUpdate{
		ID:            "empty",
		UserID:        "u1",
		Confidence:    0.9,
		Priority:      model.PriorityHigh,
		Payload:       &model.RefinementPayload{},
		AffectedKinds: []model.Kind{model.KindSemantic},
		Source:        model.SourceImplicit,
		CreatedAt:     testNow,
	}

	res := NewIntegrator(IntegratorOptions{}).Integrate([]*model.LearningUpdate{high, empty, nil})
	require.Equal(t, []string{"high"}, ids(res.Updates))
	assert.Equal(t, 1.0, res.Updates[0].Confidence)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 1.4, high.Confidence)
}

func TestIntegrateOrdering(t *testing.T) {
	mk := func(id string, p model.Priority, conf float64, created time.Time, kind model.Kind) *model.LearningUpdate {
		return &model.LearningUpdate{
			ID:            id,
			UserID:        "u1",
			Confidence:    conf,
			Priority:      p,
			Payload:       &model.KnowledgePayload{Content: id},
			AffectedKinds: []model.Kind{kind},
			Source:        model.SourceExplicit,
			CreatedAt:     created,
		}
	}
	res := NewIntegrator(IntegratorOptions{}).Integrate([]*model.LearningUpdate{
		mk("low", model.PriorityLow, 0.9, testNow, model.KindEpisodic),
		mk("high-old", model.PriorityHigh, 0.8, testNow.Add(-48*time.Hour), model.KindSemantic),
		mk("high-new", model.PriorityHigh, 0.8, testNow, model.KindProcedural),
		mk("high-confident", model.PriorityHigh, 0.95, testNow.Add(-96*time.Hour), model.KindEpisodic),
		mk("critical", model.PriorityCritical, 0.1, testNow.Add(-72*time.Hour), model.KindProcedural),
	})
	assert.Equal(t, []string{"critical", "high-confident", "high-new", "high-old", "low"}, ids(res.Updates))
}

package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/adaptive-memory/internal/model"
)

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestProcessor() *Processor {
	p := NewProcessor(DefaultBehavioralOptions())
	p.SetClock(func() time.Time { return testNow })
	return p
}

func feedback(typ model.FeedbackType, data map[string]string) *model.FeedbackEvent {
	return &model.FeedbackEvent{UserID: "u1", Type: typ, Data: data}
}

func one(t *testing.T, p *Processor, ev *model.FeedbackEvent) *model.LearningUpdate {
	t.Helper()
	updates, err := p.ProcessFeedback(ev)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	return updates[0]
}

func TestDirectCorrection(t *testing.T) {
	p := newTestProcessor()
	ev := feedback(model.FeedbackDirectCorrection, map[string]string{
		"wrong_behavior":   "Use Tabs",
		"correct_behavior": "use spaces",
	})
	ev.Tone = model.ToneFrustrated
	u := one(t, p, ev)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, testNow, ev.CreatedAt)
	assert.Equal(t, model.UpdateBehaviorCorrection, u.Type())
	assert.Equal(t, 0.95, u.Confidence)
	assert.Equal(t, model.PriorityHigh, u.Priority)
	assert.Equal(t, model.SourceExplicit, u.Source)
	assert.Equal(t, []model.Kind{model.KindProcedural, model.KindPreference}, u.AffectedKinds)
	assert.Equal(t, testNow, u.CreatedAt)

	cp := u.Payload.(*model.CorrectionPayload)
	assert.Equal(t, "Use Tabs", cp.IncorrectAction)
	assert.Equal(t, model.ToneFrustrated, cp.Tone)
	require.NotNil(t, cp.Rule)
	assert.Equal(t, "When use tabs is attempted", cp.Rule.Condition)
	assert.Equal(t, "use spaces", cp.Rule.Action)
	assert.Equal(t, 1.0, cp.Rule.Strength)
	assert.Equal(t, "morning", cp.Context["time_of_day"])
	assert.Equal(t, "workday", cp.Context["day_type"])
}

func TestExplicitPolicies(t *testing.T) {
	tests := []struct {
		typ        model.FeedbackType
		data       map[string]string
		updateType model.UpdateType
		confidence float64
		priority   model.Priority
		kinds      []model.Kind
	}{
		{model.FeedbackPraise, map[string]string{"behavior": "short answers"}, model.UpdatePreferenceRefinement, 0.8, model.PriorityMedium, []model.Kind{model.KindPreference}},
		{model.FeedbackCriticism, map[string]string{"behavior": "long answers"}, model.UpdatePreferenceRefinement, 0.85, model.PriorityHigh, []model.Kind{model.KindPreference, model.KindProcedural}},
		{model.FeedbackRuleDefinition, map[string]string{"condition": "on fridays", "preferred_action": "no meetings"}, model.UpdateExplicitRule, 0.99, model.PriorityCritical, []model.Kind{model.KindPreference}},
		{model.FeedbackPreferenceStatement, map[string]string{"preference": "dark mode"}, model.UpdatePreferenceRefinement, 0.9, model.PriorityHigh, []model.Kind{model.KindPreference}},
	}
	p := newTestProcessor()
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			u := one(t, p, feedback(tt.typ, tt.data))
			assert.Equal(t, tt.updateType, u.Type())
			assert.Equal(t, tt.confidence, u.Confidence)
			assert.Equal(t, tt.priority, u.Priority)
			assert.Equal(t, tt.kinds, u.AffectedKinds)
			assert.False(t, u.Empty())
		})
	}
}

func TestExplicitPayloads(t *testing.T) {
	p := newTestProcessor()

	praise := one(t, p, feedback(model.FeedbackPraise, map[string]string{"behavior": "short answers"})).Payload.(*model.RefinementPayload)
	assert.Equal(t, model.ReinforcePositive, praise.Reinforcement)
	assert.Equal(t, 0.2, praise.StrengthBoost)

	crit := one(t, p, feedback(model.FeedbackCriticism, map[string]string{"behavior": "long answers"})).Payload.(*model.RefinementPayload)
	assert.Equal(t, model.ReinforceNegative, crit.Reinforcement)
	assert.Equal(t, 0.3, crit.StrengthReduction)

	rule := one(t, p, feedback(model.FeedbackRuleDefinition, map[string]string{"condition": "on fridays", "preferred_action": "no meetings"})).Payload.(*model.RulePayload)
	assert.Equal(t, "on fridays", rule.Condition)
	assert.Equal(t, "no meetings", rule.Action)
	assert.Equal(t, 1.0, rule.Strength)

	stmt := one(t, p, feedback(model.FeedbackPreferenceStatement, map[string]string{"preference": "dark mode"})).Payload.(*model.RefinementPayload)
	assert.Equal(t, "general", stmt.Category)
	assert.Equal(t, 0.9, stmt.Strength)
}

func TestSuggestionIgnoredEscalates(t *testing.T) {
	p := newTestProcessor()
	wantConf := []float64{0.6, 0.7, 0.8, 0.9, 0.9}
	wantPrio := []model.Priority{model.PriorityLow, model.PriorityLow, model.PriorityMedium, model.PriorityMedium, model.PriorityMedium}

	for i := range wantConf {
		u := one(t, p, feedback(model.FeedbackSuggestionIgnored, map[string]string{"suggestion_type": "reminder", "content": "call mom"}))
		assert.InDelta(t, wantConf[i], u.Confidence, 1e-9)
		assert.Equal(t, wantPrio[i], u.Priority)
		assert.Equal(t, model.SourceImplicit, u.Source)
		rp := u.Payload.(*model.RefinementPayload)
		assert.Equal(t, "Avoid reminder suggestions", rp.Preference)
		assert.Equal(t, i+1, rp.RejectionCount)
	}

	// Other types and users keep their own counts.
	u := one(t, p, feedback(model.FeedbackSuggestionIgnored, map[string]string{"suggestion_type": "article"}))
	assert.InDelta(t, 0.6, u.Confidence, 1e-9)
	other := feedback(model.FeedbackSuggestionIgnored, map[string]string{"suggestion_type": "reminder"})
	other.UserID = "u2"
	assert.InDelta(t, 0.6, one(t, p, other).Confidence, 1e-9)

	assert.Equal(t, 5, p.Implicit().Rejections("u1", "reminder"))
}

func TestAdoptionRate(t *testing.T) {
	p := newTestProcessor()
	assert.Equal(t, 0.5, p.Implicit().AdoptionRate("u1", "reminder"))

	for i := 0; i < 3; i++ {
		one(t, p, feedback(model.FeedbackSuggestionIgnored, map[string]string{"suggestion_type": "reminder"}))
	}
	u := one(t, p, feedback(model.FeedbackSuggestionAccepted, map[string]string{"suggestion_type": "reminder"}))
	assert.Equal(t, 0.7, u.Confidence)
	assert.Equal(t, model.PriorityLow, u.Priority)
	assert.Equal(t, "Continue reminder suggestions", u.Payload.Text())
	assert.Equal(t, 0.25, p.Implicit().AdoptionRate("u1", "reminder"))
}

func TestSuggestionModified(t *testing.T) {
	p := newTestProcessor()
	u := one(t, p, feedback(model.FeedbackSuggestionModified, map[string]string{
		"suggestion_type": "email",
		"original":        "meet on monday",
		"modified":        "meet on tuesday",
	}))
	assert.Equal(t, 0.75, u.Confidence)
	assert.Equal(t, model.PriorityMedium, u.Priority)
	assert.Equal(t, []model.Kind{model.KindPreference, model.KindProcedural}, u.AffectedKinds)

	rp := u.Payload.(*model.RefinementPayload)
	assert.Equal(t, []string{"meet", "on"}, rp.KeptAspects)
	assert.Equal(t, []string{"monday"}, rp.RejectedAspects)
	assert.Equal(t, []string{"tuesday"}, rp.AddedAspects)
	assert.Equal(t, "refinement", rp.ModificationKind)
	assert.Equal(t, "Modify email suggestions (refinement)", rp.Preference)
}

func TestAnalyzeModificationPatterns(t *testing.T) {
	tests := []struct {
		original, modified, want string
	}{
		{"a b c", "x y z", "major_change"},
		{"a b", "a b c d e", "expansion"},
		{"a b c", "a b d", "refinement"},
		{"a b c", "a b c d", "minor_addition"},
	}
	for _, tt := range tests {
		_, _, _, got := AnalyzeModification(tt.original, tt.modified)
		assert.Equal(t, tt.want, got, "%q -> %q", tt.original, tt.modified)
	}
}

func TestExtractFeatures(t *testing.T) {
	f := ExtractFeatures("Hey, meeting tomorrow at 3 pm please")
	assert.Equal(t, 36, f.Length)
	assert.Equal(t, 7, f.WordCount)
	assert.True(t, f.HasNumbers)
	assert.True(t, f.HasTime)
	assert.True(t, f.HasDate)
	assert.Equal(t, 0.5, f.Formality)
	assert.Equal(t, []string{"meeting", "tomorrow", "please"}, f.KeyTerms)

	assert.Equal(t, 1.0, Formality("Kindly review regarding the invoice"))
	assert.Equal(t, 0.0, Formality("yeah gonna do it asap"))
	assert.Equal(t, 0.5, Formality("plain text"))
}

func TestProcessFeedbackErrors(t *testing.T) {
	p := newTestProcessor()
	_, err := p.ProcessFeedback(&model.FeedbackEvent{Type: model.FeedbackPraise})
	assert.ErrorIs(t, err, ErrMissingUser)
	_, err = p.ProcessFeedback(feedback("shrug", nil))
	assert.ErrorIs(t, err, ErrUnknownFeedback)
}

func interactionAt(eventType string, engagement, duration float64, c *model.Context) *model.InteractionEvent {
	return &model.InteractionEvent{
		UserID:          "u1",
		EventType:       eventType,
		Engagement:      engagement,
		DurationSeconds: duration,
		Context:         c,
	}
}

func TestBehavioralNeedsHistory(t *testing.T) {
	b := NewBehavioral(DefaultBehavioralOptions())
	for i := 0; i < 9; i++ {
		assert.Nil(t, b.Process(interactionAt("chat", 0.5, 60, model.NewContext(testNow))))
	}
	short, medium := b.Buffered("u1")
	assert.Equal(t, 9, short)
	assert.Equal(t, 9, medium)
}

func TestBehavioralInfersHabits(t *testing.T) {
	b := NewBehavioral(DefaultBehavioralOptions())
	b.now = func() time.Time { return testNow }

	var u *model.LearningUpdate
	for i := 0; i < 10; i++ {
		u = b.Process(interactionAt("chat", 0.5, 60, model.NewContext(testNow)))
	}
	require.NotNil(t, u)
	assert.Equal(t, model.UpdateBehavioralPattern, u.Type())
	assert.Equal(t, model.SourceBehavioral, u.Source)
	assert.Equal(t, model.PriorityLow, u.Priority)
	// mean(1.0, 1.0) discounted by 10/50 interactions.
	assert.InDelta(t, 0.2, u.Confidence, 1e-9)

	pp := u.Payload.(*model.PatternPayload)
	assert.Empty(t, pp.Shifts)
	require.Len(t, pp.Preferences, 2)
	assert.Equal(t, "Prefers morning interactions", pp.Preferences[0].Preference)
	assert.Equal(t, "temporal", pp.Preferences[0].Category)
	assert.Equal(t, "Prefers moderate interactions", pp.Preferences[1].Preference)
	assert.Equal(t, 10, pp.MediumTermCount)
}

func TestBehavioralDetectsEngagementShift(t *testing.T) {
	b := NewBehavioral(DefaultBehavioralOptions())
	for i := 0; i < 30; i++ {
		b.Process(interactionAt("article", 0.1, 60, nil))
	}
	var u *model.LearningUpdate
	for i := 0; i < 20; i++ {
		u = b.Process(interactionAt("chat", 0.9, 60, nil))
	}
	require.NotNil(t, u)
	pp := u.Payload.(*model.PatternPayload)

	require.NotEmpty(t, pp.Shifts)
	assert.Equal(t, "engagement", pp.Shifts[0].PatternType)
	assert.Equal(t, "0.42", pp.Shifts[0].From)
	assert.Equal(t, "0.90", pp.Shifts[0].To)
	assert.InDelta(t, 0.9, pp.Shifts[0].Confidence, 1e-9)

	var prefs []string
	for _, p := range pp.Preferences {
		prefs = append(prefs, p.Preference)
	}
	assert.Contains(t, prefs, "High engagement with chat")
	assert.Equal(t, 20, pp.ShortTermCount)
	assert.Equal(t, 50, pp.MediumTermCount)
}

// shiftWindows builds the windows after 30 older interactions followed
// by 20 recent ones: short holds the recent ones, medium holds all 50.
func shiftWindows(older, recent []interaction) (short, medium []interaction) {
	for i := 0; i < 30; i++ {
		medium = append(medium, older[i%len(older)])
	}
	for i := 0; i < 20; i++ {
		it := recent[i%len(recent)]
		short = append(short, it)
		medium = append(medium, it)
	}
	return short, medium
}

func TestBehavioralShiftTriggers(t *testing.T) {
	steady := interaction{eventType: "chat", engagement: 0.5, duration: 60, timeOfDay: "morning"}
	with := func(f func(*interaction)) interaction {
		it := steady
		f(&it)
		return it
	}
	evening := with(func(it *interaction) { it.timeOfDay = "evening" })
	// 11 of 20 recent interactions stay in the morning.
	var mostlyMorning []interaction
	for i := 0; i < 20; i++ {
		if i < 11 {
			mostlyMorning = append(mostlyMorning, steady)
		} else {
			mostlyMorning = append(mostlyMorning, evening)
		}
	}

	tests := []struct {
		name   string
		older  []interaction
		recent []interaction
		want   string // expected sole shift; empty means none
	}{
		{
			name:   "steady",
			older:  []interaction{steady},
			recent: []interaction{steady},
		},
		{
			name:   "dominant time of day changes",
			older:  []interaction{steady},
			recent: []interaction{evening},
			want:   "time_of_day",
		},
		{
			name:   "recent window still mostly morning",
			older:  []interaction{steady},
			recent: mostlyMorning,
		},
		{
			// medium mean 125.2s, short 163s: 30.2% longer.
			name:   "duration just over 30 percent",
			older:  []interaction{with(func(it *interaction) { it.duration = 100 })},
			recent: []interaction{with(func(it *interaction) { it.duration = 163 })},
			want:   "interaction_duration",
		},
		{
			// medium mean 123.6s, short 159s: 28.6% longer.
			name:   "duration just under 30 percent",
			older:  []interaction{with(func(it *interaction) { it.duration = 100 })},
			recent: []interaction{with(func(it *interaction) { it.duration = 159 })},
		},
		{
			name:   "duration drops",
			older:  []interaction{with(func(it *interaction) { it.duration = 100 })},
			recent: []interaction{with(func(it *interaction) { it.duration = 20 })},
			want:   "interaction_duration",
		},
		{
			// short 0.85 against medium 0.64.
			name:   "engagement just over 0.2",
			older:  []interaction{steady},
			recent: []interaction{with(func(it *interaction) { it.engagement = 0.85 })},
			want:   "engagement",
		},
		{
			// short 0.83 against medium 0.632.
			name:   "engagement just under 0.2",
			older:  []interaction{steady},
			recent: []interaction{with(func(it *interaction) { it.engagement = 0.83 })},
		},
	}

	b := NewBehavioral(DefaultBehavioralOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			short, medium := shiftWindows(tt.older, tt.recent)
			shifts := b.detectShifts(short, medium)
			if tt.want == "" {
				assert.Empty(t, shifts)
				return
			}
			require.Len(t, shifts, 1)
			assert.Equal(t, tt.want, shifts[0].PatternType)
			assert.GreaterOrEqual(t, shifts[0].Confidence, 0.6)
			assert.LessOrEqual(t, shifts[0].Confidence, 0.9)
		})
	}
}

func TestBehavioralReportsTimeShift(t *testing.T) {
	b := NewBehavioral(DefaultBehavioralOptions())
	for i := 0; i < 30; i++ {
		b.Process(interactionAt("chat", 0.5, 60, model.NewContext(testNow)))
	}
	evening := testNow.Add(10 * time.Hour)
	var u *model.LearningUpdate
	for i := 0; i < 20; i++ {
		u = b.Process(interactionAt("chat", 0.5, 60, model.NewContext(evening)))
	}
	require.NotNil(t, u)
	pp := u.Payload.(*model.PatternPayload)

	require.Len(t, pp.Shifts, 1)
	assert.Equal(t, "time_of_day", pp.Shifts[0].PatternType)
	assert.Equal(t, "morning", pp.Shifts[0].From)
	assert.Equal(t, "evening", pp.Shifts[0].To)
	assert.InDelta(t, 0.7, pp.Shifts[0].Confidence, 1e-9)
}

func TestBehavioralWarm(t *testing.T) {
	b := NewBehavioral(DefaultBehavioralOptions())
	history := make([]model.InteractionEvent, 25)
	for i := range history {
		history[i] = *interactionAt("chat", 0.5, 60, nil)
	}
	b.Warm(history)
	short, medium := b.Buffered("u1")
	assert.Equal(t, 20, short)
	assert.Equal(t, 25, medium)
}

func TestProcessInteractionStampsEvent(t *testing.T) {
	p := newTestProcessor()
	ev := interactionAt("chat", 0.5, 10, nil)
	u, err := p.ProcessInteraction(ev)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NotEmpty(t, ev.ID)
	require.NotNil(t, ev.Context)
	assert.Equal(t, "morning", ev.Context.TimeOfDay)

	_, err = p.ProcessInteraction(&model.InteractionEvent{})
	assert.ErrorIs(t, err, ErrMissingUser)
}

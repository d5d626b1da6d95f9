package learning

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
	"github.com/rcliao/adaptive-memory/internal/similarity"
	"github.com/rcliao/adaptive-memory/internal/store"
)

// Outcomes reported to the Recorder for each update.
const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// UpdaterOptions tunes how updates change stored knowledge.
type UpdaterOptions struct {
	BaseRate         float64 // learning rate that applies an update at full strength
	MatchThreshold   float64 // Jaccard similarity above which a preference is touched
	DefaultBoost     float64
	DefaultReduction float64
	CorrectionWeaken float64 // strength share removed from preferences a correction contradicts
}

// DefaultUpdaterOptions returns the standard updater settings.
func DefaultUpdaterOptions() UpdaterOptions {
	return UpdaterOptions{
		BaseRate:         0.3,
		MatchThreshold:   0.5,
		DefaultBoost:     0.1,
		DefaultReduction: 0.2,
		CorrectionWeaken: 0.3,
	}
}

// Updater applies integrated learning updates to memories, preferences and rules.
type Updater struct {
	memories *memory.Store
	graph    *preference.Graph
	rules    store.RuleRepository
	opts     UpdaterOptions
	match    similarity.Strategy
	log      logger.Logger
	rec      Recorder
}

// NewUpdater creates an updater. rec may be nil.
func NewUpdater(memories *memory.Store, graph *preference.Graph, rules store.RuleRepository, opts UpdaterOptions, log logger.Logger, rec Recorder) *Updater {
	def := DefaultUpdaterOptions()
	if opts.BaseRate <= 0 {
		opts.BaseRate = def.BaseRate
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = def.MatchThreshold
	}
	if opts.DefaultBoost <= 0 {
		opts.DefaultBoost = def.DefaultBoost
	}
	if opts.DefaultReduction <= 0 {
		opts.DefaultReduction = def.DefaultReduction
	}
	if opts.CorrectionWeaken <= 0 {
		opts.CorrectionWeaken = def.CorrectionWeaken
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Updater{
		memories: memories,
		graph:    graph,
		rules:    rules,
		opts:     opts,
		match:    similarity.Jaccard{},
		log:      logger.OrNop(log).With("component", "updater"),
		rec:      rec,
	}
}

// Outcome is the result of applying one update.
type Outcome struct {
	Update *model.LearningUpdate
	Err    error
}

// ApplyUpdates applies updates in descending priority order and returns
// the IDs of those applied. A failing update is logged and skipped; the
// rest of the batch still runs.
func (up *Updater) ApplyUpdates(ctx context.Context, updates []*model.LearningUpdate) []string {
	outcomes := up.ApplyBatch(ctx, updates)
	applied := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			applied = append(applied, o.Update.ID)
		}
	}
	return applied
}

// ApplyBatch is ApplyUpdates with the per-update outcome, in apply order.
func (up *Updater) ApplyBatch(ctx context.Context, updates []*model.LearningUpdate) []Outcome {
	ordered := make([]*model.LearningUpdate, 0, len(updates))
	for _, u := range updates {
		if u != nil {
			ordered = append(ordered, u)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	outcomes := make([]Outcome, 0, len(ordered))
	for _, u := range ordered {
		err := up.Apply(ctx, u)
		if err != nil {
			up.log.Warn("apply update failed", "update_id", u.ID, "type", u.Type(), "error", err)
		}
		outcomes = append(outcomes, Outcome{Update: u, Err: err})
	}
	return outcomes
}

// Apply applies a single update.
func (up *Updater) Apply(ctx context.Context, u *model.LearningUpdate) error {
	err := up.apply(ctx, u)
	outcome := OutcomeApplied
	if err != nil {
		outcome = OutcomeFailed
	}
	up.rec.RecordUpdate(string(u.Type()), outcome)
	return err
}

func (up *Updater) apply(ctx context.Context, u *model.LearningUpdate) error {
	if u.Empty() {
		return ErrEmptyPayload
	}
	switch p := u.Payload.(type) {
	case *model.CorrectionPayload:
		return up.applyCorrection(ctx, u, p)
	case *model.RefinementPayload:
		return up.applyRefinement(ctx, u, p)
	case *model.RulePayload:
		return up.applyRule(ctx, u, p)
	case *model.PatternPayload:
		return up.applyPattern(ctx, u, p)
	case *model.KnowledgePayload:
		return up.applyKnowledge(ctx, u, p)
	}
	return fmt.Errorf("%w: %q", ErrUnknownUpdate, u.Type())
}

// throttle maps the scheduler's learning rate onto [0,1]. An update the
// scheduler never saw applies at full strength.
func (up *Updater) throttle(u *model.LearningUpdate) float64 {
	if u.LearningRate <= 0 {
		return 1
	}
	return model.Clamp01(u.LearningRate / up.opts.BaseRate)
}

func (up *Updater) applyCorrection(ctx context.Context, u *model.LearningUpdate, p *model.CorrectionPayload) error {
	_, err := up.memories.Store(ctx, memory.StoreParams{
		UserID:     u.UserID,
		Content:    fmt.Sprintf("When %s: Instead do %s", p.IncorrectAction, p.CorrectAction),
		Kind:       model.KindProcedural,
		Importance: 0.9,
		Tags:       []string{"correction", "behavior"},
		Meta: map[string]string{
			"update_id":        u.ID,
			"incorrect_action": p.IncorrectAction,
			"correct_action":   p.CorrectAction,
		},
	})
	if err != nil {
		return fmt.Errorf("store correction: %w", err)
	}

	if p.Rule != nil {
		strength := p.Rule.Strength
		if strength <= 0 {
			strength = 1
		}
		if err := up.upsertRule(ctx, &model.Rule{
			UserID:    u.UserID,
			Condition: p.Rule.Condition,
			Action:    p.Rule.Action,
			Strength:  model.Clamp01(strength),
			Source:    model.RuleLearned,
		}); err != nil {
			return err
		}
	}

	if strings.TrimSpace(p.IncorrectAction) == "" {
		return nil
	}
	matches, err := up.graph.Matching(ctx, u.UserID, p.IncorrectAction, up.match, up.opts.MatchThreshold)
	if err != nil {
		return fmt.Errorf("match preferences: %w", err)
	}
	factor := 1 - up.opts.CorrectionWeaken*up.throttle(u)
	for _, m := range matches {
		if err := up.graph.Weaken(ctx, m.Preference.ID, factor); err != nil {
			return fmt.Errorf("weaken preference %s: %w", m.Preference.ID, err)
		}
		if err := up.graph.AddException(ctx, m.Preference.ID, p.Context, p.CorrectAction); err != nil {
			return fmt.Errorf("add exception %s: %w", m.Preference.ID, err)
		}
	}
	return nil
}

func (up *Updater) applyRefinement(ctx context.Context, u *model.LearningUpdate, p *model.RefinementPayload) error {
	throttle := up.throttle(u)

	var delta float64
	switch p.Reinforcement {
	case model.ReinforcePositive:
		delta = p.StrengthBoost
		if delta <= 0 {
			delta = up.opts.DefaultBoost
		}
	case model.ReinforceNegative:
		delta = p.StrengthReduction
		if delta <= 0 {
			delta = up.opts.DefaultReduction
		}
		delta = -delta
	}

	if delta != 0 {
		matches, err := up.graph.Matching(ctx, u.UserID, p.Text(), up.match, up.opts.MatchThreshold)
		if err != nil {
			return fmt.Errorf("match preferences: %w", err)
		}
		category := p.Category
		if category == "" {
			category = preference.DefaultCategory
		}
		for _, m := range matches {
			if m.Preference.Category != category {
				continue
			}
			if err := up.graph.Adjust(ctx, m.Preference.ID, delta*throttle); err != nil {
				return fmt.Errorf("adjust preference %s: %w", m.Preference.ID, err)
			}
		}
		return nil
	}

	text := p.Preference
	if strings.TrimSpace(text) == "" {
		text = p.Behavior
	}
	strength := p.Strength
	if strength <= 0 {
		strength = u.Confidence
	}
	pref, _, err := up.graph.AddPreference(ctx, preference.AddParams{
		UserID:     u.UserID,
		Category:   p.Category,
		Text:       text,
		Strength:   strength,
		Confidence: u.Confidence,
		Source:     u.Source.PreferenceSource(),
	})
	if err != nil {
		return fmt.Errorf("add preference: %w", err)
	}
	for _, e := range p.Exceptions {
		if err := up.graph.AddException(ctx, pref.ID, e.Context, e.Behavior); err != nil {
			return fmt.Errorf("add exception %s: %w", pref.ID, err)
		}
	}
	return nil
}

func (up *Updater) applyRule(ctx context.Context, u *model.LearningUpdate, p *model.RulePayload) error {
	strength := p.Strength
	if strength <= 0 {
		strength = 1
	}
	if err := up.upsertRule(ctx, &model.Rule{
		UserID:     u.UserID,
		Condition:  p.Condition,
		Action:     p.Action,
		Strength:   model.Clamp01(strength),
		Exceptions: p.RuleExceptions,
		Source:     model.RuleExplicit,
	}); err != nil {
		return err
	}

	_, _, err := up.graph.AddPreference(ctx, preference.AddParams{
		UserID:     u.UserID,
		Category:   "rules",
		Text:       fmt.Sprintf("%s -> %s", p.Condition, p.Action),
		Strength:   1,
		Confidence: 0.99,
		Source:     model.PreferenceExplicit,
	})
	if err != nil {
		return fmt.Errorf("add rule preference: %w", err)
	}
	return nil
}

// upsertRule overwrites the user's rule with the same condition, if any.
func (up *Updater) upsertRule(ctx context.Context, r *model.Rule) error {
	existing, err := up.rules.ListRules(ctx, r.UserID)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	cond := strings.TrimSpace(r.Condition)
	for _, e := range existing {
		if strings.EqualFold(strings.TrimSpace(e.Condition), cond) {
			r.ID = e.ID
			r.CreatedAt = e.CreatedAt
			break
		}
	}
	if err := up.rules.SaveRule(ctx, r); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (up *Updater) applyPattern(ctx context.Context, u *model.LearningUpdate, p *model.PatternPayload) error {
	for _, s := range p.Shifts {
		_, err := up.memories.Store(ctx, memory.StoreParams{
			UserID:     u.UserID,
			Content:    fmt.Sprintf("Pattern shift: %s changed from %s to %s", s.PatternType, s.From, s.To),
			Kind:       model.KindSemantic,
			Importance: s.Confidence,
			Tags:       []string{"pattern", "behavioral"},
			Meta: map[string]string{
				"update_id":    u.ID,
				"pattern_type": s.PatternType,
				"from":         s.From,
				"to":           s.To,
				"confidence":   strconv.FormatFloat(s.Confidence, 'f', 2, 64),
			},
		})
		if err != nil {
			return fmt.Errorf("store pattern shift: %w", err)
		}
	}
	for _, pr := range p.Preferences {
		_, _, err := up.graph.AddPreference(ctx, preference.AddParams{
			UserID:     u.UserID,
			Category:   pr.Category,
			Text:       pr.Preference,
			Strength:   pr.Confidence,
			Confidence: pr.Confidence,
			Source:     model.PreferenceInferred,
		})
		if err != nil {
			return fmt.Errorf("add inferred preference: %w", err)
		}
	}
	return nil
}

func (up *Updater) applyKnowledge(ctx context.Context, u *model.LearningUpdate, p *model.KnowledgePayload) error {
	kind := p.Kind
	if kind == "" {
		kind = model.KindSemantic
	}
	meta := make(map[string]string, len(p.Meta)+1)
	for k, v := range p.Meta {
		meta[k] = v
	}
	meta["update_id"] = u.ID
	_, err := up.memories.Store(ctx, memory.StoreParams{
		UserID:     u.UserID,
		Content:    p.Content,
		Kind:       kind,
		Importance: u.Confidence,
		Tags:       p.Tags,
		Meta:       meta,
	})
	if err != nil {
		return fmt.Errorf("store knowledge: %w", err)
	}
	return nil
}

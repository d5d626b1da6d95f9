// Package preference maintains the per-user preference graph: weighted,
// confidence-scored beliefs that merge on overlap, weaken on contradiction
// and carry context exceptions.
package preference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/similarity"
	"github.com/rcliao/adaptive-memory/internal/store"
)

// DefaultCategory holds preferences stated without a category.
const DefaultCategory = "general"

// ErrEmptyPreference is returned when a preference has no text.
var ErrEmptyPreference = errors.New("preference: empty text")

// negations mark a preference as something the user wants avoided.
var negations = map[string]bool{
	"not":     true,
	"never":   true,
	"avoid":   true,
	"don't":   true,
	"without": true,
}

// Options tunes merging and relevance scoring.
type Options struct {
	MergeOverlap   float64 // directional overlap that merges a new preference into an old one
	MergeGain      float64 // share of the new strength added on merge
	CategoryWeight float64
	TextWeight     float64
	MinRelevance   float64
	MaxRelevant    int
	Strategy       similarity.Strategy
}

// DefaultOptions returns the standard graph settings.
func DefaultOptions() Options {
	return Options{
		MergeOverlap:   0.6,
		MergeGain:      0.2,
		CategoryWeight: 0.3,
		TextWeight:     0.5,
		MinRelevance:   0.1,
		MaxRelevant:    10,
		Strategy:       similarity.Overlap{},
	}
}

// Graph is the preference graph over a PreferenceRepository.
type Graph struct {
	repo store.PreferenceRepository
	opts Options
	log  logger.Logger
	now  func() time.Time
}

// New creates a graph. Zero option fields take their defaults.
func New(repo store.PreferenceRepository, opts Options, log logger.Logger) *Graph {
	def := DefaultOptions()
	if opts.MergeOverlap <= 0 {
		opts.MergeOverlap = def.MergeOverlap
	}
	if opts.MergeGain <= 0 {
		opts.MergeGain = def.MergeGain
	}
	if opts.CategoryWeight <= 0 {
		opts.CategoryWeight = def.CategoryWeight
	}
	if opts.TextWeight <= 0 {
		opts.TextWeight = def.TextWeight
	}
	if opts.MinRelevance <= 0 {
		opts.MinRelevance = def.MinRelevance
	}
	if opts.MaxRelevant <= 0 {
		opts.MaxRelevant = def.MaxRelevant
	}
	if opts.Strategy == nil {
		opts.Strategy = def.Strategy
	}
	return &Graph{
		repo: repo,
		opts: opts,
		log:  logger.OrNop(log).With("component", "preference"),
		now:  time.Now,
	}
}

// SetClock overrides the time source.
func (g *Graph) SetClock(now func() time.Time) {
	g.now = now
}

// AddParams describes a preference to add or merge.
type AddParams struct {
	UserID     string
	Category   string
	Text       string
	Strength   float64
	Confidence float64
	Source     model.PreferenceSource
	Examples   []string
}

// AddPreference merges p into an overlapping preference of the same user
// and category, or creates a new node. It returns the stored preference
// and whether a merge happened.
func (g *Graph) AddPreference(ctx context.Context, p AddParams) (*model.Preference, bool, error) {
	if strings.TrimSpace(p.Text) == "" {
		return nil, false, ErrEmptyPreference
	}
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	if p.Source == "" {
		p.Source = model.PreferenceLearned
	}
	strength := model.Clamp01(p.Strength)
	confidence := model.Clamp01(p.Confidence)

	existing, err := g.findSimilar(ctx, p.UserID, p.Category, p.Text)
	if err != nil {
		return nil, false, err
	}
	now := g.now().UTC()

	if existing != nil {
		existing.Strength = model.Clamp01(existing.Strength + strength*g.opts.MergeGain)
		existing.Confidence = model.Clamp01((existing.Confidence + confidence) / 2)
		existing.Examples = append(existing.Examples, p.Examples...)
		existing.UpdatedAt = now
		if err := g.repo.SavePreference(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("merge preference: %w", err)
		}
		g.log.DebugContext(ctx, "preference merged", "id", existing.ID, "strength", existing.Strength)
		return existing, true, nil
	}

	pref := &model.Preference{
		UserID:     p.UserID,
		Category:   p.Category,
		Text:       strings.TrimSpace(p.Text),
		Strength:   strength,
		Confidence: confidence,
		Examples:   append([]string(nil), p.Examples...),
		Source:     p.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := g.repo.SavePreference(ctx, pref); err != nil {
		return nil, false, fmt.Errorf("save preference: %w", err)
	}
	return pref, false, nil
}

func (g *Graph) findSimilar(ctx context.Context, userID, category, text string) (*model.Preference, error) {
	prefs, err := g.repo.ListPreferences(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	words := similarity.Terms(text)
	for i := range prefs {
		if g.opts.Strategy.Score(words, similarity.Terms(prefs[i].Text)) >= g.opts.MergeOverlap {
			return &prefs[i], nil
		}
	}
	return nil, nil
}

// Preferences lists a user's preferences, strongest first. An empty
// category means all categories.
func (g *Graph) Preferences(ctx context.Context, userID, category string, minStrength float64) ([]model.Preference, error) {
	prefs, err := g.repo.ListPreferences(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	out := prefs[:0]
	for _, p := range prefs {
		if p.Strength >= minStrength {
			out = append(out, p)
		}
	}
	return out, nil
}

// Scored is a preference with its relevance to a situation.
type Scored struct {
	Preference model.Preference `json:"preference"`
	Score      float64          `json:"score"`
}

// QueryRelevant ranks a user's preferences against a situation described
// as key/value pairs. Only the values are matched.
func (g *Graph) QueryRelevant(ctx context.Context, userID string, situation map[string]string) ([]Scored, error) {
	prefs, err := g.repo.ListPreferences(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	present := termSet(model.JoinValues(situation))

	var scored []Scored
	for _, p := range prefs {
		relevance := 0.0
		if cat := similarity.Terms(p.Category); len(cat) > 0 && containsAll(present, cat) {
			relevance += g.opts.CategoryWeight
		}
		words := similarity.Terms(p.Text)
		if len(words) > 0 {
			matched := 0
			for _, w := range words {
				if present[w] {
					matched++
				}
			}
			relevance += g.opts.TextWeight * float64(matched) / float64(len(words))
		}
		final := relevance * p.Strength * p.Confidence
		if final > g.opts.MinRelevance {
			scored = append(scored, Scored{Preference: p, Score: final})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > g.opts.MaxRelevant {
		scored = scored[:g.opts.MaxRelevant]
	}
	return scored, nil
}

// Violation is a predicted conflict between an action and a negative preference.
type Violation struct {
	PreferenceID string  `json:"preference_id"`
	Preference   string  `json:"preference"`
	Term         string  `json:"term"`
	Confidence   float64 `json:"confidence"`
	Type         string  `json:"type"`
}

// PredictDiscomfort flags negative preferences ("never", "avoid", ...)
// whose other terms appear in the proposed action.
func (g *Graph) PredictDiscomfort(ctx context.Context, userID string, action map[string]string) ([]Violation, error) {
	prefs, err := g.repo.ListPreferences(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	present := termSet(model.JoinValues(action))

	var out []Violation
	for _, p := range prefs {
		words := similarity.Terms(p.Text)
		if !isNegative(words) {
			continue
		}
		for _, w := range words {
			if negations[w] || !present[w] {
				continue
			}
			out = append(out, Violation{
				PreferenceID: p.ID,
				Preference:   p.Text,
				Term:         w,
				Confidence:   p.Confidence * p.Strength,
				Type:         "potential_violation",
			})
			break
		}
	}
	return out, nil
}

// Weaken multiplies a preference's strength by factor.
func (g *Graph) Weaken(ctx context.Context, id string, factor float64) error {
	p, err := g.repo.GetPreference(ctx, id)
	if err != nil {
		return err
	}
	return g.repo.UpdateStrength(ctx, id, model.Clamp01(p.Strength*factor))
}

// Adjust adds delta to a preference's strength, clamped to [0,1].
func (g *Graph) Adjust(ctx context.Context, id string, delta float64) error {
	p, err := g.repo.GetPreference(ctx, id)
	if err != nil {
		return err
	}
	return g.repo.UpdateStrength(ctx, id, model.Clamp01(p.Strength+delta))
}

// AddException records a context in which the preference gives way to
// correctBehavior.
func (g *Graph) AddException(ctx context.Context, id string, situation map[string]string, correctBehavior string) error {
	p, err := g.repo.GetPreference(ctx, id)
	if err != nil {
		return err
	}
	now := g.now().UTC()
	var c map[string]string
	if len(situation) > 0 {
		c = make(map[string]string, len(situation))
		for k, v := range situation {
			c[k] = v
		}
	}
	p.Exceptions = append(p.Exceptions, model.Exception{
		Context:         c,
		CorrectBehavior: correctBehavior,
		AddedAt:         now,
	})
	p.UpdatedAt = now
	return g.repo.SavePreference(ctx, p)
}

// Matching returns a user's preferences whose text resembles text under
// strategy, with their scores, strongest match first.
func (g *Graph) Matching(ctx context.Context, userID, text string, strategy similarity.Strategy, min float64) ([]Scored, error) {
	prefs, err := g.repo.ListPreferences(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	words := similarity.Terms(text)
	var out []Scored
	for _, p := range prefs {
		if s := strategy.Score(words, similarity.Terms(p.Text)); s > min {
			out = append(out, Scored{Preference: p, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func isNegative(words []string) bool {
	for _, w := range words {
		if negations[w] {
			return true
		}
	}
	return false
}

func termSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range similarity.Terms(s) {
		set[t] = true
	}
	return set
}

func containsAll(set map[string]bool, terms []string) bool {
	for _, t := range terms {
		if !set[t] {
			return false
		}
	}
	return true
}

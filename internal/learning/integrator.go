// Package learning integrates, throttles and applies learning updates:
// conflict resolution across a batch, forgetting prevention for important
// memories, and the knowledge updater that writes to the repositories.
package learning

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rcliao/adaptive-memory/internal/model"
)

var (
	// ErrEmptyPayload is returned when applying an update with nothing to apply.
	ErrEmptyPayload = errors.New("learning: empty payload")
	// ErrUnknownUpdate is returned for an update type the updater cannot apply.
	ErrUnknownUpdate = errors.New("learning: unknown update type")
)

// ConflictKind names how two updates in a batch collided.
type ConflictKind string

const (
	ConflictExplicitImplicit ConflictKind = "explicit_vs_implicit"
	ConflictRecentHistorical ConflictKind = "recent_vs_historical"
	ConflictSpecificGeneral  ConflictKind = "specific_vs_general"
)

// Resolution is what the integrator did about a conflict.
type Resolution string

const (
	ResolutionDropped     Resolution = "dropped"
	ResolutionDecayed     Resolution = "decayed"
	ResolutionExceptioned Resolution = "exception_added"
)

// Conflict records one resolved collision. Winner is the update left
// intact; Loser was dropped, decayed or given an exception.
type Conflict struct {
	Kind       ConflictKind `json:"kind"`
	Winner     string       `json:"winner"`
	Loser      string       `json:"loser"`
	Resolution Resolution   `json:"resolution"`
}

// IntegratorOptions tunes conflict detection and resolution.
type IntegratorOptions struct {
	RecentWindow     time.Duration
	ConfidenceGap    float64
	HistoricalDecay  float64
	SpecificityRatio float64
}

// DefaultIntegratorOptions returns the standard integration settings.
func DefaultIntegratorOptions() IntegratorOptions {
	return IntegratorOptions{
		RecentWindow:     time.Hour,
		ConfidenceGap:    0.2,
		HistoricalDecay:  0.7,
		SpecificityRatio: 1.5,
	}
}

// Integrator resolves conflicts within a batch of updates. It never
// touches storage and never mutates its input.
type Integrator struct {
	opts IntegratorOptions
}

// NewIntegrator creates an integrator. Zero option fields take their defaults.
func NewIntegrator(opts IntegratorOptions) *Integrator {
	def := DefaultIntegratorOptions()
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = def.RecentWindow
	}
	if opts.ConfidenceGap <= 0 {
		opts.ConfidenceGap = def.ConfidenceGap
	}
	if opts.HistoricalDecay <= 0 {
		opts.HistoricalDecay = def.HistoricalDecay
	}
	if opts.SpecificityRatio <= 0 {
		opts.SpecificityRatio = def.SpecificityRatio
	}
	return &Integrator{opts: opts}
}

// Result is an integrated batch.
type Result struct {
	Updates   []*model.LearningUpdate `json:"updates"`
	Conflicts []Conflict              `json:"conflicts,omitempty"`
}

// Integrate resolves pairwise conflicts, clamps confidences, drops empty
// updates and orders the batch by priority, confidence and recency.
func (in *Integrator) Integrate(updates []*model.LearningUpdate) Result {
	work := make([]*model.LearningUpdate, 0, len(updates))
	for _, u := range updates {
		if u != nil {
			work = append(work, u.Clone())
		}
	}

	dropped := make([]bool, len(work))
	var conflicts []Conflict
	for i := 0; i < len(work); i++ {
		for j := i + 1; j < len(work) && !dropped[i]; j++ {
			if dropped[j] {
				continue
			}
			a, b := work[i], work[j]
			if a.Empty() || b.Empty() || a.UserID != b.UserID || !sharesKind(a, b) {
				continue
			}
			kind, ok := in.detect(a, b)
			if !ok {
				continue
			}
			conflicts = append(conflicts, in.resolve(kind, i, j, work, dropped))
		}
	}

	out := make([]*model.LearningUpdate, 0, len(work))
	for i, u := range work {
		if dropped[i] || u.Empty() {
			continue
		}
		u.Confidence = model.Clamp01(u.Confidence)
		out = append(out, u)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return Result{Updates: out, Conflicts: conflicts}
}

func (in *Integrator) detect(a, b *model.LearningUpdate) (ConflictKind, bool) {
	if explicitImplicit(a, b) || explicitImplicit(b, a) {
		return ConflictExplicitImplicit, true
	}
	if a.Type() == b.Type() && absDuration(a.CreatedAt.Sub(b.CreatedAt)) <= in.opts.RecentWindow {
		return ConflictRecentHistorical, true
	}
	if in.moreSpecific(a, b) || in.moreSpecific(b, a) {
		return ConflictSpecificGeneral, true
	}
	return "", false
}

func (in *Integrator) resolve(kind ConflictKind, i, j int, work []*model.LearningUpdate, dropped []bool) Conflict {
	a, b := work[i], work[j]
	c := Conflict{Kind: kind}

	switch kind {
	case ConflictExplicitImplicit:
		loser := j
		if a.Source == model.SourceImplicit {
			loser = i
		}
		dropped[loser] = true
		c.Winner, c.Loser = work[i+j-loser].ID, work[loser].ID
		c.Resolution = ResolutionDropped

	case ConflictRecentHistorical:
		if math.Abs(a.Confidence-b.Confidence) > in.opts.ConfidenceGap {
			loser := j
			if a.Confidence < b.Confidence {
				loser = i
			}
			dropped[loser] = true
			c.Winner, c.Loser = work[i+j-loser].ID, work[loser].ID
			c.Resolution = ResolutionDropped
			break
		}
		older := i
		if b.CreatedAt.Before(a.CreatedAt) {
			older = j
		}
		work[older].Confidence *= in.opts.HistoricalDecay
		c.Winner, c.Loser = work[i+j-older].ID, work[older].ID
		c.Resolution = ResolutionDecayed

	case ConflictSpecificGeneral:
		specific, general := a, b
		if in.moreSpecific(b, a) {
			specific, general = b, a
		}
		base := general.Payload.Base()
		base.Exceptions = append(base.Exceptions, model.UpdateException{
			UpdateID: specific.ID,
			Context:  copyMap(specific.Context()),
			Behavior: specific.Payload.Text(),
		})
		c.Winner, c.Loser = specific.ID, general.ID
		c.Resolution = ResolutionExceptioned
	}
	return c
}

func explicitImplicit(a, b *model.LearningUpdate) bool {
	return a.Source == model.SourceExplicit && b.Source == model.SourceImplicit
}

func (in *Integrator) moreSpecific(a, b *model.LearningUpdate) bool {
	return float64(len(a.Context())) > float64(len(b.Context()))*in.opts.SpecificityRatio
}

func sharesKind(a, b *model.LearningUpdate) bool {
	for _, k := range a.AffectedKinds {
		if b.Affects(k) {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

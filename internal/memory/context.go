package memory

import (
	"context"
	"math"
	"sort"

	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
)

// PreferenceSource supplies preferences relevant to a situation.
type PreferenceSource interface {
	QueryRelevant(ctx context.Context, userID string, situation map[string]string) ([]preference.Scored, error)
}

// ContextParams holds parameters for context assembly.
type ContextParams struct {
	UserID    string
	Query     string
	Kinds     []model.Kind
	Situation map[string]string // matched against preferences; the query is added under "query"
	Budget    int               // max tokens in output (rough: 1 token ≈ 4 chars)
}

// ContextMemory is a scored memory for context output.
type ContextMemory struct {
	ID      string     `json:"id"`
	Kind    model.Kind `json:"kind"`
	Content string     `json:"content"`
	Score   float64    `json:"score"`
	Excerpt bool       `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context response.
type ContextResult struct {
	Budget      int                 `json:"budget"`
	Used        int                 `json:"used"`
	Memories    []ContextMemory     `json:"memories"`
	Preferences []preference.Scored `json:"preferences"`
}

// Assemble packs the most useful memories and relevant preferences into a
// token budget. Preference text is charged against the budget first.
func (s *Store) Assemble(ctx context.Context, prefs PreferenceSource, p ContextParams) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = 4000
	}
	charBudget := budget * 4
	result := &ContextResult{Budget: budget, Memories: []ContextMemory{}, Preferences: []preference.Scored{}}
	used := 0

	if prefs != nil {
		situation := make(map[string]string, len(p.Situation)+1)
		for k, v := range p.Situation {
			situation[k] = v
		}
		if p.Query != "" {
			situation["query"] = p.Query
		}
		scored, err := prefs.QueryRelevant(ctx, p.UserID, situation)
		if err != nil {
			return nil, err
		}
		for _, sp := range scored {
			n := len(sp.Preference.Text)
			if used+n > charBudget {
				break
			}
			result.Preferences = append(result.Preferences, sp)
			used += n
		}
	}

	results, err := s.Retrieve(ctx, RetrieveParams{
		UserID:        p.UserID,
		Query:         p.Query,
		Kinds:         p.Kinds,
		TopK:          50,
		RecencyWeight: 0.3,
	})
	if err != nil {
		return nil, err
	}

	// Blend retrieval score with access frequency on a log scale.
	now := s.now()
	type scored struct {
		memory model.Memory
		score  float64
	}
	candidates := make([]scored, 0, len(results))
	for _, r := range results {
		m := r.Memory
		accessFreq := 0.0
		if m.AccessCount > 0 {
			accessFreq = math.Min(1, math.Log(float64(m.AccessCount)+1)/math.Log(100))
		}
		age := now.Sub(m.CreatedAt).Hours() / 24
		recency := math.Exp(-0.1 * age)
		score := r.Score*0.6 + m.Importance*0.2 + accessFreq*0.1 + recency*0.1
		candidates = append(candidates, scored{memory: m, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	for _, c := range candidates {
		contentLen := len(c.memory.Content)
		cm := ContextMemory{
			ID:      c.memory.ID,
			Kind:    c.memory.Kind,
			Content: c.memory.Content,
			Score:   math.Round(c.score*100) / 100,
		}
		if used+contentLen <= charBudget {
			result.Memories = append(result.Memories, cm)
			used += contentLen
			continue
		}
		if remaining := charBudget - used; remaining >= 100 {
			cm.Content = excerpt(c.memory.Content, p.Query, remaining-3) + "..."
			cm.Excerpt = true
			result.Memories = append(result.Memories, cm)
			used += remaining
		}
		break
	}

	result.Used = used / 4
	return result, nil
}

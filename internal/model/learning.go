package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UpdateType names the kind of knowledge change a LearningUpdate carries.
type UpdateType string

const (
	UpdateBehaviorCorrection   UpdateType = "behavior_correction"
	UpdatePreferenceRefinement UpdateType = "preference_refinement"
	UpdateExplicitRule         UpdateType = "explicit_rule"
	UpdateBehavioralPattern    UpdateType = "behavioral_pattern"
	UpdateKnowledge            UpdateType = "knowledge_update"
)

// Source is where a learning update came from.
type Source string

const (
	SourceExplicit   Source = "explicit"
	SourceImplicit   Source = "implicit"
	SourceBehavioral Source = "behavioral"
)

// PreferenceSource maps an update source onto the preference it produces.
func (s Source) PreferenceSource() PreferenceSource {
	switch s {
	case SourceExplicit:
		return PreferenceExplicit
	case SourceBehavioral:
		return PreferenceInferred
	default:
		return PreferenceLearned
	}
}

// Priority orders updates; higher values apply first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return PriorityLow, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// UpdateException marks a narrower update that overrides a general one in its context.
type UpdateException struct {
	UpdateID string            `json:"update_id"`
	Context  map[string]string `json:"context,omitempty"`
	Behavior string            `json:"behavior"`
}

// PayloadBase carries the fields every payload shares.
type PayloadBase struct {
	Context    map[string]string `json:"context,omitempty"`
	Exceptions []UpdateException `json:"exceptions,omitempty"`
}

// Base returns the shared payload fields.
func (b *PayloadBase) Base() *PayloadBase { return b }

func (b PayloadBase) cloneBase() PayloadBase {
	out := PayloadBase{Context: cloneMap(b.Context)}
	if len(b.Exceptions) > 0 {
		out.Exceptions = make([]UpdateException, len(b.Exceptions))
		for i, e := range b.Exceptions {
			e.Context = cloneMap(e.Context)
			out.Exceptions[i] = e
		}
	}
	return out
}

// Payload is the closed set of update bodies. Each concrete type maps to
// exactly one UpdateType.
type Payload interface {
	UpdateType() UpdateType
	// Empty reports a payload with nothing to apply.
	Empty() bool
	// Text is the payload's content for token-overlap matching.
	Text() string
	Base() *PayloadBase
	clone() Payload
}

// RuleSpec is a rule proposed alongside a correction.
type RuleSpec struct {
	Condition string  `json:"condition"`
	Action    string  `json:"action"`
	Strength  float64 `json:"strength"`
}

// CorrectionPayload records a behavior the user corrected.
type CorrectionPayload struct {
	PayloadBase
	IncorrectAction string        `json:"incorrect_action"`
	CorrectAction   string        `json:"correct_action"`
	Tone            EmotionalTone `json:"emotional_tone,omitempty"`
	Rule            *RuleSpec     `json:"rule,omitempty"`
}

func (p *CorrectionPayload) UpdateType() UpdateType { return UpdateBehaviorCorrection }

func (p *CorrectionPayload) Empty() bool {
	return p == nil || (strings.TrimSpace(p.IncorrectAction) == "" && strings.TrimSpace(p.CorrectAction) == "")
}

func (p *CorrectionPayload) Text() string {
	return strings.TrimSpace(p.IncorrectAction + " " + p.CorrectAction)
}

func (p *CorrectionPayload) clone() Payload {
	c := *p
	c.PayloadBase = p.cloneBase()
	if p.Rule != nil {
		r := *p.Rule
		c.Rule = &r
	}
	return &c
}

// Reinforcement is the direction of a refinement.
type Reinforcement string

const (
	ReinforceNone     Reinforcement = ""
	ReinforcePositive Reinforcement = "positive"
	ReinforceNegative Reinforcement = "negative"
)

// ContentFeatures summarizes suggestion text for pattern analysis.
type ContentFeatures struct {
	Length     int      `json:"length"`
	WordCount  int      `json:"word_count"`
	HasNumbers bool     `json:"has_numbers"`
	HasTime    bool     `json:"has_time"`
	HasDate    bool     `json:"has_date"`
	Formality  float64  `json:"formality"`
	KeyTerms   []string `json:"key_terms,omitempty"`
}

// RefinementPayload adjusts or creates a preference.
type RefinementPayload struct {
	PayloadBase
	Category          string           `json:"category,omitempty"`
	Preference        string           `json:"preference,omitempty"`
	Behavior          string           `json:"behavior,omitempty"`
	Reinforcement     Reinforcement    `json:"reinforcement,omitempty"`
	StrengthBoost     float64          `json:"strength_boost,omitempty"`
	StrengthReduction float64          `json:"strength_reduction,omitempty"`
	Strength          float64          `json:"strength,omitempty"`
	PatternType       string           `json:"pattern_type,omitempty"`
	SuggestionType    string           `json:"suggestion_type,omitempty"`
	RejectionCount    int              `json:"rejection_count,omitempty"`
	Features          *ContentFeatures `json:"content_features,omitempty"`
	KeptAspects       []string         `json:"kept_aspects,omitempty"`
	RejectedAspects   []string         `json:"rejected_aspects,omitempty"`
	AddedAspects      []string         `json:"added_aspects,omitempty"`
	ModificationKind  string           `json:"modification_pattern,omitempty"`
}

func (p *RefinementPayload) UpdateType() UpdateType { return UpdatePreferenceRefinement }

func (p *RefinementPayload) Empty() bool {
	return p == nil || (strings.TrimSpace(p.Preference) == "" && strings.TrimSpace(p.Behavior) == "")
}

func (p *RefinementPayload) Text() string {
	return strings.TrimSpace(p.Preference + " " + p.Behavior)
}

func (p *RefinementPayload) clone() Payload {
	c := *p
	c.PayloadBase = p.cloneBase()
	if p.Features != nil {
		f := *p.Features
		f.KeyTerms = append([]string(nil), p.Features.KeyTerms...)
		c.Features = &f
	}
	c.KeptAspects = append([]string(nil), p.KeptAspects...)
	c.RejectedAspects = append([]string(nil), p.RejectedAspects...)
	c.AddedAspects = append([]string(nil), p.AddedAspects...)
	return &c
}

// RulePayload declares a rule.
type RulePayload struct {
	PayloadBase
	Condition      string   `json:"condition"`
	Action         string   `json:"action"`
	Strength       float64  `json:"strength"`
	RuleExceptions []string `json:"rule_exceptions,omitempty"`
}

func (p *RulePayload) UpdateType() UpdateType { return UpdateExplicitRule }

func (p *RulePayload) Empty() bool {
	return p == nil || (strings.TrimSpace(p.Condition) == "" && strings.TrimSpace(p.Action) == "")
}

func (p *RulePayload) Text() string {
	return strings.TrimSpace(p.Condition + " " + p.Action)
}

func (p *RulePayload) clone() Payload {
	c := *p
	c.PayloadBase = p.cloneBase()
	c.RuleExceptions = append([]string(nil), p.RuleExceptions...)
	return &c
}

// PatternShift is a detected change between the short and medium windows.
type PatternShift struct {
	PatternType string  `json:"pattern_type"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	Confidence  float64 `json:"confidence"`
}

// InferredPreference is a preference read off consistent behavior.
type InferredPreference struct {
	Category      string  `json:"category"`
	Preference    string  `json:"preference"`
	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`
}

// PatternPayload carries behavioral findings.
type PatternPayload struct {
	PayloadBase
	Shifts          []PatternShift       `json:"pattern_shifts,omitempty"`
	Preferences     []InferredPreference `json:"inferred_preferences,omitempty"`
	ShortTermCount  int                  `json:"short_term_count"`
	MediumTermCount int                  `json:"medium_term_count"`
}

func (p *PatternPayload) UpdateType() UpdateType { return UpdateBehavioralPattern }

func (p *PatternPayload) Empty() bool {
	return p == nil || (len(p.Shifts) == 0 && len(p.Preferences) == 0)
}

func (p *PatternPayload) Text() string {
	parts := make([]string, 0, len(p.Shifts)+len(p.Preferences))
	for _, s := range p.Shifts {
		parts = append(parts, s.PatternType)
	}
	for _, pr := range p.Preferences {
		parts = append(parts, pr.Preference)
	}
	return strings.Join(parts, " ")
}

func (p *PatternPayload) clone() Payload {
	c := *p
	c.PayloadBase = p.cloneBase()
	c.Shifts = append([]PatternShift(nil), p.Shifts...)
	c.Preferences = append([]InferredPreference(nil), p.Preferences...)
	return &c
}

// KnowledgePayload is a plain fact to remember.
type KnowledgePayload struct {
	PayloadBase
	Content string            `json:"content"`
	Kind    Kind              `json:"memory_kind,omitempty"`
	Tags    []string          `json:"tags,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func (p *KnowledgePayload) UpdateType() UpdateType { return UpdateKnowledge }

func (p *KnowledgePayload) Empty() bool {
	return p == nil || strings.TrimSpace(p.Content) == ""
}

func (p *KnowledgePayload) Text() string { return p.Content }

func (p *KnowledgePayload) clone() Payload {
	c := *p
	c.PayloadBase = p.cloneBase()
	c.Tags = append([]string(nil), p.Tags...)
	c.Meta = cloneMap(p.Meta)
	return &c
}

// LearningUpdate is a typed, prioritized instruction to change stored knowledge.
type LearningUpdate struct {
	ID            string
	UserID        string
	Confidence    float64
	Priority      Priority
	Payload       Payload
	AffectedKinds []Kind
	Source        Source
	// LearningRate is set by the forgetting-prevention scheduler; zero means unset.
	LearningRate float64
	CreatedAt    time.Time
}

// Type returns the update type, derived from the payload.
func (u *LearningUpdate) Type() UpdateType {
	if u.Payload == nil {
		return ""
	}
	return u.Payload.UpdateType()
}

// Empty reports whether the update has nothing to apply.
func (u *LearningUpdate) Empty() bool {
	return u.Payload == nil || u.Payload.Empty()
}

// Context returns the payload context, or nil for an empty payload.
func (u *LearningUpdate) Context() map[string]string {
	if u.Empty() {
		return nil
	}
	return u.Payload.Base().Context
}

// Clone returns a deep copy.
func (u *LearningUpdate) Clone() *LearningUpdate {
	c := *u
	c.AffectedKinds = append([]Kind(nil), u.AffectedKinds...)
	if !u.Empty() {
		c.Payload = u.Payload.clone()
	}
	return &c
}

// Affects reports whether the update touches kind k.
func (u *LearningUpdate) Affects(k Kind) bool {
	for _, a := range u.AffectedKinds {
		if a == k {
			return true
		}
	}
	return false
}

type updateWire struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Type          UpdateType      `json:"type"`
	Confidence    float64         `json:"confidence"`
	Priority      Priority        `json:"priority"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AffectedKinds []Kind          `json:"affected_kinds,omitempty"`
	Source        Source          `json:"source"`
	LearningRate  float64         `json:"learning_rate,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (u LearningUpdate) MarshalJSON() ([]byte, error) {
	w := updateWire{
		ID:            u.ID,
		UserID:        u.UserID,
		Type:          u.Type(),
		Confidence:    u.Confidence,
		Priority:      u.Priority,
		AffectedKinds: u.AffectedKinds,
		Source:        u.Source,
		LearningRate:  u.LearningRate,
		CreatedAt:     u.CreatedAt,
	}
	if u.Payload != nil {
		b, err := json.Marshal(u.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		w.Payload = b
	}
	return json.Marshal(w)
}

func (u *LearningUpdate) UnmarshalJSON(b []byte) error {
	var w updateWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var p Payload
	if w.Type != "" {
		var err error
		if p, err = NewPayload(w.Type); err != nil {
			return err
		}
		if len(w.Payload) > 0 && string(w.Payload) != "null" {
			if err := json.Unmarshal(w.Payload, p); err != nil {
				return fmt.Errorf("unmarshal %s payload: %w", w.Type, err)
			}
		}
	}
	*u = LearningUpdate{
		ID:            w.ID,
		UserID:        w.UserID,
		Confidence:    w.Confidence,
		Priority:      w.Priority,
		Payload:       p,
		AffectedKinds: w.AffectedKinds,
		Source:        w.Source,
		LearningRate:  w.LearningRate,
		CreatedAt:     w.CreatedAt,
	}
	return nil
}

// NewPayload returns an empty payload for t.
func NewPayload(t UpdateType) (Payload, error) {
	switch t {
	case UpdateBehaviorCorrection:
		return &CorrectionPayload{}, nil
	case UpdatePreferenceRefinement:
		return &RefinementPayload{}, nil
	case UpdateExplicitRule:
		return &RulePayload{}, nil
	case UpdateBehavioralPattern:
		return &PatternPayload{}, nil
	case UpdateKnowledge:
		return &KnowledgePayload{}, nil
	}
	return nil, fmt.Errorf("unknown update type %q", t)
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

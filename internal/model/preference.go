package model

import "time"

// PreferenceSource records how a preference was learned.
type PreferenceSource string

const (
	PreferenceExplicit PreferenceSource = "explicit"
	PreferenceLearned  PreferenceSource = "learned"
	PreferenceInferred PreferenceSource = "inferred"
)

// Exception narrows where a preference applies.
type Exception struct {
	Context         map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
	CorrectBehavior string            `json:"correct_behavior" yaml:"correct_behavior"`
	AddedAt         time.Time         `json:"added_at" yaml:"added_at"`
}

// Preference is a weighted, confidence-scored belief about user taste.
type Preference struct {
	ID         string           `json:"id" yaml:"id"`
	UserID     string           `json:"user_id" yaml:"user_id"`
	Category   string           `json:"category" yaml:"category"`
	Text       string           `json:"text" yaml:"text"`
	Strength   float64          `json:"strength" yaml:"strength"`
	Confidence float64          `json:"confidence" yaml:"confidence"`
	Examples   []string         `json:"examples,omitempty" yaml:"examples,omitempty"`
	Exceptions []Exception      `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
	Source     PreferenceSource `json:"source" yaml:"source"`
	CreatedAt  time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" yaml:"updated_at"`
}

// RuleSource records who declared a rule.
type RuleSource string

const (
	RuleExplicit RuleSource = "explicit"
	RuleLearned  RuleSource = "learned"
)

// Rule is a condition/action pair. Explicit rules never decay.
type Rule struct {
	ID         string     `json:"id" yaml:"id"`
	UserID     string     `json:"user_id" yaml:"user_id"`
	Condition  string     `json:"condition" yaml:"condition"`
	Action     string     `json:"action" yaml:"action"`
	Strength   float64    `json:"strength" yaml:"strength"`
	Exceptions []string   `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
	Source     RuleSource `json:"source" yaml:"source"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

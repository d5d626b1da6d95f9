package model

import (
	"sort"
	"time"
)

// FeedbackType names a kind of user feedback.
type FeedbackType string

const (
	FeedbackDirectCorrection    FeedbackType = "direct_correction"
	FeedbackPraise              FeedbackType = "praise"
	FeedbackCriticism           FeedbackType = "criticism"
	FeedbackRuleDefinition      FeedbackType = "rule_definition"
	FeedbackPreferenceStatement FeedbackType = "preference_statement"
	FeedbackSuggestionIgnored   FeedbackType = "suggestion_ignored"
	FeedbackSuggestionModified  FeedbackType = "suggestion_modified"
	FeedbackSuggestionAccepted  FeedbackType = "suggestion_accepted"
)

// Explicit reports whether the user stated the feedback directly.
func (t FeedbackType) Explicit() bool {
	switch t {
	case FeedbackDirectCorrection, FeedbackPraise, FeedbackCriticism,
		FeedbackRuleDefinition, FeedbackPreferenceStatement:
		return true
	}
	return false
}

// Implicit reports whether the feedback was observed from suggestion handling.
func (t FeedbackType) Implicit() bool {
	switch t {
	case FeedbackSuggestionIgnored, FeedbackSuggestionModified, FeedbackSuggestionAccepted:
		return true
	}
	return false
}

// EmotionalTone is the tone an upstream collaborator attached to feedback.
type EmotionalTone string

const (
	ToneNeutral    EmotionalTone = "neutral"
	TonePositive   EmotionalTone = "positive"
	ToneNegative   EmotionalTone = "negative"
	ToneFrustrated EmotionalTone = "frustrated"
	TonePleased    EmotionalTone = "pleased"
	ToneConfused   EmotionalTone = "confused"
)

// Context is the situation an event happened in.
type Context struct {
	Timestamp   time.Time         `json:"timestamp"`
	TimeOfDay   string            `json:"time_of_day,omitempty"`
	DayType     string            `json:"day_type,omitempty"`
	UserState   map[string]string `json:"user_state,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewContext returns a context at ts with derived time-of-day and day type.
func NewContext(ts time.Time) *Context {
	c := &Context{Timestamp: ts}
	c.Normalize()
	return c
}

// Normalize fills derived fields left empty.
func (c *Context) Normalize() {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	if c.TimeOfDay == "" {
		c.TimeOfDay = TimeOfDay(c.Timestamp)
	}
	if c.DayType == "" {
		c.DayType = "workday"
		if wd := c.Timestamp.Weekday(); wd == time.Saturday || wd == time.Sunday {
			c.DayType = "weekend"
		}
	}
}

// TimeOfDay buckets the hour of t.
func TimeOfDay(t time.Time) string {
	h := t.Hour()
	switch {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

// Map flattens the context into string pairs. User state wins over
// environment, which wins over metadata.
func (c *Context) Map() map[string]string {
	if c == nil {
		return map[string]string{}
	}
	out := make(map[string]string, 2+len(c.UserState)+len(c.Environment)+len(c.Metadata))
	for _, m := range []map[string]string{c.Metadata, c.Environment, c.UserState} {
		for k, v := range m {
			out[k] = v
		}
	}
	if c.TimeOfDay != "" {
		out["time_of_day"] = c.TimeOfDay
	}
	if c.DayType != "" {
		out["day_type"] = c.DayType
	}
	return out
}

// JoinValues concatenates map values in key order.
func JoinValues(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []byte
	for i, k := range keys {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, m[k]...)
	}
	return string(out)
}

// FeedbackEvent is a single piece of user feedback.
type FeedbackEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id" validate:"required"`
	Type      FeedbackType      `json:"type" validate:"required"`
	Data      map[string]string `json:"data,omitempty"`
	Context   *Context          `json:"context,omitempty"`
	Tone      EmotionalTone     `json:"emotional_tone,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// InteractionEvent records one interaction for behavioral analysis.
type InteractionEvent struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id" validate:"required"`
	EventType       string            `json:"event_type"`
	Content         string            `json:"content,omitempty"`
	Response        string            `json:"response,omitempty"`
	Context         *Context          `json:"context,omitempty"`
	DurationSeconds float64           `json:"duration_seconds" validate:"gte=0"`
	Engagement      float64           `json:"engagement_score" validate:"gte=0,lte=1"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

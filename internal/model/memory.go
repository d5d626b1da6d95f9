// Package model defines the core memory, preference and learning data types.
package model

import "time"

// Kind classifies stored knowledge.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	// KindPreference only appears in affected-kind lists; preferences live in the graph.
	KindPreference Kind = "preference"
)

// ValidKinds are the kinds a memory entry may be stored under.
var ValidKinds = map[Kind]bool{
	KindEpisodic:   true,
	KindSemantic:   true,
	KindProcedural: true,
}

// MemoryKinds lists the storable kinds in search order.
var MemoryKinds = []Kind{KindEpisodic, KindSemantic, KindProcedural}

// Memory represents a stored memory entry.
type Memory struct {
	ID             string            `json:"id" yaml:"id"`
	UserID         string            `json:"user_id" yaml:"user_id"`
	Kind           Kind              `json:"kind" yaml:"kind"`
	Content        string            `json:"content" yaml:"content"`
	Embedding      []float64         `json:"embedding,omitempty" yaml:"-"`
	Importance     float64           `json:"importance" yaml:"importance"`
	AccessCount    int               `json:"access_count" yaml:"access_count"`
	CreatedAt      time.Time         `json:"created_at" yaml:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at" yaml:"last_accessed_at"`
	Tags           []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Meta           map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ProtectionLevel grades how strongly a memory is shielded from overwrites.
type ProtectionLevel string

const (
	ProtectionNormal   ProtectionLevel = "normal"
	ProtectionElevated ProtectionLevel = "elevated"
	ProtectionCritical ProtectionLevel = "critical"
)

// KnowledgeProtection tracks a memory the scheduler rehearses.
type KnowledgeProtection struct {
	KnowledgeID    string          `json:"knowledge_id"`
	UserID         string          `json:"user_id"`
	Importance     float64         `json:"importance"`
	LastRehearsed  time.Time       `json:"last_rehearsed"`
	RehearsalCount int             `json:"rehearsal_count"`
	Level          ProtectionLevel `json:"level"`
}

package feedback

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/similarity"
)

var (
	timeWords   = []string{"am", "pm", "morning", "afternoon", "evening"}
	dateWords   = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "today", "tomorrow"}
	formalWords = []string{"please", "kindly", "would", "shall", "regarding", "therefore"}
	casualWords = []string{"hey", "yeah", "gonna", "wanna", "btw", "asap"}
)

type rejection struct {
	suggestionType string
	at             time.Time
}

type adoption struct {
	accepted int
	total    int
}

// Implicit infers preferences from how the user handles suggestions. It
// keeps per-user rejection history and adoption rates in memory.
type Implicit struct {
	now func() time.Time

	mu         sync.Mutex
	rejections map[string][]rejection
	adoption   map[string]map[string]*adoption
}

// NewImplicit creates an implicit signal processor.
func NewImplicit() *Implicit {
	return &Implicit{
		now:        time.Now,
		rejections: make(map[string][]rejection),
		adoption:   make(map[string]map[string]*adoption),
	}
}

// Process returns the update for ev, or nil when ev is not implicit feedback.
func (im *Implicit) Process(ev *model.FeedbackEvent) *model.LearningUpdate {
	suggestionType := ev.Data["suggestion_type"]
	if suggestionType == "" {
		suggestionType = "unknown"
	}
	situation := ev.Context.Map()

	switch ev.Type {
	case model.FeedbackSuggestionIgnored:
		features := ExtractFeatures(ev.Data["content"])
		count := im.recordRejection(ev.UserID, rejection{
			suggestionType: suggestionType,
			at:             im.now().UTC(),
		})
		priority := model.PriorityLow
		if count > 2 {
			priority = model.PriorityMedium
		}
		return im.update(ev, &model.RefinementPayload{
			PayloadBase:    model.PayloadBase{Context: situation},
			Preference:     fmt.Sprintf("Avoid %s suggestions", suggestionType),
			PatternType:    "suggestion_rejection",
			SuggestionType: suggestionType,
			RejectionCount: count,
			Features:       &features,
		}, min(0.9, 0.5+0.1*float64(count)), priority, model.KindPreference)

	case model.FeedbackSuggestionModified:
		kept, rejected, added, pattern := AnalyzeModification(ev.Data["original"], ev.Data["modified"])
		return im.update(ev, &model.RefinementPayload{
			PayloadBase:      model.PayloadBase{Context: situation},
			Preference:       fmt.Sprintf("Modify %s suggestions (%s)", suggestionType, pattern),
			PatternType:      "suggestion_modification",
			SuggestionType:   suggestionType,
			KeptAspects:      kept,
			RejectedAspects:  rejected,
			AddedAspects:     added,
			ModificationKind: pattern,
		}, 0.75, model.PriorityMedium, model.KindPreference, model.KindProcedural)

	case model.FeedbackSuggestionAccepted:
		im.recordAdoption(ev.UserID, suggestionType, true)
		features := ExtractFeatures(ev.Data["content"])
		return im.update(ev, &model.RefinementPayload{
			PayloadBase:    model.PayloadBase{Context: situation},
			Preference:     fmt.Sprintf("Continue %s suggestions", suggestionType),
			PatternType:    "suggestion_acceptance",
			SuggestionType: suggestionType,
			Features:       &features,
		}, 0.7, model.PriorityLow, model.KindPreference)
	}
	return nil
}

func (im *Implicit) recordRejection(userID string, r rejection) int {
	im.mu.Lock()
	im.rejections[userID] = append(im.rejections[userID], r)
	count := 0
	for _, prev := range im.rejections[userID] {
		if prev.suggestionType == r.suggestionType {
			count++
		}
	}
	im.mu.Unlock()

	im.recordAdoption(userID, r.suggestionType, false)
	return count
}

func (im *Implicit) recordAdoption(userID, suggestionType string, accepted bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	byType, ok := im.adoption[userID]
	if !ok {
		byType = make(map[string]*adoption)
		im.adoption[userID] = byType
	}
	a, ok := byType[suggestionType]
	if !ok {
		a = &adoption{}
		byType[suggestionType] = a
	}
	a.total++
	if accepted {
		a.accepted++
	}
}

// AdoptionRate is the share of accepted suggestions of a type, 0.5 when unseen.
func (im *Implicit) AdoptionRate(userID, suggestionType string) float64 {
	im.mu.Lock()
	defer im.mu.Unlock()
	a, ok := im.adoption[userID][suggestionType]
	if !ok || a.total == 0 {
		return 0.5
	}
	return float64(a.accepted) / float64(a.total)
}

// Rejections counts ignored suggestions of a type.
func (im *Implicit) Rejections(userID, suggestionType string) int {
	im.mu.Lock()
	defer im.mu.Unlock()
	n := 0
	for _, r := range im.rejections[userID] {
		if r.suggestionType == suggestionType {
			n++
		}
	}
	return n
}

func (im *Implicit) update(ev *model.FeedbackEvent, p model.Payload, confidence float64, priority model.Priority, kinds ...model.Kind) *model.LearningUpdate {
	return &model.LearningUpdate{
		ID:            uuid.NewString(),
		UserID:        ev.UserID,
		Confidence:    confidence,
		Priority:      priority,
		Payload:       p,
		AffectedKinds: kinds,
		Source:        model.SourceImplicit,
		CreatedAt:     im.now().UTC(),
	}
}

// ExtractFeatures summarizes suggestion text.
func ExtractFeatures(content string) model.ContentFeatures {
	words := similarity.Words(content)
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	f := model.ContentFeatures{
		Length:     len(content),
		WordCount:  len(words),
		HasNumbers: strings.IndexFunc(content, unicode.IsDigit) >= 0,
		HasTime:    anyIn(present, timeWords),
		HasDate:    anyIn(present, dateWords),
		Formality:  Formality(content),
	}

	seen := make(map[string]bool)
	for _, w := range words {
		if len(w) > 4 && !seen[w] {
			seen[w] = true
			f.KeyTerms = append(f.KeyTerms, w)
			if len(f.KeyTerms) == 10 {
				break
			}
		}
	}
	return f
}

// Formality estimates register from 0 (casual) to 1 (formal); 0.5 when
// no marker words appear.
func Formality(content string) float64 {
	lower := strings.ToLower(content)
	formal, casual := 0, 0
	for _, w := range formalWords {
		if strings.Contains(lower, w) {
			formal++
		}
	}
	for _, w := range casualWords {
		if strings.Contains(lower, w) {
			casual++
		}
	}
	if formal+casual == 0 {
		return 0.5
	}
	return float64(formal) / float64(formal+casual)
}

// AnalyzeModification compares the word sets of a suggestion before and
// after the user edited it. The returned sets are sorted.
func AnalyzeModification(original, modified string) (kept, rejected, added []string, pattern string) {
	orig := wordSet(original)
	mod := wordSet(modified)
	for w := range orig {
		if mod[w] {
			kept = append(kept, w)
		} else {
			rejected = append(rejected, w)
		}
	}
	for w := range mod {
		if !orig[w] {
			added = append(added, w)
		}
	}
	sort.Strings(kept)
	sort.Strings(rejected)
	sort.Strings(added)

	switch {
	case len(rejected) > len(kept):
		pattern = "major_change"
	case len(added) > len(kept):
		pattern = "expansion"
	case len(rejected) > 0:
		pattern = "refinement"
	default:
		pattern = "minor_addition"
	}
	return kept, rejected, added, pattern
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range similarity.Words(s) {
		set[w] = true
	}
	return set
}

func anyIn(set map[string]bool, words []string) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}

package feedback

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// BehavioralOptions sizes the analysis windows.
type BehavioralOptions struct {
	ShortWindow      int // recent interactions compared against the medium window
	MediumWindow     int
	MinShort         int // interactions buffered before any analysis
	MinShiftWindow   int // medium-window size needed to report shifts
	MinInferWindow   int // medium-window size needed to infer preferences
	FullConfidenceAt int // medium-window size at which confidence is not discounted
}

// DefaultBehavioralOptions returns the standard window sizes.
func DefaultBehavioralOptions() BehavioralOptions {
	return BehavioralOptions{
		ShortWindow:      20,
		MediumWindow:     100,
		MinShort:         5,
		MinShiftWindow:   20,
		MinInferWindow:   10,
		FullConfidenceAt: 50,
	}
}

type interaction struct {
	eventType  string
	engagement float64
	duration   float64
	timeOfDay  string // empty when the event had no context
}

// window is a bounded FIFO of interactions.
type window struct {
	items []interaction
	max   int
}

func (w *window) push(it interaction) {
	w.items = append(w.items, it)
	if len(w.items) > w.max {
		w.items = w.items[len(w.items)-w.max:]
	}
}

type history struct {
	short  window
	medium window
}

// Behavioral detects shifts and stable habits in interaction streams.
// Windows are per user and held in memory.
type Behavioral struct {
	opts BehavioralOptions
	now  func() time.Time

	mu    sync.Mutex
	users map[string]*history
}

// NewBehavioral creates a behavioral analyzer.
func NewBehavioral(opts BehavioralOptions) *Behavioral {
	def := DefaultBehavioralOptions()
	if opts.ShortWindow <= 0 {
		opts.ShortWindow = def.ShortWindow
	}
	if opts.MediumWindow <= 0 {
		opts.MediumWindow = def.MediumWindow
	}
	if opts.MinShort <= 0 {
		opts.MinShort = def.MinShort
	}
	if opts.MinShiftWindow <= 0 {
		opts.MinShiftWindow = def.MinShiftWindow
	}
	if opts.MinInferWindow <= 0 {
		opts.MinInferWindow = def.MinInferWindow
	}
	if opts.FullConfidenceAt <= 0 {
		opts.FullConfidenceAt = def.FullConfidenceAt
	}
	return &Behavioral{
		opts:  opts,
		now:   time.Now,
		users: make(map[string]*history),
	}
}

func (b *Behavioral) record(ev *model.InteractionEvent) *history {
	h, ok := b.users[ev.UserID]
	if !ok {
		h = &history{
			short:  window{max: b.opts.ShortWindow},
			medium: window{max: b.opts.MediumWindow},
		}
		b.users[ev.UserID] = h
	}
	it := interaction{
		eventType:  ev.EventType,
		engagement: ev.Engagement,
		duration:   ev.DurationSeconds,
	}
	if ev.Context != nil {
		c := *ev.Context
		c.Normalize()
		it.timeOfDay = c.TimeOfDay
	}
	h.short.push(it)
	h.medium.push(it)
	return h
}

// Warm replays past interactions, oldest first, without producing updates.
func (b *Behavioral) Warm(events []model.InteractionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range events {
		b.record(&events[i])
	}
}

// Buffered returns how many interactions the short and medium windows hold for a user.
func (b *Behavioral) Buffered(userID string) (short, medium int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.users[userID]
	if !ok {
		return 0, 0
	}
	return len(h.short.items), len(h.medium.items)
}

// Process records ev and returns a behavioral_pattern update when the
// windows show a shift or a stable habit.
func (b *Behavioral) Process(ev *model.InteractionEvent) *model.LearningUpdate {
	b.mu.Lock()
	h := b.record(ev)
	short := append([]interaction(nil), h.short.items...)
	medium := append([]interaction(nil), h.medium.items...)
	b.mu.Unlock()

	if len(short) < b.opts.MinShort {
		return nil
	}
	shifts := b.detectShifts(short, medium)
	prefs := b.inferPreferences(medium)
	if len(shifts) == 0 && len(prefs) == 0 {
		return nil
	}

	var sum float64
	for _, s := range shifts {
		sum += s.Confidence
	}
	for _, p := range prefs {
		sum += p.Confidence
	}
	mean := sum / float64(len(shifts)+len(prefs))
	confidence := mean * math.Min(1, float64(len(medium))/float64(b.opts.FullConfidenceAt))

	priority := model.PriorityLow
	if confidence > 0.7 {
		priority = model.PriorityMedium
	}

	return &model.LearningUpdate{
		ID:         uuid.NewString(),
		UserID:     ev.UserID,
		Confidence: confidence,
		Priority:   priority,
		Payload: &model.PatternPayload{
			PayloadBase:     model.PayloadBase{Context: ev.Context.Map()},
			Shifts:          shifts,
			Preferences:     prefs,
			ShortTermCount:  len(short),
			MediumTermCount: len(medium),
		},
		AffectedKinds: []model.Kind{model.KindPreference, model.KindProcedural},
		Source:        model.SourceBehavioral,
		CreatedAt:     b.now().UTC(),
	}
}

func (b *Behavioral) detectShifts(short, medium []interaction) []model.PatternShift {
	if len(medium) < b.opts.MinShiftWindow {
		return nil
	}
	var shifts []model.PatternShift

	shortEng := mean(short, func(i interaction) float64 { return i.engagement })
	mediumEng := mean(medium, func(i interaction) float64 { return i.engagement })
	if diff := math.Abs(shortEng - mediumEng); diff > 0.2 {
		shifts = append(shifts, model.PatternShift{
			PatternType: "engagement",
			From:        fmt.Sprintf("%.2f", mediumEng),
			To:          fmt.Sprintf("%.2f", shortEng),
			Confidence:  math.Max(0.6, math.Min(0.9, diff*2)),
		})
	}

	shortTime, _, _ := dominantTime(short)
	mediumTime, _, _ := dominantTime(medium)
	if shortTime != "" && mediumTime != "" && shortTime != mediumTime {
		shifts = append(shifts, model.PatternShift{
			PatternType: "time_of_day",
			From:        mediumTime,
			To:          shortTime,
			Confidence:  0.7,
		})
	}

	shortDur := mean(short, func(i interaction) float64 { return i.duration })
	mediumDur := mean(medium, func(i interaction) float64 { return i.duration })
	if mediumDur > 0 && math.Abs(shortDur-mediumDur)/mediumDur > 0.3 {
		shifts = append(shifts, model.PatternShift{
			PatternType: "interaction_duration",
			From:        fmt.Sprintf("%.1fs", mediumDur),
			To:          fmt.Sprintf("%.1fs", shortDur),
			Confidence:  0.6,
		})
	}
	return shifts
}

func (b *Behavioral) inferPreferences(medium []interaction) []model.InferredPreference {
	if len(medium) < b.opts.MinInferWindow {
		return nil
	}
	var prefs []model.InferredPreference

	if dom, count, total := dominantTime(medium); total > 0 {
		if ratio := float64(count) / float64(total); ratio > 0.6 {
			prefs = append(prefs, model.InferredPreference{
				Category:      "temporal",
				Preference:    fmt.Sprintf("Prefers %s interactions", dom),
				Confidence:    ratio,
				EvidenceCount: count,
			})
		}
	}

	var engaged []string
	for _, it := range medium {
		if it.engagement > 0.7 {
			engaged = append(engaged, it.eventType)
		}
	}
	if len(engaged) > 5 {
		top, count := mode(engaged)
		prefs = append(prefs, model.InferredPreference{
			Category:      "content",
			Preference:    fmt.Sprintf("High engagement with %s", top),
			Confidence:    float64(count) / float64(len(engaged)),
			EvidenceCount: count,
		})
	}

	avg := mean(medium, func(i interaction) float64 { return i.duration })
	std := stdev(medium, avg)
	if avg > 0 && std < avg*0.3 {
		pace := "detailed"
		switch {
		case avg < 30:
			pace = "quick"
		case avg < 120:
			pace = "moderate"
		}
		prefs = append(prefs, model.InferredPreference{
			Category:      "pace",
			Preference:    fmt.Sprintf("Prefers %s interactions", pace),
			Confidence:    1 - std/avg,
			EvidenceCount: len(medium),
		})
	}
	return prefs
}

func mean(items []interaction, f func(interaction) float64) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += f(it)
	}
	return sum / float64(len(items))
}

// stdev is the sample standard deviation of durations.
func stdev(items []interaction, avg float64) float64 {
	if len(items) < 2 {
		return 0
	}
	var ss float64
	for _, it := range items {
		d := it.duration - avg
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(items)-1))
}

// dominantTime returns the most frequent time of day among interactions
// with context, its count and the number of such interactions.
func dominantTime(items []interaction) (string, int, int) {
	var times []string
	for _, it := range items {
		if it.timeOfDay != "" {
			times = append(times, it.timeOfDay)
		}
	}
	if len(times) == 0 {
		return "", 0, 0
	}
	top, count := mode(times)
	return top, count, len(times)
}

// mode returns the most frequent value; ties go to the lexically smallest.
func mode(values []string) (string, int) {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, n := "", 0
	for _, k := range keys {
		if counts[k] > n {
			best, n = k, counts[k]
		}
	}
	return best, n
}

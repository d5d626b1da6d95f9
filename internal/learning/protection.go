package learning

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/similarity"
	"github.com/rcliao/adaptive-memory/internal/store"
)

// Recorder receives learning metrics.
type Recorder interface {
	RecordUpdate(updateType, outcome string)
	RecordProtection(level string)
	AddRehearsals(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpdate(string, string) {}
func (nopRecorder) RecordProtection(string)     {}
func (nopRecorder) AddRehearsals(int)           {}

// SchedulerOptions tunes forgetting prevention.
type SchedulerOptions struct {
	BaseRate        float64
	MaxCandidates   int     // memories scanned per update
	MinSharedTokens int     // shared tokens above which a memory is affected
	MinSharedRatio  float64 // shared share of the memory's tokens above which it is affected
	ProtectAbove    float64
	ElevatedAbove   float64
	MaxIntervalDays int
	Strategy        similarity.Strategy
	// RateBands scale BaseRate by the most important affected memory.
	// Checked in order; the first band whose Above is exceeded applies.
	RateBands []RateBand
}

// RateBand throttles learning when affected importance exceeds Above.
type RateBand struct {
	Above  float64
	Factor float64
}

// DefaultSchedulerOptions returns the standard forgetting-prevention settings.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		BaseRate:        0.3,
		MaxCandidates:   1000,
		MinSharedTokens: 3,
		MinSharedRatio:  0.3,
		ProtectAbove:    0.7,
		ElevatedAbove:   0.9,
		MaxIntervalDays: 30,
		Strategy:        similarity.Overlap{},
		RateBands: []RateBand{
			{Above: 0.9, Factor: 0.1},
			{Above: 0.7, Factor: 0.5},
			{Above: 0.5, Factor: 0.8},
		},
	}
}

// Status summarizes a user's protections.
type Status struct {
	ProtectedCount      int `json:"protected_count"`
	CriticalCount       int `json:"critical_count"`
	ScheduledRehearsals int `json:"scheduled_rehearsals"`
	DueRehearsals       int `json:"due_rehearsals"`
}

// Scheduler guards important memories while new knowledge is applied. It
// throttles the learning rate of updates that touch important memories
// and rehearses those memories on a spaced schedule. Protections and the
// schedule are process-local and rebuilt as updates arrive.
type Scheduler struct {
	repo store.MemoryRepository
	opts SchedulerOptions
	log  logger.Logger
	rec  Recorder
	now  func() time.Time

	// guard serializes loop rehearsals with other writers of the same user.
	guard func(userID string) (unlock func())

	mu          sync.Mutex
	protections map[string]map[string]*model.KnowledgeProtection // user -> memory id
	schedule    map[string]map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. Zero option fields take their defaults; rec may be nil.
func NewScheduler(repo store.MemoryRepository, opts SchedulerOptions, log logger.Logger, rec Recorder) *Scheduler {
	def := DefaultSchedulerOptions()
	if opts.BaseRate <= 0 {
		opts.BaseRate = def.BaseRate
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = def.MaxCandidates
	}
	if opts.MinSharedTokens <= 0 {
		opts.MinSharedTokens = def.MinSharedTokens
	}
	if opts.MinSharedRatio <= 0 {
		opts.MinSharedRatio = def.MinSharedRatio
	}
	if opts.ProtectAbove <= 0 {
		opts.ProtectAbove = def.ProtectAbove
	}
	if opts.ElevatedAbove <= 0 {
		opts.ElevatedAbove = def.ElevatedAbove
	}
	if opts.MaxIntervalDays <= 0 {
		opts.MaxIntervalDays = def.MaxIntervalDays
	}
	if opts.Strategy == nil {
		opts.Strategy = def.Strategy
	}
	if len(opts.RateBands) == 0 {
		opts.RateBands = def.RateBands
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Scheduler{
		repo:        repo,
		opts:        opts,
		log:         logger.OrNop(log).With("component", "scheduler"),
		rec:         rec,
		now:         time.Now,
		protections: make(map[string]map[string]*model.KnowledgeProtection),
		schedule:    make(map[string]map[string]time.Time),
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetGuard makes the background loop hold lock(userID) while rehearsing a user.
// Call before Start.
func (s *Scheduler) SetGuard(lock func(userID string) (unlock func())) {
	s.guard = lock
}

// BaseRate is the learning rate of an update that touches nothing important.
func (s *Scheduler) BaseRate() float64 { return s.opts.BaseRate }

// ProtectBeforeUpdate scores the memories u would touch, protects and
// schedules the important ones, and returns the adaptive learning rate,
// which is also stored on u.
func (s *Scheduler) ProtectBeforeUpdate(ctx context.Context, userID string, u *model.LearningUpdate) (float64, error) {
	rate := s.opts.BaseRate
	if u == nil {
		return rate, nil
	}
	u.LearningRate = rate
	if u.Empty() {
		return rate, nil
	}

	memories, err := s.repo.ListMemories(ctx, store.ListParams{UserID: userID, Limit: s.opts.MaxCandidates})
	if err != nil {
		return rate, err
	}

	updateTokens := similarity.Words(u.Payload.Text())
	now := s.now().UTC()
	maxImportance := 0.0
	affected := 0

	for _, m := range memories {
		if !s.affects(similarity.Words(m.Content), updateTokens) {
			continue
		}
		affected++
		importance := s.Importance(m, now)
		maxImportance = math.Max(maxImportance, importance)
		if importance > s.opts.ProtectAbove {
			s.protect(userID, m.ID, importance, now)
		}
	}

	if affected > 0 {
		rate = s.opts.BaseRate * s.rateFactor(maxImportance)
	}
	u.LearningRate = rate
	s.log.Debug("protected before update",
		"user_id", userID, "update_id", u.ID, "affected", affected,
		"max_importance", maxImportance, "learning_rate", rate)
	return rate, nil
}

func (s *Scheduler) affects(entry, update []string) bool {
	shared := similarity.Shared(entry, update)
	if shared > s.opts.MinSharedTokens {
		return true
	}
	return shared > 0 && s.opts.Strategy.Score(entry, update) > s.opts.MinSharedRatio
}

// Importance is a memory's base importance plus bonuses for frequent and
// recent access, clamped to [0,1].
func (s *Scheduler) Importance(m model.Memory, now time.Time) float64 {
	importance := m.Importance
	switch {
	case m.AccessCount > 10:
		importance += 0.1
	case m.AccessCount > 5:
		importance += 0.05
	}
	last := m.LastAccessedAt
	if last.IsZero() {
		last = m.CreatedAt
	}
	switch age := now.Sub(last); {
	case age < 7*24*time.Hour:
		importance += 0.1
	case age < 30*24*time.Hour:
		importance += 0.05
	}
	return model.Clamp01(importance)
}

func (s *Scheduler) rateFactor(maxImportance float64) float64 {
	for _, b := range s.opts.RateBands {
		if maxImportance > b.Above {
			return b.Factor
		}
	}
	return 1
}

func (s *Scheduler) protect(userID, memoryID string, importance float64, now time.Time) {
	level := model.ProtectionNormal
	interval := 3 * 24 * time.Hour
	if importance > s.opts.ElevatedAbove {
		level = model.ProtectionElevated
		interval = 24 * time.Hour
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.protections[userID]
	if !ok {
		byID = make(map[string]*model.KnowledgeProtection)
		s.protections[userID] = byID
	}
	if p, ok := byID[memoryID]; ok {
		p.Importance = importance
		p.Level = level
	} else {
		byID[memoryID] = &model.KnowledgeProtection{
			KnowledgeID: memoryID,
			UserID:      userID,
			Importance:  importance,
			Level:       level,
		}
	}

	sched, ok := s.schedule[userID]
	if !ok {
		sched = make(map[string]time.Time)
		s.schedule[userID] = sched
	}
	if _, ok := sched[memoryID]; !ok {
		sched[memoryID] = now.Add(interval)
	}
	s.rec.RecordProtection(string(level))
}

// PerformRehearsals re-accesses every memory whose rehearsal is due and
// reschedules it with exponential back-off. It returns the number of
// rehearsed memories. Memories that no longer exist are unscheduled.
func (s *Scheduler) PerformRehearsals(ctx context.Context, userID string) (int, error) {
	now := s.now().UTC()

	s.mu.Lock()
	var due []string
	for id, at := range s.schedule[userID] {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(due)

	count := 0
	for _, id := range due {
		err := s.repo.UpdateAccess(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.forget(userID, id)
			continue
		}
		if err != nil {
			return count, err
		}
		s.rehearsed(userID, id, now)
		count++
	}
	if count > 0 {
		s.rec.AddRehearsals(count)
		s.log.Info("performed rehearsals", "user_id", userID, "count", count)
	}
	return count, nil
}

func (s *Scheduler) rehearsed(userID, id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.protections[userID][id]
	if !ok {
		p = &model.KnowledgeProtection{KnowledgeID: id, UserID: userID, Level: model.ProtectionNormal}
		if s.protections[userID] == nil {
			s.protections[userID] = make(map[string]*model.KnowledgeProtection)
		}
		s.protections[userID][id] = p
	}
	p.RehearsalCount++
	p.LastRehearsed = now

	days := math.Min(float64(s.opts.MaxIntervalDays), math.Pow(2, float64(p.RehearsalCount)))
	s.schedule[userID][id] = now.Add(time.Duration(days * float64(24*time.Hour)))
}

func (s *Scheduler) forget(userID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.protections[userID], id)
	delete(s.schedule[userID], id)
}

// Protections returns a user's protections, most important first.
func (s *Scheduler) Protections(userID string) []model.KnowledgeProtection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.KnowledgeProtection, 0, len(s.protections[userID]))
	for _, p := range s.protections[userID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].KnowledgeID < out[j].KnowledgeID
	})
	return out
}

// NextRehearsal returns when a memory is next due for rehearsal.
func (s *Scheduler) NextRehearsal(userID, memoryID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.schedule[userID][memoryID]
	return at, ok
}

// Status reports protection counts for a user.
func (s *Scheduler) Status(userID string) Status {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ProtectedCount:      len(s.protections[userID]),
		ScheduledRehearsals: len(s.schedule[userID]),
	}
	for _, p := range s.protections[userID] {
		if p.Level == model.ProtectionCritical {
			st.CriticalCount++
		}
	}
	for _, at := range s.schedule[userID] {
		if !at.After(now) {
			st.DueRehearsals++
		}
	}
	return st
}

// users returns every user with a rehearsal schedule.
func (s *Scheduler) users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.schedule))
	for u, sched := range s.schedule {
		if len(sched) > 0 {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Start runs rehearsals for every scheduled user on each tick until Stop
// is called or ctx ends.
func (s *Scheduler) Start(parentCtx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.rehearseAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) rehearseAll(ctx context.Context) {
	for _, userID := range s.users() {
		if ctx.Err() != nil {
			return
		}
		s.rehearseGuarded(ctx, userID)
	}
}

func (s *Scheduler) rehearseGuarded(ctx context.Context, userID string) {
	if s.guard != nil {
		unlock := s.guard(userID)
		defer unlock()
	}
	if _, err := s.PerformRehearsals(ctx, userID); err != nil {
		s.log.Warn("rehearsal failed", "user_id", userID, "error", err)
	}
}

// Stop ends the rehearsal loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

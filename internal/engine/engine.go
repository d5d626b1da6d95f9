// Package engine wires the repository, memory, preference graph and
// learning pipeline into one handle used by the CLI and the HTTP server.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rcliao/adaptive-memory/internal/config"
	"github.com/rcliao/adaptive-memory/internal/feedback"
	"github.com/rcliao/adaptive-memory/internal/learning"
	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/memory"
	"github.com/rcliao/adaptive-memory/internal/metrics"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/preference"
	"github.com/rcliao/adaptive-memory/internal/store"
	"github.com/rcliao/adaptive-memory/internal/vector"
)

// errDropped is audited for updates removed by integration.
var errDropped = errors.New("dropped during integration")

// Report describes one run of the write flow.
type Report struct {
	Updates   []*model.LearningUpdate `json:"updates"`
	Conflicts []learning.Conflict     `json:"conflicts,omitempty"`
	Applied   []string                `json:"applied"`
}

// Engine owns every component for one repository.
type Engine struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Manager

	repo       store.Repository
	index      *vector.Index
	memories   *memory.Store
	graph      *preference.Graph
	processor  *feedback.Processor
	integrator *learning.Integrator
	scheduler  *learning.Scheduler
	updater    *learning.Updater

	mu     sync.Mutex
	locks  map[string]*sync.Mutex // per-user write locks
	warmed map[string]bool
}

// Open builds an engine from cfg. A nil logger discards output; a nil
// metrics manager is created from cfg.Metrics.
func Open(cfg *config.Config, log logger.Logger, m *metrics.Manager) (*Engine, error) {
	log = logger.OrNop(log)
	if m == nil {
		m = metrics.NewManager(metrics.Config{Enabled: cfg.Metrics.Enabled, Path: cfg.Metrics.Path})
	}

	repo, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	index, err := vector.New(repo, vector.Options{
		CandidateLimit: cfg.Retrieval.CandidateLimit,
		Workers:        cfg.Retrieval.Workers,
		CacheEntries:   cfg.Retrieval.CacheSize,
	}, log)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}

	memories := memory.New(repo, index, memory.Options{
		ConsolidationThreshold: cfg.Memory.ConsolidationThreshold,
		ForgetThreshold:        cfg.Memory.ForgetThreshold,
		ForgetAge:              cfg.Memory.ForgetAge(),
		ForgetMinAccess:        cfg.Memory.ForgetMinAccess,
		DefaultTopK:            cfg.Retrieval.TopK,
	}, log, m)
	graph := preference.New(repo, preference.DefaultOptions(), log)
	processor := feedback.NewProcessor(feedback.BehavioralOptions{
		ShortWindow:  cfg.Learning.ShortWindow,
		MediumWindow: cfg.Learning.MediumWindow,
	})

	e := &Engine{
		cfg:        cfg,
		log:        log.With("component", "engine"),
		metrics:    m,
		repo:       repo,
		index:      index,
		memories:   memories,
		graph:      graph,
		processor:  processor,
		integrator: learning.NewIntegrator(learning.DefaultIntegratorOptions()),
		scheduler:  learning.NewScheduler(repo, learning.SchedulerOptions{BaseRate: cfg.Learning.BaseRate}, log, m),
		updater:    learning.NewUpdater(memories, graph, repo, learning.UpdaterOptions{BaseRate: cfg.Learning.BaseRate}, log, m),
		locks:      make(map[string]*sync.Mutex),
		warmed:     make(map[string]bool),
	}
	e.scheduler.SetGuard(e.lock)
	return e, nil
}

// SetClock overrides the time source of every component.
func (e *Engine) SetClock(now func() time.Time) {
	e.index.SetClock(now)
	e.memories.SetClock(now)
	e.graph.SetClock(now)
	e.processor.SetClock(now)
	e.scheduler.SetClock(now)
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Metrics returns the metrics manager.
func (e *Engine) Metrics() *metrics.Manager { return e.metrics }

// Repository returns the backing repository.
func (e *Engine) Repository() store.Repository { return e.repo }

// Memory returns the memory store.
func (e *Engine) Memory() *memory.Store { return e.memories }

// Preferences returns the preference graph.
func (e *Engine) Preferences() *preference.Graph { return e.graph }

// Scheduler returns the forgetting-prevention scheduler.
func (e *Engine) Scheduler() *learning.Scheduler { return e.scheduler }

// Start runs background rehearsals until ctx ends or Close is called.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.Learning.RehearsalInterval > 0 {
		e.scheduler.Start(ctx, e.cfg.Learning.RehearsalInterval)
	}
}

// Close stops background work and closes the repository.
func (e *Engine) Close() error {
	e.scheduler.Stop()
	e.index.Close()
	return e.repo.Close()
}

func (e *Engine) lock(userID string) func() {
	e.mu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ProcessFeedback audits ev and runs it through the full write flow.
func (e *Engine) ProcessFeedback(ctx context.Context, ev *model.FeedbackEvent) (*Report, error) {
	if ev.UserID == "" {
		return nil, feedback.ErrMissingUser
	}
	unlock := e.lock(ev.UserID)
	defer unlock()

	updates, err := e.processor.ProcessFeedback(ev)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SaveFeedback(ctx, ev); err != nil {
		return nil, fmt.Errorf("audit feedback: %w", err)
	}
	e.metrics.RecordFeedback(string(ev.Type))
	return e.run(ctx, ev.UserID, updates), nil
}

// ProcessInteraction audits ev, feeds the behavioral analyzer and applies
// any resulting pattern update.
func (e *Engine) ProcessInteraction(ctx context.Context, ev *model.InteractionEvent) (*Report, error) {
	if ev.UserID == "" {
		return nil, feedback.ErrMissingUser
	}
	unlock := e.lock(ev.UserID)
	defer unlock()

	if err := e.warm(ctx, ev.UserID); err != nil {
		return nil, err
	}
	u, err := e.processor.ProcessInteraction(ev)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SaveInteraction(ctx, ev); err != nil {
		return nil, fmt.Errorf("audit interaction: %w", err)
	}
	var updates []*model.LearningUpdate
	if u != nil {
		updates = append(updates, u)
	}
	return e.run(ctx, ev.UserID, updates), nil
}

// warm replays a user's stored interactions into the behavioral windows
// the first time the user is seen by this process.
func (e *Engine) warm(ctx context.Context, userID string) error {
	e.mu.Lock()
	done := e.warmed[userID]
	e.warmed[userID] = true
	e.mu.Unlock()
	if done || e.cfg.Learning.WarmInteractions == 0 {
		return nil
	}

	events, err := e.repo.RecentInteractions(ctx, userID, e.cfg.Learning.WarmInteractions)
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	slices.Reverse(events)
	e.processor.Behavioral().Warm(events)
	e.log.Debug("behavioral state warmed", "user_id", userID, "interactions", len(events))
	return nil
}

// run integrates, protects and applies updates, auditing each one.
func (e *Engine) run(ctx context.Context, userID string, updates []*model.LearningUpdate) *Report {
	res := e.integrator.Integrate(updates)
	for _, c := range res.Conflicts {
		e.metrics.RecordConflict(string(c.Kind))
		e.log.Debug("update conflict resolved", "kind", c.Kind, "winner", c.Winner, "loser", c.Loser, "resolution", c.Resolution)
	}

	kept := make(map[string]bool, len(res.Updates))
	for _, u := range res.Updates {
		kept[u.ID] = true
		if _, err := e.scheduler.ProtectBeforeUpdate(ctx, userID, u); err != nil {
			e.log.Warn("forgetting protection failed", "update_id", u.ID, "error", err)
		}
	}
	for _, u := range updates {
		if u != nil && !kept[u.ID] {
			e.metrics.RecordUpdate(string(u.Type()), "dropped")
			e.audit(ctx, u, errDropped)
		}
	}

	report := &Report{Updates: res.Updates, Conflicts: res.Conflicts, Applied: []string{}}
	for _, o := range e.updater.ApplyBatch(ctx, res.Updates) {
		e.audit(ctx, o.Update, o.Err)
		if o.Err == nil {
			report.Applied = append(report.Applied, o.Update.ID)
		}
	}
	return report
}

func (e *Engine) audit(ctx context.Context, u *model.LearningUpdate, applyErr error) {
	rec := store.UpdateRecord{Update: *u, Applied: applyErr == nil, RecordedAt: time.Now().UTC()}
	if applyErr != nil {
		rec.Error = applyErr.Error()
	}
	if err := e.repo.SaveUpdate(ctx, rec); err != nil {
		e.log.Warn("audit update failed", "update_id", u.ID, "error", err)
	}
}

// StoreMemory saves a memory under the user's write lock.
func (e *Engine) StoreMemory(ctx context.Context, p memory.StoreParams) (*model.Memory, error) {
	unlock := e.lock(p.UserID)
	defer unlock()
	return e.memories.Store(ctx, p)
}

// Consolidate merges a user's near-duplicate memories.
func (e *Engine) Consolidate(ctx context.Context, userID string) (int, error) {
	unlock := e.lock(userID)
	defer unlock()
	return e.memories.Consolidate(ctx, userID)
}

// Forget removes a user's weak, stale memories. A zero threshold uses the configured one.
func (e *Engine) Forget(ctx context.Context, userID string, threshold float64) (int, error) {
	unlock := e.lock(userID)
	defer unlock()
	return e.memories.Forget(ctx, userID, threshold)
}

// DeleteMemory removes one of the user's memories. Memories owned by
// another user report ErrNotFound.
func (e *Engine) DeleteMemory(ctx context.Context, userID, id string) error {
	unlock := e.lock(userID)
	defer unlock()
	m, err := e.repo.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if m.UserID != userID {
		return fmt.Errorf("memory %s: %w", id, store.ErrNotFound)
	}
	return e.repo.DeleteMemory(ctx, id)
}

// AddPreference adds or merges a preference under the user's write lock.
func (e *Engine) AddPreference(ctx context.Context, p preference.AddParams) (*model.Preference, bool, error) {
	unlock := e.lock(p.UserID)
	defer unlock()
	return e.graph.AddPreference(ctx, p)
}

// Rehearse performs due rehearsals for a user.
func (e *Engine) Rehearse(ctx context.Context, userID string) (int, error) {
	unlock := e.lock(userID)
	defer unlock()
	return e.scheduler.PerformRehearsals(ctx, userID)
}

// Stats combines storage counts and protection status.
type Stats struct {
	*store.Stats
	Protection learning.Status `json:"protection"`
}

// Stats reports a user's stored knowledge and protection state.
func (e *Engine) Stats(ctx context.Context, userID string) (*Stats, error) {
	st, err := store.CollectStats(ctx, e.repo, userID, e.cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return &Stats{Stats: st, Protection: e.scheduler.Status(userID)}, nil
}

// Updates lists a user's audited learning updates, newest first.
func (e *Engine) Updates(ctx context.Context, userID string, limit int) ([]store.UpdateRecord, error) {
	return e.repo.ListUpdates(ctx, userID, limit)
}

// Export snapshots a user's knowledge.
func (e *Engine) Export(ctx context.Context, userID string) (*store.Snapshot, error) {
	return store.Export(ctx, e.repo, userID)
}

// Import restores a snapshot.
func (e *Engine) Import(ctx context.Context, snap *store.Snapshot) (store.ImportResult, error) {
	unlock := e.lock(snap.UserID)
	defer unlock()
	return store.Import(ctx, e.repo, snap)
}

// Package memory is the hierarchical memory surface: typed storage,
// multi-kind retrieval, consolidation of near-duplicates and forgetting of
// stale, unimportant entries.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/store"
	"github.com/rcliao/adaptive-memory/internal/vector"
)

var (
	// ErrInvalidKind is returned for a kind outside episodic, semantic and procedural.
	ErrInvalidKind = errors.New("memory: invalid kind")
	// ErrEmptyContent is returned when storing blank content.
	ErrEmptyContent = errors.New("memory: empty content")
)

// Recorder receives memory metrics.
type Recorder interface {
	ObserveRetrieval(d time.Duration)
	AddConsolidated(n int)
	AddForgotten(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRetrieval(time.Duration) {}
func (nopRecorder) AddConsolidated(int)            {}
func (nopRecorder) AddForgotten(int)               {}

// Options tunes consolidation, forgetting and retrieval defaults.
type Options struct {
	ConsolidationThreshold float64 // cosine above which entries merge
	ConsolidationBoost     float64 // importance added per cluster member
	ForgetThreshold        float64
	ForgetAge              time.Duration
	ForgetMinAccess        int
	DefaultTopK            int
	ScanLimit              int // entries considered by consolidate and forget
}

// DefaultOptions returns the standard memory settings.
func DefaultOptions() Options {
	return Options{
		ConsolidationThreshold: 0.8,
		ConsolidationBoost:     0.1,
		ForgetThreshold:        0.1,
		ForgetAge:              30 * 24 * time.Hour,
		ForgetMinAccess:        3,
		DefaultTopK:            10,
		ScanLimit:              10000,
	}
}

// Store is the hierarchical memory.
type Store struct {
	repo    store.MemoryRepository
	index   *vector.Index
	opts    Options
	log     logger.Logger
	metrics Recorder
	now     func() time.Time
}

// New creates a memory store. rec may be nil.
func New(repo store.MemoryRepository, index *vector.Index, opts Options, log logger.Logger, rec Recorder) *Store {
	def := DefaultOptions()
	if opts.ConsolidationThreshold <= 0 {
		opts.ConsolidationThreshold = def.ConsolidationThreshold
	}
	if opts.ConsolidationBoost <= 0 {
		opts.ConsolidationBoost = def.ConsolidationBoost
	}
	if opts.ForgetThreshold <= 0 {
		opts.ForgetThreshold = def.ForgetThreshold
	}
	if opts.ForgetAge <= 0 {
		opts.ForgetAge = def.ForgetAge
	}
	if opts.ForgetMinAccess <= 0 {
		opts.ForgetMinAccess = def.ForgetMinAccess
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = def.DefaultTopK
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = def.ScanLimit
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Store{
		repo:    repo,
		index:   index,
		opts:    opts,
		log:     logger.OrNop(log).With("component", "memory"),
		metrics: rec,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// StoreParams describes a memory to store.
type StoreParams struct {
	UserID     string
	Content    string
	Kind       model.Kind
	Importance float64
	Tags       []string
	Meta       map[string]string
}

// Store saves a new memory entry embedded against the current vocabulary.
func (s *Store) Store(ctx context.Context, p StoreParams) (*model.Memory, error) {
	if !model.ValidKinds[p.Kind] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, p.Kind)
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, ErrEmptyContent
	}
	now := s.now().UTC()
	m := &model.Memory{
		UserID:         p.UserID,
		Kind:           p.Kind,
		Content:        p.Content,
		Embedding:      s.index.Embed(p.Content),
		Importance:     model.Clamp01(p.Importance),
		CreatedAt:      now,
		LastAccessedAt: now,
		Tags:           p.Tags,
		Meta:           p.Meta,
	}
	if err := s.repo.SaveMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	s.log.DebugContext(ctx, "memory stored", "id", m.ID, "kind", m.Kind)
	return m, nil
}

// RetrieveParams holds parameters for retrieval.
type RetrieveParams struct {
	UserID        string
	Query         string
	Kinds         []model.Kind // empty means every kind
	TopK          int
	RecencyWeight float64
}

// Retrieve searches each requested kind, merges the results by score and
// records an access on every returned entry.
func (s *Store) Retrieve(ctx context.Context, p RetrieveParams) ([]vector.Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRetrieval(time.Since(start)) }()

	kinds := p.Kinds
	if len(kinds) == 0 {
		kinds = model.MemoryKinds
	}
	topK := p.TopK
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}

	var all []vector.Result
	for _, k := range kinds {
		if !model.ValidKinds[k] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, k)
		}
		res, err := s.index.SimilaritySearch(ctx, vector.SearchParams{
			UserID:        p.UserID,
			Query:         p.Query,
			Kind:          k,
			TopK:          topK,
			RecencyWeight: p.RecencyWeight,
		})
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", k, err)
		}
		all = append(all, res...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	if len(all) > topK {
		all = all[:topK]
	}

	now := s.now().UTC()
	for i := range all {
		if err := s.repo.UpdateAccess(ctx, all[i].Memory.ID); err != nil {
			s.log.WarnContext(ctx, "record access failed", "id", all[i].Memory.ID, "error", err)
			continue
		}
		all[i].Memory.AccessCount++
		all[i].Memory.LastAccessedAt = now
	}
	if all == nil {
		all = []vector.Result{}
	}
	return all, nil
}

// Consolidate merges clusters of near-duplicate entries across kinds. Each
// cluster keeps its most important, most accessed member, boosted by the
// cluster size; the rest are deleted. It repeats until nothing merges and
// returns the number of deleted entries.
func (s *Store) Consolidate(ctx context.Context, userID string) (int, error) {
	total := 0
	for {
		memories, err := s.repo.ListMemories(ctx, store.ListParams{UserID: userID, Limit: s.opts.ScanLimit})
		if err != nil {
			return total, err
		}
		if len(memories) < 2 {
			break
		}
		_, vecs, err := s.index.Rebuild(ctx, memories)
		if err != nil {
			return total, err
		}

		merged := 0
		for _, cluster := range clusters(vecs, s.opts.ConsolidationThreshold) {
			if len(cluster) < 2 {
				continue
			}
			keep := cluster[0]
			for _, i := range cluster[1:] {
				if outranks(memories[i], memories[keep]) {
					keep = i
				}
			}
			primary := memories[keep]
			primary.Importance = model.Clamp01(primary.Importance + s.opts.ConsolidationBoost*float64(len(cluster)))
			primary.Embedding = vecs[keep]
			if err := s.repo.SaveMemory(ctx, &primary); err != nil {
				return total + merged, fmt.Errorf("save consolidated memory: %w", err)
			}
			for _, i := range cluster {
				if i == keep {
					continue
				}
				if err := s.repo.DeleteMemory(ctx, memories[i].ID); err != nil {
					return total + merged, fmt.Errorf("delete merged memory: %w", err)
				}
				merged++
			}
		}
		if merged == 0 {
			break
		}
		total += merged
	}

	s.metrics.AddConsolidated(total)
	if total > 0 {
		s.log.InfoContext(ctx, "memories consolidated", "user", userID, "removed", total)
	}
	return total, nil
}

func outranks(a, b model.Memory) bool {
	if a.Importance != b.Importance {
		return a.Importance > b.Importance
	}
	return a.AccessCount > b.AccessCount
}

// clusters groups vector indexes by single-link similarity above threshold.
// Clusters and their members are in ascending index order.
func clusters(vecs [][]float64, threshold float64) [][]int {
	parent := make([]int, len(vecs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := range vecs {
		for j := i + 1; j < len(vecs); j++ {
			if vector.CosineSimilarity(vecs[i], vecs[j]) > threshold {
				ri, rj := find(i), find(j)
				if ri != rj {
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
			}
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for i := range vecs {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out
}

// Forget deletes entries that are unimportant, untouched for longer than
// the forget age and rarely accessed. A threshold of zero uses the default.
func (s *Store) Forget(ctx context.Context, userID string, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = s.opts.ForgetThreshold
	}
	memories, err := s.repo.ListMemories(ctx, store.ListParams{UserID: userID, Limit: s.opts.ScanLimit})
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, m := range memories {
		if m.Importance < threshold &&
			now.Sub(m.LastAccessedAt) > s.opts.ForgetAge &&
			m.AccessCount < s.opts.ForgetMinAccess {
			if err := s.repo.DeleteMemory(ctx, m.ID); err != nil {
				return removed, fmt.Errorf("forget %s: %w", m.ID, err)
			}
			removed++
		}
	}

	s.metrics.AddForgotten(removed)
	if removed > 0 {
		s.log.InfoContext(ctx, "memories forgotten", "user", userID, "removed", removed)
	}
	return removed, nil
}

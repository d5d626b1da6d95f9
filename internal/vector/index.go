package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/adaptive-memory/internal/logger"
	"github.com/rcliao/adaptive-memory/internal/model"
	"github.com/rcliao/adaptive-memory/internal/similarity"
	"github.com/rcliao/adaptive-memory/internal/store"
)

// Options tunes the index.
type Options struct {
	CandidateLimit int     // memories considered per kind
	Workers        int     // parallel embedding workers
	DecayDays      float64 // recency half-life scale
	CacheEntries   int64   // tokenization cache capacity
}

// DefaultOptions returns the standard index settings.
func DefaultOptions() Options {
	return Options{
		CandidateLimit: 1000,
		Workers:        4,
		DecayDays:      30,
		CacheEntries:   10000,
	}
}

// SearchParams holds parameters for a similarity search.
type SearchParams struct {
	UserID        string
	Query         string
	Kind          model.Kind // empty searches every kind
	TopK          int
	RecencyWeight float64
}

// Result is a scored memory.
type Result struct {
	Memory model.Memory `json:"memory"`
	Score  float64      `json:"score"`
}

// Index embeds memory content and runs similarity searches. The vocabulary
// is corpus-relative: each search rebuilds it from the candidate set plus
// the query, so scores are comparable only within one search.
type Index struct {
	repo   store.MemoryRepository
	opts   Options
	log    logger.Logger
	tokens *ristretto.Cache[string, []string]
	now    func() time.Time

	mu    sync.RWMutex
	vocab *Vocabulary
}

// New creates an index over repo.
func New(repo store.MemoryRepository, opts Options, log logger.Logger) (*Index, error) {
	def := DefaultOptions()
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = def.CandidateLimit
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.DecayDays <= 0 {
		opts.DecayDays = def.DecayDays
	}
	if opts.CacheEntries <= 0 {
		opts.CacheEntries = def.CacheEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []string]{
		NumCounters: opts.CacheEntries * 10,
		MaxCost:     opts.CacheEntries,
		BufferItems: 64,

		// Cost is one per entry, so MaxCost is an entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}

	return &Index{
		repo:   repo,
		opts:   opts,
		log:    logger.OrNop(log).With("component", "vector"),
		tokens: cache,
		now:    time.Now,
	}, nil
}

// Close releases the token cache.
func (ix *Index) Close() {
	ix.tokens.Close()
}

// SetClock overrides the time source.
func (ix *Index) SetClock(now func() time.Time) {
	ix.now = now
}

// Tokens returns the cached tokenization of text. Callers must not modify the result.
func (ix *Index) Tokens(text string) []string {
	if toks, ok := ix.tokens.Get(text); ok {
		return toks
	}
	toks := similarity.Tokenize(text)
	ix.tokens.Set(text, toks, 1)
	return toks
}

// Vocabulary returns the snapshot from the most recent rebuild, or nil.
func (ix *Index) Vocabulary() *Vocabulary {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.vocab
}

// Embed vectorizes text against the current vocabulary snapshot. With no
// snapshot yet, a vocabulary is built from text alone.
func (ix *Index) Embed(text string) []float64 {
	toks := ix.Tokens(text)
	v := ix.Vocabulary()
	if v == nil {
		v = NewVocabulary([][]string{toks})
	}
	return v.Embed(toks)
}

// Rebuild builds a vocabulary from memories plus extra texts, stores it as
// the current snapshot and returns it with one vector per memory.
func (ix *Index) Rebuild(ctx context.Context, memories []model.Memory, extra ...string) (*Vocabulary, [][]float64, error) {
	docs := make([][]string, 0, len(memories)+len(extra))
	for _, m := range memories {
		docs = append(docs, ix.Tokens(m.Content))
	}
	for _, t := range extra {
		docs = append(docs, ix.Tokens(t))
	}
	vocab := NewVocabulary(docs)

	vecs := make([][]float64, len(memories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for i := range memories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs[i] = vocab.Embed(docs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	ix.mu.Lock()
	ix.vocab = vocab
	ix.mu.Unlock()
	return vocab, vecs, nil
}

// SimilaritySearch ranks a user's memories of one kind against the query.
// Stored embeddings whose dimension no longer matches the rebuilt
// vocabulary are written back.
func (ix *Index) SimilaritySearch(ctx context.Context, p SearchParams) ([]Result, error) {
	memories, err := ix.repo.ListMemories(ctx, store.ListParams{
		UserID: p.UserID,
		Kind:   p.Kind,
		Limit:  ix.opts.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return []Result{}, nil
	}

	vocab, vecs, err := ix.Rebuild(ctx, memories, p.Query)
	if err != nil {
		return nil, err
	}
	query := vocab.Embed(ix.Tokens(p.Query))

	now := ix.now()
	results := make([]Result, 0, len(memories))
	for i, m := range memories {
		if len(m.Embedding) != len(vecs[i]) {
			m.Embedding = vecs[i]
			if err := ix.repo.UpdateEmbedding(ctx, m.ID, vecs[i]); err != nil {
				ix.log.WarnContext(ctx, "refresh embedding failed", "id", m.ID, "error", err)
			}
		}
		cos := CosineSimilarity(query, vecs[i])
		days := now.Sub(m.LastAccessedAt).Hours() / 24
		results = append(results, Result{
			Memory: m,
			Score:  Score(cos, m.Importance, days, p.RecencyWeight, ix.opts.DecayDays),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if p.TopK > 0 && len(results) > p.TopK {
		results = results[:p.TopK]
	}
	return results, nil
}

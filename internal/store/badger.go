package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rcliao/adaptive-memory/internal/model"
)

// Key layout:
//
//	mem:{user}:{id}   memory entry      memid:{id}   -> user
//	pref:{user}:{id}  preference        prefid:{id}  -> user
//	rule:{user}:{id}  rule
//	fb:{user}:{id}    feedback event
//	ix:{user}:{id}    interaction
//	upd:{user}:{id}   audited update
const (
	memPrefix    = "mem:"
	memIDPrefix  = "memid:"
	prefPrefix   = "pref:"
	prefIDPrefix = "prefid:"
	rulePrefix   = "rule:"
	fbPrefix     = "fb:"
	ixPrefix     = "ix:"
	updPrefix    = "upd:"
)

// BadgerStore implements Repository on an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens or creates a Badger database in dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func userKey(prefix, userID, id string) []byte {
	return []byte(prefix + userID + ":" + id)
}

func userPrefix(prefix, userID string) []byte {
	return []byte(prefix + userID + ":")
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// ownerOf resolves the user an id-indexed entity belongs to.
func ownerOf(txn *badger.Txn, idPrefix, id string) (string, error) {
	item, err := txn.Get([]byte(idPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	var user string
	err = item.Value(func(val []byte) error {
		user = string(val)
		return nil
	})
	return user, err
}

func scanPrefix[T any](db *badger.DB, prefix []byte) ([]T, error) {
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func countPrefix(db *badger.DB, prefix []byte) (int, error) {
	count := 0
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// --- Memories ---

func (s *BadgerStore) SaveMemory(ctx context.Context, m *model.Memory) error {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = m.CreatedAt
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(memIDPrefix+m.ID), []byte(m.UserID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(memPrefix, m.UserID, m.ID), m)
	})
}

func (s *BadgerStore) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	var m model.Memory
	err := s.db.View(func(txn *badger.Txn) error {
		user, err := ownerOf(txn, memIDPrefix, id)
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(memPrefix, user, id), &m)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BadgerStore) ListMemories(ctx context.Context, p ListParams) ([]model.Memory, error) {
	all, err := scanPrefix[model.Memory](s.db, userPrefix(memPrefix, p.UserID))
	if err != nil {
		return nil, err
	}
	memories := all[:0]
	for _, m := range all {
		if m.UserID == p.UserID && (p.Kind == "" || m.Kind == p.Kind) {
			memories = append(memories, m)
		}
	}
	sort.SliceStable(memories, func(i, j int) bool {
		if !memories[i].LastAccessedAt.Equal(memories[j].LastAccessedAt) {
			return memories[i].LastAccessedAt.After(memories[j].LastAccessedAt)
		}
		return memories[i].ID < memories[j].ID
	})
	if p.Limit > 0 && len(memories) > p.Limit {
		memories = memories[:p.Limit]
	}
	return memories, nil
}

func (s *BadgerStore) UpdateAccess(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		user, err := ownerOf(txn, memIDPrefix, id)
		if err != nil {
			return err
		}
		key := userKey(memPrefix, user, id)
		var m model.Memory
		if err := getJSON(txn, key, &m); err != nil {
			return err
		}
		m.AccessCount++
		m.LastAccessedAt = time.Now().UTC()
		return setJSON(txn, key, &m)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return err
}

func (s *BadgerStore) UpdateEmbedding(ctx context.Context, id string, embedding []float64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		user, err := ownerOf(txn, memIDPrefix, id)
		if err != nil {
			return err
		}
		key := userKey(memPrefix, user, id)
		var m model.Memory
		if err := getJSON(txn, key, &m); err != nil {
			return err
		}
		m.Embedding = embedding
		return setJSON(txn, key, &m)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return err
}

func (s *BadgerStore) DeleteMemory(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		user, err := ownerOf(txn, memIDPrefix, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(userKey(memPrefix, user, id)); err != nil {
			return err
		}
		return txn.Delete([]byte(memIDPrefix + id))
	})
}

// --- Preferences ---

func (s *BadgerStore) SavePreference(ctx context.Context, p *model.Preference) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefIDPrefix+p.ID), []byte(p.UserID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(prefPrefix, p.UserID, p.ID), p)
	})
}

func (s *BadgerStore) GetPreference(ctx context.Context, id string) (*model.Preference, error) {
	var p model.Preference
	err := s.db.View(func(txn *badger.Txn) error {
		user, err := ownerOf(txn, prefIDPrefix, id)
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(prefPrefix, user, id), &p)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("preference %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BadgerStore) ListPreferences(ctx context.Context, userID, category string) ([]model.Preference, error) {
	all, err := scanPrefix[model.Preference](s.db, userPrefix(prefPrefix, userID))
	if err != nil {
		return nil, err
	}
	prefs := all[:0]
	for _, p := range all {
		if p.UserID == userID && (category == "" || p.Category == category) {
			prefs = append(prefs, p)
		}
	}
	sort.SliceStable(prefs, func(i, j int) bool {
		if prefs[i].Strength != prefs[j].Strength {
			return prefs[i].Strength > prefs[j].Strength
		}
		return prefs[i].ID < prefs[j].ID
	})
	return prefs, nil
}

func (s *BadgerStore) UpdateStrength(ctx context.Context, id string, strength float64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		user, err := ownerOf(txn, prefIDPrefix, id)
		if err != nil {
			return err
		}
		key := userKey(prefPrefix, user, id)
		var p model.Preference
		if err := getJSON(txn, key, &p); err != nil {
			return err
		}
		p.Strength = strength
		p.UpdatedAt = time.Now().UTC()
		return setJSON(txn, key, &p)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("preference %s: %w", id, ErrNotFound)
	}
	return err
}

// --- Rules ---

func (s *BadgerStore) SaveRule(ctx context.Context, r *model.Rule) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(rulePrefix, r.UserID, r.ID), r)
	})
}

func (s *BadgerStore) ListRules(ctx context.Context, userID string) ([]model.Rule, error) {
	rules, err := scanPrefix[model.Rule](s.db, userPrefix(rulePrefix, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Strength != rules[j].Strength {
			return rules[i].Strength > rules[j].Strength
		}
		return rules[i].ID < rules[j].ID
	})
	return rules, nil
}

// --- Audit log ---

func (s *BadgerStore) SaveFeedback(ctx context.Context, e *model.FeedbackEvent) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(fbPrefix, e.UserID, e.ID), e)
	})
}

func (s *BadgerStore) SaveInteraction(ctx context.Context, e *model.InteractionEvent) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(ixPrefix, e.UserID, e.ID), e)
	})
}

func (s *BadgerStore) RecentInteractions(ctx context.Context, userID string, limit int) ([]model.InteractionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := scanPrefix[model.InteractionEvent](s.db, userPrefix(ixPrefix, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *BadgerStore) SaveUpdate(ctx context.Context, rec UpdateRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, userKey(updPrefix, rec.Update.UserID, rec.Update.ID), rec)
	})
}

func (s *BadgerStore) ListUpdates(ctx context.Context, userID string, limit int) ([]UpdateRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	records, err := scanPrefix[UpdateRecord](s.db, userPrefix(updPrefix, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecordedAt.After(records[j].RecordedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *BadgerStore) CountAudit(ctx context.Context, userID string) (AuditCounts, error) {
	var c AuditCounts
	var err error
	if c.FeedbackEvents, err = countPrefix(s.db, userPrefix(fbPrefix, userID)); err != nil {
		return c, err
	}
	if c.Interactions, err = countPrefix(s.db, userPrefix(ixPrefix, userID)); err != nil {
		return c, err
	}
	records, err := scanPrefix[UpdateRecord](s.db, userPrefix(updPrefix, userID))
	if err != nil {
		return c, err
	}
	c.Updates = len(records)
	for _, r := range records {
		if r.Applied {
			c.AppliedUpdates++
		}
	}
	return c, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

package kv

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/pokerbot/internal/kv"
)

// MemoryStore keeps items in process memory. It is used for local development
// and as the store under the repository tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[kv.Key]kv.Item
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[kv.Key]kv.Item),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for expiry checks.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Put(ctx context.Context, item kv.Item, cond *kv.Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !cond.Holds(s.liveLocked(item.Key)) {
		return &kv.ConditionFailedError{Index: 0, Key: item.Key}
	}
	s.items[item.Key] = cloneItem(item)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key kv.Key) (*kv.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.liveLocked(key)
	if it == nil {
		return nil, nil
	}
	out := cloneItem(*it)
	return &out, nil
}

func (s *MemoryStore) Query(ctx context.Context, pk, skPrefix string) ([]kv.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var list []kv.Item
	for k, it := range s.items {
		if k.PK != pk || !strings.HasPrefix(k.SK, skPrefix) {
			continue
		}
		if it.Expired(now) {
			delete(s.items, k)
			continue
		}
		list = append(list, cloneItem(it))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SK < list[j].SK })
	return list, nil
}

func (s *MemoryStore) Transact(ctx context.Context, ops []kv.Op) error {
	if err := kv.ValidateTransact(ops); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range ops {
		if !op.Condition.Holds(s.liveLocked(op.Key)) {
			return &kv.ConditionFailedError{Index: i, Key: op.Key}
		}
	}
	for _, op := range ops {
		switch op.Kind {
		case kv.OpPut:
			s.items[op.Key] = cloneItem(op.Item)
		case kv.OpUpdate:
			it, ok := s.items[op.Key]
			if !ok || it.Expired(s.now()) {
				it = kv.Item{Key: op.Key}
			}
			it = cloneItem(it)
			if it.Attrs == nil {
				it.Attrs = make(map[string]string, len(op.Set))
			}
			maps.Copy(it.Attrs, op.Set)
			s.items[op.Key] = it
		case kv.OpDelete:
			delete(s.items, op.Key)
		}
	}
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, it := range s.items {
		if it.Expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) liveLocked(key kv.Key) *kv.Item {
	it, ok := s.items[key]
	if !ok {
		return nil
	}
	if it.Expired(s.now()) {
		delete(s.items, key)
		return nil
	}
	return &it
}

func cloneItem(it kv.Item) kv.Item {
	it.Attrs = maps.Clone(it.Attrs)
	return it
}

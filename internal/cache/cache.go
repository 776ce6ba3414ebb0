// Package cache is the read-through cache shared by every API process. Reads
// populate it, mutations invalidate explicit key sets right after commit, and
// an unreachable backend degrades to pass-through.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Cache is safe for concurrent use. Implementations never surface backend
// failures: Get reports a miss, Set and Invalidate do nothing.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, keys KeySet)
}

// KeySet is the set of entries a mutation makes stale. Exact keys are deleted
// directly, patterns are glob matched.
type KeySet struct {
	exact    map[string]struct{}
	patterns map[string]struct{}
}

func NewKeySet(keys ...string) KeySet {
	var set KeySet
	set.Add(keys...)
	return set
}

func (s *KeySet) Add(keys ...string) {
	if s.exact == nil {
		s.exact = make(map[string]struct{})
	}
	for _, key := range keys {
		if key != "" {
			s.exact[key] = struct{}{}
		}
	}
}

func (s *KeySet) AddPattern(patterns ...string) {
	if s.patterns == nil {
		s.patterns = make(map[string]struct{})
	}
	for _, pattern := range patterns {
		if pattern != "" {
			s.patterns[pattern] = struct{}{}
		}
	}
}

func (s *KeySet) Merge(other KeySet) {
	for key := range other.exact {
		s.Add(key)
	}
	for pattern := range other.patterns {
		s.AddPattern(pattern)
	}
}

// Keys returns the exact keys sorted.
func (s KeySet) Keys() []string {
	return sortedKeys(s.exact)
}

// Patterns returns the glob patterns sorted.
func (s KeySet) Patterns() []string {
	return sortedKeys(s.patterns)
}

func (s KeySet) Contains(key string) bool {
	_, ok := s.exact[key]
	return ok
}

func (s KeySet) Empty() bool {
	return len(s.exact) == 0 && len(s.patterns) == 0
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Fetch returns the cached value for key or calls load, stores its JSON
// encoding for ttl and returns it. Decode failures count as misses.
func Fetch[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if raw, ok := c.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if encoded, err := json.Marshal(value); err == nil {
		c.Set(ctx, key, encoded, ttl)
	}
	return value, nil
}

// Noop caches nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
func (Noop) Invalidate(context.Context, KeySet)                 {}

// Package cache memoizes group lookups in a key-value store.
// Writers invalidate the keys they touch; there is no other consistency mechanism.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "forums"

// Cache is the memoization surface the services rely on
type Cache interface {
	// Get decodes the cached value into dest and reports whether it was present
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// GroupKey caches a group row by id
func GroupKey(groupID uint) string {
	return fmt.Sprintf("%s:group:%d", keyNamespace, groupID)
}

// RoleKey caches a user's role in a group ("" when not a member)
func RoleKey(groupID, userID uint) string {
	return fmt.Sprintf("%s:group:%d:role:%d", keyNamespace, groupID, userID)
}

// Redis stores JSON-encoded values in redis with a fixed TTL
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client. A zero ttl means no expiry.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Connect opens a redis client and verifies connectivity
func Connect(ctx context.Context, addr, password string, db, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

type memoryEntry struct {
	raw     []byte
	expires time.Time
}

// MemoryMaxEntries bounds the in-process cache
const MemoryMaxEntries = 10000

// Memory is an in-process cache used when redis is disabled.
// Expired entries are swept by Set at most once per TTL, and the map never
// grows past maxEntries.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	entries    map[string]memoryEntry
	now        func() time.Time
	maxEntries int
	nextSweep  time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now, maxEntries: MemoryMaxEntries}
}

// Len reports how many entries are held, expired ones included
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// makeRoom must be called with mu held
func (m *Memory) makeRoom(now time.Time, key string) {
	if m.ttl > 0 && !now.Before(m.nextSweep) {
		for k, e := range m.entries {
			if now.After(e.expires) {
				delete(m.entries, k)
			}
		}
		m.nextSweep = now.Add(m.ttl)
	}
	if _, exists := m.entries[key]; exists {
		return
	}
	for k := range m.entries {
		if len(m.entries) < m.maxEntries {
			break
		}
		delete(m.entries, k)
	}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.ttl > 0 && m.now().After(entry.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	m.mu.Lock()
	now := m.now()
	m.makeRoom(now, key)
	m.entries[key] = memoryEntry{raw: raw, expires: now.Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the server-side state for one phone number.
type Record struct {
	Phone    string    `json:"phone"`
	CodeHash string    `json:"code_hash,omitempty"`
	Attempts int       `json:"attempts"`
	SentAt   time.Time `json:"sent_at"`
	// ExpiresAt is when the current code stops being accepted.
	ExpiresAt time.Time `json:"expires_at"`
	// LockedUntil blocks sends and verifies after too many wrong codes.
	LockedUntil time.Time `json:"locked_until,omitempty"`
}

// retainUntil is the last instant the record still matters.
func (r Record) retainUntil() time.Time {
	if r.LockedUntil.After(r.ExpiresAt) {
		return r.LockedUntil
	}
	return r.ExpiresAt
}

// Store persists records keyed by phone number.
type Store interface {
	Get(ctx context.Context, phone string) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, phone string) error
}

// MemoryStore keeps records in a map; it is the default for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (m *MemoryStore) Get(_ context.Context, phone string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[phone]
	return rec, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Phone] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, phone)
	return nil
}

// RedisStore keeps records as JSON under otp:<phone> with a TTL that covers
// both the code lifetime and any lock.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, clock func() time.Time) *RedisStore {
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{client: client, clock: clock}
}

// DialRedis connects to addr and checks it answers PING.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("stubserver: redis ping %s: %w", addr, err)
	}
	return client, nil
}

func redisKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}

func (r *RedisStore) Get(ctx context.Context, phone string) (Record, bool, error) {
	data, err := r.client.Get(ctx, redisKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("stubserver: redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("stubserver: decode record: %w", err)
	}
	return rec, true, nil
}

func (r *RedisStore) Put(ctx context.Context, rec Record) error {
	ttl := rec.retainUntil().Sub(r.clock())
	if ttl <= 0 {
		return r.Delete(ctx, rec.Phone)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("stubserver: encode record: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(rec.Phone), data, ttl).Err(); err != nil {
		return fmt.Errorf("stubserver: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, redisKey(phone)).Err(); err != nil {
		return fmt.Errorf("stubserver: redis del: %w", err)
	}
	return nil
}

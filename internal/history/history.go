// Package history keeps a processing log in Redis. Records hold metadata
// and counts only: no document text, detected values or replacements.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/pkg/pii"
)

const (
	defaultTTL        = 30 * 24 * time.Hour
	defaultMaxEntries = 1000
	indexKey          = "lexveil:history:index"
)

// ErrNotFound is returned for unknown or expired records.
var ErrNotFound = errors.New("history record not found")

// Status of a processing run
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record describes one processing run
type Record struct {
	ID            string               `json:"id"`
	Filename      string               `json:"filename,omitempty"`
	FileType      string               `json:"file_type,omitempty"`
	FileSize      int64                `json:"file_size,omitempty"`
	Source        string               `json:"source,omitempty"`
	Options       processor.Options    `json:"options"`
	Status        Status               `json:"status"`
	TotalPatterns int                  `json:"total_patterns"`
	PatternCounts map[pii.Category]int `json:"pattern_counts,omitempty"`
	Replacements  int                  `json:"replacements"`
	Fallbacks     int                  `json:"fallbacks"`
	DurationMS    int64                `json:"duration_ms,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// Store persists records as JSON strings with a TTL, indexed by creation
// time in a sorted set.
type Store struct {
	client     *redis.Client
	ttl        time.Duration
	maxEntries int64
}

// New creates a Store connected to the given Redis instance
func New(addr, password string, db int) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client)
}

// NewWithClient creates a Store from an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{
		client:     client,
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
	}
}

// SetTTL configures how long records are kept
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// SetMaxEntries caps the index size; older entries are dropped. 0 disables the cap.
func (s *Store) SetMaxEntries(n int64) {
	s.maxEntries = n
}

// Ping checks Redis connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func recordKey(id string) string {
	return fmt.Sprintf("lexveil:history:%s", id)
}

// Create stores a new record in the processing state. An empty ID is
// filled with a fresh UUID.
func (s *Store) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = StatusProcessing

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(rec.ID), data, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
	if s.maxEntries > 0 {
		pipe.ZRemRangeByRank(ctx, indexKey, 0, -s.maxEntries-1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Complete marks a record completed with the counts from res.
func (s *Store) Complete(ctx context.Context, id string, res *processor.Result) error {
	return s.update(ctx, id, func(rec *Record) {
		now := time.Now().UTC()
		rec.Status = StatusCompleted
		rec.CompletedAt = &now
		rec.TotalPatterns = res.Summary.TotalPatterns
		rec.PatternCounts = res.Summary.ByType
		rec.Replacements = res.Summary.Replacements
		rec.Fallbacks = res.Summary.Fallbacks
		rec.DurationMS = res.Duration.Milliseconds()
		rec.Error = ""
	})
}

// Fail marks a record failed.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	return s.update(ctx, id, func(rec *Record) {
		now := time.Now().UTC()
		rec.Status = StatusFailed
		rec.CompletedAt = &now
		if cause != nil {
			rec.Error = cause.Error()
		}
	})
}

func (s *Store) update(ctx context.Context, id string, fn func(*Record)) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(rec)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.client.Set(ctx, recordKey(id), data, redis.KeepTTL).Err()
}

// Get returns one record
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns up to limit records, newest first. Expired records are
// dropped from the index as they are found.
func (s *Store) List(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(vals))
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	if len(expired) > 0 {
		s.client.ZRem(ctx, indexKey, expired...)
	}
	return records, nil
}

// Delete removes a record
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, recordKey(id))
	pipe.ZRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close shuts down the Redis client
func (s *Store) Close() error {
	return s.client.Close()
}

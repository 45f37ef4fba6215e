package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

const keyPrefix = "tenderflow:invocation:"

// ResultStorage implements ports.ResultStorage on Redis with a TTL per
// record.
type ResultStorage struct {
	client redis.UniversalClient
	codec  Codec
	logger *zap.Logger
	ttl    time.Duration
}

// NewResultStorage creates a new Redis result storage. A nil codec means
// JSON; a zero ttl keeps records forever.
func NewResultStorage(client redis.UniversalClient, codec Codec, ttl time.Duration, logger *zap.Logger) *ResultStorage {
	if codec == nil {
		codec = jsonCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStorage{
		client: client,
		codec:  codec,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists record and refreshes its TTL
func (s *ResultStorage) Save(ctx context.Context, record *domain.InvocationRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}

	data, err := s.codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := s.client.Set(ctx, getRecordKey(record.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	s.logger.Debug("record saved",
		zap.String("invocation_id", record.ID),
		zap.String("status", string(record.Status)),
		zap.String("codec", s.codec.Name()))

	return nil
}

// Get retrieves the record with id
func (s *ResultStorage) Get(ctx context.Context, id string) (*domain.InvocationRecord, error) {
	data, err := s.client.Get(ctx, getRecordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("invocation %s: %w", id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record domain.InvocationRecord
	if err := s.codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &record, nil
}

// List returns the ids of all stored records
func (s *ResultStorage) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var ids []string

	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, key := range batch {
			if id := strings.TrimPrefix(key, keyPrefix); id != "" && id != key {
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return ids, nil
}

// Delete removes the record with id
func (s *ResultStorage) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, getRecordKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("invocation %s: %w", id, ports.ErrNotFound)
	}

	s.logger.Debug("record deleted", zap.String("invocation_id", id))
	return nil
}

// getRecordKey returns the Redis key for an invocation record
func getRecordKey(id string) string {
	return keyPrefix + id
}

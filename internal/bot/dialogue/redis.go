package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ozonbot/internal/domain"
	"ozonbot/internal/security/secretbox"
)

// RedisStore keeps dialogues under dialogue:<telegram_id> with a TTL. The
// pending token is sealed before it leaves the process.
type RedisStore struct {
	client *redis.Client
	box    *secretbox.Box
	ttl    time.Duration
}

func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client, box *secretbox.Box, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, box: box, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, telegramID int64) (domain.Dialogue, error) {
	data, err := s.client.Get(ctx, key(telegramID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Idle(), nil
	}
	if err != nil {
		return domain.Dialogue{}, fmt.Errorf("get dialogue %d: %w", telegramID, err)
	}
	var d domain.Dialogue
	if err := json.Unmarshal(data, &d); err != nil {
		return domain.Dialogue{}, fmt.Errorf("decode dialogue %d: %w", telegramID, err)
	}
	if d.PendingToken != "" {
		plain, err := s.box.Decrypt(d.PendingToken)
		if err != nil {
			return domain.Dialogue{}, fmt.Errorf("open pending token %d: %w", telegramID, err)
		}
		d.PendingToken = plain
	}
	return d, nil
}

func (s *RedisStore) Set(ctx context.Context, telegramID int64, d domain.Dialogue) error {
	if d.State == domain.StateIdle || d.State == "" {
		return s.Clear(ctx, telegramID)
	}
	if d.PendingToken != "" {
		sealed, err := s.box.Encrypt(d.PendingToken)
		if err != nil {
			return fmt.Errorf("seal pending token: %w", err)
		}
		d.PendingToken = sealed
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(telegramID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set dialogue %d: %w", telegramID, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, telegramID int64) error {
	if err := s.client.Del(ctx, key(telegramID)).Err(); err != nil {
		return fmt.Errorf("clear dialogue %d: %w", telegramID, err)
	}
	return nil
}

func key(telegramID int64) string {
	return fmt.Sprintf("dialogue:%d", telegramID)
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	maxTxRetries = 5
	loadTimeout  = 5 * time.Second
)

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client:  client,
		baseTTL: ttl,
	}
}

// RedisBackend stores each session as one JSON document.
type RedisBackend struct {
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group // collapses concurrent reads of the same session
}

func (r *RedisBackend) Session(id string) Store {
	return &redisStore{backend: r, key: sessionKey(id)}
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) ttl() time.Duration {
	if r.baseTTL <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	return r.baseTTL + jitter
}

func (r *RedisBackend) load(ctx context.Context, key string) (map[string]any, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeDocument(data)
}

// update runs fn over the session document inside a WATCH transaction and
// writes the document back when fn reports a change.
func (r *RedisBackend) update(ctx context.Context, key string, fn func(doc map[string]any) bool) (bool, error) {
	var changed bool
	txf := func(tx *redis.Tx) error {
		doc := map[string]any{}
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get failed: %w", err)
		}
		if err == nil {
			if doc, err = decodeDocument(data); err != nil {
				return err
			}
		}

		changed = fn(doc)
		if !changed {
			return nil
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal session failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(doc) == 0 {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, payload, r.ttl())
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return changed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, err
	}
	return false, ErrConflict
}

type redisStore struct {
	backend *RedisBackend
	key     string
}

func (s *redisStore) Get(ctx context.Context, path string, def any) (any, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}

	// joined readers share this load, so it is detached from the caller's ctx
	ch := s.backend.sfg.DoChan(s.key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.backend.load(loadCtx, s.key)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	value, ok := lookup(res.Val.(map[string]any), segments)
	if !ok {
		return def, nil
	}
	// the document may be shared with concurrent callers
	return deepCopy(value), nil
}

func (s *redisStore) Put(ctx context.Context, path string, value any) error {
	segments, err := Split(path)
	if err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	_, err = s.backend.update(ctx, s.key, func(doc map[string]any) bool {
		assign(doc, segments, normalized)
		return true
	})
	if err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

func (s *redisStore) Forget(ctx context.Context, path string) (bool, error) {
	segments, err := Split(path)
	if err != nil {
		return false, err
	}

	removed, err := s.backend.update(ctx, s.key, func(doc map[string]any) bool {
		return remove(doc, segments)
	})
	if err != nil {
		return false, fmt.Errorf("redis forget failed: %w", err)
	}
	return removed, nil
}

func decodeDocument(data []byte) (map[string]any, error) {
	decoded, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	if decoded == nil {
		return map[string]any{}, nil
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unmarshal session failed: unexpected %T", decoded)
	}
	return doc, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Package redisengine reads run events from Redis lists.
//
// The engine side pushes each JSON event with RPUSH onto the list
// "<prefix><reporterId>"; the source pops them in order with BLPOP. It only
// supplies events and is combined with another engine through
// engine.WithEventSource.
package redisengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

const (
	DefaultKeyPrefix    = "ut:events:"
	DefaultPollInterval = time.Second
	// DefaultKeyTTL expires the list of a run that was never fully consumed
	DefaultKeyTTL = time.Hour
)

type Config struct {
	URL          string
	KeyPrefix    string
	PollInterval time.Duration
	KeyTTL       time.Duration
}

func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisengine: parse url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func CheckRedisConnection(client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisengine: error connecting to redis: %w", err)
	}
	return nil
}

// Source hands out one list-backed event source per run
type Source struct {
	client redis.UniversalClient
	cfg    Config
	log    log.Logger
}

func NewSource(client redis.UniversalClient, cfg Config, lgr log.Logger) *Source {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	// BLPOP timeouts have a resolution of one second
	if cfg.PollInterval < time.Second {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = DefaultKeyTTL
	}
	return &Source{client: client, cfg: cfg, log: lgr}
}

// Key returns the list holding the events of a run
func (s *Source) Key(reporterID string) string {
	return s.cfg.KeyPrefix + reporterID
}

// Factory returns the source factory to pass to engine.WithEventSource
func (s *Source) Factory() engine.SourceFactory {
	return func(reporterID string) engine.EventSource {
		return engine.EventSourceFunc(func(ctx context.Context, onEvent func(types.Event)) error {
			return s.consume(ctx, s.Key(reporterID), onEvent)
		})
	}
}

// Publish appends an event to the list of a run
func (s *Source) Publish(ctx context.Context, reporterID string, ev types.Event) error {
	payload, err := types.EncodeEvent(ev)
	if err != nil {
		return err
	}
	key := s.Key(reporterID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, s.cfg.KeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisengine: publish to %s: %w", key, err)
	}
	return nil
}

func (s *Source) consume(ctx context.Context, key string, onEvent func(types.Event)) error {
	defer func() {
		// a finished or abandoned run leaves nothing to read
		if err := s.client.Del(context.Background(), key).Err(); err != nil {
			s.log.Warn("Failed to delete event list", "key", key, "err", err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// BLPOP is bounded by the poll interval so cancellation is noticed
		res, err := s.client.BLPop(ctx, s.cfg.PollInterval, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redisengine: pop %s: %w", key, err)
		}
		// res is [key, value]
		if len(res) != 2 {
			continue
		}
		if engine.Dispatch(s.log, []byte(res[1]), onEvent) {
			return nil
		}
	}
}

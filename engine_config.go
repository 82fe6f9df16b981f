package utrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/ut-runner/engine"
	"github.com/ethereum-optimism/infra/ut-runner/engine/pgengine"
	"github.com/ethereum-optimism/infra/ut-runner/engine/redisengine"
	"github.com/ethereum-optimism/infra/ut-runner/engine/wsengine"
)

type EngineKind string

const (
	EngineKindPostgres EngineKind = "postgres"
	EngineKindAgent    EngineKind = "agent"
)

type TOMLDuration time.Duration

func (t *TOMLDuration) UnmarshalText(b []byte) error {
	d, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	*t = TOMLDuration(d)
	return nil
}

// EngineConfig is the TOML file describing how to reach the test engine.
// String values starting with "$" are read from the environment.
type EngineConfig struct {
	Kind     EngineKind      `toml:"kind"`
	Postgres pgengine.Config `toml:"postgres"`
	Agent    AgentConfig     `toml:"agent"`
	Redis    RedisConfig     `toml:"redis"`
}

type AgentConfig struct {
	URL              string       `toml:"url"`
	Token            string       `toml:"token"`
	RetryMax         int          `toml:"retry_max"`
	RetryWaitMin     TOMLDuration `toml:"retry_wait_min"`
	RetryWaitMax     TOMLDuration `toml:"retry_wait_max"`
	HandshakeTimeout TOMLDuration `toml:"handshake_timeout"`
}

// RedisConfig switches event delivery to Redis lists when URL is set
type RedisConfig struct {
	URL          string       `toml:"url"`
	KeyPrefix    string       `toml:"key_prefix"`
	PollInterval TOMLDuration `toml:"poll_interval"`
	KeyTTL       TOMLDuration `toml:"key_ttl"`
}

// LoadEngineConfig reads and validates an engine config file
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := new(EngineConfig)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("error reading engine config %s: %w", path, err)
	}
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EngineConfig) resolveSecrets() error {
	for _, field := range []*string{&c.Postgres.URL, &c.Agent.URL, &c.Agent.Token, &c.Redis.URL} {
		value, err := ReadFromEnvOrConfig(*field)
		if err != nil {
			return err
		}
		*field = value
	}
	return nil
}

func (c *EngineConfig) Validate() error {
	switch c.Kind {
	case EngineKindPostgres:
		if c.Postgres.URL == "" {
			return errors.New("postgres engine requires postgres.url")
		}
	case EngineKindAgent:
		if c.Agent.URL == "" {
			return errors.New("agent engine requires agent.url")
		}
	case "":
		return errors.New("engine kind is required")
	default:
		return fmt.Errorf("unknown engine kind %q, must be one of: %s, %s", c.Kind, EngineKindPostgres, EngineKindAgent)
	}
	return nil
}

// BuildEngine connects the configured engine. The returned close function
// releases its connections.
func BuildEngine(ctx context.Context, cfg *EngineConfig, lgr log.Logger) (engine.Engine, func(), error) {
	var (
		eng     engine.Engine
		closers []func()
	)
	switch cfg.Kind {
	case EngineKindPostgres:
		pg, err := pgengine.New(ctx, cfg.Postgres, lgr.New("engine", "postgres"))
		if err != nil {
			return nil, nil, err
		}
		eng = pg
		closers = append(closers, pg.Close)
	case EngineKindAgent:
		agent, err := wsengine.New(wsengine.Config{
			URL:              cfg.Agent.URL,
			Token:            cfg.Agent.Token,
			RetryMax:         cfg.Agent.RetryMax,
			RetryWaitMin:     time.Duration(cfg.Agent.RetryWaitMin),
			RetryWaitMax:     time.Duration(cfg.Agent.RetryWaitMax),
			HandshakeTimeout: time.Duration(cfg.Agent.HandshakeTimeout),
		}, lgr.New("engine", "agent"))
		if err != nil {
			return nil, nil, err
		}
		eng = agent
	default:
		return nil, nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.URL != "" {
		client, err := redisengine.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if err := redisengine.CheckRedisConnection(client); err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, err
		}
		source := redisengine.NewSource(client, redisengine.Config{
			URL:          cfg.Redis.URL,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			PollInterval: time.Duration(cfg.Redis.PollInterval),
			KeyTTL:       time.Duration(cfg.Redis.KeyTTL),
		}, lgr.New("events", "redis"))
		eng = engine.WithEventSource(eng, source.Factory())
		closers = append(closers, func() { _ = client.Close() })
		lgr.Info("Reading run events from redis", "prefix", source.Key(""))
	}

	return eng, closeAll, nil
}

func ReadFromEnvOrConfig(value string) (string, error) {
	if strings.HasPrefix(value, "$") {
		envValue := os.Getenv(strings.TrimPrefix(value, "$"))
		if envValue == "" {
			return "", fmt.Errorf("config env var %s not found", value)
		}
		return envValue, nil
	}

	if strings.HasPrefix(value, "\\") {
		return strings.TrimPrefix(value, "\\"), nil
	}

	return value, nil
}

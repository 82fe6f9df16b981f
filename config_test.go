package utrunner

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/ut-runner/engine/pgengine"
	"github.com/ethereum-optimism/infra/ut-runner/engine/wsengine"
	"github.com/ethereum-optimism/infra/ut-runner/flags"
	"github.com/ethereum-optimism/infra/ut-runner/types"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const agentEngineTOML = `
kind = "agent"

[agent]
url = "http://localhost:9400"
token = "$UT_RUNNER_TEST_AGENT_TOKEN"
retry_max = 5
retry_wait_min = "100ms"
handshake_timeout = "3s"
`

func TestLoadEngineConfig(t *testing.T) {
	t.Setenv("UT_RUNNER_TEST_AGENT_TOKEN", "secret")
	cfg, err := LoadEngineConfig(writeFile(t, "engine.toml", agentEngineTOML))
	require.NoError(t, err)
	assert.Equal(t, EngineKindAgent, cfg.Kind)
	assert.Equal(t, "http://localhost:9400", cfg.Agent.URL)
	assert.Equal(t, "secret", cfg.Agent.Token)
	assert.Equal(t, 5, cfg.Agent.RetryMax)
	assert.Equal(t, 100*time.Millisecond, time.Duration(cfg.Agent.RetryWaitMin))
	assert.Equal(t, 3*time.Second, time.Duration(cfg.Agent.HandshakeTimeout))
}

func TestLoadEngineConfigPostgres(t *testing.T) {
	cfg, err := LoadEngineConfig(writeFile(t, "engine.toml", `
kind = "postgres"

[postgres]
url = "postgres://ut@localhost:5432/ut"
channel_prefix = "events_"
run_query = "CALL tests.run($1, $2)"

[redis]
url = "redis://localhost:6379/0"
poll_interval = "2s"
`))
	require.NoError(t, err)
	assert.Equal(t, EngineKindPostgres, cfg.Kind)
	assert.Equal(t, pgengine.Config{
		URL:           "postgres://ut@localhost:5432/ut",
		ChannelPrefix: "events_",
		RunQuery:      "CALL tests.run($1, $2)",
	}, cfg.Postgres)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Redis.PollInterval))
}

func TestLoadEngineConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"missing kind", `[agent]
url = "http://localhost"`, "engine kind is required"},
		{"unknown kind", `kind = "oracle"`, "unknown engine kind"},
		{"agent without url", `kind = "agent"`, "agent.url"},
		{"postgres without url", `kind = "postgres"`, "postgres.url"},
		{"bad duration", `kind = "agent"
[agent]
url = "http://localhost"
retry_wait_min = "soon"`, "error reading engine config"},
		{"missing env var", `kind = "agent"
[agent]
url = "$UT_RUNNER_TEST_UNSET_VARIABLE"`, "config env var $UT_RUNNER_TEST_UNSET_VARIABLE not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEngineConfig(writeFile(t, "engine.toml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := LoadEngineConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestReadFromEnvOrConfig(t *testing.T) {
	t.Setenv("UT_RUNNER_TEST_VALUE", "from-env")

	v, err := ReadFromEnvOrConfig("$UT_RUNNER_TEST_VALUE")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	v, err = ReadFromEnvOrConfig("\\$literal")
	require.NoError(t, err)
	assert.Equal(t, "$literal", v)

	v, err = ReadFromEnvOrConfig("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)
}

func TestBuildEngine(t *testing.T) {
	lgr := log.NewLogger(log.DiscardHandler())

	t.Run("agent", func(t *testing.T) {
		eng, closeEngine, err := BuildEngine(context.Background(), &EngineConfig{
			Kind:  EngineKindAgent,
			Agent: AgentConfig{URL: "http://localhost:9400"},
		}, lgr)
		require.NoError(t, err)
		defer closeEngine()
		assert.IsType(t, &wsengine.Engine{}, eng)
	})

	t.Run("postgres with redis events", func(t *testing.T) {
		mr := miniredis.RunT(t)
		eng, closeEngine, err := BuildEngine(context.Background(), &EngineConfig{
			Kind:     EngineKindPostgres,
			Postgres: pgengine.Config{URL: "postgres://ut@127.0.0.1:1/ut"},
			Redis:    RedisConfig{URL: "redis://" + mr.Addr()},
		}, lgr)
		require.NoError(t, err)
		defer closeEngine()
		_, isPostgres := eng.(*pgengine.Engine)
		assert.False(t, isPostgres, "events must be read from redis")
		assert.NotNil(t, eng.Events("ABC"))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		_, _, err := BuildEngine(context.Background(), &EngineConfig{
			Kind:  EngineKindAgent,
			Agent: AgentConfig{URL: "http://localhost:9400"},
			Redis: RedisConfig{URL: "redis://127.0.0.1:1"},
		}, lgr)
		require.Error(t, err)
	})

	t.Run("invalid agent url", func(t *testing.T) {
		_, _, err := BuildEngine(context.Background(), &EngineConfig{
			Kind:  EngineKindAgent,
			Agent: AgentConfig{URL: "ftp://localhost"},
		}, lgr)
		require.Error(t, err)
	})
}

const planYAML = `
runs:
  - scope:
      type: package
      owner: APP
      name: TEST_BETWNSTR
  - scope:
      type: procedure
      owner: APP
      name: TEST_BETWNSTR
      procedure: ZERO_START
    coverage: true
    coverageOptions:
      schemas: [APP]
      excludes: [APP.UT_HELPERS]
  - paths: ["app.betwnstr", "app.other"]
`

func TestLoadPlan(t *testing.T) {
	p, err := LoadPlan(writeFile(t, "plan.yaml", planYAML))
	require.NoError(t, err)
	require.Len(t, p.Runs, 3)

	assert.Equal(t, types.ScopePackage, p.Runs[0].Scope.Kind)
	assert.Equal(t, []string{"APP.TEST_BETWNSTR"}, p.Runs[0].ResolvedPaths())

	assert.Equal(t, types.ScopeProcedure, p.Runs[1].Scope.Kind)
	assert.True(t, p.Runs[1].Coverage)
	assert.Equal(t, []string{"APP"}, p.Runs[1].CoverageOptions.Schemas)
	assert.Equal(t, []string{"APP.UT_HELPERS"}, p.Runs[1].CoverageOptions.Excludes)

	assert.Equal(t, []string{"app.betwnstr", "app.other"}, p.Runs[2].ResolvedPaths())
}

func TestLoadPlanErrors(t *testing.T) {
	_, err := LoadPlan(writeFile(t, "plan.yaml", "runs: []"))
	require.ErrorContains(t, err, "no runs")

	_, err = LoadPlan(writeFile(t, "plan.yaml", "runs:\n  - scope:\n      type: package\n      owner: APP\n"))
	require.ErrorContains(t, err, "plan run 0")

	_, err = LoadPlan(writeFile(t, "plan.yaml", "runs: ["))
	require.ErrorContains(t, err, "parsing plan file")
}

func newCLIContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestNewConfigFromScopeFlags(t *testing.T) {
	t.Setenv("UT_RUNNER_TEST_AGENT_TOKEN", "secret")
	enginePath := writeFile(t, "engine.toml", agentEngineTOML)
	coverageDir := t.TempDir()

	ctx := newCLIContext(t,
		"--engine-config", enginePath,
		"--scope-type", "procedure",
		"--owner", "APP",
		"--name", "TEST_BETWNSTR",
		"--procedure", "ZERO_START",
		"--coverage",
		"--coverage-schemas", "APP,UT3",
		"--coverage-exclude", "APP.A APP.B",
		"--coverage-dir", coverageDir,
		"--event-timeout", "2m",
	)
	cfg, err := NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	assert.Equal(t, enginePath, cfg.EngineConfigPath)
	assert.Equal(t, "secret", cfg.Engine.Agent.Token)
	require.Len(t, cfg.Runs, 1)
	req := cfg.Runs[0]
	assert.Equal(t, []string{"APP.TEST_BETWNSTR.ZERO_START"}, req.ResolvedPaths())
	assert.True(t, req.Coverage)
	assert.Equal(t, []string{"APP", "UT3"}, req.CoverageOptions.Schemas)
	assert.Equal(t, []string{"APP.A", "APP.B"}, req.CoverageOptions.Excludes)
	assert.Nil(t, req.CoverageOptions.Includes)
	assert.Equal(t, 2*time.Minute, cfg.EventTimeout)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, coverageDir, cfg.CoverageDir)
	assert.Equal(t, 64, cfg.HistorySize)
}

func TestNewConfigFromPlan(t *testing.T) {
	t.Setenv("UT_RUNNER_TEST_AGENT_TOKEN", "secret")
	ctx := newCLIContext(t,
		"--engine-config", writeFile(t, "engine.toml", agentEngineTOML),
		"--plan", writeFile(t, "plan.yaml", planYAML),
		"--run-interval", "1h",
		"--observer-addr", "127.0.0.1:8090",
	)
	cfg, err := NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	assert.Len(t, cfg.Runs, 3)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, "127.0.0.1:8090", cfg.ObserverAddr)
	assert.Equal(t, 10*time.Minute, cfg.EventTimeout)
	assert.NotEmpty(t, cfg.CoverageDir)
}

func TestNewConfigErrors(t *testing.T) {
	t.Setenv("UT_RUNNER_TEST_AGENT_TOKEN", "secret")
	enginePath := writeFile(t, "engine.toml", agentEngineTOML)

	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{"missing engine config", []string{"--owner", "APP"}, "missing required flags"},
		{"incomplete scope", []string{"--engine-config", enginePath, "--scope-type", "package", "--owner", "APP"}, "invalid scope"},
		{"negative timeout", []string{"--engine-config", enginePath, "--owner", "APP", "--name", "PKG", "--event-timeout", "-1s"}, "event timeout"},
		{"missing plan", []string{"--engine-config", enginePath, "--plan", filepath.Join(t.TempDir(), "none.yaml")}, "reading plan file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(newCLIContext(t, tt.args...), log.NewLogger(log.DiscardHandler()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	utrunner "github.com/ethereum-optimism/infra/ut-runner"
	"github.com/ethereum-optimism/infra/ut-runner/flags"
	"github.com/ethereum-optimism/infra/ut-runner/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	svc := service.New()

	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "ut-runner"
	app.Usage = "utPLSQL test run aggregator"
	app.Description = "ut-runner starts utPLSQL test runs and aggregates their results as they stream in"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		return run(ctx, closeApp, svc.Healthz)
	})
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// 2 for runtime errors, 1 for failing tests and anything else
			cli.HandleExitCoder(cli.Exit(err.Error(), utrunner.ExitCode(err)))
		}
	}

	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	svc.Start(ctx)
	defer svc.Shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc, healthz *service.HealthzServer) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := utrunner.NewConfig(ctx, log)
	if err != nil {
		return nil, utrunner.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "engine", cfg.EngineConfigPath, "engineKind", cfg.Engine.Kind,
		"runs", len(cfg.Runs), "runOnce", cfg.RunOnce, "interval", cfg.RunInterval)

	runner, err := utrunner.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, utrunner.NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}
	healthz.SetReporter(runner)

	return runner, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	witness "github.com/ethereum-optimism/infra/op-witness"
	"github.com/ethereum-optimism/infra/op-witness/exitcodes"
	"github.com/ethereum-optimism/infra/op-witness/flags"
	"github.com/ethereum-optimism/infra/op-witness/logging"
	"github.com/ethereum-optimism/infra/op-witness/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-witness"
	app.Usage = "UI test lifecycle orchestrator"
	app.Description = "op-witness runs UI tests with retries and captures evidence of their failures"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
		}
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	// errors surfacing outside the witness lifecycle are configuration or setup problems
	return exitcodes.RuntimeErr
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logger, logCloser := logging.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx), logging.FileConfig{
		Path:       ctx.String(flags.LogFile.Name),
		MaxSizeMB:  ctx.Int(flags.LogFileMaxSize.Name),
		MaxBackups: ctx.Int(flags.LogFileMaxBackups.Name),
		MaxAgeDays: ctx.Int(flags.LogFileMaxAge.Name),
	})
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := witness.NewConfig(ctx, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, witness.NewConfigError(err)
	}
	cfg.Log.Debug("Config", "config", cfg)

	w, err := witness.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		_ = logCloser.Close()
		return nil, witness.NewSetupError(err)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	svc := service.New(service.Config{
		Log:            logger,
		HealthzEnabled: ctx.Bool(flags.HealthzEnabled.Name),
		HealthzHost:    ctx.String(flags.HealthzAddr.Name),
		HealthzPort:    ctx.Int(flags.HealthzPort.Name),
		MetricsEnabled: metricsCfg.Enabled,
		MetricsHost:    metricsCfg.ListenAddr,
		MetricsPort:    metricsCfg.ListenPort,
	})

	return &lifecycle{Witness: w, svc: svc, logCloser: logCloser}, nil
}

// lifecycle runs the auxiliary servers for as long as the witness runs.
type lifecycle struct {
	*witness.Witness
	svc       *service.Service
	logCloser io.Closer
}

func (l *lifecycle) Start(ctx context.Context) error {
	l.svc.Start(ctx)
	return l.Witness.Start(ctx)
}

func (l *lifecycle) Stop(ctx context.Context) error {
	err := l.Witness.Stop(ctx)
	l.svc.Shutdown()
	return errors.Join(err, l.logCloser.Close())
}

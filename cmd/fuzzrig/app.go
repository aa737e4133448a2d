package main

import (
	"context"
	"fmt"
	"fuzzrig/config"
	"fuzzrig/internal/crash"
	"fuzzrig/internal/dict"
	"fuzzrig/internal/process"
	"fuzzrig/internal/project"
	"fuzzrig/internal/workflow"
	"fuzzrig/pkg/database"
	"fuzzrig/pkg/logger"
	"fuzzrig/pkg/metrics"
	"fuzzrig/pkg/mq"
	"fuzzrig/pkg/telemetry"
	"fuzzrig/pkg/watchdog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const stopTimeout = 15 * time.Second

func openProject(cfg *config.AppConfig) (*project.Project, error) {
	if cfg.FuzzDir != "" {
		return project.Open(cfg.FuzzDir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return project.Discover(wd)
}

func newRunner(cfg *config.AppConfig, logger *zap.Logger) process.Runner {
	return process.NewExecRunner(logger, cfg.Run.KillGrace)
}

// withWorkflow assembles the application for one command, runs fn and shuts
// everything down again. SIGINT and SIGTERM cancel the context given to fn.
func withWorkflow(cmd *cobra.Command, fn func(ctx context.Context, wf *workflow.Workflow) error) error {
	fuzzDir, err := cmd.Flags().GetString("fuzz-dir")
	if err != nil {
		return err
	}

	var wf *workflow.Workflow
	app := fx.New(
		fx.Provide(
			config.LoadConfig,           // inject config
			logger.NewLogger,            // inject logger
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			mq.NewRabbitMQ,              // inject rabbitmq service
			metrics.NewMetrics,          // inject metrics
			watchdog.NewWatchDogFactory, // inject watchdog factory
			openProject,                 // inject fuzz project
			newRunner,                   // inject process runner
			crash.NewManager,            // inject crash manager
			dict.NewDictGrabber,         // inject dict grabber
			workflow.New,                // inject command pipelines
		),
		crash.NotifiersModule, // inject crash notifiers
		fx.Decorate(func(cfg *config.AppConfig) *config.AppConfig {
			if fuzzDir != "" {
				cfg.FuzzDir = fuzzDir
			}
			return cfg
		}),
		fx.Supply(&workflow.Streams{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()}),
		fx.Populate(&wf),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	if err := app.Err(); err != nil {
		return dig.RootCause(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx, wf)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayflow/relay/pkg/cmd"
	"github.com/relayflow/relay/pkg/engine"
	"github.com/relayflow/relay/pkg/gateway"
	"github.com/relayflow/relay/pkg/log"
	"github.com/relayflow/relay/pkg/otelhelper"
	"github.com/relayflow/relay/pkg/queue"
	"github.com/relayflow/relay/pkg/receivers/webhook"
	"github.com/relayflow/relay/pkg/workflow"
)

const defaultWebhookPort = 8085

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start a worker to execute workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses",
				Value:   "",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the pending-execution queue",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the webhook and chat command receiver",
				Value:   defaultWebhookPort,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Maximum concurrent workflow executions",
				Value:   100,
				Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
			},
			&cli.StringFlag{
				Name:    "overflow-policy",
				Usage:   "Policy at the concurrency ceiling (reject, queue)",
				Value:   "reject",
				Sources: cli.EnvVars("OVERFLOW_POLICY"),
			},
			&cli.BoolFlag{
				Name:    "enable-tracing",
				Usage:   "Export OTLP traces",
				Value:   false,
				Sources: cli.EnvVars("ENABLE_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runWorker,
	}
}

func runWorker(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("relay-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing relay worker")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(
		command.String("event-bus"),
		splitBrokers(command.String("kafka-brokers")),
		"relay-worker",
		logger,
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	loader, err := workflow.NewLoader()
	if err != nil {
		return err
	}

	repository := workflow.NewRepository(persistence, loader)

	var pending *queue.Queue

	if redisURL := command.String("redis-url"); redisURL != "" {
		pending, err = queue.New(ctx, redisURL, queue.DefaultQueue, logger)
		if err != nil {
			return err
		}

		defer func() {
			if err := pending.Close(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to close pending queue", "error", err)
			}
		}()
	}

	var tracer trace.Tracer

	if command.Bool("enable-tracing") {
		tracer, err = otelhelper.NewTracer(ctx, "relay-worker")
		if err != nil {
			return err
		}
	}

	gw := gateway.NewMux(gateway.NewModuleGateway(), gateway.NewHTTPGateway(nil))

	eng := engine.New(
		engine.Config{
			WorkerID:       workerID,
			MaxConcurrent:  command.Int("max-concurrent"),
			OverflowPolicy: engine.OverflowPolicy(command.String("overflow-policy")),
		},
		logger,
		repository,
		persistence,
		gw,
		eventBus,
		pending,
		tracer,
	)

	resumed, err := eng.RecoverIncomplete(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to recover interrupted executions", "error", err)
	} else if resumed > 0 {
		logger.InfoContext(ctx, "Recovered interrupted executions", "count", resumed)
	}

	eng.StartQueueDrainer(ctx)

	sched, err := startScheduler(ctx, logger, repository, eng)
	if err != nil {
		return err
	}

	defer sched.Stop(context.WithoutCancel(ctx))

	receiver := webhook.NewReceiver(eng, logger, command.Int("webhook-port"))

	return receiver.Start(ctx)
}

func splitBrokers(raw string) []string {
	if raw == "" {
		return nil
	}

	brokers := strings.Split(raw, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	return brokers
}

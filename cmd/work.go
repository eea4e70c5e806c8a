package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/Yates-Labs/fable/internal/config"
	"github.com/Yates-Labs/fable/internal/engine"
	"github.com/Yates-Labs/fable/internal/store"
	"github.com/Yates-Labs/fable/internal/worker"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Consume generation requests from the task queue",
	Long: `Run a queue worker that consumes generation requests from RabbitMQ,
executes them through the engine, persists results to Postgres, and
publishes a result message per run.

Messages are processed one at a time; scale out by running more workers.
Requests that fail validation are dead lettered, transient failures are
requeued once.

Required environment variables:
  RABBITMQ_URL       - AMQP connection string
  DB_HOST            - Postgres host; leave unset to skip persistence
  OPENAI_API_KEY     - OpenAI API key (openai provider)

Examples:
  fable work
  FABLE_PROVIDER=ollama fable work`,
	Args: cobra.NoArgs,
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close(context.Background())

	var sink store.Sink = store.NopSink{}
	if cfg.SinkEnabled() {
		dbpool, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("failed to create database pool: %w", err)
		}
		defer dbpool.Close()

		if err := dbpool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		pgSink, err := store.NewPostgresSink(dbpool, logger)
		if err != nil {
			return err
		}
		if err := pgSink.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = pgSink

		logger.Info().Str("dsn", cfg.MaskedDSN()).Msg("Result sink connected")
	} else {
		logger.Info().Msg("No database configured, results are not persisted")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	consumer, err := worker.NewConsumer(conn, eng, sink, cfg.RequestQueue, cfg.ResultQueue, logger)
	if err != nil {
		return err
	}

	return consumer.Start(ctx)
}

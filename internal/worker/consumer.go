// Package worker consumes generation requests from RabbitMQ, runs them
// through the engine, persists the results, and publishes result messages.
// Poison messages are dead lettered; transient failures requeue once.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Yates-Labs/fable/internal/store"
	"github.com/Yates-Labs/fable/internal/story"
)

// Dead letter topology for the request queue. Rejected messages route
// through the exchange into the queue named after the request queue.
const (
	deadLetterExchangeSuffix = "_dlx"
	deadLetterQueueSuffix    = "_dlq"
	deadLetterRoutingKey     = "dlq"
)

// Result message statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Runner executes one generation request. The engine implements it.
type Runner interface {
	Run(ctx context.Context, req story.GenerationRequest) (story.GenerationResult, error)
}

// Publisher is the subset of an AMQP channel used to emit result messages.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Acker is the subset of an AMQP delivery used to settle a message.
type Acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// ResultMessage is published to the result queue for every finished run.
// Status is failed when the run delivered no accepted stories.
type ResultMessage struct {
	RequestID string                  `json:"request_id"`
	ProjectID string                  `json:"project_id"`
	Status    string                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	Result    *story.GenerationResult `json:"result,omitempty"`
}

// Consumer reads GenerationRequest messages off the request queue one at a
// time and settles each against the run outcome.
type Consumer struct {
	conn         *amqp.Connection
	runner       Runner
	sink         store.Sink
	requestQueue string
	resultQueue  string
	logger       zerolog.Logger
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(conn *amqp.Connection, runner Runner, sink store.Sink, requestQueue, resultQueue string, logger zerolog.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if requestQueue == "" {
		return nil, fmt.Errorf("request queue cannot be empty")
	}
	if resultQueue == "" {
		return nil, fmt.Errorf("result queue cannot be empty")
	}

	return &Consumer{
		conn:         conn,
		runner:       runner,
		sink:         sink,
		requestQueue: requestQueue,
		resultQueue:  resultQueue,
		logger:       logger.With().Str("component", "worker").Logger(),
	}, nil
}

// Start consumes the request queue until the context is cancelled or the
// delivery channel closes. Messages are processed one at a time; a run
// interrupted by shutdown is requeued for another worker.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := c.declareTopology(ch); err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(c.requestQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().
		Str("request_queue", c.requestQueue).
		Str("result_queue", c.resultQueue).
		Msg("Worker consuming generation requests")

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn().Msg("Delivery channel closed")
				return nil
			}
			c.handleDelivery(ctx, ch, d.Body, d.Redelivered, d)
		case <-ctx.Done():
			c.logger.Info().Msg("Worker stopping")
			return nil
		}
	}
}

// declareTopology sets up the request queue with its dead letter exchange
// and queue, plus the result queue. All declarations are idempotent.
func (c *Consumer) declareTopology(ch *amqp.Channel) error {
	dlx := c.requestQueue + deadLetterExchangeSuffix
	dlq := c.requestQueue + deadLetterQueueSuffix

	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange %q: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue %q: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, deadLetterRoutingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue %q: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": deadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(c.requestQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare request queue %q: %w", c.requestQueue, err)
	}
	if _, err := ch.QueueDeclare(c.resultQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare result queue %q: %w", c.resultQueue, err)
	}
	return nil
}

// handleDelivery processes one request message and settles it:
// malformed bodies and invalid requests are dead lettered, an interrupted
// run is always requeued, and any other failure requeues on first delivery
// and dead letters on redelivery.
func (c *Consumer) handleDelivery(ctx context.Context, pub Publisher, body []byte, redelivered bool, acker Acker) {
	var req story.GenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.logger.Error().Err(err).Msg("Dead lettering malformed request message")
		c.nack(acker, false)
		return
	}

	logger := c.logger.With().Str("request_id", req.ID).Logger()

	result, err := c.runner.Run(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, story.ErrInvalidRequest):
		logger.Error().Err(err).Msg("Dead lettering invalid request")
		c.nack(acker, false)
		return
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Msg("Run interrupted, requeueing request")
		c.nack(acker, true)
		return
	default:
		logger.Error().Err(err).Bool("redelivered", redelivered).Msg("Run failed")
		c.nack(acker, !redelivered)
		return
	}

	if err := c.sink.SaveResult(ctx, result); err != nil {
		logger.Error().Err(err).Bool("redelivered", redelivered).Msg("Failed to save result")
		c.nack(acker, !redelivered)
		return
	}

	if err := c.publishResult(ctx, pub, result); err != nil {
		logger.Error().Err(err).Bool("redelivered", redelivered).Msg("Failed to publish result")
		c.nack(acker, !redelivered)
		return
	}

	if err := acker.Ack(false); err != nil {
		logger.Error().Err(err).Msg("Failed to ack request message")
		return
	}

	logger.Info().
		Str("reason", string(result.Reason)).
		Int("accepted", len(result.Accepted)).
		Msg("Request processed")
}

// publishResult emits the result message to the result queue.
func (c *Consumer) publishResult(ctx context.Context, pub Publisher, result story.GenerationResult) error {
	msg := ResultMessage{
		RequestID: result.RequestID,
		ProjectID: result.ProjectID,
		Status:    StatusCompleted,
		Result:    &result,
	}
	if len(result.Accepted) == 0 {
		msg.Status = StatusFailed
		msg.Error = string(result.Reason)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode result message: %w", err)
	}

	err = pub.PublishWithContext(ctx, "", c.resultQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    result.RequestID,
		Timestamp:    time.Now(),
		AppId:        "fable-worker",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish result message: %w", err)
	}
	return nil
}

func (c *Consumer) nack(acker Acker, requeue bool) {
	if err := acker.Nack(false, requeue); err != nil {
		c.logger.Error().Err(err).Msg("Failed to nack request message")
	}
}

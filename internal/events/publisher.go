package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nmakarov/conveyor/internal/domain"
)

// EventType — тип события.
type EventType string

// Типы событий.
const (
	EventTypeRunStarted  EventType = "run.started"
	EventTypeRunFinished EventType = "run.finished"
)

// Publisher публикует события в RabbitMQ.
//
// Publisher опционален: при nil-значении все методы — no-op, что
// позволяет запускать сервисы без брокера.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Event — событие для публикации.
type Event struct {
	// ID — уникальный идентификатор события.
	ID string `json:"id"`

	// Type — тип события.
	Type EventType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunStartedPayload — payload события о начале выполнения run.
type RunStartedPayload struct {
	RunID           uuid.UUID `json:"run_id"`
	WorkflowName    string    `json:"workflow_name"`
	WorkflowVersion int       `json:"workflow_version"`
}

// RunFinishedPayload — payload события о завершении run.
type RunFinishedPayload struct {
	RunID           uuid.UUID        `json:"run_id"`
	WorkflowName    string           `json:"workflow_name"`
	WorkflowVersion int              `json:"workflow_version"`
	Status          domain.RunStatus `json:"status"`
	Error           string           `json:"error,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
}

// Publish публикует событие в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, evt *Event) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // событие переживёт рестарт RabbitMQ
				MessageId:    evt.ID,
				Timestamp:    evt.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published event",
			"exchange", exchange,
			"routing_key", routingKey,
			"event_id", evt.ID,
			"type", evt.Type,
		)

		return nil
	})
}

// PublishRunStarted публикует событие о начале выполнения run.
func (p *Publisher) PublishRunStarted(ctx context.Context, run *domain.Run) error {
	if p == nil {
		return nil
	}

	evt := &Event{
		ID:   uuid.New().String(),
		Type: EventTypeRunStarted,
		Payload: RunStartedPayload{
			RunID:           run.ID,
			WorkflowName:    run.WorkflowName,
			WorkflowVersion: run.WorkflowVersion,
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyStarted, evt)
}

// PublishRunFinished публикует событие о завершении run.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run) error {
	if p == nil {
		return nil
	}

	evt := &Event{
		ID:   uuid.New().String(),
		Type: EventTypeRunFinished,
		Payload: RunFinishedPayload{
			RunID:           run.ID,
			WorkflowName:    run.WorkflowName,
			WorkflowVersion: run.WorkflowVersion,
			Status:          run.Status,
			Error:           run.Error,
			DurationMs:      run.Duration().Milliseconds(),
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, evt)
}

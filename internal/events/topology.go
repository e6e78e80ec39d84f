package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns Exchange = "conveyor.runs"
)

// Queues — имена очередей.
const (
	QueueRunsFinished Queue = "runs.finished"
)

// Routing keys.
const (
	RoutingKeyStarted  RoutingKey = "started"
	RoutingKeyFinished RoutingKey = "finished"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Операции идемпотентны: повторный вызов на существующей топологии безопасен.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeRuns), // name
			"topic",              // type
			true,                 // durable
			false,                // auto-deleted
			false,                // internal
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeRuns, err)
		}

		// runs.finished — очередь для внешних подписчиков на завершения.
		// События run.started уходят в exchange без выделенной очереди:
		// подписчики заводят свои очереди по ключу "started".
		_, err = ch.QueueDeclare(
			string(QueueRunsFinished), // name
			true,                      // durable
			false,                     // delete when unused
			false,                     // exclusive
			false,                     // no-wait
			nil,                       // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueRunsFinished, err)
		}

		err = ch.QueueBind(
			string(QueueRunsFinished),  // queue name
			string(RoutingKeyFinished), // routing key
			string(ExchangeRuns),       // exchange
			false,                      // no-wait
			nil,                        // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueRunsFinished, ExchangeRuns, err)
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.runs (topic)
    ├── [routing: started]  — подписчики заводят свои очереди
    └── runs.finished [routing: finished]
            External subscribers
  `
}

package mq

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
	ExchangeEvents  Exchange = "autopilot.events"
	ExchangeUpdates Exchange = "autopilot.updates"
	ExchangeDLQ     Exchange = "autopilot.dlq"
)

// Queues — имена очередей.
const (
	QueueEventsInbound Queue = "events.inbound"
	QueueDLQEvents     Queue = "dlq.events"
)

// Routing keys.
const (
	RoutingKeyEventReceived RoutingKey = "event.received"
	RoutingKeyTraceUpdated  RoutingKey = "trace.updated"
	RoutingKeyStepStatus    RoutingKey = "step.status"
	RoutingKeyDLQEvents     RoutingKey = "events"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "direct"},
		{ExchangeUpdates, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
//
// Движок объявляет только свою входную очередь и её DLQ. Подписчики
// autopilot.updates привязывают собственные очереди сами: движок не
// знает их имён.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQEvents),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// events.inbound — с DLQ (некорректные события уходят в DLQ)
		{QueueEventsInbound, dlqArgs},

		// dlq.events — сама DLQ очередь
		{QueueDLQEvents, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueEventsInbound, RoutingKeyEventReceived, ExchangeEvents},
		{QueueDLQEvents, RoutingKeyDLQEvents, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Autopilot RabbitMQ Topology:

    autopilot.events (direct)
    └── events.inbound [routing: event.received]
            Consumer: Engine (ingest)
            DLQ: dlq.events

    autopilot.updates (direct)
        trace.updated, step.status
            Subscribers bind their own queues

    autopilot.dlq (direct)
    └── dlq.events [routing: events]
            Manual processing
  `
}

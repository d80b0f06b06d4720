package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeEventReceived MessageType = "event.received"
	MessageTypeTraceUpdated  MessageType = "trace.updated"
	MessageTypeStepStatus    MessageType = "step.status"
)

// Publisher публикует сообщения в RabbitMQ.
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

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// EventReceivedPayload — payload внешнего события для движка.
// Внешние продюсеры (форж-поллеры, вебхуки) публикуют его в
// autopilot.events; consumer движка передаёт его в ingest.
type EventReceivedPayload struct {
	ExternalID string         `json:"external_id,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Summary    string         `json:"summary"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// TraceUpdatedPayload — payload уведомления об изменении trace-проекции.
// Несёт только счётчик: подписчики забирают актуальное состояние через
// HTTP API движка.
type TraceUpdatedPayload struct {
	Traces int `json:"traces"`
}

// StepStatusPayload — payload смены статуса диспетчеризации типа шага.
type StepStatusPayload struct {
	ActionType string `json:"action_type"`
	Status     string `json:"status"` // idle, processing или error
	Processed  int    `json:"processed"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
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
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishEventReceived публикует внешнее событие для движка.
// Потребитель: Engine (ingest).
func (p *Publisher) PublishEventReceived(ctx context.Context, ev domain.Event) error {
	msg := newMessage(MessageTypeEventReceived, EventReceivedPayload{
		ExternalID: ev.ExternalID,
		Kind:       ev.Kind,
		Summary:    ev.Summary,
		Meta:       ev.Meta,
	})
	if !ev.ReceivedAt.IsZero() {
		msg.Timestamp = ev.ReceivedAt
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyEventReceived, msg)
}

// PublishTraceUpdated публикует уведомление об изменении trace-проекции.
// Потребители: внешние подписчики (UI, пуллеры состояния).
func (p *Publisher) PublishTraceUpdated(ctx context.Context, traces int) error {
	msg := newMessage(MessageTypeTraceUpdated, TraceUpdatedPayload{Traces: traces})

	return p.Publish(ctx, ExchangeUpdates, RoutingKeyTraceUpdated, msg)
}

// PublishStepStatus публикует смену статуса диспетчеризации типа шага.
// Потребители: внешние подписчики.
func (p *Publisher) PublishStepStatus(ctx context.Context, actionType string, status domain.DispatchStatus, processed int) error {
	msg := newMessage(MessageTypeStepStatus, StepStatusPayload{
		ActionType: actionType,
		Status:     string(status),
		Processed:  processed,
	})

	return p.Publish(ctx, ExchangeUpdates, RoutingKeyStepStatus, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.Publish(ctx, exchange, routingKey, newMessage(msgType, payload))
}

// newMessage собирает конверт сообщения.
func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

package mq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// Ingestor принимает внешние события движка.
// Реализуется ingest.Ingestor.
type Ingestor interface {
	Ingest(ctx context.Context, ev domain.Event) (traceID string, duplicate bool, err error)
}

// NewEventConsumer создаёт consumer очереди events.inbound,
// передающий события event.received в ingest.
//
// Ack/nack-семантика: успех и дубликат — ack (дедупликация живёт в
// курсоре обработанных событий, повторная доставка безопасна);
// некорректный payload — nack в DLQ; ошибка хранилища — nack с
// возвратом в очередь.
func NewEventConsumer(conn *Connection, ingestor Ingestor, logger *slog.Logger) *Consumer {
	return NewConsumer(conn, logger, ConsumerConfig{
		Queue:   string(QueueEventsInbound),
		Handler: EventHandler(ingestor, logger),
	})
}

// EventHandler возвращает Handler, разбирающий event.received и
// передающий событие в ingest.
func EventHandler(ingestor Ingestor, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg *Delivery) error {
		if msg.Message.Type != MessageTypeEventReceived {
			return fmt.Errorf("%w: unexpected type %q", ErrRejected, msg.Message.Type)
		}

		payload, err := ParsePayload[EventReceivedPayload](&msg.Message)
		if err != nil {
			return fmt.Errorf("%w: parse event payload: %v", ErrRejected, err)
		}

		// Пустое summary — неисправимое сообщение, retry не поможет.
		if payload.Summary == "" {
			return fmt.Errorf("%w: event summary is empty", ErrRejected)
		}

		ev := domain.Event{
			ExternalID: payload.ExternalID,
			Kind:       payload.Kind,
			Summary:    payload.Summary,
			Meta:       payload.Meta,
			ReceivedAt: msg.Message.Timestamp,
		}

		traceID, duplicate, err := ingestor.Ingest(ctx, ev)
		if err != nil {
			return fmt.Errorf("ingest event: %w", err)
		}

		if duplicate {
			logger.Debug("duplicate event acked",
				"external_id", payload.ExternalID,
				"message_id", msg.Message.ID,
			)
			return nil
		}

		logger.Info("event ingested from queue",
			"trace_id", traceID,
			"kind", payload.Kind,
			"message_id", msg.Message.ID,
		)

		return nil
	}
}

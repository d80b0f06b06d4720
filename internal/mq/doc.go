// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//   - events.go     — consumer входных событий, подключённый к ingest
//
// Типы сообщений:
//   - event.received — внешнее событие для движка (входящее)
//   - trace.updated  — trace-проекция изменилась (исходящее)
//   - step.status    — смена статуса диспетчеризации шага (исходящее)
//
// Exchanges:
//   - autopilot.events  — входные события
//   - autopilot.updates — уведомления для подписчиков
//   - autopilot.dlq     — dead letter queue
//
// RabbitMQ опционален: при недоступности брокера движок работает
// только от таймера и HTTP API.
package mq

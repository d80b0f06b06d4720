// Package telemetry обеспечивает наблюдаемость движка.
//
// Включает:
//   - logging.go — structured logging через slog, контекстные хелперы
//
// Формат и уровень логирования управляются переменными LOG_FORMAT и
// LOG_LEVEL. Prometheus-метрики живут рядом с кодом, который их
// инкрементирует (internal/orchestrator, internal/api); движок
// экспортирует их на /metrics.
package telemetry

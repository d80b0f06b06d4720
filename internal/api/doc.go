// Package api реализует HTTP API движка.
//
// Endpoints:
//   - GET  /api/v1/traces           — все trace-проекции
//   - GET  /api/v1/traces/{id}      — trace по ID
//   - GET  /api/v1/spans/{id}/chain — цепочка предков span'а
//   - GET  /api/v1/pending          — снапшот очереди
//   - GET  /api/v1/log              — плоский журнал (?limit=N)
//   - GET  /api/v1/status           — сводка состояния движка
//   - POST /api/v1/events           — приём внешнего события
//
// Ответы заворачиваются в {data}, списки — в {data, total}, ошибки —
// в {error: {code, message}}. /healthz и /metrics регистрирует main
// движка.
package api

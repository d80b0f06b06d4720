// Package steps содержит конкретные шаги конвейера автопилота.
//
// Полная цепочка одного flow:
//
//	event → coordinate → plan → workflow×N → commit → resolve → push
//
// Шаги:
//   - coordinate — триаж корневого события: игнорировать или планировать
//   - plan — разворачивает директиву в набор задач с зависимостями
//   - workflow — запускает задачу во внешнем инструменте и следит за ней
//   - commit — коммитит результат задачи с деградацией при сбоях git
//   - resolve — терминальная бухгалтерия и merge-back ветки
//   - push — отправка ветки, конец flow
//
// Каждый шаг реализует step.Step; workflow дополнительно реализует
// step.Monitor. Шаги не трогают состояние оркестратора напрямую —
// только возвращают Result, который оркестратор применяет сам.
package steps

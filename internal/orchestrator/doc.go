// Package orchestrator управляет обработкой очереди действий.
//
// StepOrchestrator отвечает за:
//   - Проход по очереди pending с группировкой по типу действия
//   - Диспетчеризацию Process с учётом maxParallel и дедупликации
//   - Каскадный повтор прохода, когда шаги ставят новую работу
//   - Применение результатов к trace-проекции в памяти
//   - Вызов Monitor-хуков шагов перед каждым проходом
//   - Уведомление наблюдателей об изменениях trace и статусов
//
// Оркестратор — это "мозг" движка, который координирует шаги.
package orchestrator

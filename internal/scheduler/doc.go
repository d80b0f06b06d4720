// Package scheduler порождает события по расписанию.
//
// Триггеры объявляются в конфигурации (cron-выражение или интервал,
// плюс директива). Scheduler периодически проверяет next_due_at и для
// каждого due-триггера отдаёт в ingest синтетическое событие с
// детерминированным externalId — идемпотентность срабатываний живёт в
// курсоре дедупликации событий, у планировщика нет своего хранилища.
//
// Структура:
//   - scheduler.go — цикл проверки и срабатывание (Run, Tick, fire)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Triggers: cfg.Schedules,
//	    Ingestor: ing,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	go sched.Run(ctx)
package scheduler

package domain

import (
	"time"
)

// Trigger — настроенное расписание порождения синтетических событий.
//
// Триггеры объявляются в конфигурации, а не в хранилище: их мало, они
// меняются деплоем, и за идемпотентность срабатываний отвечает курсор
// дедупликации событий (externalId вида "sched_<name>_<unix>"), а не
// персистентное состояние планировщика.
type Trigger struct {
	// Name — уникальное имя триггера.
	Name string `json:"name"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Примеры:
	//   "0 9 * * *"     — каждый день в 9:00
	//   "*/5 * * * *"   — каждые 5 минут
	//   "0 0 * * 0"     — каждое воскресенье в полночь
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron,omitempty"`

	// IntervalSec — интервал в секундах между срабатываниями.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone,omitempty"`

	// Directive — текст события, которое породит срабатывание.
	// Уходит в coordinate как описание работы.
	Directive string `json:"directive"`

	// Disabled — выключенный триггер пропускается планировщиком.
	Disabled bool `json:"disabled,omitempty"`

	// NextDueAt — время следующего срабатывания. Вычисляется
	// планировщиком при старте и после каждого срабатывания.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastFiredAt — время последнего срабатывания.
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
}

// IsCron возвращает true, если триггер использует cron-выражение.
func (t *Trigger) IsCron() bool {
	return t.CronExpr != ""
}

// IsInterval возвращает true, если триггер использует интервал.
func (t *Trigger) IsInterval() bool {
	return t.CronExpr == "" && t.IntervalSec > 0
}

// IsDue проверяет, пора ли срабатывать.
func (t *Trigger) IsDue(now time.Time) bool {
	if t.Disabled {
		return false
	}
	if t.NextDueAt == nil {
		return false
	}
	return now.After(*t.NextDueAt) || now.Equal(*t.NextDueAt)
}

// RecordFire записывает срабатывание и следующее время.
func (t *Trigger) RecordFire(now, nextDue time.Time) {
	t.LastFiredAt = &now
	t.NextDueAt = &nextDue
}

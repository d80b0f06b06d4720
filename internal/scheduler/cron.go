package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/endorhq/rover-sub001/internal/domain"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время срабатывания триггера.
// Для интервалов просто добавляет IntervalSec к текущему времени.
// Учитывает timezone триггера.
func CalculateNextDue(trigger *domain.Trigger, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(trigger.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}
	fromInTz := from.In(loc)

	if trigger.IsCron() {
		return calculateNextCron(trigger.CronExpr, fromInTz)
	}
	if trigger.IsInterval() {
		return calculateNextInterval(trigger.IntervalSec, fromInTz), nil
	}

	return time.Time{}, fmt.Errorf("trigger %q has neither cron nor interval_sec", trigger.Name)
}

// calculateNextCron вычисляет следующее время по cron-выражению.
func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from).UTC(), nil
}

// calculateNextInterval вычисляет следующее время по интервалу.
func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	return from.Add(time.Duration(intervalSec) * time.Second).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/endorhq/rover-sub001/internal/domain"
)

type fakeIngestor struct {
	mu     sync.Mutex
	events []domain.Event
	dup    bool
	err    error
}

func (f *fakeIngestor) Ingest(_ context.Context, ev domain.Event) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	f.events = append(f.events, ev)
	if f.dup {
		return "", true, nil
	}
	return "trace-" + fmt.Sprint(len(f.events)), false, nil
}

func (f *fakeIngestor) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewComputesInitialDue(t *testing.T) {
	s, err := New(Config{
		Triggers: []domain.Trigger{
			{Name: "nightly", CronExpr: "0 3 * * *", Directive: "run nightly maintenance"},
			{Name: "often", IntervalSec: 60, Directive: "poll the forge"},
		},
		Ingestor: &fakeIngestor{},
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, trigger := range s.Triggers() {
		if trigger.NextDueAt == nil {
			t.Errorf("trigger %s has no next due", trigger.Name)
			continue
		}
		if !trigger.NextDueAt.After(time.Now().Add(-time.Second)) {
			t.Errorf("trigger %s due in the past: %v", trigger.Name, trigger.NextDueAt)
		}
	}
}

func TestNewRejectsBadTriggers(t *testing.T) {
	cases := []struct {
		name    string
		trigger domain.Trigger
		wantErr string
	}{
		{"no name", domain.Trigger{CronExpr: "* * * * *", Directive: "x"}, "without a name"},
		{"no directive", domain.Trigger{Name: "a", CronExpr: "* * * * *"}, "no directive"},
		{"bad cron", domain.Trigger{Name: "a", CronExpr: "not cron", Directive: "x"}, "invalid cron"},
		{"no schedule", domain.Trigger{Name: "a", Directive: "x"}, "neither cron nor interval"},
	}
	for _, tc := range cases {
		_, err := New(Config{Triggers: []domain.Trigger{tc.trigger}, Ingestor: &fakeIngestor{}, Logger: testLogger()})
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: err = %v, want %q", tc.name, err, tc.wantErr)
		}
	}

	// Дубликат имени ломает схему externalId
	_, err := New(Config{
		Triggers: []domain.Trigger{
			{Name: "a", IntervalSec: 60, Directive: "x"},
			{Name: "a", IntervalSec: 120, Directive: "y"},
		},
		Ingestor: &fakeIngestor{},
		Logger:   testLogger(),
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate trigger name") {
		t.Errorf("duplicate name: err = %v", err)
	}
}

func TestTickFiresDueTrigger(t *testing.T) {
	ing := &fakeIngestor{}
	s, err := New(Config{
		Triggers: []domain.Trigger{{Name: "nightly", IntervalSec: 3600, Directive: "run nightly maintenance"}},
		Ingestor: ing,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Ещё не время
	s.Tick(context.Background(), time.Now())
	if ing.eventCount() != 0 {
		t.Fatalf("events = %d, want 0 before due", ing.eventCount())
	}

	// Сдвигаем срок в прошлое
	due := time.Now().Add(-time.Minute).UTC()
	s.triggers[0].NextDueAt = &due

	now := time.Now()
	s.Tick(context.Background(), now)
	if ing.eventCount() != 1 {
		t.Fatalf("events = %d, want 1", ing.eventCount())
	}
	ev := ing.events[0]
	if ev.Kind != "schedule" || ev.Summary != "run nightly maintenance" {
		t.Errorf("event = %+v", ev)
	}
	wantID := fmt.Sprintf("sched_nightly_%d", due.Unix())
	if ev.ExternalID != wantID {
		t.Errorf("external id = %q, want %q", ev.ExternalID, wantID)
	}
	if ev.Meta["trigger"] != "nightly" {
		t.Errorf("event meta = %+v", ev.Meta)
	}

	// Следующий срок сдвинут в будущее, повторный тик молчит
	trigger := s.Triggers()[0]
	if trigger.NextDueAt == nil || !trigger.NextDueAt.After(now) {
		t.Errorf("next due = %v, want after %v", trigger.NextDueAt, now)
	}
	if trigger.LastFiredAt == nil {
		t.Error("last fired must be recorded")
	}
	s.Tick(context.Background(), time.Now())
	if ing.eventCount() != 1 {
		t.Errorf("events = %d, want still 1", ing.eventCount())
	}
}

func TestTickTreatsDuplicateAsFired(t *testing.T) {
	ing := &fakeIngestor{dup: true}
	s, err := New(Config{
		Triggers: []domain.Trigger{{Name: "nightly", IntervalSec: 3600, Directive: "maintenance"}},
		Ingestor: ing,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	due := time.Now().Add(-time.Minute).UTC()
	s.triggers[0].NextDueAt = &due

	s.Tick(context.Background(), time.Now())
	// Дубликат — не ошибка: срок всё равно сдвигается
	if trigger := s.Triggers()[0]; trigger.NextDueAt == nil || !trigger.NextDueAt.After(time.Now()) {
		t.Errorf("next due = %v, want future", trigger.NextDueAt)
	}
}

func TestTickKeepsDueOnIngestError(t *testing.T) {
	ing := &fakeIngestor{err: errors.New("store down")}
	s, err := New(Config{
		Triggers: []domain.Trigger{{Name: "nightly", IntervalSec: 3600, Directive: "maintenance"}},
		Ingestor: ing,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	due := time.Now().Add(-time.Minute).UTC()
	s.triggers[0].NextDueAt = &due

	s.Tick(context.Background(), time.Now())
	// Срок не сдвинут: следующий тик повторит с тем же externalId
	if got := s.Triggers()[0].NextDueAt; got == nil || !got.Equal(due) {
		t.Errorf("next due = %v, want unchanged %v", got, due)
	}
}

func TestTickSkipsDisabled(t *testing.T) {
	ing := &fakeIngestor{}
	s, err := New(Config{
		Triggers: []domain.Trigger{{Name: "off", IntervalSec: 60, Directive: "x", Disabled: true}},
		Ingestor: ing,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	due := time.Now().Add(-time.Minute).UTC()
	s.triggers[0].NextDueAt = &due

	s.Tick(context.Background(), time.Now())
	if ing.eventCount() != 0 {
		t.Errorf("disabled trigger fired %d events", ing.eventCount())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, err := New(Config{
		Triggers: []domain.Trigger{{Name: "a", IntervalSec: 3600, Directive: "x"}},
		Ingestor: &fakeIngestor{},
		Logger:   testLogger(),
		Interval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

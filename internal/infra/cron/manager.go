package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Task выполняется планировщиком по расписанию.
type Task func(ctx context.Context) error

// Manager запускает задачи по расписанию в заданном часовом поясе.
type Manager struct {
	engine  *cron.Cron
	log     zerolog.Logger
	timeout time.Duration
}

// NewManager создаёт планировщик. Выражения расписания пятипольные.
func NewManager(loc *time.Location, timeout time.Duration, log zerolog.Logger) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		engine:  cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     log,
		timeout: timeout,
	}
}

// Register добавляет задачу. Ошибки задачи логируются и не останавливают планировщик.
func (m *Manager) Register(name, spec string, task Task) error {
	_, err := m.engine.AddFunc(spec, func() {
		ctx := context.Background()
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := task(ctx); err != nil {
			m.log.Error().Err(err).Str("task", name).Msg("scheduler: задача завершилась ошибкой")
			return
		}
		m.log.Info().Str("task", name).Dur("took", time.Since(start)).Msg("scheduler: задача выполнена")
	})
	if err != nil {
		return fmt.Errorf("расписание %s %q: %w", name, spec, err)
	}
	return nil
}

// Run запускает планировщик и ждёт отмены контекста, затем дожидается выполняющихся задач.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info().Int("tasks", len(m.engine.Entries())).Msg("scheduler: запуск")
	m.engine.Start()
	<-ctx.Done()
	<-m.engine.Stop().Done()
	m.log.Info().Msg("scheduler: остановлен")
}

// Next возвращает время ближайшего запуска задачи по выражению расписания.
func Next(spec string, after time.Time, loc *time.Location) (time.Time, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	if loc != nil {
		after = after.In(loc)
	}
	return schedule.Next(after), nil
}

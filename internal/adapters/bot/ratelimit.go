package bot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter выдерживает минимальный интервал между обработкой апдейтов одного пользователя.
// Лишние апдейты ждут своей очереди, а не отбрасываются.
type rateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	// Доступ ограничен белым списком, поэтому лимитеры по пользователям не вытесняются.
	perUser  map[int64]*rate.Limiter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval, perUser: make(map[int64]*rate.Limiter), now: time.Now, sleep: sleepCtx}
}

func (l *rateLimiter) Wait(ctx context.Context, userID int64) error {
	if l.interval <= 0 {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.perUser[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.perUser[userID] = lim
	}
	now := l.now()
	res := lim.ReserveN(now, 1)
	l.mu.Unlock()

	delay := res.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		res.CancelAt(l.now())
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

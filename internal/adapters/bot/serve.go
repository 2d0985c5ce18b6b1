package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Serve раздаёт апдейты long polling по воркерам. Апдейты одного пользователя
// всегда попадают в один воркер и обрабатываются в порядке получения.
func (h *Handler) Serve(ctx context.Context, updates <-chan tgbotapi.Update, workers int) {
	if workers <= 0 {
		workers = 1
	}
	shards := make([]chan tgbotapi.Update, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan tgbotapi.Update, 16)
		wg.Add(1)
		go func(in <-chan tgbotapi.Update) {
			defer wg.Done()
			for upd := range in {
				h.HandleUpdate(ctx, upd)
			}
		}(shards[i])
	}
	defer func() {
		for _, shard := range shards {
			close(shard)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			select {
			case shards[shardOf(upd, workers)] <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func shardOf(upd tgbotapi.Update, workers int) int {
	from, _ := updateOrigin(upd)
	if from == nil {
		return 0
	}
	id := from.ID
	if id < 0 {
		id = -id
	}
	return int(id % int64(workers))
}

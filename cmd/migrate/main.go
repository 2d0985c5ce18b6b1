package main

import (
	"flag"

	"tg-finance-bot/internal/infra/config"
	"tg-finance-bot/internal/infra/db"
	applog "tg-finance-bot/internal/infra/log"
)

func main() {
	var down int
	flag.IntVar(&down, "down", 0, "откатить указанное число миграций вместо применения")
	flag.Parse()

	cfg := config.Load()
	logger := applog.Component(applog.NewLogger(cfg.AppEnv), "migrate")
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("migrate: некорректная конфигурация")
	}

	if down > 0 {
		if err := db.MigrateDown(cfg.PGDSN, down, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate: откат не выполнен")
		}
		return
	}
	if err := db.Migrate(cfg.PGDSN, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate: миграции не применены")
	}
}

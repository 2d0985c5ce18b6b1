package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"tg-finance-bot/internal/adapters/mtproto"
	"tg-finance-bot/internal/adapters/repo"
	"tg-finance-bot/internal/infra/config"
	"tg-finance-bot/internal/infra/db"
)

func main() {
	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "путь к файлу MTProto-сессии (gotd JSON или Telethon)")
	flag.StringVar(&sessionName, "name", "", "имя сессии, по умолчанию MTPROTO_SESSION_NAME")
	flag.Parse()

	if filePath == "" {
		log.Fatal().Msg("mtproto-importer: укажите путь к файлу сессии (-file)")
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось прочитать файл сессии")
	}
	imported, err := mtproto.ImportSession(raw)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: неподдерживаемый формат сессии")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: некорректная конфигурация")
	}
	if sessionName == "" {
		sessionName = cfg.MTProto.SessionName
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: нет подключения к БД")
	}
	defer pool.Close()

	if err := repo.NewPostgres(pool).StoreMTProtoSession(ctx, sessionName, imported.Data); err != nil {
		log.Fatal().Err(err).Msg("mtproto-importer: не удалось сохранить сессию")
	}

	if imported.Converted() {
		fmt.Printf("Сессия в формате %s преобразована в gotd JSON\n", imported.Format)
	}
	fmt.Printf("MTProto-сессия %q (%d байт) сохранена в БД\n", sessionName, len(imported.Data))
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tg-finance-bot/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Moscow"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL" validate:"omitempty,url"`
		APIID      int    `envconfig:"TG_API_ID"`
		APIHash    string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN" validate:"required"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Driver  string `envconfig:"QUEUE_DRIVER" default:"redis" validate:"oneof=redis rabbitmq"`
		Collect string `envconfig:"COLLECT_QUEUE_KEY" default:"collect_jobs" validate:"required"`
	} `envconfig:""`

	Whitelist string `envconfig:"WHITELIST_USER_IDS"`
	Currency  string `envconfig:"CURRENCY" default:"RUB" validate:"len=3"`

	Categories struct {
		Income     string `envconfig:"CATEGORY_INCOME_CODES"`
		Expense    string `envconfig:"CATEGORY_EXPENSE_CODES"`
		Investment string `envconfig:"CATEGORY_INVESTMENT_CODES"`
		AdSpend    string `envconfig:"CATEGORY_AD_SPEND_CODES"`
	} `envconfig:""`

	Conversation struct {
		Store string        `envconfig:"CONVERSATION_STORE" default:"memory" validate:"oneof=memory redis"`
		TTL   time.Duration `envconfig:"CONVERSATION_TTL" default:"24h"`
	} `envconfig:""`

	Collect struct {
		PostsWindow time.Duration `envconfig:"COLLECT_POSTS_WINDOW" default:"72h"`
		Cron        string        `envconfig:"COLLECT_CRON" default:"45 23 * * *"`
	} `envconfig:""`

	NotifyCron        string        `envconfig:"NOTIFY_CRON" default:"0 9 * * *"`
	RateLimitInterval time.Duration `envconfig:"RATE_LIMIT_INTERVAL" default:"700ms"`
}

// Требования к конфигурации, различающиеся между бинарями.
const (
	RequireBot     = "bot"
	RequireMTProto = "mtproto"
	RequireRedis   = "redis"
)

// Load загружает конфиг из .env (если есть) и окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг без завершения процесса.
func Parse() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("чтение .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate проверяет общие поля и требования конкретного бинаря.
func (c AppConfig) Validate(requirements ...string) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("некорректная конфигурация: %w", err)
	}
	if _, err := c.WhitelistIDs(); err != nil {
		return err
	}
	for _, req := range requirements {
		switch req {
		case RequireBot:
			if c.Telegram.Token == "" {
				return errors.New("не указан токен Telegram (TG_BOT_TOKEN)")
			}
		case RequireMTProto:
			if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
				return errors.New("не указаны TG_API_ID и TG_API_HASH")
			}
		case RequireRedis:
			if c.RedisAddr == "" {
				return errors.New("не указан адрес Redis (REDIS_ADDR)")
			}
		}
	}
	if c.Queues.Driver == "rabbitmq" && c.RabbitURL == "" {
		return errors.New("не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	return nil
}

// WhitelistIDs разбирает список разрешённых операторов.
func (c AppConfig) WhitelistIDs() ([]int64, error) {
	var ids []int64
	for _, part := range splitList(c.Whitelist) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("WHITELIST_USER_IDS: %q не число", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CategoryGroups собирает группы категорий; пустые списки заменяются значениями по умолчанию.
func (c AppConfig) CategoryGroups() domain.CategoryGroups {
	groups := domain.DefaultCategoryGroups()
	if codes := splitList(c.Categories.Income); len(codes) > 0 {
		groups.Income = codes
	}
	if codes := splitList(c.Categories.Expense); len(codes) > 0 {
		groups.Expense = codes
	}
	if codes := splitList(c.Categories.Investment); len(codes) > 0 {
		groups.Investment = codes
	}
	if codes := splitList(c.Categories.AdSpend); len(codes) > 0 {
		groups.AdSpend = codes
	}
	return groups
}

// Location возвращает часовой пояс отчётов и расписания.
func (c AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("часовой пояс %q: %w", c.TZ, err)
	}
	return loc, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/finance")
	t.Setenv("WHITELIST_USER_IDS", " 100, 200 ,,")
	t.Setenv("CATEGORY_AD_SPEND_CODES", "ad_purchase, promo")

	cfg, err := Parse()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "RUB", cfg.Currency)
	assert.Equal(t, "redis", cfg.Queues.Driver)
	assert.Equal(t, "45 23 * * *", cfg.Collect.Cron)
	assert.Equal(t, "700ms", cfg.RateLimitInterval.String())

	ids, err := cfg.WhitelistIDs()
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200}, ids)

	groups := cfg.CategoryGroups()
	assert.Equal(t, []string{"ad_purchase", "promo"}, groups.AdSpend)
	assert.Equal(t, domain.DefaultCategoryGroups().Income, groups.Income)
}

func TestValidateRequirements(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://localhost/finance")
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Error(t, cfg.Validate(RequireBot))
	assert.Error(t, cfg.Validate(RequireMTProto))

	cfg.Telegram.Token = "token"
	assert.NoError(t, cfg.Validate(RequireBot))

	cfg.Queues.Driver = "kafka"
	assert.Error(t, cfg.Validate())

	cfg.Queues.Driver = "rabbitmq"
	assert.Error(t, cfg.Validate(), "без RABBITMQ_URL")

	cfg.Queues.Driver = "redis"
	cfg.Whitelist = "1,abc"
	assert.Error(t, cfg.Validate())
}

func TestLocation(t *testing.T) {
	cfg := AppConfig{TZ: "Europe/Moscow"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())

	_, err = AppConfig{TZ: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}

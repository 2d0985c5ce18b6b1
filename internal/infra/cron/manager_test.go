package cron

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextUsesLocalTime(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	after := time.Date(2024, 3, 14, 18, 0, 0, 0, time.UTC) // 21:00 по Москве
	next, err := Next("45 23 * * *", after, moscow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 14, 20, 45, 0, 0, time.UTC), next.UTC())

	next, err = Next("0 9 * * *", after, moscow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC), next.UTC())
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	m := NewManager(time.UTC, time.Minute, zerolog.Nop())
	err := m.Register("collect", "каждый день", nil)
	assert.Error(t, err)

	_, err = Next("61 * * * *", time.Now(), nil)
	assert.Error(t, err)
}

package pricing

import (
	"testing"
	"time"

	"equiprent-backend/internal/domain"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDurationDays(t *testing.T) {
	t.Run("Same day counts as one", func(t *testing.T) {
		assert.Equal(t, 1, DurationDays(date(2024, 1, 15), date(2024, 1, 15)))
	})

	t.Run("Both ends included", func(t *testing.T) {
		assert.Equal(t, 3, DurationDays(date(2024, 1, 2), date(2024, 1, 4)))
	})

	t.Run("Across month end", func(t *testing.T) {
		assert.Equal(t, 10, DurationDays(date(2024, 2, 25), date(2024, 3, 5)))
	})

	t.Run("Time of day ignored", func(t *testing.T) {
		start := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
		end := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, 2, DurationDays(start, end))
	})

	t.Run("End before start", func(t *testing.T) {
		assert.Equal(t, 0, DurationDays(date(2024, 1, 5), date(2024, 1, 1)))
	})
}

func TestUnitPrice(t *testing.T) {
	rates := Rates{Daily: 10, Weekly: 60, Monthly: 200}

	tests := []struct {
		name     string
		rates    Rates
		days     int
		expected float64
	}{
		{"One day uses daily", rates, 1, 10},
		{"Six days uses daily", rates, 6, 60},
		{"Seven days uses weekly", rates, 7, 60},
		{"Ten days prorates weekly", rates, 10, 60.0 * 10 / 7},
		{"Thirty days uses monthly", rates, 30, 200},
		{"Forty five days prorates monthly", rates, 45, 300},
		{"No weekly rate falls back to daily", Rates{Daily: 20}, 10, 200},
		{"No monthly rate falls back to weekly", Rates{Daily: 10, Weekly: 70}, 35, 350},
		{"Zero duration", rates, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, UnitPrice(tt.rates, tt.days), 1e-9)
		})
	}
}

func TestLateFee(t *testing.T) {
	cfg := Config{LateFeeDailyRate: 50, LateFeePercentage: 2}

	t.Run("Charges the larger candidate", func(t *testing.T) {
		assert.Equal(t, 250.0, LateFee(5, 1000, cfg, true))
	})

	t.Run("Percentage wins on large totals", func(t *testing.T) {
		assert.Equal(t, 1000.0, LateFee(5, 10000, cfg, true))
	})

	t.Run("Method setting is not consulted", func(t *testing.T) {
		daily := cfg
		daily.LateFeeMethod = LateFeeDaily
		assert.Equal(t, 1000.0, LateFee(5, 10000, daily, true))
	})

	t.Run("Disabled", func(t *testing.T) {
		assert.Equal(t, 0.0, LateFee(5, 1000, cfg, false))
	})

	t.Run("Not overdue", func(t *testing.T) {
		assert.Equal(t, 0.0, LateFee(0, 1000, cfg, true))
		assert.Equal(t, 0.0, LateFee(-2, 1000, cfg, true))
	})
}

func TestDamageFeeSuggestion(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0.0, DamageFeeSuggestion(domain.ConditionGood, cfg, 900))
	assert.Equal(t, 100.0, DamageFeeSuggestion(domain.ConditionMinorDamage, cfg, 900))
	assert.Equal(t, 500.0, DamageFeeSuggestion(domain.ConditionDamaged, cfg, 900))
	assert.Equal(t, 900.0, DamageFeeSuggestion(domain.ConditionLost, cfg, 900))
	assert.Equal(t, 1000.0, DamageFeeSuggestion(domain.ConditionLost, cfg, 0))
}

func TestOverdue(t *testing.T) {
	end := date(2024, 3, 10)
	assert.Equal(t, 4, Overdue(end, date(2024, 3, 14)))
	assert.Equal(t, 0, Overdue(end, date(2024, 3, 10)))
	assert.Equal(t, 0, Overdue(end, date(2024, 3, 1)))
}

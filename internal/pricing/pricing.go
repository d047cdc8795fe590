package pricing

import (
	"math"
	"time"

	"equiprent-backend/internal/domain"
)

const (
	daysPerWeek  = 7
	daysPerMonth = 30
)

// Rates is an equipment's per-period rate table. A zero rate means "not offered".
type Rates struct {
	Daily   float64
	Weekly  float64
	Monthly float64
}

func RatesOf(e *domain.Equipment) Rates {
	return Rates{Daily: e.DailyRate, Weekly: e.WeeklyRate, Monthly: e.MonthlyRate}
}

// LateFeeMethod is the configured late fee strategy. It is stored for reporting but
// LateFee always charges the larger of the two candidate fees.
type LateFeeMethod string

const (
	LateFeeDaily      LateFeeMethod = "daily"
	LateFeePercentage LateFeeMethod = "percentage"
	LateFeeMaximum    LateFeeMethod = "maximum"
)

// Config holds the fee settings. It is passed explicitly; nothing here reads global state.
type Config struct {
	LateFeeDailyRate  float64
	LateFeePercentage float64
	LateFeeMethod     LateFeeMethod
	MinorDamageFee    float64
	ModerateDamageFee float64
	LostFallbackValue float64
}

func DefaultConfig() Config {
	return Config{
		LateFeeMethod:     LateFeeMaximum,
		MinorDamageFee:    100,
		ModerateDamageFee: 500,
		LostFallbackValue: 1000,
	}
}

// DurationDays returns the rental length including both the start and the end date.
func DurationDays(start, end time.Time) int {
	days := domain.DaysBetween(start, end) + 1
	if days < 0 {
		return 0
	}
	return days
}

// UnitPrice picks the monthly, weekly or daily tier by duration and prorates it.
// The result is not rounded.
func UnitPrice(r Rates, durationDays int) float64 {
	if durationDays <= 0 {
		return 0
	}
	d := float64(durationDays)
	switch {
	case durationDays >= daysPerMonth && r.Monthly > 0:
		return r.Monthly * (d / daysPerMonth)
	case durationDays >= daysPerWeek && r.Weekly > 0:
		return r.Weekly * (d / daysPerWeek)
	default:
		return r.Daily * d
	}
}

// LateFee returns max(daily rate x days, total x percentage/100 x days) when enabled.
func LateFee(daysOverdue int, totalAmount float64, cfg Config, enabled bool) float64 {
	if !enabled || daysOverdue <= 0 {
		return 0
	}
	days := float64(daysOverdue)
	byDay := cfg.LateFeeDailyRate * days
	byPercentage := totalAmount * cfg.LateFeePercentage / 100 * days
	return math.Max(byDay, byPercentage)
}

// DamageFeeSuggestion proposes a fee for a return condition. Callers may override it.
func DamageFeeSuggestion(c domain.ReturnCondition, cfg Config, equipmentValue float64) float64 {
	switch c {
	case domain.ConditionMinorDamage:
		return cfg.MinorDamageFee
	case domain.ConditionDamaged:
		return cfg.ModerateDamageFee
	case domain.ConditionLost:
		if equipmentValue > 0 {
			return equipmentValue
		}
		return cfg.LostFallbackValue
	}
	return 0
}

// Overdue returns the days past endDate as of ref, or 0 when not late.
func Overdue(endDate, ref time.Time) int {
	days := domain.DaysBetween(endDate, ref)
	if days < 0 {
		return 0
	}
	return days
}

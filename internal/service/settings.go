package service

import (
	"equiprent-backend/internal/config"
	"equiprent-backend/internal/pricing"
)

// Settings carries the rental business parameters into the services explicitly.
type Settings struct {
	Pricing                    pricing.Config
	LateFeeEnabledDefault      bool
	AutoGenerateSerialsDefault bool
	SerialPrefix               string
	DefaultRentalDays          int
	ReminderDaysBefore         int
	LowStockThreshold          int
	AutoCreateInvoice          bool
	InvoiceIncludeLateFees     bool
	BatchSize                  int
	FollowUpAssignee           string
}

func DefaultSettings() Settings {
	return Settings{
		Pricing:                pricing.DefaultConfig(),
		SerialPrefix:           "SN",
		DefaultRentalDays:      7,
		ReminderDaysBefore:     2,
		LowStockThreshold:      3,
		InvoiceIncludeLateFees: true,
		BatchSize:              100,
	}
}

func SettingsFromConfig(c config.RentalConfig) Settings {
	s := Settings{
		Pricing: pricing.Config{
			LateFeeDailyRate:  c.LateFeeDailyRate,
			LateFeePercentage: c.LateFeePercentage,
			LateFeeMethod:     pricing.LateFeeMethod(c.LateFeeMethod),
			MinorDamageFee:    c.DamageMinorFee,
			ModerateDamageFee: c.DamageModerateFee,
			LostFallbackValue: c.LostFallbackValue,
		},
		LateFeeEnabledDefault:      c.LateFeeEnabledDefault,
		AutoGenerateSerialsDefault: c.AutoGenerateSerialsDefault,
		SerialPrefix:               c.SerialPrefix,
		DefaultRentalDays:          c.DefaultRentalDays,
		ReminderDaysBefore:         c.ReminderDaysBefore,
		LowStockThreshold:          c.LowStockThreshold,
		AutoCreateInvoice:          c.AutoCreateInvoice,
		InvoiceIncludeLateFees:     c.InvoiceIncludeLateFees == nil || *c.InvoiceIncludeLateFees,
		BatchSize:                  c.BatchSize,
		FollowUpAssignee:           c.FollowUpAssignee,
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	return s
}

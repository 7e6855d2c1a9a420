// Package config assembles engine configurations from viper settings.
package config

import (
	"golang-finance-intelligence/internal/intelligence"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Load builds the analysis configuration, applying any overrides set via
// config file or FININTEL_* environment variables on top of the defaults.
func Load() *intelligence.Config {
	cfg := intelligence.DefaultConfig()

	if viper.IsSet("categorizer.min_auto_confidence") {
		cfg.Categorizer.MinAutoConfidence = viper.GetFloat64("categorizer.min_auto_confidence")
	}
	if viper.IsSet("categorizer.fuzzy_threshold") {
		cfg.Categorizer.FuzzyThreshold = viper.GetFloat64("categorizer.fuzzy_threshold")
	}
	if viper.IsSet("categorizer.fallback_category") {
		cfg.Categorizer.FallbackCategoryID = viper.GetString("categorizer.fallback_category")
	}

	if viper.IsSet("recurring.min_occurrences") {
		cfg.Recurring.MinOccurrences = viper.GetInt("recurring.min_occurrences")
	}
	if viper.IsSet("recurring.max_amount_variation") {
		cfg.Recurring.MaxAmountVariation = viper.GetFloat64("recurring.max_amount_variation")
	}

	if viper.IsSet("anomaly.window_days") {
		cfg.Anomaly.WindowDays = viper.GetInt("anomaly.window_days")
	}
	if viper.IsSet("anomaly.zscore_threshold") {
		cfg.Anomaly.ZScoreThreshold = viper.GetFloat64("anomaly.zscore_threshold")
	}
	if viper.IsSet("anomaly.large_amount_threshold") {
		cfg.Anomaly.LargeAmountThreshold = decimal.NewFromFloat(viper.GetFloat64("anomaly.large_amount_threshold"))
	}
	if viper.IsSet("anomaly.spike_ratio") {
		cfg.Anomaly.SpikeRatio = viper.GetFloat64("anomaly.spike_ratio")
	}

	if viper.IsSet("parser.default_account") {
		cfg.Parser.DefaultAccountID = viper.GetString("parser.default_account")
	}

	return cfg
}

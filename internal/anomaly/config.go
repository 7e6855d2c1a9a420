// Package anomaly flags suspicious transactions within a recent window.
//
// Four independent passes run over the window: statistical amount
// outliers within a category (leave-one-out z-score), large payments to
// merchants the user has never paid before, potential duplicate charges,
// and category spending spikes against the historical monthly average.
// Every finding persists as an anomaly record; re-running detection never
// duplicates an open finding.
package anomaly

import (
	"fmt"
	"time"

	"golang-finance-intelligence/pkg/errors"

	"github.com/shopspring/decimal"
)

// Config holds thresholds for the detection passes
type Config struct {
	// WindowDays bounds the detection window counting back from the
	// reference date.
	WindowDays int

	// ReferenceDate anchors the window; nil means now. Tests pin this.
	ReferenceDate *time.Time

	// ZScoreThreshold is the strict leave-one-out z-score bound above
	// which an amount counts as an outlier.
	ZScoreThreshold float64

	// MinCategorySize is the minimum historical transaction count a
	// category needs before outlier scoring applies.
	MinCategorySize int

	// MinComparisonSize is the minimum peer count remaining after
	// excluding the scored transaction.
	MinComparisonSize int

	// LargeAmountThreshold is the debit amount above which an unseen
	// merchant triggers a finding.
	LargeAmountThreshold decimal.Decimal

	// SpikeRatio flags a category when current-month spend reaches this
	// multiple of the historical monthly average.
	SpikeRatio float64

	// MinHistoryMonths is the number of distinct historical months a
	// category needs before spike detection applies.
	MinHistoryMonths int
}

// DefaultConfig returns the standard detection thresholds
func DefaultConfig() *Config {
	return &Config{
		WindowDays:           30,
		ZScoreThreshold:      3.0,
		MinCategorySize:      5,
		MinComparisonSize:    4,
		LargeAmountThreshold: decimal.NewFromInt(100),
		SpikeRatio:           3.0,
		MinHistoryMonths:     2,
	}
}

// Validate checks the configuration for invalid threshold combinations
func (c *Config) Validate() error {
	if c.WindowDays <= 0 {
		return errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("window days must be positive, got %d", c.WindowDays))
	}
	if c.ZScoreThreshold <= 0 {
		return errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("z-score threshold must be positive, got %.2f", c.ZScoreThreshold))
	}
	if c.MinCategorySize < 2 {
		return errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("minimum category size must be at least 2, got %d", c.MinCategorySize))
	}
	if c.MinComparisonSize < 1 {
		return errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("minimum comparison size must be at least 1, got %d", c.MinComparisonSize))
	}
	if c.LargeAmountThreshold.IsNegative() {
		return errors.ValidationError(errors.CodeInvalidConfig,
			"large amount threshold cannot be negative")
	}
	if c.SpikeRatio <= 1.0 {
		return errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("spike ratio must exceed 1.0, got %.2f", c.SpikeRatio))
	}
	if c.MinHistoryMonths < 1 {
		return errors.ValidationError(errors.CodeInvalidConfig,
			fmt.Sprintf("minimum history months must be at least 1, got %d", c.MinHistoryMonths))
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	if c.ReferenceDate != nil {
		ref := *c.ReferenceDate
		clone.ReferenceDate = &ref
	}
	return &clone
}

// referenceTime resolves the anchor for the detection window
func (c *Config) referenceTime() time.Time {
	if c.ReferenceDate != nil {
		return *c.ReferenceDate
	}
	return time.Now().UTC()
}

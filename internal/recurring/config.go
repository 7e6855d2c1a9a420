// Package recurring detects recurring payments by grouping historical
// transactions and inferring billing cadence from their date series.
//
// A group of at least three transactions sharing an exact description is
// classified by the average gap between successive occurrences: fixed
// bands map the gap to weekly, fortnightly, monthly, quarterly or yearly.
// Cadence alone is not enough: highly variable amounts are rejected via a
// coefficient-of-variation gate even when the dates line up.
package recurring

import "fmt"

// Config holds the recurring pattern detector tuning parameters
type Config struct {
	// MinOccurrences is the smallest group that can become a pattern.
	MinOccurrences int `json:"min_occurrences"`

	// MaxAmountVariation is the maximum coefficient of variation
	// (stddev/mean) of a group's amounts; groups above it are rejected
	// even when the cadence is regular.
	MaxAmountVariation float64 `json:"max_amount_variation"`

	// SubscriptionClassifications lists the category classifications that
	// mark a pattern as a subscription (for example "entertainment").
	// Injected by the surrounding system, never inferred.
	SubscriptionClassifications []string `json:"subscription_classifications"`
}

// DefaultConfig returns a configuration with the standard thresholds
func DefaultConfig() *Config {
	return &Config{
		MinOccurrences:     3,
		MaxAmountVariation: 0.10,
	}
}

// Validate checks if the detector configuration is valid
func (c *Config) Validate() error {
	if c.MinOccurrences < 2 {
		return fmt.Errorf("min occurrences must be at least 2: %d", c.MinOccurrences)
	}

	if c.MaxAmountVariation < 0.0 || c.MaxAmountVariation > 1.0 {
		return fmt.Errorf("max amount variation must be between 0.0 and 1.0: %f", c.MaxAmountVariation)
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	clone.SubscriptionClassifications = append([]string(nil), c.SubscriptionClassifications...)
	return &clone
}

// IsSubscriptionClassification reports whether the classification is in
// the injected subscription-like set.
func (c *Config) IsSubscriptionClassification(classification string) bool {
	for _, s := range c.SubscriptionClassifications {
		if s == classification {
			return true
		}
	}
	return false
}

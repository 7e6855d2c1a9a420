// Package categorizer provides the rule-based and fuzzy transaction
// categorization engine.
//
// Categorization runs in two phases. Phase one scores exact containment
// matches of stored rule patterns against the upper-cased description;
// phase two, consulted only when phase one finds nothing, scores fuzzy
// token similarity and caps its confidence below any exact match. The
// deterministic path used by CRUD auto-assignment bypasses scoring
// entirely and takes the first rule in (priority desc, created asc) order.
//
// Example usage:
//
//	engine, err := categorizer.New(st, categorizer.DefaultConfig())
//	suggestion, err := engine.SuggestCategory(ctx, userID, "TESCO STORES 1234")
//	result, err := engine.AutoCategorize(ctx, userID, nil)
package categorizer

import "fmt"

// Config holds the categorization engine tuning parameters
type Config struct {
	// MinAutoConfidence is the confidence floor for applying a suggestion
	// during batch auto-categorization.
	MinAutoConfidence float64 `json:"min_auto_confidence"`

	// FuzzyThreshold is the minimum token similarity considered in the
	// fuzzy phase.
	FuzzyThreshold float64 `json:"fuzzy_threshold"`

	// FuzzyWeight scales fuzzy similarity into a confidence, keeping fuzzy
	// matches below exact-match confidence.
	FuzzyWeight float64 `json:"fuzzy_weight"`

	// MinFuzzyTokenLength is the shortest description token scored in the
	// fuzzy phase.
	MinFuzzyTokenLength int `json:"min_fuzzy_token_length"`

	// MaxLearnedPriority caps the priority assigned to learned rules.
	MaxLearnedPriority int `json:"max_learned_priority"`

	// FallbackCategoryID is the injected "Other" category returned by the
	// deterministic path when no rule matches. The id is configuration, not
	// a literal, because it is an artifact of seed data.
	FallbackCategoryID string `json:"fallback_category_id"`
}

// DefaultConfig returns a configuration with the standard thresholds
func DefaultConfig() *Config {
	return &Config{
		MinAutoConfidence:   0.7,
		FuzzyThreshold:      0.7,
		FuzzyWeight:         0.7,
		MinFuzzyTokenLength: 3,
		MaxLearnedPriority:  20,
	}
}

// Validate checks if the categorizer configuration is valid
func (c *Config) Validate() error {
	if c.MinAutoConfidence < 0.0 || c.MinAutoConfidence > 1.0 {
		return fmt.Errorf("min auto confidence must be between 0.0 and 1.0: %f", c.MinAutoConfidence)
	}

	if c.FuzzyThreshold < 0.0 || c.FuzzyThreshold > 1.0 {
		return fmt.Errorf("fuzzy threshold must be between 0.0 and 1.0: %f", c.FuzzyThreshold)
	}

	if c.FuzzyWeight < 0.0 || c.FuzzyWeight > 1.0 {
		return fmt.Errorf("fuzzy weight must be between 0.0 and 1.0: %f", c.FuzzyWeight)
	}

	if c.MinFuzzyTokenLength < 1 {
		return fmt.Errorf("min fuzzy token length must be positive: %d", c.MinFuzzyTokenLength)
	}

	if c.MaxLearnedPriority <= 0 {
		return fmt.Errorf("max learned priority must be positive: %d", c.MaxLearnedPriority)
	}

	return nil
}

// Clone creates a copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	return &clone
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{MinAutoConfidence: %.2f, FuzzyThreshold: %.2f, FuzzyWeight: %.2f, Fallback: %s}",
		c.MinAutoConfidence, c.FuzzyThreshold, c.FuzzyWeight, c.FallbackCategoryID)
}

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single ledger row owned by the persistence layer.
// Exactly one of DebitAmount and CreditAmount is non-zero for non-transfer
// rows; the categorizer mutates CategoryID and the recurring detector mutates
// IsRecurring and RecurringPatternID.
type Transaction struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	AccountID          string          `json:"accountId"`
	Date               time.Time       `json:"date"`
	Description        string          `json:"description"`
	DebitAmount        decimal.Decimal `json:"debitAmount"`
	CreditAmount       decimal.Decimal `json:"creditAmount"`
	CategoryID         *string         `json:"categoryId,omitempty"`
	IsTransfer         bool            `json:"isTransfer"`
	IsRecurring        bool            `json:"isRecurring"`
	RecurringPatternID *string         `json:"recurringPatternId,omitempty"`
}

// Amount returns the single non-zero magnitude of the transaction.
// Debits take precedence when both sides are populated (transfer rows).
func (t *Transaction) Amount() decimal.Decimal {
	if !t.DebitAmount.IsZero() {
		return t.DebitAmount
	}
	return t.CreditAmount
}

// IsDebit returns true if the transaction carries a debit amount
func (t *Transaction) IsDebit() bool {
	return !t.DebitAmount.IsZero()
}

// IsCredit returns true if the transaction carries a credit amount
func (t *Transaction) IsCredit() bool {
	return t.DebitAmount.IsZero() && !t.CreditAmount.IsZero()
}

// Validate performs basic validation on the Transaction
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("transaction user ID cannot be empty")
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	if t.DebitAmount.IsNegative() || t.CreditAmount.IsNegative() {
		return fmt.Errorf("debit and credit amounts must be non-negative magnitudes")
	}

	if !t.IsTransfer {
		debitSet := !t.DebitAmount.IsZero()
		creditSet := !t.CreditAmount.IsZero()
		if debitSet == creditSet {
			return fmt.Errorf("exactly one of debit and credit must be non-zero for non-transfer rows")
		}
	}

	return nil
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Date: %s, Description: %q, Amount: %s}",
		t.ID, t.Date.Format("2006-01-02"), t.Description, t.Amount().String())
}

// Category is an entry of the category catalog read from the persistence
// collaborator. Classification is a free-form grouping label (for example
// "entertainment") used to drive the injectable subscription classification.
type Category struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification,omitempty"`
}

// Validate performs basic validation on the Category
func (c *Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("category ID cannot be empty")
	}

	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("category name cannot be empty")
	}

	return nil
}

// CategoryRule drives deterministic categorization. Pattern is stored
// wildcard-wrapped (%TOKEN%) and matched as a case-insensitive substring of
// the transaction description. Among active matching rules the highest
// priority wins; ties break by earliest creation.
type CategoryRule struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Pattern    string    `json:"pattern"`
	CategoryID string    `json:"categoryId"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate performs basic validation on the CategoryRule
func (r *CategoryRule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule pattern cannot be empty")
	}

	if strings.TrimSpace(r.CategoryID) == "" {
		return fmt.Errorf("rule category ID cannot be empty")
	}

	if r.Priority < 0 {
		return fmt.Errorf("rule priority cannot be negative: %d", r.Priority)
	}

	return nil
}

// String returns a string representation of the CategoryRule
func (r *CategoryRule) String() string {
	return fmt.Sprintf("CategoryRule{Pattern: %q, CategoryID: %s, Priority: %d, Active: %t}",
		r.Pattern, r.CategoryID, r.Priority, r.Active)
}

// Frequency is the inferred billing cadence of a recurring pattern.
// The zero value means the cadence could not be classified (irregular).
type Frequency string

const (
	FrequencyWeekly      Frequency = "weekly"
	FrequencyFortnightly Frequency = "fortnightly"
	FrequencyMonthly     Frequency = "monthly"
	FrequencyQuarterly   Frequency = "quarterly"
	FrequencyYearly      Frequency = "yearly"

	// FrequencyNone marks a group whose gaps fall outside every band.
	FrequencyNone Frequency = ""
)

// String returns the string representation of Frequency
func (f Frequency) String() string {
	if f == FrequencyNone {
		return "irregular"
	}
	return string(f)
}

// IsValid checks if the frequency is a known cadence or the none value
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly,
		FrequencyQuarterly, FrequencyYearly, FrequencyNone:
		return true
	default:
		return false
	}
}

// ParseFrequency parses and validates a frequency value from string
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly":
		return FrequencyWeekly, nil
	case "fortnightly":
		return FrequencyFortnightly, nil
	case "monthly":
		return FrequencyMonthly, nil
	case "quarterly":
		return FrequencyQuarterly, nil
	case "yearly", "annual":
		return FrequencyYearly, nil
	case "", "none", "irregular":
		return FrequencyNone, nil
	default:
		return FrequencyNone, fmt.Errorf("invalid frequency '%s': must be weekly, fortnightly, monthly, quarterly or yearly", s)
	}
}

// RecurringPattern is a detected series of similar transactions with a
// regular cadence. Patterns are soft-deleted via the Active flag; linked
// transactions are unlinked on deletion.
type RecurringPattern struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	DescriptionPattern string          `json:"descriptionPattern"`
	MerchantName       *string         `json:"merchantName,omitempty"`
	TypicalAmount      decimal.Decimal `json:"typicalAmount"`
	TypicalDay         *int            `json:"typicalDay,omitempty"`
	Frequency          Frequency       `json:"frequency"`
	OccurrenceCount    int             `json:"occurrenceCount"`
	IsSubscription     bool            `json:"isSubscription"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Validate performs basic validation on the RecurringPattern
func (p *RecurringPattern) Validate() error {
	if strings.TrimSpace(p.DescriptionPattern) == "" {
		return fmt.Errorf("pattern description cannot be empty")
	}

	if !p.Frequency.IsValid() {
		return fmt.Errorf("invalid frequency: %s", p.Frequency)
	}

	if p.OccurrenceCount < 0 {
		return fmt.Errorf("occurrence count cannot be negative: %d", p.OccurrenceCount)
	}

	if p.TypicalDay != nil && (*p.TypicalDay < 1 || *p.TypicalDay > 31) {
		return fmt.Errorf("typical day must be between 1 and 31: %d", *p.TypicalDay)
	}

	return nil
}

// String returns a string representation of the RecurringPattern
func (p *RecurringPattern) String() string {
	return fmt.Sprintf("RecurringPattern{Pattern: %q, Frequency: %s, TypicalAmount: %s, Occurrences: %d}",
		p.DescriptionPattern, p.Frequency, p.TypicalAmount.String(), p.OccurrenceCount)
}

// AnomalyType classifies a detected anomaly
type AnomalyType string

const (
	// AnomalyUnusualAmount flags a transaction far from its category's
	// leave-one-out mean.
	AnomalyUnusualAmount AnomalyType = "unusual_amount"

	// AnomalyNewMerchantLarge flags a large debit at a merchant with no
	// earlier transaction history.
	AnomalyNewMerchantLarge AnomalyType = "new_merchant_large"

	// AnomalyPotentialDuplicate flags repeated (date, description, amount)
	// rows beyond the first occurrence.
	AnomalyPotentialDuplicate AnomalyType = "potential_duplicate"

	// AnomalyCategorySpike flags a category whose current-month spend far
	// exceeds its historical monthly average. Category-level: no transaction
	// reference.
	AnomalyCategorySpike AnomalyType = "category_spike"
)

// String returns the string representation of AnomalyType
func (t AnomalyType) String() string {
	return string(t)
}

// IsValid checks if the anomaly type is known
func (t AnomalyType) IsValid() bool {
	switch t {
	case AnomalyUnusualAmount, AnomalyNewMerchantLarge,
		AnomalyPotentialDuplicate, AnomalyCategorySpike:
		return true
	default:
		return false
	}
}

// Severity is the qualitative urgency tag attached to an anomaly
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// String returns the string representation of Severity
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is known
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Anomaly is a persisted detection result. TransactionID is nil for
// category-level anomalies (category spikes), which carry CategoryID
// instead. At most one open record exists per scope, reference and type;
// re-running detection over unchanged data must not duplicate.
type Anomaly struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	TransactionID  *string     `json:"transactionId,omitempty"`
	CategoryID     *string     `json:"categoryId,omitempty"`
	Type           AnomalyType `json:"type"`
	Severity       Severity    `json:"severity"`
	Description    string      `json:"description"`
	Dismissed      bool        `json:"dismissed"`
	ConfirmedFraud bool        `json:"confirmedFraud"`
	DetectedAt     time.Time   `json:"detectedAt"`
}

// IsOpen reports whether the anomaly still awaits review
func (a *Anomaly) IsOpen() bool {
	return !a.Dismissed
}

// Validate performs basic validation on the Anomaly
func (a *Anomaly) Validate() error {
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid anomaly type: %s", a.Type)
	}

	if !a.Severity.IsValid() {
		return fmt.Errorf("invalid anomaly severity: %s", a.Severity)
	}

	if a.TransactionID == nil && a.CategoryID == nil {
		return fmt.Errorf("anomaly must reference a transaction or a category")
	}

	if strings.TrimSpace(a.Description) == "" {
		return fmt.Errorf("anomaly description cannot be empty")
	}

	return nil
}

// String returns a string representation of the Anomaly
func (a *Anomaly) String() string {
	ref := "category"
	if a.TransactionID != nil {
		ref = *a.TransactionID
	}
	return fmt.Sprintf("Anomaly{Type: %s, Severity: %s, Ref: %s}", a.Type, a.Severity, ref)
}

// ParseDecimalFromString parses a decimal amount from string with validation,
// tolerating common currency symbols and thousand separators.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "£", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple
// formats commonly seen in exported statements.
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"02/01/2006",
		"2006/01/02",
		"Jan 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

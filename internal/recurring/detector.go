package recurring

import (
	"context"
	"math"
	"sort"
	"time"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/patterns"
	"golang-finance-intelligence/internal/store"
	"golang-finance-intelligence/pkg/errors"
	"golang-finance-intelligence/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// frequencyBand maps a range of average day gaps to a billing cadence
type frequencyBand struct {
	min, max  float64
	frequency models.Frequency
}

// Fixed bands: gaps between occurrences outside every band classify as
// irregular (FrequencyNone).
var frequencyBands = []frequencyBand{
	{4, 10, models.FrequencyWeekly},
	{11, 18, models.FrequencyFortnightly},
	{25, 35, models.FrequencyMonthly},
	{80, 100, models.FrequencyQuarterly},
	{350, 380, models.FrequencyYearly},
}

// ClassifyGap maps an average day gap to a frequency using the fixed bands
func ClassifyGap(avgGapDays float64) models.Frequency {
	for _, band := range frequencyBands {
		if avgGapDays >= band.min && avgGapDays <= band.max {
			return band.frequency
		}
	}
	return models.FrequencyNone
}

// Classification is the numeric profile of a transaction group
type Classification struct {
	Frequency            models.Frequency `json:"frequency"`
	TypicalAmount        decimal.Decimal  `json:"typicalAmount"`
	TypicalDay           int              `json:"typicalDay"`
	AverageGapDays       float64          `json:"averageGapDays"`
	VariationCoefficient float64          `json:"variationCoefficient"`
}

// Detector infers recurring payments from transaction history
type Detector struct {
	store  store.Store
	config *Config
	log    logger.Logger
}

// DetectResult summarizes one detection run
type DetectResult struct {
	GroupsConsidered int                        `json:"groupsConsidered"`
	PatternsCreated  int                        `json:"patternsCreated"`
	PatternsUpdated  int                        `json:"patternsUpdated"`
	Patterns         []*models.RecurringPattern `json:"patterns"`
}

// RegularPayments partitions active patterns into display buckets.
// Fortnightly cadences display alongside weekly, quarterly alongside
// monthly; only yearly cadences are annual.
type RegularPayments struct {
	Weekly  []*models.RecurringPattern `json:"weekly"`
	Monthly []*models.RecurringPattern `json:"monthly"`
	Annual  []*models.RecurringPattern `json:"annual"`
}

// New creates a recurring pattern detector with the specified configuration
func New(st store.Store, config *Config) (*Detector, error) {
	if st == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil)
	}

	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "recurring", err.Error())
	}

	return &Detector{
		store:  st,
		config: config.Clone(),
		log:    logger.GetGlobalLogger().WithComponent("recurring"),
	}, nil
}

// Classify profiles a group of transactions: average gap between
// successive dates, the frequency band that gap falls into, the mean
// amount, its coefficient of variation, and the representative
// day-of-month.
func (d *Detector) Classify(group []*models.Transaction) Classification {
	sorted := make([]*models.Transaction, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var c Classification
	if len(sorted) == 0 {
		return c
	}

	if len(sorted) > 1 {
		totalGap := 0.0
		for i := 1; i < len(sorted); i++ {
			totalGap += sorted[i].Date.Sub(sorted[i-1].Date).Hours() / 24.0
		}
		c.AverageGapDays = totalGap / float64(len(sorted)-1)
		c.Frequency = ClassifyGap(c.AverageGapDays)
	}

	sum := decimal.Zero
	amounts := make([]float64, 0, len(sorted))
	for _, tx := range sorted {
		amount := tx.Amount()
		sum = sum.Add(amount)
		amounts = append(amounts, amount.InexactFloat64())
	}

	c.TypicalAmount = sum.Div(decimal.NewFromInt(int64(len(sorted)))).Round(2)
	c.TypicalDay = sorted[len(sorted)-1].Date.Day()

	mean := meanOf(amounts)
	if mean != 0 {
		c.VariationCoefficient = stddevOf(amounts, mean) / mean
	}

	return c
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// Detect groups the user's non-transfer transactions by exact description
// and persists a recurring pattern for every group that clears the
// occurrence, cadence and amount-consistency gates. Each group's pattern
// save and transaction linking commit as one unit; a failed group never
// aborts the others.
func (d *Detector) Detect(ctx context.Context, userID string, accountID *string) (*DetectResult, error) {
	transactions, err := d.store.ListTransactions(ctx, userID, store.TransactionFilter{
		AccountID:        accountID,
		ExcludeTransfers: true,
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list transactions", err)
	}

	categories, err := d.categoryIndex(ctx)
	if err != nil {
		return nil, err
	}

	// Exact, case-sensitive description grouping.
	groups := make(map[string][]*models.Transaction)
	for _, tx := range transactions {
		groups[tx.Description] = append(groups[tx.Description], tx)
	}

	// Stable iteration order keeps runs deterministic.
	descriptions := make([]string, 0, len(groups))
	for description := range groups {
		descriptions = append(descriptions, description)
	}
	sort.Strings(descriptions)

	result := &DetectResult{}
	for _, description := range descriptions {
		group := groups[description]
		if len(group) < d.config.MinOccurrences {
			continue
		}
		result.GroupsConsidered++

		classification := d.Classify(group)
		if classification.Frequency == models.FrequencyNone {
			continue
		}
		if classification.VariationCoefficient > d.config.MaxAmountVariation {
			continue
		}

		pattern, created, err := d.persistGroup(ctx, userID, description, group, classification, categories)
		if err != nil {
			d.log.WithError(err).WithField("description", description).
				Warn("Failed to persist recurring pattern")
			continue
		}

		if created {
			result.PatternsCreated++
		} else {
			result.PatternsUpdated++
		}
		result.Patterns = append(result.Patterns, pattern)
	}

	d.log.WithFields(logger.Fields{
		"groups":  result.GroupsConsidered,
		"created": result.PatternsCreated,
		"updated": result.PatternsUpdated,
	}).Info("Recurring pattern detection complete")

	return result, nil
}

func (d *Detector) categoryIndex(ctx context.Context) (map[string]*models.Category, error) {
	categories, err := d.store.ListCategories(ctx)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list categories", err)
	}

	index := make(map[string]*models.Category, len(categories))
	for _, category := range categories {
		index[category.ID] = category
	}
	return index, nil
}

// persistGroup saves or refreshes the pattern for one group and links its
// members, all inside a single unit of work.
func (d *Detector) persistGroup(
	ctx context.Context,
	userID, description string,
	group []*models.Transaction,
	classification Classification,
	categories map[string]*models.Category,
) (*models.RecurringPattern, bool, error) {

	descriptionPattern := description
	var merchantName *string
	if token, ok := patterns.MerchantSignature(description); ok {
		wrapped, _ := patterns.ExtractPattern(description)
		descriptionPattern = wrapped
		merchantName = &token
	}

	typicalDay := classification.TypicalDay

	pattern := &models.RecurringPattern{
		ID:                 uuid.NewString(),
		UserID:             userID,
		DescriptionPattern: descriptionPattern,
		MerchantName:       merchantName,
		TypicalAmount:      classification.TypicalAmount,
		TypicalDay:         &typicalDay,
		Frequency:          classification.Frequency,
		OccurrenceCount:    len(group),
		IsSubscription:     d.isSubscription(group, categories),
		Active:             true,
		CreatedAt:          time.Now().UTC(),
	}

	created := false
	err := d.store.WithinTx(ctx, func(st store.Store) error {
		existing, err := st.FindActivePatternByDescription(ctx, userID, descriptionPattern)
		if err != nil {
			return err
		}

		if existing != nil {
			existing.TypicalAmount = pattern.TypicalAmount
			existing.TypicalDay = pattern.TypicalDay
			existing.Frequency = pattern.Frequency
			existing.OccurrenceCount = pattern.OccurrenceCount
			existing.IsSubscription = pattern.IsSubscription
			pattern = existing
		} else {
			created = true
		}

		if err := st.SavePattern(ctx, pattern); err != nil {
			return err
		}

		ids := make([]string, 0, len(group))
		for _, tx := range group {
			ids = append(ids, tx.ID)
		}

		_, err = st.MarkRecurring(ctx, userID, ids, pattern.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return pattern, created, nil
}

// isSubscription checks the group's category classification against the
// injected subscription-like set.
func (d *Detector) isSubscription(group []*models.Transaction, categories map[string]*models.Category) bool {
	for _, tx := range group {
		if tx.CategoryID == nil {
			continue
		}
		if category, ok := categories[*tx.CategoryID]; ok {
			return d.config.IsSubscriptionClassification(category.Classification)
		}
	}
	return false
}

// GetRegularPayments returns the active patterns partitioned into display
// buckets: weekly and fortnightly cadences are weekly, monthly and
// quarterly are monthly, yearly is annual.
func (d *Detector) GetRegularPayments(ctx context.Context, userID string) (*RegularPayments, error) {
	active, err := d.store.ListActivePatterns(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list patterns", err)
	}

	payments := &RegularPayments{}
	for _, pattern := range active {
		switch pattern.Frequency {
		case models.FrequencyWeekly, models.FrequencyFortnightly:
			payments.Weekly = append(payments.Weekly, pattern)
		case models.FrequencyMonthly, models.FrequencyQuarterly:
			payments.Monthly = append(payments.Monthly, pattern)
		case models.FrequencyYearly:
			payments.Annual = append(payments.Annual, pattern)
		}
	}

	return payments, nil
}

// MarkAsRecurring bulk-sets the recurring flag and group reference on the
// given transactions. The pattern must exist; updating zero transactions
// is a valid no-op.
func (d *Detector) MarkAsRecurring(ctx context.Context, userID string, transactionIDs []string, patternID string) (int, error) {
	if _, err := d.store.GetPattern(ctx, userID, patternID); err != nil {
		return 0, err
	}

	updated, err := d.store.MarkRecurring(ctx, userID, transactionIDs, patternID)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "mark recurring", err)
	}

	return updated, nil
}

// DeletePattern soft-deletes a pattern and unlinks its transactions in
// one unit of work.
func (d *Detector) DeletePattern(ctx context.Context, userID, patternID string) error {
	if _, err := d.store.GetPattern(ctx, userID, patternID); err != nil {
		return err
	}

	err := d.store.WithinTx(ctx, func(st store.Store) error {
		if _, err := st.ClearRecurring(ctx, userID, patternID); err != nil {
			return err
		}
		return st.DeactivatePattern(ctx, userID, patternID)
	})
	if err != nil {
		if _, ok := errors.AsTrackerError(err); ok {
			return err
		}
		return errors.StorageError(errors.CodeTransactionFailed, "delete pattern", err)
	}

	return nil
}

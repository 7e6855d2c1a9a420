package anomaly

import (
	"context"
	"fmt"
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

// Detector runs the anomaly passes over a user's transactions
type Detector struct {
	store  store.Store
	config *Config
	log    logger.Logger
}

// DetectResult summarizes one detection run
type DetectResult struct {
	WindowSize int               `json:"windowSize"`
	Created    int               `json:"created"`
	Existing   int               `json:"existing"`
	Anomalies  []*models.Anomaly `json:"anomalies"`
}

// Stats aggregates anomaly records for reporting
type Stats struct {
	Total          int                           `json:"total"`
	Pending        int                           `json:"pending"`
	Dismissed      int                           `json:"dismissed"`
	ConfirmedFraud int                           `json:"confirmedFraud"`
	ByType         map[models.AnomalyType]int    `json:"byType"`
	BySeverity     map[models.Severity]int       `json:"bySeverity"`
}

// New creates an anomaly detector with the specified configuration
func New(st store.Store, config *Config) (*Detector, error) {
	if st == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil)
	}

	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", err.Error())
	}

	return &Detector{
		store:  st,
		config: config.Clone(),
		log:    logger.GetGlobalLogger().WithComponent("anomaly"),
	}, nil
}

// Detect runs all four passes over the user's detection window and
// persists every finding. Detection is idempotent: a finding whose open
// twin already exists is counted but not re-inserted.
func (d *Detector) Detect(ctx context.Context, userID string) (*DetectResult, error) {
	reference := d.config.referenceTime()
	windowStart := reference.AddDate(0, 0, -d.config.WindowDays)

	all, err := d.store.ListTransactions(ctx, userID, store.TransactionFilter{
		To:               &reference,
		ExcludeTransfers: true,
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list transactions", err)
	}

	// Detection only scores spending; credits and zero-debit rows stay
	// in history for context but are never flagged themselves.
	var window []*models.Transaction
	for _, tx := range all {
		if !tx.Date.Before(windowStart) && tx.DebitAmount.IsPositive() {
			window = append(window, tx)
		}
	}

	result := &DetectResult{WindowSize: len(window)}
	if len(window) == 0 {
		return result, nil
	}

	findings := d.unusualAmounts(window, all)
	findings = append(findings, d.newMerchants(all, windowStart)...)
	findings = append(findings, d.duplicates(window)...)

	spikes, err := d.categorySpikes(ctx, all, reference)
	if err != nil {
		return nil, err
	}
	findings = append(findings, spikes...)

	for _, finding := range findings {
		finding.UserID = userID
		finding.DetectedAt = reference

		existing, err := d.store.FindOpenAnomaly(ctx, userID, finding.TransactionID, finding.CategoryID, finding.Type)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "find open anomaly", err)
		}
		if existing != nil {
			result.Existing++
			result.Anomalies = append(result.Anomalies, existing)
			continue
		}

		finding.ID = uuid.NewString()
		if err := d.store.SaveAnomaly(ctx, finding); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "save anomaly", err)
		}
		result.Created++
		result.Anomalies = append(result.Anomalies, finding)
	}

	d.log.WithFields(logger.Fields{
		"window":   result.WindowSize,
		"created":  result.Created,
		"existing": result.Existing,
	}).Info("Anomaly detection complete")

	return result, nil
}

// unusualAmounts scores each window transaction against its category
// peers with a leave-one-out z-score. Small categories, small peer sets
// and zero-variance peer sets are skipped rather than flagged.
func (d *Detector) unusualAmounts(window, all []*models.Transaction) []*models.Anomaly {
	byCategory := make(map[string][]float64)
	for _, tx := range all {
		if tx.CategoryID == nil || !tx.DebitAmount.IsPositive() {
			continue
		}
		byCategory[*tx.CategoryID] = append(byCategory[*tx.CategoryID], tx.DebitAmount.InexactFloat64())
	}

	var findings []*models.Anomaly
	for _, tx := range window {
		if tx.CategoryID == nil {
			continue
		}

		amounts := byCategory[*tx.CategoryID]
		if len(amounts) < d.config.MinCategorySize {
			continue
		}

		amount := tx.DebitAmount.InexactFloat64()
		peers := excludeOne(amounts, amount)
		if len(peers) < d.config.MinComparisonSize {
			continue
		}

		mean := meanOf(peers)
		stddev := stddevOf(peers, mean)
		if stddev == 0 {
			continue
		}

		z := math.Abs(amount-mean) / stddev
		if z <= d.config.ZScoreThreshold {
			continue
		}

		txID := tx.ID
		findings = append(findings, &models.Anomaly{
			TransactionID: &txID,
			CategoryID:    tx.CategoryID,
			Type:          models.AnomalyUnusualAmount,
			Severity:      models.SeverityMedium,
			Description: fmt.Sprintf("Amount %s is %.1f standard deviations from the category average %.2f",
				tx.DebitAmount.StringFixed(2), z, mean),
		})
	}

	return findings
}

// excludeOne removes a single occurrence of value from amounts
func excludeOne(amounts []float64, value float64) []float64 {
	peers := make([]float64, 0, len(amounts)-1)
	removed := false
	for _, a := range amounts {
		if !removed && a == value {
			removed = true
			continue
		}
		peers = append(peers, a)
	}
	return peers
}

// newMerchants flags large window debits whose merchant signature never
// appears in any earlier transaction. Any prior contact with the merchant
// suppresses the flag, including small purchases inside the window.
func (d *Detector) newMerchants(all []*models.Transaction, windowStart time.Time) []*models.Anomaly {
	sorted := make([]*models.Transaction, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	seen := make(map[string]bool)
	var findings []*models.Anomaly
	for _, tx := range sorted {
		merchant, ok := patterns.MerchantSignature(tx.Description)
		if !ok {
			continue
		}

		if !seen[merchant] && !tx.Date.Before(windowStart) &&
			tx.DebitAmount.GreaterThan(d.config.LargeAmountThreshold) {
			txID := tx.ID
			findings = append(findings, &models.Anomaly{
				TransactionID: &txID,
				CategoryID:    tx.CategoryID,
				Type:          models.AnomalyNewMerchantLarge,
				Severity:      models.SeverityLow,
				Description: fmt.Sprintf("First payment of %s to new merchant %s",
					tx.DebitAmount.StringFixed(2), merchant),
			})
		}

		seen[merchant] = true
	}

	return findings
}

// duplicates flags every window transaction beyond the first that shares
// a calendar day, description and amount with another.
func (d *Detector) duplicates(window []*models.Transaction) []*models.Anomaly {
	type dupKey struct {
		day         string
		description string
		amount      string
	}

	sorted := make([]*models.Transaction, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	seen := make(map[dupKey]bool)
	var findings []*models.Anomaly
	for _, tx := range sorted {
		key := dupKey{
			day:         tx.Date.Format("2006-01-02"),
			description: tx.Description,
			amount:      tx.DebitAmount.String(),
		}

		if !seen[key] {
			seen[key] = true
			continue
		}

		txID := tx.ID
		findings = append(findings, &models.Anomaly{
			TransactionID: &txID,
			CategoryID:    tx.CategoryID,
			Type:          models.AnomalyPotentialDuplicate,
			Severity:      models.SeverityHigh,
			Description: fmt.Sprintf("Possible duplicate charge of %s for %q on %s",
				tx.DebitAmount.StringFixed(2), tx.Description, key.day),
		})
	}

	return findings
}

// categorySpikes compares the current calendar month's spend per category
// against the average over the complete months before it. Categories with
// too little history are skipped. Spike findings reference the category,
// not a transaction.
func (d *Detector) categorySpikes(ctx context.Context, all []*models.Transaction, reference time.Time) ([]*models.Anomaly, error) {
	monthStart := time.Date(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, reference.Location())

	currentSpend := make(map[string]decimal.Decimal)
	historyMonths := make(map[string]map[string]decimal.Decimal)
	for _, tx := range all {
		if tx.CategoryID == nil || !tx.DebitAmount.IsPositive() {
			continue
		}

		if !tx.Date.Before(monthStart) {
			currentSpend[*tx.CategoryID] = currentSpend[*tx.CategoryID].Add(tx.DebitAmount)
			continue
		}

		month := tx.Date.Format("2006-01")
		if historyMonths[*tx.CategoryID] == nil {
			historyMonths[*tx.CategoryID] = make(map[string]decimal.Decimal)
		}
		historyMonths[*tx.CategoryID][month] = historyMonths[*tx.CategoryID][month].Add(tx.DebitAmount)
	}

	categoryIDs := make([]string, 0, len(currentSpend))
	for id := range currentSpend {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Strings(categoryIDs)

	var findings []*models.Anomaly
	for _, categoryID := range categoryIDs {
		months := historyMonths[categoryID]
		if len(months) < d.config.MinHistoryMonths {
			continue
		}

		total := decimal.Zero
		for _, spend := range months {
			total = total.Add(spend)
		}
		average := total.Div(decimal.NewFromInt(int64(len(months))))
		if !average.IsPositive() {
			continue
		}

		spend := currentSpend[categoryID]
		threshold := average.Mul(decimal.NewFromFloat(d.config.SpikeRatio))
		if spend.LessThan(threshold) {
			continue
		}

		name := categoryID
		if category, err := d.store.GetCategory(ctx, categoryID); err == nil {
			name = category.Name
		}

		id := categoryID
		findings = append(findings, &models.Anomaly{
			CategoryID: &id,
			Type:       models.AnomalyCategorySpike,
			Severity:   models.SeverityMedium,
			Description: fmt.Sprintf("Spending of %s in %s is %.0f%% of the monthly average %s",
				spend.StringFixed(2), name,
				spend.Div(average).InexactFloat64()*100, average.StringFixed(2)),
		})
	}

	return findings, nil
}

// Dismiss marks an anomaly as reviewed and not interesting
func (d *Detector) Dismiss(ctx context.Context, userID, anomalyID string) (*models.Anomaly, error) {
	anomaly, err := d.store.GetAnomaly(ctx, userID, anomalyID)
	if err != nil {
		return nil, err
	}

	anomaly.Dismissed = true
	if err := d.store.SaveAnomaly(ctx, anomaly); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "save anomaly", err)
	}

	return anomaly, nil
}

// ConfirmFraud marks an anomaly as confirmed fraudulent. A confirmed
// anomaly stays open until dismissed.
func (d *Detector) ConfirmFraud(ctx context.Context, userID, anomalyID string) (*models.Anomaly, error) {
	anomaly, err := d.store.GetAnomaly(ctx, userID, anomalyID)
	if err != nil {
		return nil, err
	}

	anomaly.ConfirmedFraud = true
	if err := d.store.SaveAnomaly(ctx, anomaly); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "save anomaly", err)
	}

	return anomaly, nil
}

// ListAll returns every anomaly record for the user, newest first
func (d *Detector) ListAll(ctx context.Context, userID string) ([]*models.Anomaly, error) {
	anomalies, err := d.store.ListAnomalies(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list anomalies", err)
	}
	return anomalies, nil
}

// GetStats aggregates the user's anomaly records by type, severity and
// review state.
func (d *Detector) GetStats(ctx context.Context, userID string) (*Stats, error) {
	anomalies, err := d.store.ListAnomalies(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list anomalies", err)
	}

	stats := &Stats{
		ByType:     make(map[models.AnomalyType]int),
		BySeverity: make(map[models.Severity]int),
	}

	for _, anomaly := range anomalies {
		stats.Total++
		stats.ByType[anomaly.Type]++
		stats.BySeverity[anomaly.Severity]++

		switch {
		case anomaly.ConfirmedFraud:
			stats.ConfirmedFraud++
		case anomaly.Dismissed:
			stats.Dismissed++
		default:
			stats.Pending++
		}
	}

	return stats, nil
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

package recurring

import (
	"context"
	"math"
	"testing"
	"time"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/store/memstore"
	"golang-finance-intelligence/pkg/errors"

	"github.com/shopspring/decimal"
)

func newTestDetector(t *testing.T, config *Config) (*Detector, *memstore.Memory) {
	t.Helper()

	st := memstore.New()
	detector, err := New(st, config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return detector, st
}

func monthlyTx(id string, month int, day int, amount float64, description string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		UserID:      "user-1",
		Date:        time.Date(2025, time.Month(month), day, 0, 0, 0, 0, time.UTC),
		Description: description,
		DebitAmount: decimal.NewFromFloat(amount),
	}
}

func seedGroup(t *testing.T, st *memstore.Memory, txs ...*models.Transaction) {
	t.Helper()
	for _, tx := range txs {
		if err := st.SaveTransaction(context.Background(), tx); err != nil {
			t.Fatalf("seed transaction %s: %v", tx.ID, err)
		}
	}
}

func TestClassifyGap(t *testing.T) {
	tests := []struct {
		gap  float64
		want models.Frequency
	}{
		{4, models.FrequencyWeekly},
		{7, models.FrequencyWeekly},
		{10, models.FrequencyWeekly},
		{10.5, models.FrequencyNone},
		{11, models.FrequencyFortnightly},
		{18, models.FrequencyFortnightly},
		{20, models.FrequencyNone},
		{25, models.FrequencyMonthly},
		{30, models.FrequencyMonthly},
		{35, models.FrequencyMonthly},
		{50, models.FrequencyNone},
		{80, models.FrequencyQuarterly},
		{100, models.FrequencyQuarterly},
		{200, models.FrequencyNone},
		{350, models.FrequencyYearly},
		{380, models.FrequencyYearly},
		{400, models.FrequencyNone},
		{3.9, models.FrequencyNone},
		{0, models.FrequencyNone},
	}

	for _, tt := range tests {
		if got := ClassifyGap(tt.gap); got != tt.want {
			t.Errorf("ClassifyGap(%v) = %s, want %s", tt.gap, got, tt.want)
		}
	}
}

func TestClassifyMonthlyRent(t *testing.T) {
	detector, _ := newTestDetector(t, nil)

	group := []*models.Transaction{
		monthlyTx("tx-3", 3, 28, 3500, "RENT PAYMENT"),
		monthlyTx("tx-1", 1, 28, 3500, "RENT PAYMENT"),
		monthlyTx("tx-2", 2, 28, 3500, "RENT PAYMENT"),
	}

	c := detector.Classify(group)

	if c.Frequency != models.FrequencyMonthly {
		t.Errorf("frequency = %s, want monthly", c.Frequency)
	}
	if !c.TypicalAmount.Equal(decimal.NewFromInt(3500)) {
		t.Errorf("typical amount = %s, want 3500", c.TypicalAmount)
	}
	if c.TypicalDay != 28 {
		t.Errorf("typical day = %d, want 28", c.TypicalDay)
	}
	if c.VariationCoefficient != 0 {
		t.Errorf("variation = %f, want 0 for identical amounts", c.VariationCoefficient)
	}
	// Jan 28 to Mar 28 across 2 gaps: (31 + 28) / 2.
	if math.Abs(c.AverageGapDays-29.5) > 1e-9 {
		t.Errorf("average gap = %f, want 29.5", c.AverageGapDays)
	}
}

func TestClassifyVariationCoefficient(t *testing.T) {
	detector, _ := newTestDetector(t, nil)

	group := []*models.Transaction{
		monthlyTx("tx-1", 1, 15, 90, "GYM MEMBERSHIP"),
		monthlyTx("tx-2", 2, 15, 100, "GYM MEMBERSHIP"),
		monthlyTx("tx-3", 3, 15, 110, "GYM MEMBERSHIP"),
	}

	c := detector.Classify(group)

	// Population stddev of {90, 100, 110} is ~8.165; divided by the mean 100.
	want := math.Sqrt(200.0/3.0) / 100.0
	if math.Abs(c.VariationCoefficient-want) > 1e-9 {
		t.Errorf("variation = %f, want %f", c.VariationCoefficient, want)
	}
}

func TestClassifyEmptyGroup(t *testing.T) {
	detector, _ := newTestDetector(t, nil)

	c := detector.Classify(nil)
	if c.Frequency != models.FrequencyNone || c.TypicalDay != 0 {
		t.Errorf("empty group classification = %+v, want zero value", c)
	}
}

func TestDetectCreatesPattern(t *testing.T) {
	detector, st := newTestDetector(t, nil)
	ctx := context.Background()

	seedGroup(t, st,
		monthlyTx("tx-1", 1, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
		monthlyTx("tx-2", 2, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
		monthlyTx("tx-3", 3, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
	)

	result, err := detector.Detect(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if result.GroupsConsidered != 1 || result.PatternsCreated != 1 || result.PatternsUpdated != 0 {
		t.Fatalf("result = %+v, want 1 group, 1 created", result)
	}

	pattern := result.Patterns[0]
	if pattern.DescriptionPattern != "%SPOTIFY%" {
		t.Errorf("pattern = %q, want %%SPOTIFY%%", pattern.DescriptionPattern)
	}
	if pattern.MerchantName == nil || *pattern.MerchantName != "SPOTIFY" {
		t.Errorf("merchant = %v, want SPOTIFY", pattern.MerchantName)
	}
	if pattern.Frequency != models.FrequencyMonthly {
		t.Errorf("frequency = %s, want monthly", pattern.Frequency)
	}
	if pattern.OccurrenceCount != 3 {
		t.Errorf("occurrences = %d, want 3", pattern.OccurrenceCount)
	}

	// Members are linked to the pattern.
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		tx, err := st.GetTransaction(ctx, "user-1", id)
		if err != nil {
			t.Fatalf("GetTransaction(%s): %v", id, err)
		}
		if !tx.IsRecurring || tx.RecurringPatternID == nil || *tx.RecurringPatternID != pattern.ID {
			t.Errorf("%s not linked: recurring=%v group=%v", id, tx.IsRecurring, tx.RecurringPatternID)
		}
	}
}

func TestDetectGates(t *testing.T) {
	detector, st := newTestDetector(t, nil)
	ctx := context.Background()

	// Two occurrences only: below the occurrence floor.
	seedGroup(t, st,
		monthlyTx("few-1", 1, 5, 50, "TWICE ONLY"),
		monthlyTx("few-2", 2, 5, 50, "TWICE ONLY"),
	)

	// Irregular gaps: 3 days then 90 days averages outside every band.
	seedGroup(t, st,
		monthlyTx("irr-1", 1, 1, 25, "IRREGULAR SHOP"),
		monthlyTx("irr-2", 1, 4, 25, "IRREGULAR SHOP"),
		monthlyTx("irr-3", 4, 4, 25, "IRREGULAR SHOP"),
	)

	// Monthly cadence but wildly varying amounts.
	seedGroup(t, st,
		monthlyTx("var-1", 1, 10, 10, "VARIABLE GROCER"),
		monthlyTx("var-2", 2, 10, 100, "VARIABLE GROCER"),
		monthlyTx("var-3", 3, 10, 500, "VARIABLE GROCER"),
	)

	result, err := detector.Detect(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// The two-occurrence group never reaches consideration.
	if result.GroupsConsidered != 2 {
		t.Errorf("GroupsConsidered = %d, want 2", result.GroupsConsidered)
	}
	if result.PatternsCreated != 0 {
		t.Errorf("PatternsCreated = %d, want 0", result.PatternsCreated)
	}
}

func TestDetectRerunUpdatesExistingPattern(t *testing.T) {
	detector, st := newTestDetector(t, nil)
	ctx := context.Background()

	seedGroup(t, st,
		monthlyTx("tx-1", 1, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
		monthlyTx("tx-2", 2, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
		monthlyTx("tx-3", 3, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
	)

	first, err := detector.Detect(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("first Detect: %v", err)
	}

	seedGroup(t, st, monthlyTx("tx-4", 4, 5, 9.99, "SPOTIFY SUBSCRIPTION"))

	second, err := detector.Detect(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}

	if second.PatternsCreated != 0 || second.PatternsUpdated != 1 {
		t.Fatalf("second run = %+v, want 1 updated", second)
	}
	if second.Patterns[0].ID != first.Patterns[0].ID {
		t.Error("re-run should refresh the existing pattern, not create a new one")
	}
	if second.Patterns[0].OccurrenceCount != 4 {
		t.Errorf("occurrences = %d, want 4", second.Patterns[0].OccurrenceCount)
	}
}

func TestDetectSubscriptionClassification(t *testing.T) {
	config := DefaultConfig()
	config.SubscriptionClassifications = []string{"entertainment"}
	detector, st := newTestDetector(t, config)
	ctx := context.Background()

	if err := st.SaveCategory(ctx, &models.Category{
		ID: "ent", Name: "Entertainment", Classification: "entertainment",
	}); err != nil {
		t.Fatalf("seed category: %v", err)
	}

	entertainment := "ent"
	txs := []*models.Transaction{
		monthlyTx("tx-1", 1, 5, 15.99, "NETFLIX"),
		monthlyTx("tx-2", 2, 5, 15.99, "NETFLIX"),
		monthlyTx("tx-3", 3, 5, 15.99, "NETFLIX"),
	}
	txs[0].CategoryID = &entertainment
	seedGroup(t, st, txs...)

	result, err := detector.Detect(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if len(result.Patterns) != 1 || !result.Patterns[0].IsSubscription {
		t.Errorf("entertainment pattern should be flagged as subscription")
	}
}

func TestGetRegularPayments(t *testing.T) {
	detector, st := newTestDetector(t, nil)
	ctx := context.Background()

	seed := []struct {
		id        string
		frequency models.Frequency
	}{
		{"p-weekly", models.FrequencyWeekly},
		{"p-fortnightly", models.FrequencyFortnightly},
		{"p-monthly", models.FrequencyMonthly},
		{"p-quarterly", models.FrequencyQuarterly},
		{"p-yearly", models.FrequencyYearly},
	}
	for _, s := range seed {
		err := st.SavePattern(ctx, &models.RecurringPattern{
			ID:                 s.id,
			UserID:             "user-1",
			DescriptionPattern: "%" + s.id + "%",
			TypicalAmount:      decimal.NewFromInt(10),
			Frequency:          s.frequency,
			OccurrenceCount:    3,
			Active:             true,
		})
		if err != nil {
			t.Fatalf("seed pattern %s: %v", s.id, err)
		}
	}

	payments, err := detector.GetRegularPayments(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetRegularPayments: %v", err)
	}

	if len(payments.Weekly) != 2 {
		t.Errorf("Weekly = %d patterns, want 2", len(payments.Weekly))
	}
	if len(payments.Monthly) != 2 {
		t.Errorf("Monthly = %d patterns, want 2", len(payments.Monthly))
	}
	if len(payments.Annual) != 1 {
		t.Errorf("Annual = %d patterns, want 1", len(payments.Annual))
	}
}

func TestMarkAsRecurring(t *testing.T) {
	detector, st := newTestDetector(t, nil)
	ctx := context.Background()

	seedGroup(t, st, monthlyTx("tx-1", 1, 5, 9.99, "SPOTIFY"))
	err := st.SavePattern(ctx, &models.RecurringPattern{
		ID:                 "p-1",
		UserID:             "user-1",
		DescriptionPattern: "%SPOTIFY%",
		TypicalAmount:      decimal.NewFromFloat(9.99),
		Frequency:          models.FrequencyMonthly,
		OccurrenceCount:    3,
		Active:             true,
	})
	if err != nil {
		t.Fatalf("seed pattern: %v", err)
	}

	updated, err := detector.MarkAsRecurring(ctx, "user-1", []string{"tx-1"}, "p-1")
	if err != nil {
		t.Fatalf("MarkAsRecurring: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	// Marking zero transactions is a valid no-op.
	updated, err = detector.MarkAsRecurring(ctx, "user-1", nil, "p-1")
	if err != nil {
		t.Fatalf("no-op MarkAsRecurring: %v", err)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0", updated)
	}

	_, err = detector.MarkAsRecurring(ctx, "user-1", []string{"tx-1"}, "missing")
	if !errors.IsNotFound(err) {
		t.Errorf("missing pattern: error = %v, want not found", err)
	}
}

func TestDeletePattern(t *testing.T) {
	detector, st := newTestDetector(t, nil)
	ctx := context.Background()

	seedGroup(t, st,
		monthlyTx("tx-1", 1, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
		monthlyTx("tx-2", 2, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
		monthlyTx("tx-3", 3, 5, 9.99, "SPOTIFY SUBSCRIPTION"),
	)

	result, err := detector.Detect(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	patternID := result.Patterns[0].ID

	if err := detector.DeletePattern(ctx, "user-1", patternID); err != nil {
		t.Fatalf("DeletePattern: %v", err)
	}

	active, err := st.ListActivePatterns(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListActivePatterns: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active patterns = %d, want 0", len(active))
	}

	tx, err := st.GetTransaction(ctx, "user-1", "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.IsRecurring || tx.RecurringPatternID != nil {
		t.Error("deleting the pattern should unlink its transactions")
	}

	if err := detector.DeletePattern(ctx, "user-1", "missing"); !errors.IsNotFound(err) {
		t.Errorf("missing pattern: error = %v, want not found", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default valid", func(c *Config) {}, false},
		{"occurrences below two", func(c *Config) { c.MinOccurrences = 1 }, true},
		{"variation negative", func(c *Config) { c.MaxAmountVariation = -0.1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

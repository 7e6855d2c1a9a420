package categorizer

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/store"
	"golang-finance-intelligence/internal/store/memstore"
	"golang-finance-intelligence/pkg/errors"

	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T, config *Config) (*Engine, *memstore.Memory) {
	t.Helper()

	st := memstore.New()
	ctx := context.Background()

	categories := []*models.Category{
		{ID: "groceries", Name: "Groceries"},
		{ID: "entertainment", Name: "Entertainment", Classification: "entertainment"},
		{ID: "other", Name: "Other"},
	}
	for _, category := range categories {
		if err := st.SaveCategory(ctx, category); err != nil {
			t.Fatalf("seed category: %v", err)
		}
	}

	engine, err := New(st, config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine, st
}

func seedRule(t *testing.T, st *memstore.Memory, id, pattern, categoryID string, priority int) {
	t.Helper()
	_, _, err := st.UpsertRule(context.Background(), &models.CategoryRule{
		ID:         id,
		UserID:     "user-1",
		Pattern:    pattern,
		CategoryID: categoryID,
		Priority:   priority,
		Active:     true,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func seedTransaction(t *testing.T, st *memstore.Memory, id, description string, amount float64, categoryID *string) {
	t.Helper()
	err := st.SaveTransaction(context.Background(), &models.Transaction{
		ID:          id,
		UserID:      "user-1",
		Date:        time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Description: description,
		DebitAmount: decimal.NewFromFloat(amount),
		CategoryID:  categoryID,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func TestSuggestCategoryExactMatch(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 4)

	suggestion, err := engine.SuggestCategory(context.Background(), "user-1", "TESCO STORES 3297")
	if err != nil {
		t.Fatalf("SuggestCategory: %v", err)
	}
	if suggestion == nil {
		t.Fatal("expected a suggestion")
	}

	if suggestion.CategoryID != "groceries" || suggestion.CategoryName != "Groceries" {
		t.Errorf("suggestion category = %s/%s", suggestion.CategoryID, suggestion.CategoryName)
	}

	// 0.9 + 0.05*(5/17) + 0.04
	expected := 0.9 + 0.05*(5.0/17.0) + 0.04
	if math.Abs(suggestion.Confidence-expected) > 1e-9 {
		t.Errorf("confidence = %f, want %f", suggestion.Confidence, expected)
	}
	if suggestion.Confidence < 0.9 {
		t.Errorf("exact match confidence %f should be at least 0.9", suggestion.Confidence)
	}
}

func TestSuggestCategoryConfidenceCapped(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedRule(t, st, "r1", "%NETFLIX%", "entertainment", 99)

	suggestion, err := engine.SuggestCategory(context.Background(), "user-1", "NETFLIX")
	if err != nil {
		t.Fatalf("SuggestCategory: %v", err)
	}
	if suggestion == nil {
		t.Fatal("expected a suggestion")
	}
	if suggestion.Confidence != 1.0 {
		t.Errorf("confidence = %f, want capped at 1.0", suggestion.Confidence)
	}
}

func TestSuggestCategoryFuzzyFallback(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 10)

	// TESC0 is not contained but is one edit from TESCO.
	suggestion, err := engine.SuggestCategory(context.Background(), "user-1", "TESC0 STORE")
	if err != nil {
		t.Fatalf("SuggestCategory: %v", err)
	}
	if suggestion == nil {
		t.Fatal("expected a fuzzy suggestion")
	}

	// similarity 0.8 scaled by fuzzy weight 0.7
	expected := 0.8 * 0.7
	if math.Abs(suggestion.Confidence-expected) > 1e-9 {
		t.Errorf("confidence = %f, want %f", suggestion.Confidence, expected)
	}
}

func TestSuggestCategoryNoMatch(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 10)

	tests := []string{
		"",
		"   ",
		"COMPLETELY UNRELATED MERCHANT",
	}
	for _, description := range tests {
		suggestion, err := engine.SuggestCategory(context.Background(), "user-1", description)
		if err != nil {
			t.Fatalf("SuggestCategory(%q): %v", description, err)
		}
		if suggestion != nil {
			t.Errorf("SuggestCategory(%q) = %+v, want nil", description, suggestion)
		}
	}
}

func TestCategoryByDescriptionFallback(t *testing.T) {
	config := DefaultConfig()
	config.FallbackCategoryID = "other"
	engine, st := newTestEngine(t, config)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 10)

	ctx := context.Background()

	category, err := engine.CategoryByDescription(ctx, "user-1", "TESCO EXPRESS")
	if err != nil {
		t.Fatalf("CategoryByDescription: %v", err)
	}
	if category.ID != "groceries" {
		t.Errorf("category = %s, want groceries", category.ID)
	}

	for _, description := range []string{"", "UNMATCHED MERCHANT"} {
		category, err := engine.CategoryByDescription(ctx, "user-1", description)
		if err != nil {
			t.Fatalf("CategoryByDescription(%q): %v", description, err)
		}
		if category.ID != "other" {
			t.Errorf("CategoryByDescription(%q) = %s, want other", description, category.ID)
		}
	}
}

func TestCategoryByDescriptionNoFallbackConfigured(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.CategoryByDescription(context.Background(), "user-1", "")
	if err == nil {
		t.Fatal("expected configuration error without fallback category")
	}
	trackerErr, ok := errors.AsTrackerError(err)
	if !ok || trackerErr.Category != errors.CategoryConfiguration {
		t.Errorf("error = %v, want configuration category", err)
	}
}

func TestLearnFromCategorization(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	learned, err := engine.LearnFromCategorization(ctx, "user-1", "TESCO STORES 3297", "groceries")
	if err != nil {
		t.Fatalf("LearnFromCategorization: %v", err)
	}

	if learned.Existing {
		t.Error("first learn should create a new rule")
	}
	if learned.Rule.Pattern != "%TESCO%" {
		t.Errorf("pattern = %q, want %%TESCO%%", learned.Rule.Pattern)
	}
	if learned.Rule.Priority != 10 {
		t.Errorf("priority = %d, want 10", learned.Rule.Priority)
	}

	// Learning the same association again is a no-op.
	again, err := engine.LearnFromCategorization(ctx, "user-1", "TESCO EXPRESS 100", "groceries")
	if err != nil {
		t.Fatalf("second learn: %v", err)
	}
	if !again.Existing {
		t.Error("second learn should report the existing rule")
	}
	if again.Rule.ID != learned.Rule.ID {
		t.Errorf("rule id = %s, want %s", again.Rule.ID, learned.Rule.ID)
	}
}

func TestLearnPriorityCapped(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	learned, err := engine.LearnFromCategorization(context.Background(), "user-1",
		"EXTRAORDINARILYLONGMERCHANT LTD", "groceries")
	if err != nil {
		t.Fatalf("LearnFromCategorization: %v", err)
	}
	if learned.Rule.Priority != 20 {
		t.Errorf("priority = %d, want capped at 20", learned.Rule.Priority)
	}
}

func TestLearnFromCategorizationErrors(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.LearnFromCategorization(ctx, "user-1", "123 45", "groceries")
	if !errors.IsValidation(err) {
		t.Errorf("unextractable description: error = %v, want validation", err)
	}

	_, err = engine.LearnFromCategorization(ctx, "user-1", "TESCO STORES", "missing-cat")
	if !errors.IsNotFound(err) {
		t.Errorf("unknown category: error = %v, want not found", err)
	}
}

func TestAutoCategorizeUncategorized(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 10)

	groceries := "groceries"
	seedTransaction(t, st, "tx-1", "TESCO STORES 3297", 42.50, nil)
	seedTransaction(t, st, "tx-2", "TESCO EXPRESS", 12.00, nil)
	seedTransaction(t, st, "tx-3", "UNKNOWN MERCHANT XYZQW", 5.00, nil)
	seedTransaction(t, st, "tx-4", "TESCO METRO", 8.00, &groceries)

	result, err := engine.AutoCategorize(context.Background(), "user-1", nil)
	if err != nil {
		t.Fatalf("AutoCategorize: %v", err)
	}

	// tx-4 already has a category and is not a candidate at all.
	if result.Processed != 3 {
		t.Errorf("Processed = %d, want 3", result.Processed)
	}
	if result.Categorized != 2 {
		t.Errorf("Categorized = %d, want 2", result.Categorized)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, want 0", result.Failed)
	}

	for _, id := range []string{"tx-1", "tx-2"} {
		tx, err := st.GetTransaction(context.Background(), "user-1", id)
		if err != nil {
			t.Fatalf("GetTransaction(%s): %v", id, err)
		}
		if tx.CategoryID == nil || *tx.CategoryID != "groceries" {
			t.Errorf("%s category = %v, want groceries", id, tx.CategoryID)
		}
	}

	tx3, _ := st.GetTransaction(context.Background(), "user-1", "tx-3")
	if tx3.CategoryID != nil {
		t.Errorf("tx-3 should stay uncategorized, got %v", *tx3.CategoryID)
	}
}

func TestAutoCategorizeExplicitIDs(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 10)

	groceries := "groceries"
	seedTransaction(t, st, "tx-1", "TESCO STORES", 42.50, nil)
	seedTransaction(t, st, "tx-2", "TESCO METRO", 8.00, &groceries)

	result, err := engine.AutoCategorize(context.Background(), "user-1", []string{"tx-1", "tx-2", "tx-missing"})
	if err != nil {
		t.Fatalf("AutoCategorize: %v", err)
	}

	if result.Processed != 3 {
		t.Errorf("Processed = %d, want 3", result.Processed)
	}
	if result.Categorized != 1 || result.Skipped != 1 || result.Failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1",
			result.Categorized, result.Skipped, result.Failed)
	}

	reasons := make(map[string]string)
	for _, row := range result.Rows {
		reasons[row.TransactionID] = row.Reason
	}
	if reasons["tx-2"] != ReasonHasCategory {
		t.Errorf("tx-2 reason = %q, want %q", reasons["tx-2"], ReasonHasCategory)
	}
}

func TestAutoCategorizeLowConfidence(t *testing.T) {
	config := DefaultConfig()
	config.MinAutoConfidence = 0.95
	engine, st := newTestEngine(t, config)
	seedRule(t, st, "r1", "%TESCO%", "groceries", 0)

	seedTransaction(t, st, "tx-1", "SUPERSTORE TESCO BRANCH NUMBER NINETY", 42.50, nil)

	result, err := engine.AutoCategorize(context.Background(), "user-1", nil)
	if err != nil {
		t.Fatalf("AutoCategorize: %v", err)
	}

	if result.Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", result.Skipped)
	}
	if result.Rows[0].Reason != ReasonLowConfidence {
		t.Errorf("reason = %q, want %q", result.Rows[0].Reason, ReasonLowConfidence)
	}

	tx, _ := st.GetTransaction(context.Background(), "user-1", "tx-1")
	if tx.CategoryID != nil {
		t.Error("low-confidence suggestion must not be applied")
	}
}

func TestApplyToSimilarTransactions(t *testing.T) {
	engine, st := newTestEngine(t, nil)

	groceries := "groceries"
	seedTransaction(t, st, "tx-1", "TESCO STORES 3297", 42.50, nil)
	seedTransaction(t, st, "tx-2", "TESCO EXPRESS LONDON", 12.00, nil)
	seedTransaction(t, st, "tx-3", "TESCO METRO", 8.00, &groceries)
	seedTransaction(t, st, "tx-4", "SPOTIFY", 9.99, nil)

	result, err := engine.ApplyToSimilarTransactions(context.Background(), "user-1",
		"TESCO STORES 3297", "groceries", SimilarOptions{OnlyUncategorized: true})
	if err != nil {
		t.Fatalf("ApplyToSimilarTransactions: %v", err)
	}

	if result.Rule.Pattern != "%TESCO%" {
		t.Errorf("rule pattern = %q", result.Rule.Pattern)
	}
	if result.Updated != 2 {
		t.Errorf("Updated = %d, want 2", result.Updated)
	}

	tx2, _ := st.GetTransaction(context.Background(), "user-1", "tx-2")
	if tx2.CategoryID == nil || *tx2.CategoryID != "groceries" {
		t.Errorf("tx-2 category = %v, want groceries", tx2.CategoryID)
	}

	tx4, _ := st.GetTransaction(context.Background(), "user-1", "tx-4")
	if tx4.CategoryID != nil {
		t.Error("tx-4 should stay untouched")
	}
}

func TestApplyToSimilarTransactionsUnknownCategory(t *testing.T) {
	engine, st := newTestEngine(t, nil)
	seedTransaction(t, st, "tx-1", "TESCO STORES", 42.50, nil)

	_, err := engine.ApplyToSimilarTransactions(context.Background(), "user-1",
		"TESCO STORES", "missing-cat", SimilarOptions{})
	if !errors.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}

	// Nothing was applied and no rule was learned.
	rules, _ := st.ListActiveRules(context.Background(), "user-1")
	if len(rules) != 0 {
		t.Errorf("rules = %d, want 0", len(rules))
	}
}

// failingAssignStore delegates to the wrapped store but fails every bulk
// category assignment, also inside transactions.
type failingAssignStore struct {
	store.Store
}

func (f *failingAssignStore) AssignCategory(ctx context.Context, userID string, ids []string, categoryID string) (int, error) {
	return 0, fmt.Errorf("assign category unavailable")
}

func (f *failingAssignStore) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	return f.Store.WithinTx(ctx, func(st store.Store) error {
		return fn(&failingAssignStore{Store: st})
	})
}

func TestApplyToSimilarTransactionsRollsBackRuleOnAssignFailure(t *testing.T) {
	_, st := newTestEngine(t, nil)
	seedTransaction(t, st, "tx-1", "TESCO STORES 3297", 42.50, nil)

	engine, err := New(&failingAssignStore{Store: st}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = engine.ApplyToSimilarTransactions(context.Background(), "user-1",
		"TESCO STORES 3297", "groceries", SimilarOptions{})
	if err == nil {
		t.Fatal("expected an error when the bulk update fails")
	}

	// The learned rule must not survive the failed bulk update.
	rules, _ := st.ListActiveRules(context.Background(), "user-1")
	if len(rules) != 0 {
		t.Errorf("rules = %d, want 0 after rollback", len(rules))
	}

	tx, _ := st.GetTransaction(context.Background(), "user-1", "tx-1")
	if tx.CategoryID != nil {
		t.Errorf("tx-1 category = %v, want nil after rollback", tx.CategoryID)
	}
}

func TestFindSimilarTransactions(t *testing.T) {
	engine, st := newTestEngine(t, nil)

	seedTransaction(t, st, "tx-1", "TESCO STORES 3297", 42.50, nil)
	seedTransaction(t, st, "tx-2", "TESCO EXPRESS", 12.00, nil)
	seedTransaction(t, st, "tx-3", "SPOTIFY", 9.99, nil)

	exclude := "tx-1"
	similar, err := engine.FindSimilarTransactions(context.Background(), "user-1",
		"TESCO METRO", SimilarOptions{ExcludeID: &exclude})
	if err != nil {
		t.Fatalf("FindSimilarTransactions: %v", err)
	}

	if len(similar) != 1 || similar[0].ID != "tx-2" {
		t.Errorf("similar = %v, want only tx-2", similar)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default valid", func(c *Config) {}, false},
		{"confidence out of range", func(c *Config) { c.MinAutoConfidence = 1.5 }, true},
		{"fuzzy threshold negative", func(c *Config) { c.FuzzyThreshold = -0.1 }, true},
		{"fuzzy weight above one", func(c *Config) { c.FuzzyWeight = 1.5 }, true},
		{"token length zero", func(c *Config) { c.MinFuzzyTokenLength = 0 }, true},
		{"priority cap zero", func(c *Config) { c.MaxLearnedPriority = 0 }, true},
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

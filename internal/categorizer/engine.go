package categorizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/patterns"
	"golang-finance-intelligence/internal/store"
	"golang-finance-intelligence/pkg/errors"
	"golang-finance-intelligence/pkg/logger"

	"github.com/google/uuid"
)

// Engine is the categorization engine. It reads rules and the category
// catalog through the store and mutates transaction category references.
type Engine struct {
	store  store.Store
	config *Config
	log    logger.Logger
}

// Suggestion is a confidence-scored category suggestion for a description
type Suggestion struct {
	CategoryID   string               `json:"categoryId"`
	CategoryName string               `json:"categoryName"`
	Confidence   float64              `json:"confidence"`
	MatchedRule  *models.CategoryRule `json:"matchedRule"`
}

// LearnResult is the outcome of learning a rule from a manual
// categorization. Existing is true when an equivalent active rule was
// already present and no new row was inserted.
type LearnResult struct {
	Rule     *models.CategoryRule `json:"rule"`
	Existing bool                 `json:"existing"`
}

// RowStatus is the per-row outcome of a batch categorization
type RowStatus string

const (
	RowCategorized RowStatus = "categorized"
	RowSkipped     RowStatus = "skipped"
	RowFailed      RowStatus = "failed"
)

// Skip reasons reported by AutoCategorize
const (
	ReasonHasCategory   = "has_category"
	ReasonLowConfidence = "low_confidence"
	ReasonNoMatch       = "no_match"
)

// RowResult records what happened to a single transaction in a batch
type RowResult struct {
	TransactionID string    `json:"transactionId"`
	Status        RowStatus `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	CategoryID    string    `json:"categoryId,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
}

// AutoCategorizeResult aggregates a best-effort batch categorization
type AutoCategorizeResult struct {
	Processed   int         `json:"processed"`
	Categorized int         `json:"categorized"`
	Skipped     int         `json:"skipped"`
	Failed      int         `json:"failed"`
	Rows        []RowResult `json:"rows"`
}

// SimilarOptions narrows similar-transaction lookups
type SimilarOptions struct {
	// ExcludeID removes one transaction (typically the one being edited)
	// from the result set.
	ExcludeID *string

	// OnlyUncategorized restricts the search to rows with no category.
	OnlyUncategorized bool
}

// ApplyResult is the outcome of applying a category to similar
// transactions, including the rule learned as a side effect.
type ApplyResult struct {
	Rule           *models.CategoryRule `json:"rule"`
	RuleExisting   bool                 `json:"ruleExisting"`
	Updated        int                  `json:"updated"`
	TransactionIDs []string             `json:"transactionIds"`
}

// New creates a categorization engine with the specified configuration
func New(st store.Store, config *Config) (*Engine, error) {
	if st == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil)
	}

	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "categorizer", err.Error())
	}

	return &Engine{
		store:  st,
		config: config.Clone(),
		log:    logger.GetGlobalLogger().WithComponent("categorizer"),
	}, nil
}

// SuggestCategory produces a confidence-scored category suggestion for a
// description, or nil when no rule clears its threshold.
//
// Phase one scores exact containment: every active rule whose cleaned
// pattern appears in the upper-cased description gets confidence
// min(0.9 + 0.05*(patternLen/descLen) + min(priority/100, 0.1), 1.0), and
// the best across all rules wins. Phase two runs only when phase one finds
// nothing: description tokens are compared to cleaned patterns by edit
// similarity, and matches at or above the fuzzy threshold score
// similarity * fuzzy weight.
func (e *Engine) SuggestCategory(ctx context.Context, userID, description string) (*Suggestion, error) {
	if strings.TrimSpace(description) == "" {
		return nil, nil
	}

	rules, err := e.store.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list rules", err)
	}

	if len(rules) == 0 {
		return nil, nil
	}

	SortRules(rules)
	upper := strings.ToUpper(description)

	var best *models.CategoryRule
	bestConfidence := 0.0

	// Phase 1: exact containment.
	for _, rule := range rules {
		cleaned := patterns.CleanPattern(strings.ToUpper(rule.Pattern))
		if cleaned == "" || !strings.Contains(upper, cleaned) {
			continue
		}

		confidence := exactConfidence(len(cleaned), len(upper), rule.Priority)
		if confidence > bestConfidence {
			best = rule
			bestConfidence = confidence
		}
	}

	// Phase 2: fuzzy token similarity, only when nothing contained.
	if best == nil {
		for _, token := range strings.Fields(upper) {
			if len(token) < e.config.MinFuzzyTokenLength {
				continue
			}
			for _, rule := range rules {
				cleaned := patterns.CleanPattern(strings.ToUpper(rule.Pattern))
				if cleaned == "" {
					continue
				}

				similarity := patterns.Similarity(token, cleaned)
				if similarity < e.config.FuzzyThreshold {
					continue
				}

				confidence := similarity * e.config.FuzzyWeight
				if confidence > bestConfidence {
					best = rule
					bestConfidence = confidence
				}
			}
		}
	}

	if best == nil {
		return nil, nil
	}

	category, err := e.store.GetCategory(ctx, best.CategoryID)
	if err != nil {
		return nil, err
	}

	return &Suggestion{
		CategoryID:   category.ID,
		CategoryName: category.Name,
		Confidence:   bestConfidence,
		MatchedRule:  best,
	}, nil
}

// exactConfidence scores an exact containment match. Longer patterns
// relative to the description and higher priorities push the score up;
// the result never exceeds 1.0.
func exactConfidence(patternLen, descLen, priority int) float64 {
	confidence := 0.9

	if descLen > 0 {
		confidence += 0.05 * (float64(patternLen) / float64(descLen))
	}

	priorityBoost := float64(priority) / 100.0
	if priorityBoost > 0.1 {
		priorityBoost = 0.1
	}
	confidence += priorityBoost

	if confidence > 1.0 {
		confidence = 1.0
	}

	return confidence
}

// CategoryByDescription is the deterministic path used by CRUD
// auto-assignment: the first active rule in (priority desc, created asc)
// order whose pattern is contained in the description wins, and the
// injected fallback category covers everything else, including blank
// descriptions.
func (e *Engine) CategoryByDescription(ctx context.Context, userID, description string) (*models.Category, error) {
	if strings.TrimSpace(description) == "" {
		return e.fallbackCategory(ctx)
	}

	rules, err := e.store.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list rules", err)
	}

	if rule := FirstMatch(rules, description); rule != nil {
		return e.store.GetCategory(ctx, rule.CategoryID)
	}

	return e.fallbackCategory(ctx)
}

func (e *Engine) fallbackCategory(ctx context.Context) (*models.Category, error) {
	if e.config.FallbackCategoryID == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "fallback_category_id", nil).
			WithSuggestion("inject the id of the designated fallback (\"Other\") category")
	}
	return e.store.GetCategory(ctx, e.config.FallbackCategoryID)
}

// LearnFromCategorization persists a rule derived from a manual
// categorization so future imports benefit. Learning is idempotent: an
// existing active rule for the same (pattern, category) pair is returned
// with Existing set instead of inserting a duplicate.
func (e *Engine) LearnFromCategorization(ctx context.Context, userID, description, categoryID string) (*LearnResult, error) {
	pattern, ok := patterns.ExtractPattern(description)
	if !ok {
		return nil, errors.ValidationError(errors.CodePatternNotExtractable,
			"pattern could not be extracted from description").
			WithContext("description", description)
	}

	if _, err := e.store.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	rule := e.newRule(userID, pattern, categoryID)

	stored, created, err := e.store.UpsertRule(ctx, rule)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "upsert rule", err)
	}

	if created {
		e.log.WithFields(logger.Fields{
			"pattern":  stored.Pattern,
			"category": stored.CategoryID,
			"priority": stored.Priority,
		}).Info("Learned categorization rule")
	}

	return &LearnResult{Rule: stored, Existing: !created}, nil
}

// newRule builds a learned rule. Longer, more specific tokens rank higher:
// priority = min(len(token)*2, MaxLearnedPriority).
func (e *Engine) newRule(userID, pattern, categoryID string) *models.CategoryRule {
	token := patterns.CleanPattern(pattern)

	priority := len(token) * 2
	if priority > e.config.MaxLearnedPriority {
		priority = e.config.MaxLearnedPriority
	}

	return &models.CategoryRule{
		ID:         uuid.NewString(),
		UserID:     userID,
		Pattern:    pattern,
		CategoryID: categoryID,
		Priority:   priority,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
}

// AutoCategorize applies suggestions to a batch of transactions. When ids
// are supplied only those rows are considered, and rows that already carry
// a category are skipped with reason has_category; with no ids every
// uncategorized transaction is processed. Suggestions are applied at or
// above the configured confidence floor; one row's failure never aborts
// the batch, but the final category assignment commits as a single unit.
func (e *Engine) AutoCategorize(ctx context.Context, userID string, ids []string) (*AutoCategorizeResult, error) {
	candidates, result, err := e.collectCandidates(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	progress := logger.NewBatchProgress(logger.BatchConfig{
		Operation: "auto_categorize",
		Total:     int64(len(candidates)),
		Logger:    e.log,
	})

	// categoryID -> transaction ids to assign
	assignments := make(map[string][]string)

	for _, tx := range candidates {
		row := RowResult{TransactionID: tx.ID}

		suggestion, err := e.SuggestCategory(ctx, userID, tx.Description)
		switch {
		case err != nil:
			row.Status = RowFailed
			row.Reason = err.Error()
		case suggestion == nil:
			row.Status = RowSkipped
			row.Reason = ReasonNoMatch
		case suggestion.Confidence < e.config.MinAutoConfidence:
			row.Status = RowSkipped
			row.Reason = ReasonLowConfidence
			row.Confidence = suggestion.Confidence
		default:
			row.Status = RowCategorized
			row.CategoryID = suggestion.CategoryID
			row.Confidence = suggestion.Confidence
			assignments[suggestion.CategoryID] = append(assignments[suggestion.CategoryID], tx.ID)
		}

		result.Rows = append(result.Rows, row)
		progress.Increment()
	}

	// All assignments commit together.
	if len(assignments) > 0 {
		err := e.store.WithinTx(ctx, func(st store.Store) error {
			for categoryID, txIDs := range assignments {
				if _, err := st.AssignCategory(ctx, userID, txIDs, categoryID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, errors.StorageError(errors.CodeTransactionFailed, "batch category assignment", err)
		}
	}

	for _, row := range result.Rows {
		result.Processed++
		switch row.Status {
		case RowCategorized:
			result.Categorized++
		case RowSkipped:
			result.Skipped++
		case RowFailed:
			result.Failed++
		}
	}

	progress.Complete(fmt.Sprintf("categorized %d of %d", result.Categorized, result.Processed))

	return result, nil
}

// collectCandidates resolves the batch input into transactions to score,
// pre-populating skip rows for explicit ids that already have a category.
func (e *Engine) collectCandidates(ctx context.Context, userID string, ids []string) ([]*models.Transaction, *AutoCategorizeResult, error) {
	result := &AutoCategorizeResult{}

	if len(ids) == 0 {
		candidates, err := e.store.ListTransactions(ctx, userID, store.TransactionFilter{Uncategorized: true})
		if err != nil {
			return nil, nil, errors.StorageError(errors.CodeQueryFailed, "list uncategorized transactions", err)
		}
		return candidates, result, nil
	}

	listed, err := e.store.ListTransactions(ctx, userID, store.TransactionFilter{IDs: ids})
	if err != nil {
		return nil, nil, errors.StorageError(errors.CodeQueryFailed, "list transactions", err)
	}

	byID := make(map[string]*models.Transaction, len(listed))
	for _, tx := range listed {
		byID[tx.ID] = tx
	}

	var candidates []*models.Transaction
	for _, id := range ids {
		tx, ok := byID[id]
		if !ok {
			result.Rows = append(result.Rows, RowResult{
				TransactionID: id,
				Status:        RowFailed,
				Reason:        fmt.Sprintf("transaction not found: %s", id),
			})
			continue
		}
		if tx.CategoryID != nil {
			result.Rows = append(result.Rows, RowResult{
				TransactionID: id,
				Status:        RowSkipped,
				Reason:        ReasonHasCategory,
			})
			continue
		}
		candidates = append(candidates, tx)
	}

	return candidates, result, nil
}

// FindSimilarTransactions returns transactions whose description contains
// the pattern extracted from the supplied description.
func (e *Engine) FindSimilarTransactions(ctx context.Context, userID, description string, opts SimilarOptions) ([]*models.Transaction, error) {
	token, ok := patterns.MerchantSignature(description)
	if !ok {
		return nil, errors.ValidationError(errors.CodePatternNotExtractable,
			"pattern could not be extracted from description").
			WithContext("description", description)
	}

	return e.findByToken(ctx, e.store, userID, token, opts)
}

func (e *Engine) findByToken(ctx context.Context, st store.Store, userID, token string, opts SimilarOptions) ([]*models.Transaction, error) {
	listed, err := st.ListTransactions(ctx, userID, store.TransactionFilter{
		DescriptionContains: token,
		Uncategorized:       opts.OnlyUncategorized,
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "find similar transactions", err)
	}

	if opts.ExcludeID == nil {
		return listed, nil
	}

	filtered := listed[:0]
	for _, tx := range listed {
		if tx.ID != *opts.ExcludeID {
			filtered = append(filtered, tx)
		}
	}
	return filtered, nil
}

// ApplyToSimilarTransactions categorizes every transaction similar to the
// supplied description and learns the pattern as a rule in the same unit
// of work: the rule and its dependent bulk update commit or roll back
// together.
func (e *Engine) ApplyToSimilarTransactions(ctx context.Context, userID, description, categoryID string, opts SimilarOptions) (*ApplyResult, error) {
	token, ok := patterns.MerchantSignature(description)
	if !ok {
		return nil, errors.ValidationError(errors.CodePatternNotExtractable,
			"pattern could not be extracted from description").
			WithContext("description", description)
	}

	if _, err := e.store.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	rule := e.newRule(userID, patterns.Wildcard+token+patterns.Wildcard, categoryID)

	result := &ApplyResult{}
	err := e.store.WithinTx(ctx, func(st store.Store) error {
		stored, created, err := st.UpsertRule(ctx, rule)
		if err != nil {
			return err
		}
		result.Rule = stored
		result.RuleExisting = !created

		similar, err := e.findByToken(ctx, st, userID, token, opts)
		if err != nil {
			return err
		}

		for _, tx := range similar {
			result.TransactionIDs = append(result.TransactionIDs, tx.ID)
		}

		if len(result.TransactionIDs) == 0 {
			return nil
		}

		updated, err := st.AssignCategory(ctx, userID, result.TransactionIDs, categoryID)
		if err != nil {
			return err
		}
		result.Updated = updated
		return nil
	})
	if err != nil {
		if _, ok := errors.AsTrackerError(err); ok {
			return nil, err
		}
		return nil, errors.StorageError(errors.CodeTransactionFailed, "apply to similar transactions", err)
	}

	e.log.WithFields(logger.Fields{
		"pattern": result.Rule.Pattern,
		"updated": result.Updated,
	}).Info("Applied category to similar transactions")

	return result, nil
}

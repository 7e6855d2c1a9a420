// Package store defines the persistence collaborator consumed by the
// intelligence engines.
//
// The engines never talk to a database directly: they read transactions,
// rules, recurring patterns, anomalies and the category catalog through
// these interfaces, and group multi-statement writes with WithinTx so a
// learned rule can never exist without its dependent categorizations.
//
// Two implementations ship with the module: a SQLite-backed store
// (store/sqlite) and an in-memory reference implementation (store/memstore)
// used by the engine tests.
package store

import (
	"context"
	"time"

	"golang-finance-intelligence/internal/models"
)

// TransactionFilter narrows transaction listings. Zero-value fields are
// ignored. DescriptionContains matches case-insensitively.
type TransactionFilter struct {
	AccountID           *string
	From                *time.Time
	To                  *time.Time
	Uncategorized       bool
	ExcludeTransfers    bool
	DescriptionContains string
	IDs                 []string
}

// TransactionStore reads and mutates transaction rows. Get returns a
// not-found error when the id does not exist in the caller's scope.
type TransactionStore interface {
	GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]*models.Transaction, error)
	SaveTransaction(ctx context.Context, tx *models.Transaction) error

	// AssignCategory sets the category reference on the given rows and
	// returns the number of rows updated.
	AssignCategory(ctx context.Context, userID string, ids []string, categoryID string) (int, error)

	// MarkRecurring bulk-sets the recurring flag and group reference.
	// Updating zero rows is a valid no-op.
	MarkRecurring(ctx context.Context, userID string, ids []string, patternID string) (int, error)

	// ClearRecurring unlinks every transaction attached to the pattern.
	ClearRecurring(ctx context.Context, userID, patternID string) (int, error)
}

// RuleStore reads and writes category rules.
type RuleStore interface {
	// ListActiveRules returns the caller's active rules in no particular
	// order; matchers sort explicitly by (priority desc, created asc).
	ListActiveRules(ctx context.Context, userID string) ([]*models.CategoryRule, error)

	// UpsertRule inserts the rule unless an active rule with the same
	// (pattern, category) pair already exists for the user. It returns the
	// stored rule and true when a new row was created. The upsert is keyed
	// on the pair rather than check-then-insert so concurrent duplicate
	// learns stay idempotent.
	UpsertRule(ctx context.Context, rule *models.CategoryRule) (*models.CategoryRule, bool, error)
}

// CategoryStore reads the category catalog.
type CategoryStore interface {
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]*models.Category, error)
	SaveCategory(ctx context.Context, category *models.Category) error
}

// PatternStore reads and writes recurring patterns.
type PatternStore interface {
	GetPattern(ctx context.Context, userID, id string) (*models.RecurringPattern, error)
	ListActivePatterns(ctx context.Context, userID string) ([]*models.RecurringPattern, error)

	// FindActivePatternByDescription returns (nil, nil) when no active
	// pattern carries the description pattern.
	FindActivePatternByDescription(ctx context.Context, userID, descriptionPattern string) (*models.RecurringPattern, error)

	// SavePattern inserts or updates by ID.
	SavePattern(ctx context.Context, pattern *models.RecurringPattern) error

	// DeactivatePattern soft-deletes the pattern via its active flag.
	DeactivatePattern(ctx context.Context, userID, id string) error
}

// AnomalyStore reads and writes anomaly records.
type AnomalyStore interface {
	GetAnomaly(ctx context.Context, userID, id string) (*models.Anomaly, error)
	ListAnomalies(ctx context.Context, userID string) ([]*models.Anomaly, error)

	// FindOpenAnomaly locates an open (not dismissed) record with the same
	// reference and type, or (nil, nil) when none exists. Detectors call
	// this before inserting so re-runs never duplicate.
	FindOpenAnomaly(ctx context.Context, userID string, transactionID, categoryID *string, anomalyType models.AnomalyType) (*models.Anomaly, error)

	// SaveAnomaly inserts or updates by ID.
	SaveAnomaly(ctx context.Context, anomaly *models.Anomaly) error
}

// Store is the full persistence collaborator. WithinTx runs fn against a
// transactional view with commit-or-rollback-all semantics: either every
// write inside fn commits, or none do.
type Store interface {
	TransactionStore
	RuleStore
	CategoryStore
	PatternStore
	AnomalyStore

	WithinTx(ctx context.Context, fn func(Store) error) error
}

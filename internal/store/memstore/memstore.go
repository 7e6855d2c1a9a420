// Package memstore provides an in-memory store.Store implementation.
//
// It is the reference semantics for the store interfaces and the backing
// store used by the engine tests. Values are copied in and out, so callers
// never observe another caller's mutations. WithinTx snapshots the state
// and restores it when fn fails, giving the same commit-or-rollback-all
// behavior as the SQLite store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/store"
	"golang-finance-intelligence/pkg/errors"
)

// Memory is an in-memory store.Store
type Memory struct {
	mu sync.RWMutex
	st *state

	// inTx marks a transactional view created by WithinTx; views skip
	// locking because the outer call holds the write lock.
	inTx bool
}

var _ store.Store = (*Memory)(nil)

type state struct {
	transactions map[string]models.Transaction
	rules        map[string]models.CategoryRule
	categories   map[string]models.Category
	patterns     map[string]models.RecurringPattern
	anomalies    map[string]models.Anomaly
}

func newState() *state {
	return &state{
		transactions: make(map[string]models.Transaction),
		rules:        make(map[string]models.CategoryRule),
		categories:   make(map[string]models.Category),
		patterns:     make(map[string]models.RecurringPattern),
		anomalies:    make(map[string]models.Anomaly),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.patterns {
		c.patterns[k] = v
	}
	for k, v := range s.anomalies {
		c.anomalies[k] = v
	}
	return c
}

// New creates an empty in-memory store
func New() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) rlock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// WithinTx runs fn against a transactional view of the store. All writes
// made by fn are discarded when it returns an error.
func (m *Memory) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if m.inTx {
		// Nested units of work join the enclosing one.
		return fn(m)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	view := &Memory{st: m.st, inTx: true}

	if err := fn(view); err != nil {
		m.st = snapshot
		return err
	}

	return nil
}

// GetTransaction returns a transaction by id within the user's scope
func (m *Memory) GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	defer m.rlock()()

	tx, ok := m.st.transactions[id]
	if !ok || tx.UserID != userID {
		return nil, errors.NotFoundError(errors.CodeRecordNotFound, "transaction", id)
	}

	out := tx
	return &out, nil
}

// ListTransactions returns the user's transactions matching the filter,
// ordered by date then id for determinism.
func (m *Memory) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]*models.Transaction, error) {
	defer m.rlock()()

	var idSet map[string]bool
	if len(filter.IDs) > 0 {
		idSet = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			idSet[id] = true
		}
	}

	needle := strings.ToUpper(filter.DescriptionContains)

	var result []*models.Transaction
	for _, tx := range m.st.transactions {
		if tx.UserID != userID {
			continue
		}
		if idSet != nil && !idSet[tx.ID] {
			continue
		}
		if filter.AccountID != nil && tx.AccountID != *filter.AccountID {
			continue
		}
		if filter.From != nil && tx.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.Date.After(*filter.To) {
			continue
		}
		if filter.Uncategorized && tx.CategoryID != nil {
			continue
		}
		if filter.ExcludeTransfers && tx.IsTransfer {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToUpper(tx.Description), needle) {
			continue
		}

		out := tx
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// SaveTransaction inserts or replaces a transaction by id
func (m *Memory) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	defer m.lock()()

	m.st.transactions[tx.ID] = *tx
	return nil
}

// AssignCategory sets the category reference on the given rows
func (m *Memory) AssignCategory(ctx context.Context, userID string, ids []string, categoryID string) (int, error) {
	defer m.lock()()

	updated := 0
	for _, id := range ids {
		tx, ok := m.st.transactions[id]
		if !ok || tx.UserID != userID {
			continue
		}
		cat := categoryID
		tx.CategoryID = &cat
		m.st.transactions[id] = tx
		updated++
	}

	return updated, nil
}

// MarkRecurring bulk-sets the recurring flag and group reference
func (m *Memory) MarkRecurring(ctx context.Context, userID string, ids []string, patternID string) (int, error) {
	defer m.lock()()

	updated := 0
	for _, id := range ids {
		tx, ok := m.st.transactions[id]
		if !ok || tx.UserID != userID {
			continue
		}
		pid := patternID
		tx.IsRecurring = true
		tx.RecurringPatternID = &pid
		m.st.transactions[id] = tx
		updated++
	}

	return updated, nil
}

// ClearRecurring unlinks every transaction attached to the pattern
func (m *Memory) ClearRecurring(ctx context.Context, userID, patternID string) (int, error) {
	defer m.lock()()

	cleared := 0
	for id, tx := range m.st.transactions {
		if tx.UserID != userID || tx.RecurringPatternID == nil || *tx.RecurringPatternID != patternID {
			continue
		}
		tx.IsRecurring = false
		tx.RecurringPatternID = nil
		m.st.transactions[id] = tx
		cleared++
	}

	return cleared, nil
}

// ListActiveRules returns the user's active rules
func (m *Memory) ListActiveRules(ctx context.Context, userID string) ([]*models.CategoryRule, error) {
	defer m.rlock()()

	var result []*models.CategoryRule
	for _, rule := range m.st.rules {
		if rule.UserID != userID || !rule.Active {
			continue
		}
		out := rule
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// UpsertRule inserts the rule unless an active (pattern, category) twin
// already exists for the user.
func (m *Memory) UpsertRule(ctx context.Context, rule *models.CategoryRule) (*models.CategoryRule, bool, error) {
	defer m.lock()()

	for _, existing := range m.st.rules {
		if existing.UserID == rule.UserID && existing.Active &&
			existing.Pattern == rule.Pattern && existing.CategoryID == rule.CategoryID {
			out := existing
			return &out, false, nil
		}
	}

	m.st.rules[rule.ID] = *rule
	out := *rule
	return &out, true, nil
}

// GetCategory returns a catalog entry by id
func (m *Memory) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	defer m.rlock()()

	category, ok := m.st.categories[id]
	if !ok {
		return nil, errors.NotFoundError(errors.CodeCategoryNotFound, "category", id)
	}

	out := category
	return &out, nil
}

// ListCategories returns the full category catalog
func (m *Memory) ListCategories(ctx context.Context) ([]*models.Category, error) {
	defer m.rlock()()

	var result []*models.Category
	for _, category := range m.st.categories {
		out := category
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// SaveCategory inserts or replaces a catalog entry by id
func (m *Memory) SaveCategory(ctx context.Context, category *models.Category) error {
	defer m.lock()()

	m.st.categories[category.ID] = *category
	return nil
}

// GetPattern returns a recurring pattern by id within the user's scope
func (m *Memory) GetPattern(ctx context.Context, userID, id string) (*models.RecurringPattern, error) {
	defer m.rlock()()

	pattern, ok := m.st.patterns[id]
	if !ok || pattern.UserID != userID {
		return nil, errors.NotFoundError(errors.CodePatternNotFound, "recurring pattern", id)
	}

	out := pattern
	return &out, nil
}

// ListActivePatterns returns the user's active recurring patterns
func (m *Memory) ListActivePatterns(ctx context.Context, userID string) ([]*models.RecurringPattern, error) {
	defer m.rlock()()

	var result []*models.RecurringPattern
	for _, pattern := range m.st.patterns {
		if pattern.UserID != userID || !pattern.Active {
			continue
		}
		out := pattern
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DescriptionPattern < result[j].DescriptionPattern
	})

	return result, nil
}

// FindActivePatternByDescription returns (nil, nil) when no active pattern
// carries the description pattern.
func (m *Memory) FindActivePatternByDescription(ctx context.Context, userID, descriptionPattern string) (*models.RecurringPattern, error) {
	defer m.rlock()()

	for _, pattern := range m.st.patterns {
		if pattern.UserID == userID && pattern.Active && pattern.DescriptionPattern == descriptionPattern {
			out := pattern
			return &out, nil
		}
	}

	return nil, nil
}

// SavePattern inserts or replaces a recurring pattern by id
func (m *Memory) SavePattern(ctx context.Context, pattern *models.RecurringPattern) error {
	defer m.lock()()

	m.st.patterns[pattern.ID] = *pattern
	return nil
}

// DeactivatePattern soft-deletes a recurring pattern
func (m *Memory) DeactivatePattern(ctx context.Context, userID, id string) error {
	defer m.lock()()

	pattern, ok := m.st.patterns[id]
	if !ok || pattern.UserID != userID {
		return errors.NotFoundError(errors.CodePatternNotFound, "recurring pattern", id)
	}

	pattern.Active = false
	m.st.patterns[id] = pattern
	return nil
}

// GetAnomaly returns an anomaly by id within the user's scope
func (m *Memory) GetAnomaly(ctx context.Context, userID, id string) (*models.Anomaly, error) {
	defer m.rlock()()

	anomaly, ok := m.st.anomalies[id]
	if !ok || anomaly.UserID != userID {
		return nil, errors.NotFoundError(errors.CodeAnomalyNotFound, "anomaly", id)
	}

	out := anomaly
	return &out, nil
}

// ListAnomalies returns every anomaly in the user's scope
func (m *Memory) ListAnomalies(ctx context.Context, userID string) ([]*models.Anomaly, error) {
	defer m.rlock()()

	var result []*models.Anomaly
	for _, anomaly := range m.st.anomalies {
		if anomaly.UserID != userID {
			continue
		}
		out := anomaly
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// FindOpenAnomaly locates an open record with the same reference and type
func (m *Memory) FindOpenAnomaly(ctx context.Context, userID string, transactionID, categoryID *string, anomalyType models.AnomalyType) (*models.Anomaly, error) {
	defer m.rlock()()

	for _, anomaly := range m.st.anomalies {
		if anomaly.UserID != userID || anomaly.Type != anomalyType || anomaly.Dismissed {
			continue
		}
		if !ptrEqual(anomaly.TransactionID, transactionID) {
			continue
		}
		if !ptrEqual(anomaly.CategoryID, categoryID) {
			continue
		}
		out := anomaly
		return &out, nil
	}

	return nil, nil
}

// SaveAnomaly inserts or replaces an anomaly by id
func (m *Memory) SaveAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	defer m.lock()()

	m.st.anomalies[anomaly.ID] = *anomaly
	return nil
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

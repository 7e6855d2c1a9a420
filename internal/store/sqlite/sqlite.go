// Package sqlite implements the persistence interfaces on SQLite.
//
// The database opens with foreign keys on and a single connection, which
// serializes writers and keeps busy-timeout handling simple. Schema
// management runs through embedded migrations. Amounts persist as text
// through decimal's driver support so no float rounding ever touches
// stored values.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/store"
	"golang-finance-intelligence/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the SQLite database at path with sensible defaults
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements store.Store on a SQLite database
type Store struct {
	db *sql.DB // nil inside a transaction
	q  querier
}

var _ store.Store = (*Store)(nil)

// New creates a Store over an opened database
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// WithinTx runs fn against a transactional view. A nested call joins the
// enclosing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeTransactionFailed, "begin transaction", err)
	}

	if err := fn(&Store{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeTransactionFailed, "commit transaction", err)
	}
	return nil
}

const transactionColumns = `id, user_id, account_id, date, description, debit_amount, credit_amount,
	category_id, is_transfer, is_recurring, recurring_pattern_id`

// GetTransaction fetches one transaction scoped to the user
func (s *Store) GetTransaction(ctx context.Context, userID, id string) (*models.Transaction, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id = ?`,
		userID, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodeRecordNotFound, "transaction", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get transaction", err)
	}
	return tx, nil
}

// ListTransactions returns the user's transactions matching the filter,
// ordered by date then id.
func (s *Store) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]*models.Transaction, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}

	if filter.AccountID != nil {
		where = append(where, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.From != nil {
		where = append(where, "date >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, "date <= ?")
		args = append(args, *filter.To)
	}
	if filter.Uncategorized {
		where = append(where, "category_id IS NULL")
	}
	if filter.ExcludeTransfers {
		where = append(where, "is_transfer = 0")
	}
	if filter.DescriptionContains != "" {
		where = append(where, "UPPER(description) LIKE ?")
		args = append(args, "%"+strings.ToUpper(filter.DescriptionContains)+"%")
	}
	if len(filter.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(filter.IDs))+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY date ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list transactions", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan transaction", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list transactions", err)
	}
	return out, nil
}

// SaveTransaction inserts or replaces by id
func (s *Store) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidBatch, err.Error())
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			date = excluded.date,
			description = excluded.description,
			debit_amount = excluded.debit_amount,
			credit_amount = excluded.credit_amount,
			category_id = excluded.category_id,
			is_transfer = excluded.is_transfer,
			is_recurring = excluded.is_recurring,
			recurring_pattern_id = excluded.recurring_pattern_id`,
		tx.ID, tx.UserID, tx.AccountID, tx.Date, tx.Description,
		tx.DebitAmount, tx.CreditAmount, tx.CategoryID,
		tx.IsTransfer, tx.IsRecurring, tx.RecurringPatternID)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save transaction", err)
	}
	return nil
}

// AssignCategory sets the category on the given rows
func (s *Store) AssignCategory(ctx context.Context, userID string, ids []string, categoryID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := []interface{}{categoryID, userID}
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET category_id = ? WHERE user_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "assign category", err)
	}
	return rowsAffected(result)
}

// MarkRecurring links the given rows to a recurring pattern
func (s *Store) MarkRecurring(ctx context.Context, userID string, ids []string, patternID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := []interface{}{patternID, userID}
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET is_recurring = 1, recurring_pattern_id = ?
		 WHERE user_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "mark recurring", err)
	}
	return rowsAffected(result)
}

// ClearRecurring unlinks every transaction attached to the pattern
func (s *Store) ClearRecurring(ctx context.Context, userID, patternID string) (int, error) {
	result, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET is_recurring = 0, recurring_pattern_id = NULL
		 WHERE user_id = ? AND recurring_pattern_id = ?`,
		userID, patternID)
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "clear recurring", err)
	}
	return rowsAffected(result)
}

// ListActiveRules returns the user's active rules
func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]*models.CategoryRule, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, user_id, pattern, category_id, priority, active, created_at
		 FROM category_rules WHERE user_id = ? AND active = 1
		 ORDER BY priority DESC, created_at ASC, id ASC`,
		userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list rules", err)
	}
	defer rows.Close()

	var out []*models.CategoryRule
	for rows.Next() {
		rule := &models.CategoryRule{}
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.Pattern, &rule.CategoryID,
			&rule.Priority, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan rule", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list rules", err)
	}
	return out, nil
}

// UpsertRule inserts the rule unless an active twin exists. The unique
// index on active (user_id, pattern, category_id) makes concurrent
// duplicate learns collapse into one row.
func (s *Store) UpsertRule(ctx context.Context, rule *models.CategoryRule) (*models.CategoryRule, bool, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO category_rules (id, user_id, pattern, category_id, priority, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, pattern, category_id) WHERE active = 1 DO NOTHING`,
		rule.ID, rule.UserID, rule.Pattern, rule.CategoryID,
		rule.Priority, rule.Active, rule.CreatedAt)
	if err != nil {
		return nil, false, errors.StorageError(errors.CodeQueryFailed, "upsert rule", err)
	}

	inserted, err := rowsAffected(result)
	if err != nil {
		return nil, false, err
	}
	if inserted > 0 {
		stored := *rule
		return &stored, true, nil
	}

	row := s.q.QueryRowContext(ctx,
		`SELECT id, user_id, pattern, category_id, priority, active, created_at
		 FROM category_rules
		 WHERE user_id = ? AND pattern = ? AND category_id = ? AND active = 1`,
		rule.UserID, rule.Pattern, rule.CategoryID)

	existing := &models.CategoryRule{}
	if err := row.Scan(&existing.ID, &existing.UserID, &existing.Pattern, &existing.CategoryID,
		&existing.Priority, &existing.Active, &existing.CreatedAt); err != nil {
		return nil, false, errors.StorageError(errors.CodeQueryFailed, "load existing rule", err)
	}
	return existing, false, nil
}

// GetCategory fetches one category from the catalog
func (s *Store) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, classification FROM categories WHERE id = ?`, id)

	category := &models.Category{}
	err := row.Scan(&category.ID, &category.Name, &category.Classification)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodeCategoryNotFound, "category", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get category", err)
	}
	return category, nil
}

// ListCategories returns the full catalog ordered by name
func (s *Store) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, classification FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list categories", err)
	}
	defer rows.Close()

	var out []*models.Category
	for rows.Next() {
		category := &models.Category{}
		if err := rows.Scan(&category.ID, &category.Name, &category.Classification); err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan category", err)
		}
		out = append(out, category)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list categories", err)
	}
	return out, nil
}

// SaveCategory inserts or replaces by id
func (s *Store) SaveCategory(ctx context.Context, category *models.Category) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (id, name, classification) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, classification = excluded.classification`,
		category.ID, category.Name, category.Classification)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save category", err)
	}
	return nil
}

const patternColumns = `id, user_id, description_pattern, merchant_name, typical_amount,
	typical_day, frequency, occurrence_count, is_subscription, active, created_at`

// GetPattern fetches one recurring pattern scoped to the user
func (s *Store) GetPattern(ctx context.Context, userID, id string) (*models.RecurringPattern, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM recurring_patterns WHERE user_id = ? AND id = ?`,
		userID, id)

	pattern, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodePatternNotFound, "recurring pattern", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get pattern", err)
	}
	return pattern, nil
}

// ListActivePatterns returns the user's active patterns ordered by creation
func (s *Store) ListActivePatterns(ctx context.Context, userID string) ([]*models.RecurringPattern, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM recurring_patterns
		 WHERE user_id = ? AND active = 1 ORDER BY created_at ASC, id ASC`,
		userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list patterns", err)
	}
	defer rows.Close()

	var out []*models.RecurringPattern
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan pattern", err)
		}
		out = append(out, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list patterns", err)
	}
	return out, nil
}

// FindActivePatternByDescription returns (nil, nil) when no active
// pattern carries the description pattern.
func (s *Store) FindActivePatternByDescription(ctx context.Context, userID, descriptionPattern string) (*models.RecurringPattern, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM recurring_patterns
		 WHERE user_id = ? AND active = 1 AND description_pattern = ? LIMIT 1`,
		userID, descriptionPattern)

	pattern, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "find pattern", err)
	}
	return pattern, nil
}

// SavePattern inserts or replaces by id
func (s *Store) SavePattern(ctx context.Context, pattern *models.RecurringPattern) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recurring_patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description_pattern = excluded.description_pattern,
			merchant_name = excluded.merchant_name,
			typical_amount = excluded.typical_amount,
			typical_day = excluded.typical_day,
			frequency = excluded.frequency,
			occurrence_count = excluded.occurrence_count,
			is_subscription = excluded.is_subscription,
			active = excluded.active`,
		pattern.ID, pattern.UserID, pattern.DescriptionPattern, pattern.MerchantName,
		pattern.TypicalAmount, pattern.TypicalDay, string(pattern.Frequency),
		pattern.OccurrenceCount, pattern.IsSubscription, pattern.Active, pattern.CreatedAt)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save pattern", err)
	}
	return nil
}

// DeactivatePattern soft-deletes the pattern
func (s *Store) DeactivatePattern(ctx context.Context, userID, id string) error {
	result, err := s.q.ExecContext(ctx,
		`UPDATE recurring_patterns SET active = 0 WHERE user_id = ? AND id = ?`,
		userID, id)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "deactivate pattern", err)
	}

	affected, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundError(errors.CodePatternNotFound, "recurring pattern", id)
	}
	return nil
}

const anomalyColumns = `id, user_id, transaction_id, category_id, type, severity,
	description, dismissed, confirmed_fraud, detected_at`

// GetAnomaly fetches one anomaly scoped to the user
func (s *Store) GetAnomaly(ctx context.Context, userID, id string) (*models.Anomaly, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies WHERE user_id = ? AND id = ?`,
		userID, id)

	anomaly, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(errors.CodeAnomalyNotFound, "anomaly", id)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "get anomaly", err)
	}
	return anomaly, nil
}

// ListAnomalies returns the user's anomalies, newest first
func (s *Store) ListAnomalies(ctx context.Context, userID string) ([]*models.Anomaly, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies
		 WHERE user_id = ? ORDER BY detected_at DESC, id ASC`,
		userID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list anomalies", err)
	}
	defer rows.Close()

	var out []*models.Anomaly
	for rows.Next() {
		anomaly, err := scanAnomaly(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeQueryFailed, "scan anomaly", err)
		}
		out = append(out, anomaly)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list anomalies", err)
	}
	return out, nil
}

// FindOpenAnomaly locates an open record with the same reference and type
func (s *Store) FindOpenAnomaly(ctx context.Context, userID string, transactionID, categoryID *string, anomalyType models.AnomalyType) (*models.Anomaly, error) {
	where := []string{"user_id = ?", "type = ?", "dismissed = 0"}
	args := []interface{}{userID, string(anomalyType)}

	if transactionID != nil {
		where = append(where, "transaction_id = ?")
		args = append(args, *transactionID)
	} else {
		where = append(where, "transaction_id IS NULL")
	}
	if categoryID != nil {
		where = append(where, "category_id = ?")
		args = append(args, *categoryID)
	} else {
		where = append(where, "category_id IS NULL")
	}

	row := s.q.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies WHERE `+strings.Join(where, " AND ")+` LIMIT 1`,
		args...)

	anomaly, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "find anomaly", err)
	}
	return anomaly, nil
}

// SaveAnomaly inserts or replaces by id
func (s *Store) SaveAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO anomalies (`+anomalyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			description = excluded.description,
			dismissed = excluded.dismissed,
			confirmed_fraud = excluded.confirmed_fraud`,
		anomaly.ID, anomaly.UserID, anomaly.TransactionID, anomaly.CategoryID,
		string(anomaly.Type), string(anomaly.Severity), anomaly.Description,
		anomaly.Dismissed, anomaly.ConfirmedFraud, anomaly.DetectedAt)
	if err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "save anomaly", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var categoryID, patternID sql.NullString

	err := row.Scan(&tx.ID, &tx.UserID, &tx.AccountID, &tx.Date, &tx.Description,
		&tx.DebitAmount, &tx.CreditAmount, &categoryID,
		&tx.IsTransfer, &tx.IsRecurring, &patternID)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		tx.CategoryID = &categoryID.String
	}
	if patternID.Valid {
		tx.RecurringPatternID = &patternID.String
	}
	return tx, nil
}

func scanPattern(row scanner) (*models.RecurringPattern, error) {
	pattern := &models.RecurringPattern{}
	var merchant sql.NullString
	var typicalDay sql.NullInt64
	var frequency string

	err := row.Scan(&pattern.ID, &pattern.UserID, &pattern.DescriptionPattern, &merchant,
		&pattern.TypicalAmount, &typicalDay, &frequency, &pattern.OccurrenceCount,
		&pattern.IsSubscription, &pattern.Active, &pattern.CreatedAt)
	if err != nil {
		return nil, err
	}

	if merchant.Valid {
		pattern.MerchantName = &merchant.String
	}
	if typicalDay.Valid {
		day := int(typicalDay.Int64)
		pattern.TypicalDay = &day
	}
	pattern.Frequency = models.Frequency(frequency)
	return pattern, nil
}

func scanAnomaly(row scanner) (*models.Anomaly, error) {
	anomaly := &models.Anomaly{}
	var transactionID, categoryID sql.NullString
	var anomalyType, severity string

	err := row.Scan(&anomaly.ID, &anomaly.UserID, &transactionID, &categoryID,
		&anomalyType, &severity, &anomaly.Description,
		&anomaly.Dismissed, &anomaly.ConfirmedFraud, &anomaly.DetectedAt)
	if err != nil {
		return nil, err
	}

	if transactionID.Valid {
		anomaly.TransactionID = &transactionID.String
	}
	if categoryID.Valid {
		anomaly.CategoryID = &categoryID.String
	}
	anomaly.Type = models.AnomalyType(anomalyType)
	anomaly.Severity = models.Severity(severity)
	return anomaly, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func rowsAffected(result sql.Result) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.StorageError(errors.CodeQueryFailed, "rows affected", err)
	}
	return int(n), nil
}

package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/pkg/errors"
	"golang-finance-intelligence/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseError records a single failed row
type ParseError struct {
	Line    int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseStats summarizes one parse run
type ParseStats struct {
	TotalLines   int
	RecordsValid int
	Errors       []*ParseError
}

// SampleErrors returns up to n collected errors for log output
func (s *ParseStats) SampleErrors(n int) []*ParseError {
	if len(s.Errors) <= n {
		return s.Errors
	}
	return s.Errors[:n]
}

// TransactionParser reads bank-export CSV files into transactions
type TransactionParser struct {
	config *TransactionParserConfig
	log    logger.Logger
}

// NewTransactionParser creates a parser with the given configuration
func NewTransactionParser(config *TransactionParserConfig) (*TransactionParser, error) {
	if config == nil {
		config = DefaultTransactionParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "transaction_parser", err.Error())
	}

	return &TransactionParser{
		config: config,
		log:    logger.GetGlobalLogger().WithComponent("parser"),
	}, nil
}

// ParseFile parses a CSV file into transactions owned by the given user
func (tp *TransactionParser) ParseFile(ctx context.Context, filePath, userID string) ([]*models.Transaction, *ParseStats, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, nil, errors.ParseError(errors.CodeFileNotFound, filePath, 0, "cannot open file", err)
	}
	defer file.Close()

	transactions, stats, err := tp.Parse(ctx, file, userID)
	if err != nil {
		return nil, stats, err
	}

	tp.log.WithFields(logger.Fields{
		"file":    filePath,
		"lines":   stats.TotalLines,
		"valid":   stats.RecordsValid,
		"errors":  len(stats.Errors),
		"user_id": userID,
	}).Info("Parsed transaction file")

	if len(stats.Errors) > 0 {
		tp.log.WithField("sample_errors", stats.SampleErrors(3)).Warn("Some rows failed to parse")
	}

	return transactions, stats, nil
}

// Parse reads CSV records from r. The first row must be a header; rows
// that fail to parse are recorded in the stats and skipped.
func (tp *TransactionParser) Parse(ctx context.Context, r io.Reader, userID string) ([]*models.Transaction, *ParseStats, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "user id is required")
	}

	reader := csv.NewReader(r)
	reader.Comma = tp.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	stats := &ParseStats{}

	headers, err := reader.Read()
	if err != nil {
		return nil, stats, errors.ParseError(errors.CodeInvalidFormat, "input", 1, "cannot read header row", err)
	}
	stats.TotalLines = 1

	columns, err := tp.config.resolveColumns(headers)
	if err != nil {
		return nil, stats, err
	}

	var transactions []*models.Transaction
	for {
		if ctx.Err() != nil {
			return transactions, stats, errors.InternalError("parse transactions", ctx.Err())
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		stats.TotalLines++

		if err != nil {
			stats.Errors = append(stats.Errors, &ParseError{
				Line:    stats.TotalLines,
				Message: "malformed CSV record",
				Err:     err,
			})
			continue
		}

		transaction, parseErr := tp.parseRecord(record, columns, userID, stats.TotalLines)
		if parseErr != nil {
			stats.Errors = append(stats.Errors, parseErr)
			continue
		}

		transactions = append(transactions, transaction)
		stats.RecordsValid++
	}

	return transactions, stats, nil
}

func (tp *TransactionParser) parseRecord(record []string, columns map[string]int, userID string, line int) (*models.Transaction, *ParseError) {
	field := func(column string) string {
		i, ok := columns[column]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := models.ParseTimeWithFormats(field(ColumnDate))
	if err != nil {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("invalid date %q", field(ColumnDate)), Err: err}
	}

	description := field(ColumnDescription)
	if description == "" {
		return nil, &ParseError{Line: line, Message: "empty description"}
	}

	debit, err := parseOptionalAmount(field(ColumnDebit))
	if err != nil {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("invalid debit amount %q", field(ColumnDebit)), Err: err}
	}

	credit, err := parseOptionalAmount(field(ColumnCredit))
	if err != nil {
		return nil, &ParseError{Line: line, Message: fmt.Sprintf("invalid credit amount %q", field(ColumnCredit)), Err: err}
	}

	if debit.IsZero() && credit.IsZero() {
		return nil, &ParseError{Line: line, Message: "row has neither debit nor credit amount"}
	}

	accountID := field(ColumnAccount)
	if accountID == "" {
		accountID = tp.config.DefaultAccountID
	}

	transaction := &models.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		AccountID:    accountID,
		Date:         date,
		Description:  description,
		DebitAmount:  debit,
		CreditAmount: credit,
	}

	if err := transaction.Validate(); err != nil {
		return nil, &ParseError{Line: line, Message: "transaction validation failed", Err: err}
	}

	return transaction, nil
}

// parseOptionalAmount treats blank fields as zero. Negative exports are
// normalized to their magnitude since the column already carries the
// direction.
func parseOptionalAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}

	amount, err := models.ParseDecimalFromString(s)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Abs(), nil
}

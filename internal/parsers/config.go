// Package parsers reads bank-export CSV files into transactions.
//
// Bank exports disagree on column names, so headers resolve through an
// alias table: "Money Out", "Debit Amount" and "Withdrawal" all map to the
// debit column. Rows parse best-effort, with per-line errors collected in
// ParseStats rather than aborting the file.
package parsers

import (
	"fmt"
	"strings"

	"golang-finance-intelligence/pkg/errors"
)

// Canonical column keys
const (
	ColumnDate        = "date"
	ColumnDescription = "description"
	ColumnDebit       = "debit"
	ColumnCredit      = "credit"
	ColumnAccount     = "account"
)

// TransactionParserConfig controls CSV intake
type TransactionParserConfig struct {
	// Delimiter is the field separator, comma by default.
	Delimiter rune

	// ColumnAliases maps canonical column keys to accepted header
	// names. Matching is case-insensitive after trimming.
	ColumnAliases map[string][]string

	// DefaultAccountID applies when the file has no account column.
	DefaultAccountID string
}

// DefaultTransactionParserConfig returns a configuration covering the
// common bank-export header variants.
func DefaultTransactionParserConfig() *TransactionParserConfig {
	return &TransactionParserConfig{
		Delimiter: ',',
		ColumnAliases: map[string][]string{
			ColumnDate:        {"date", "transaction date", "posted date"},
			ColumnDescription: {"description", "details", "narrative", "memo"},
			ColumnDebit:       {"debit", "debit amount", "money out", "withdrawal", "paid out"},
			ColumnCredit:      {"credit", "credit amount", "money in", "deposit", "paid in"},
			ColumnAccount:     {"account", "account id", "account number"},
		},
	}
}

// Validate checks the configuration
func (c *TransactionParserConfig) Validate() error {
	if c.Delimiter == 0 {
		return errors.ValidationError(errors.CodeInvalidConfig, "delimiter cannot be empty")
	}

	for _, column := range []string{ColumnDate, ColumnDescription, ColumnDebit, ColumnCredit} {
		if len(c.ColumnAliases[column]) == 0 {
			return errors.ValidationError(errors.CodeInvalidConfig,
				fmt.Sprintf("no header aliases configured for column %q", column))
		}
	}

	return nil
}

// resolveColumns maps canonical column keys to field indexes using the
// alias table. Date, description, debit and credit must all resolve.
func (c *TransactionParserConfig) resolveColumns(headers []string) (map[string]int, error) {
	normalized := make(map[string]int, len(headers))
	for i, header := range headers {
		normalized[strings.ToLower(strings.TrimSpace(header))] = i
	}

	indexes := make(map[string]int)
	for column, aliases := range c.ColumnAliases {
		for _, alias := range aliases {
			if i, ok := normalized[alias]; ok {
				indexes[column] = i
				break
			}
		}
	}

	for _, column := range []string{ColumnDate, ColumnDescription, ColumnDebit, ColumnCredit} {
		if _, ok := indexes[column]; !ok {
			return nil, errors.New(errors.CategoryParse, errors.CodeMissingColumn,
				fmt.Sprintf("no header matches column %q", column)).
				WithSuggestion(fmt.Sprintf("accepted headers: %s", strings.Join(c.ColumnAliases[column], ", ")))
		}
	}

	return indexes, nil
}

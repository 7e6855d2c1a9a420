package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a bank-export CSV file",
	Long: `Import parses a bank-export CSV file and stores its transactions.

Rows that fail to parse are reported and skipped; the rest import as one
atomic batch.

Examples:
  finintel import statement.csv
  finintel import statement.csv --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	stored, stats, err := service.ImportFile(cmd.Context(), args[0], currentUser())
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d transactions (%d lines, %d rows failed)\n",
		stored, stats.TotalLines, len(stats.Errors))
	for _, rowErr := range stats.SampleErrors(5) {
		fmt.Printf("  %s\n", rowErr.Error())
	}
	return nil
}

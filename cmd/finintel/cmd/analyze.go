package cmd

import (
	"fmt"
	"os"
	"time"

	"golang-finance-intelligence/internal/intelligence"

	"github.com/spf13/cobra"
)

var analyzeProgress bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full analysis pipeline",
	Long: `Analyze runs categorization, recurring pattern detection and anomaly
detection in sequence over the user's transactions.

Examples:
  finintel analyze
  finintel analyze --progress`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeProgress, "progress", false, "show step progress")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	if analyzeProgress {
		service.AddProgressCallback(func(p *intelligence.Progress) {
			fmt.Fprintf(os.Stderr, "[%3.0f%%] %s\n", p.PercentComplete, p.CurrentStep)
		})
	}

	result, err := service.Analyze(cmd.Context(), currentUser())
	if err != nil {
		return err
	}

	reporter, err := newReporter()
	if err != nil {
		return err
	}

	if err := reporter.WriteCategorization(os.Stdout, result.Categorization); err != nil {
		return err
	}

	fmt.Printf("\nRecurring: %d patterns created, %d updated\n",
		result.Recurring.PatternsCreated, result.Recurring.PatternsUpdated)
	fmt.Printf("Anomalies: %d new findings\n", result.Anomalies.Created)
	fmt.Printf("Completed in %s\n", result.Duration.Round(time.Millisecond))
	return nil
}

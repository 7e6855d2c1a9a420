package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Detect and review anomalous transactions",
}

var anomaliesDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run anomaly detection over the recent window",
	Long: `Detect flags unusual amounts, large payments to new merchants,
potential duplicate charges and category spending spikes. Re-running
detection never duplicates an open finding.`,
	RunE: runAnomaliesDetect,
}

var anomaliesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List detected anomalies, most severe first",
	RunE:  runAnomaliesList,
}

var anomaliesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show anomaly counts by type, severity and review state",
	RunE:  runAnomaliesStats,
}

var anomaliesDismissCmd = &cobra.Command{
	Use:   "dismiss <anomaly-id>",
	Short: "Dismiss an anomaly as reviewed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnomaliesDismiss,
}

var anomaliesConfirmCmd = &cobra.Command{
	Use:   "confirm-fraud <anomaly-id>",
	Short: "Mark an anomaly as confirmed fraud",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnomaliesConfirm,
}

func init() {
	rootCmd.AddCommand(anomaliesCmd)
	anomaliesCmd.AddCommand(anomaliesDetectCmd)
	anomaliesCmd.AddCommand(anomaliesListCmd)
	anomaliesCmd.AddCommand(anomaliesStatsCmd)
	anomaliesCmd.AddCommand(anomaliesDismissCmd)
	anomaliesCmd.AddCommand(anomaliesConfirmCmd)
}

func runAnomaliesDetect(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := service.Anomaly().Detect(cmd.Context(), currentUser())
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d transactions: %d new findings, %d already known\n",
		result.WindowSize, result.Created, result.Existing)

	reporter, err := newReporter()
	if err != nil {
		return err
	}
	return reporter.WriteAnomalies(os.Stdout, result.Anomalies)
}

func runAnomaliesList(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	anomalies, err := service.Anomaly().ListAll(cmd.Context(), currentUser())
	if err != nil {
		return err
	}

	reporter, err := newReporter()
	if err != nil {
		return err
	}
	return reporter.WriteAnomalies(os.Stdout, anomalies)
}

func runAnomaliesStats(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := service.Anomaly().GetStats(cmd.Context(), currentUser())
	if err != nil {
		return err
	}

	reporter, err := newReporter()
	if err != nil {
		return err
	}
	return reporter.WriteAnomalyStats(os.Stdout, stats)
}

func runAnomaliesDismiss(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	anomaly, err := service.Anomaly().Dismiss(cmd.Context(), currentUser(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Dismissed anomaly %s (%s)\n", anomaly.ID, anomaly.Type)
	return nil
}

func runAnomaliesConfirm(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	anomaly, err := service.Anomaly().ConfirmFraud(cmd.Context(), currentUser(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Confirmed fraud on anomaly %s (%s)\n", anomaly.ID, anomaly.Type)
	return nil
}

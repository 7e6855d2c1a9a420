package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var recurringAccountID string

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Detect and manage recurring payment patterns",
}

var recurringDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect recurring patterns in transaction history",
	Long: `Detect groups transactions by description and records a recurring
pattern for every group that repeats on a regular cadence with
consistent amounts.

Examples:
  finintel recurring detect
  finintel recurring detect --account acc-1`,
	RunE: runRecurringDetect,
}

var recurringListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recurring payments grouped by cadence",
	RunE:  runRecurringList,
}

var recurringDeleteCmd = &cobra.Command{
	Use:   "delete <pattern-id>",
	Short: "Delete a recurring pattern and unlink its transactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecurringDelete,
}

func init() {
	rootCmd.AddCommand(recurringCmd)
	recurringCmd.AddCommand(recurringDetectCmd)
	recurringCmd.AddCommand(recurringListCmd)
	recurringCmd.AddCommand(recurringDeleteCmd)

	recurringDetectCmd.Flags().StringVar(&recurringAccountID, "account", "", "restrict detection to one account")
}

func runRecurringDetect(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	var accountID *string
	if recurringAccountID != "" {
		accountID = &recurringAccountID
	}

	result, err := service.Recurring().Detect(cmd.Context(), currentUser(), accountID)
	if err != nil {
		return err
	}

	fmt.Printf("Considered %d groups: %d patterns created, %d updated\n",
		result.GroupsConsidered, result.PatternsCreated, result.PatternsUpdated)
	return nil
}

func runRecurringList(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	payments, err := service.Recurring().GetRegularPayments(cmd.Context(), currentUser())
	if err != nil {
		return err
	}

	reporter, err := newReporter()
	if err != nil {
		return err
	}
	return reporter.WriteRegularPayments(os.Stdout, payments)
}

func runRecurringDelete(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := service.Recurring().DeletePattern(cmd.Context(), currentUser(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Deleted pattern %s\n", args[0])
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"golang-finance-intelligence/internal/categorizer"

	"github.com/spf13/cobra"
)

var (
	categorizeIDs    []string
	learnDescription string
	learnCategory    string
	applySimilar     bool
)

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Categorize uncategorized transactions using learned rules",
	Long: `Categorize suggests a category for every uncategorized transaction and
assigns the ones that clear the confidence threshold. Pass --ids to
restrict the batch to specific transactions.

Examples:
  finintel categorize
  finintel categorize --ids tx-1,tx-2`,
	RunE: runCategorize,
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn a categorization rule from a description",
	Long: `Learn extracts a pattern from the description and stores it as a rule
for the given category. With --apply-similar the rule is also applied to
existing uncategorized transactions matching the pattern.

Examples:
  finintel learn --description "TESCO STORES 3297" --category groceries
  finintel learn --description "NETFLIX.COM" --category entertainment --apply-similar`,
	RunE: runLearn,
}

func init() {
	rootCmd.AddCommand(categorizeCmd)
	rootCmd.AddCommand(learnCmd)

	categorizeCmd.Flags().StringSliceVar(&categorizeIDs, "ids", nil, "comma-separated transaction ids to categorize")

	learnCmd.Flags().StringVarP(&learnDescription, "description", "d", "", "transaction description to learn from (required)")
	learnCmd.Flags().StringVarP(&learnCategory, "category", "c", "", "category id to associate (required)")
	learnCmd.Flags().BoolVar(&applySimilar, "apply-similar", false, "also categorize matching uncategorized transactions")
	learnCmd.MarkFlagRequired("description")
	learnCmd.MarkFlagRequired("category")
}

func runCategorize(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := service.Categorizer().AutoCategorize(cmd.Context(), currentUser(), categorizeIDs)
	if err != nil {
		return err
	}

	reporter, err := newReporter()
	if err != nil {
		return err
	}
	return reporter.WriteCategorization(os.Stdout, result)
}

func runLearn(cmd *cobra.Command, args []string) error {
	service, db, err := openService()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	user := currentUser()

	if applySimilar {
		result, err := service.Categorizer().ApplyToSimilarTransactions(ctx, user, learnDescription, learnCategory,
			categorizer.SimilarOptions{OnlyUncategorized: true})
		if err != nil {
			return err
		}
		fmt.Printf("Learned rule %s -> %s and categorized %d matching transactions\n",
			result.Rule.Pattern, result.Rule.CategoryID, result.Updated)
		return nil
	}

	learned, err := service.Categorizer().LearnFromCategorization(ctx, user, learnDescription, learnCategory)
	if err != nil {
		return err
	}

	if learned.Existing {
		fmt.Printf("Rule already known: %s -> %s (priority %d)\n",
			learned.Rule.Pattern, learned.Rule.CategoryID, learned.Rule.Priority)
	} else {
		fmt.Printf("Learned rule: %s -> %s (priority %d)\n",
			learned.Rule.Pattern, learned.Rule.CategoryID, learned.Rule.Priority)
	}
	return nil
}

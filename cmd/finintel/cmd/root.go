package cmd

import (
	"database/sql"
	"fmt"
	"os"

	"golang-finance-intelligence/cmd/finintel/config"
	"golang-finance-intelligence/internal/intelligence"
	"golang-finance-intelligence/internal/reporting"
	"golang-finance-intelligence/internal/store/sqlite"
	"golang-finance-intelligence/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	verbose      bool
	dbPath       string
	userID       string
	outputFormat string

	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "finintel",
	Short: "Personal finance transaction intelligence",
	Long: `Finintel analyzes personal finance transactions: it categorizes them
with learned rules, detects recurring payments and subscriptions, and
flags anomalous spending.

Examples:
  finintel import statement.csv
  finintel categorize
  finintel recurring detect
  finintel anomalies detect
  finintel analyze`,
	Version: getVersionString(),
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "finintel.db", "path to the SQLite database")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "user id owning the transactions")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("output-format", rootCmd.PersistentFlags().Lookup("output-format"))
}

// initConfig reads in config file and environment variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	viper.SetEnvPrefix("FININTEL")
	viper.AutomaticEnv()

	level := logger.InfoLevel
	if viper.GetBool("verbose") {
		level = logger.DebugLevel
	}
	if log, err := logger.NewLogger(&logger.Config{Level: level, Format: logger.TextFormat}, os.Stderr); err == nil {
		logger.SetGlobalLogger(log)
	}
}

// openService opens the database, applies migrations and builds the
// analysis service. The caller closes the returned database.
func openService() (*intelligence.AnalysisService, *sql.DB, error) {
	db, err := sqlite.Open(viper.GetString("db"))
	if err != nil {
		return nil, nil, err
	}

	if err := sqlite.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	service, err := intelligence.NewAnalysisService(sqlite.New(db), config.Load())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return service, db, nil
}

func newReporter() (*reporting.Reporter, error) {
	return reporting.NewReporter(reporting.OutputFormat(viper.GetString("output-format")))
}

func currentUser() string {
	return viper.GetString("user")
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

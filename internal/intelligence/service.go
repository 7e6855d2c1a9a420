// Package intelligence orchestrates the full analysis workflow.
//
// An AnalysisService runs the engines in sequence over a user's
// transactions: rule-based categorization first, then recurring pattern
// detection over the now-categorized rows, then anomaly detection.
// Callers can observe step-level progress through callbacks.
package intelligence

import (
	"context"
	"sync"
	"time"

	"golang-finance-intelligence/internal/anomaly"
	"golang-finance-intelligence/internal/categorizer"
	"golang-finance-intelligence/internal/models"
	"golang-finance-intelligence/internal/parsers"
	"golang-finance-intelligence/internal/recurring"
	"golang-finance-intelligence/internal/store"
	"golang-finance-intelligence/pkg/errors"
	"golang-finance-intelligence/pkg/logger"
)

// Config aggregates the engine configurations
type Config struct {
	Categorizer *categorizer.Config
	Recurring   *recurring.Config
	Anomaly     *anomaly.Config
	Parser      *parsers.TransactionParserConfig
}

// DefaultConfig returns default configurations for every engine
func DefaultConfig() *Config {
	return &Config{
		Categorizer: categorizer.DefaultConfig(),
		Recurring:   recurring.DefaultConfig(),
		Anomaly:     anomaly.DefaultConfig(),
		Parser:      parsers.DefaultTransactionParserConfig(),
	}
}

// Progress reports the state of a running analysis
type Progress struct {
	TotalSteps      int           `json:"totalSteps"`
	CompletedSteps  int           `json:"completedSteps"`
	CurrentStep     string        `json:"currentStep"`
	PercentComplete float64       `json:"percentComplete"`
	StartTime       time.Time     `json:"startTime"`
	ElapsedTime     time.Duration `json:"elapsedTime"`
}

// ProgressCallback observes analysis progress
type ProgressCallback func(*Progress)

// Result aggregates the outcome of a full analysis run
type Result struct {
	Imported       int                            `json:"imported"`
	ImportErrors   int                            `json:"importErrors"`
	Categorization *categorizer.AutoCategorizeResult `json:"categorization"`
	Recurring      *recurring.DetectResult        `json:"recurring"`
	Anomalies      *anomaly.DetectResult          `json:"anomalies"`
	Duration       time.Duration                  `json:"duration"`
}

// AnalysisService wires the engines together over a shared store
type AnalysisService struct {
	store       store.Store
	parser      *parsers.TransactionParser
	categorizer *categorizer.Engine
	recurring   *recurring.Detector
	anomaly     *anomaly.Detector
	log         logger.Logger

	callbacks []ProgressCallback
	mu        sync.Mutex
}

// NewAnalysisService creates a service with all engines configured
func NewAnalysisService(st store.Store, config *Config) (*AnalysisService, error) {
	if st == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", nil)
	}

	if config == nil {
		config = DefaultConfig()
	}

	parser, err := parsers.NewTransactionParser(config.Parser)
	if err != nil {
		return nil, err
	}

	engine, err := categorizer.New(st, config.Categorizer)
	if err != nil {
		return nil, err
	}

	recurringDetector, err := recurring.New(st, config.Recurring)
	if err != nil {
		return nil, err
	}

	anomalyDetector, err := anomaly.New(st, config.Anomaly)
	if err != nil {
		return nil, err
	}

	return &AnalysisService{
		store:       st,
		parser:      parser,
		categorizer: engine,
		recurring:   recurringDetector,
		anomaly:     anomalyDetector,
		log:         logger.GetGlobalLogger().WithComponent("analysis"),
	}, nil
}

// Categorizer exposes the categorization engine for direct operations
func (s *AnalysisService) Categorizer() *categorizer.Engine { return s.categorizer }

// Recurring exposes the recurring pattern detector
func (s *AnalysisService) Recurring() *recurring.Detector { return s.recurring }

// Anomaly exposes the anomaly detector
func (s *AnalysisService) Anomaly() *anomaly.Detector { return s.anomaly }

// AddProgressCallback registers a progress observer
func (s *AnalysisService) AddProgressCallback(callback ProgressCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// ImportFile parses a bank-export CSV and stores the resulting
// transactions. Rows that fail to parse are skipped; rows that fail to
// store abort the import.
func (s *AnalysisService) ImportFile(ctx context.Context, filePath, userID string) (int, *parsers.ParseStats, error) {
	transactions, stats, err := s.parser.ParseFile(ctx, filePath, userID)
	if err != nil {
		return 0, stats, err
	}

	stored := 0
	err = s.store.WithinTx(ctx, func(st store.Store) error {
		for _, tx := range transactions {
			if err := st.SaveTransaction(ctx, tx); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, stats, errors.StorageError(errors.CodeTransactionFailed, "import transactions", err)
	}

	return stored, stats, nil
}

// Analyze runs categorization, recurring detection and anomaly detection
// in sequence for the user. A failing step aborts the run; earlier steps
// keep their committed results.
func (s *AnalysisService) Analyze(ctx context.Context, userID string) (*Result, error) {
	progress := &Progress{
		TotalSteps: 3,
		StartTime:  time.Now(),
	}

	result := &Result{}
	started := time.Now()

	s.reportStep(progress, "categorizing transactions")
	categorization, err := s.categorizer.AutoCategorize(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	result.Categorization = categorization
	s.completeStep(progress)

	s.reportStep(progress, "detecting recurring patterns")
	recurringResult, err := s.recurring.Detect(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	result.Recurring = recurringResult
	s.completeStep(progress)

	s.reportStep(progress, "detecting anomalies")
	anomalies, err := s.anomaly.Detect(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Anomalies = anomalies
	s.completeStep(progress)

	result.Duration = time.Since(started)

	s.log.WithFields(logger.Fields{
		"user_id":     userID,
		"categorized": categorization.Categorized,
		"patterns":    recurringResult.PatternsCreated + recurringResult.PatternsUpdated,
		"anomalies":   anomalies.Created,
		"duration":    result.Duration.String(),
	}).Info("Analysis complete")

	return result, nil
}

func (s *AnalysisService) reportStep(progress *Progress, step string) {
	progress.CurrentStep = step
	progress.ElapsedTime = time.Since(progress.StartTime)
	s.notify(progress)
}

func (s *AnalysisService) completeStep(progress *Progress) {
	progress.CompletedSteps++
	progress.PercentComplete = float64(progress.CompletedSteps) / float64(progress.TotalSteps) * 100
	progress.ElapsedTime = time.Since(progress.StartTime)
	s.notify(progress)
}

func (s *AnalysisService) notify(progress *Progress) {
	s.mu.Lock()
	callbacks := make([]ProgressCallback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	snapshot := *progress
	for _, callback := range callbacks {
		callback(&snapshot)
	}
}

// SeedCategories stores a category catalog if not already present.
// Used by first-run setup.
func (s *AnalysisService) SeedCategories(ctx context.Context, categories []*models.Category) error {
	for _, category := range categories {
		if _, err := s.store.GetCategory(ctx, category.ID); err == nil {
			continue
		} else if !errors.IsNotFound(err) {
			return err
		}
		if err := s.store.SaveCategory(ctx, category); err != nil {
			return errors.StorageError(errors.CodeQueryFailed, "save category", err)
		}
	}
	return nil
}

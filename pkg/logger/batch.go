package logger

import (
	"sync"
	"time"
)

// BatchProgress tracks progress of best-effort batch operations such as
// bulk categorization and detection passes, logging at intervals instead
// of per row.
type BatchProgress struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// BatchConfig configures batch progress tracking
type BatchConfig struct {
	Operation   string        `json:"operation"`
	Total       int64         `json:"total"`
	LogInterval time.Duration `json:"log_interval"`
	Logger      Logger        `json:"-"`
}

// NewBatchProgress creates a progress tracker for a batch operation
func NewBatchProgress(config BatchConfig) *BatchProgress {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &BatchProgress{
		logger:      config.Logger.WithComponent("batch"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting batch operation")

	return tracker
}

// Increment advances the progress counter by one row
func (p *BatchProgress) Increment() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current++
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Complete logs the final outcome of the batch
func (p *BatchProgress) Complete(outcome string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"total":     p.total,
		"elapsed":   time.Since(p.startTime).Round(time.Millisecond).String(),
		"outcome":   outcome,
	}).Info("Batch operation complete")
}

func (p *BatchProgress) logProgress(now time.Time) {
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"elapsed":   now.Sub(p.startTime).Round(time.Second).String(),
	}

	if p.total > 0 {
		fields["total"] = p.total
		fields["percent"] = float64(p.current) / float64(p.total) * 100.0
	}

	p.logger.WithFields(fields).Info("Batch operation progress")
}

// Package scheduler runs the periodic full anomaly scan
package scheduler

import (
	"context"
	"time"

	businessflow "github.com/amirphl/invoice-sentinel/business_flow"
	"github.com/sirupsen/logrus"
)

// ScanRunner is the part of the anomaly scanner the scheduler drives
type ScanRunner interface {
	ScanAll(ctx context.Context, invoiceID *uint) (*businessflow.ScanReport, error)
}

// ScanScheduler periodically runs a full scan over an optional invoice scope
type ScanScheduler struct {
	scanner  ScanRunner
	invoice  *uint
	interval time.Duration
	logger   *logrus.Logger
	// afterRun is called with every completed report, e.g. to drop caches
	afterRun func(ctx context.Context, report *businessflow.ScanReport)
}

func NewScanScheduler(
	scanner ScanRunner,
	invoiceID *uint,
	interval time.Duration,
	logger *logrus.Logger,
	afterRun func(ctx context.Context, report *businessflow.ScanReport),
) *ScanScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ScanScheduler{
		scanner:  scanner,
		invoice:  invoiceID,
		interval: interval,
		logger:   logger,
		afterRun: afterRun,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a
// stop function. The first scan runs immediately. Stop waits for the loop to exit.
func (s *ScanScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *ScanScheduler) runOnce(ctx context.Context) {
	report, err := s.scanner.ScanAll(ctx, s.invoice)
	if err != nil {
		if businessflow.IsScanLocked(err) {
			s.logger.WithError(err).Info("Scheduled scan skipped, another run holds the lock")
			return
		}
		s.logger.WithError(err).Error("Scheduled scan failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":       report.RunID.String(),
		"anomalies":    len(report.Anomalies),
		"failed_tasks": len(report.FailedTasks()),
	}).Info("Scheduled scan completed")

	if s.afterRun != nil {
		s.afterRun(ctx, report)
	}
}

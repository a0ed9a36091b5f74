package businessflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/amirphl/invoice-sentinel/app/metrics"
	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Task outcomes
const (
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// TaskResult is the outcome of one scan routine. A succeeded task may still
// carry RowErrors: rows or tables it skipped after logging the failure.
type TaskResult struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Emitted   int64         `json:"emitted"`
	RowErrors int64         `json:"row_errors"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the whole routine aborted
func (t TaskResult) Failed() bool { return t.Status == TaskStatusFailed }

// ScanReport collects every task outcome and the anomalies written by one run
type ScanReport struct {
	RunID      uuid.UUID         `json:"run_id"`
	Scope      *uint             `json:"invoice_scope,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Tasks      []TaskResult      `json:"tasks"`
	Anomalies  []*models.Anomaly `json:"-"`
}

// FailedTasks returns the routines that aborted
func (r *ScanReport) FailedTasks() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Failed() {
			out = append(out, t)
		}
	}
	return out
}

// Task returns the result of the named routine
func (r *ScanReport) Task(name string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskResult{}, false
}

// CountByType tallies the written anomalies per type
func (r *ScanReport) CountByType() map[string]int {
	out := make(map[string]int)
	for _, a := range r.Anomalies {
		out[a.Type]++
	}
	return out
}

// taskSink is the per-task view of a run: it knows the invoice scope, writes
// candidates to the run's shared buffer and counts what the task emitted.
type taskSink struct {
	task   string
	scope  *uint
	buffer *repository.AnomalyBuffer
	logger *logrus.Logger

	emitted   atomic.Int64
	rowErrors atomic.Int64
}

func (s *taskSink) emit(ctx context.Context, c models.AnomalyCandidate) {
	s.buffer.Add(ctx, c)
	s.emitted.Add(1)
}

// fail logs a row or table failure and counts it without aborting the task
func (s *taskSink) fail(err error, fields logrus.Fields) {
	s.rowErrors.Add(1)
	entry := s.logger.WithField("scan", s.task).WithError(err)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Warn("Skipping after scan failure")
}

type scanTask struct {
	name string
	run  func(ctx context.Context, sink *taskSink) error
}

// runTasks executes tasks on a pool of at most workers goroutines. A task
// error or panic is recorded in its result and never stops its siblings.
func runTasks(ctx context.Context, logger *logrus.Logger, runID uuid.UUID, scope *uint, buffer *repository.AnomalyBuffer, tasks []scanTask, workers int) []TaskResult {
	if workers < 1 {
		workers = 1
	}
	results := make([]TaskResult, len(tasks))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = runTask(ctx, logger, runID, scope, buffer, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runTask(ctx context.Context, logger *logrus.Logger, runID uuid.UUID, scope *uint, buffer *repository.AnomalyBuffer, task scanTask) (result TaskResult) {
	sink := &taskSink{task: task.name, scope: scope, buffer: buffer, logger: logger}
	start := time.Now()
	result = TaskResult{Name: task.name, Status: TaskStatusSucceeded}

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("%w: %v", ErrScanPanicked, r)
			logger.WithFields(logrus.Fields{
				"run_id": runID.String(),
				"scan":   task.name,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("Scan panicked")
		}
		if result.Err != nil {
			result.Status = TaskStatusFailed
			result.Error = result.Err.Error()
		}
		result.Emitted = sink.emitted.Load()
		result.RowErrors = sink.rowErrors.Load()
		result.Duration = time.Since(start)
		metrics.ObserveScanTask(task.name, result.Status, result.Duration)
	}()

	if err := task.run(ctx, sink); err != nil {
		result.Err = err
		logger.WithFields(logrus.Fields{
			"run_id": runID.String(),
			"scan":   task.name,
		}).WithError(err).Error("Scan failed")
	}
	return result
}

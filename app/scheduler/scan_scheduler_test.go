package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/invoice-sentinel/business_flow"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []*uint
	errs   []error
	called chan struct{}
}

func (f *fakeRunner) ScanAll(ctx context.Context, invoiceID *uint) (*businessflow.ScanReport, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, invoiceID)
	var err error
	if n < len(f.errs) {
		err = f.errs[n]
	}
	f.mu.Unlock()

	select {
	case f.called <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	return &businessflow.ScanReport{RunID: uuid.New()}, nil
}

func TestScanSchedulerRunsImmediatelyAndOnTick(t *testing.T) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{called: make(chan struct{}, 8)}
	invoiceID := uint(3)

	var reports int
	var mu sync.Mutex
	stop := NewScanScheduler(runner, &invoiceID, 20*time.Millisecond, logger, func(ctx context.Context, r *businessflow.ScanReport) {
		mu.Lock()
		reports++
		mu.Unlock()
	}).Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-runner.called:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not run")
		}
	}
	stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.GreaterOrEqual(t, len(runner.calls), 2)
	assert.Equal(t, uint(3), *runner.calls[0])

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, reports, 1)
}

func TestScanSchedulerLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	runner := &fakeRunner{
		errs:   []error{businessflow.ErrScanLocked, errors.New("database gone")},
		called: make(chan struct{}, 1),
	}
	called := false
	s := NewScanScheduler(runner, nil, time.Hour, logger, func(context.Context, *businessflow.ScanReport) { called = true })

	s.runOnce(context.Background())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	s.runOnce(context.Background())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.False(t, called)
}

func TestScanSchedulerStopsWithParent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{called: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	stop := NewScanScheduler(runner, nil, time.Hour, logger, nil).Start(ctx)

	<-runner.called
	cancel()

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
}

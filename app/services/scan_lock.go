// Package services holds the Redis-backed collaborators of the scanner and the operator commands
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ScanLock excludes concurrent scan runs over the same scope through a Redis lock
type ScanLock struct {
	locker *redislock.Client
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

// NewScanLock creates a scan lock on rc. Keys are prefix + scope key.
func NewScanLock(rc *redis.Client, prefix string, ttl time.Duration, logger *logrus.Logger) *ScanLock {
	if ttl <= 0 {
		ttl = utils.DefaultScanLockTTL
	}
	return &ScanLock{locker: redislock.New(rc), prefix: prefix, ttl: ttl, logger: logger}
}

// TryLock obtains the lock without waiting. acquired is false when another
// run holds it. While held, the lock is refreshed every third of its TTL so a
// run longer than the TTL keeps its exclusion. The returned release never
// fails; a lost lock is only logged.
func (l *ScanLock) TryLock(ctx context.Context, key string) (func(context.Context), bool, error) {
	lock, err := l.locker.Obtain(ctx, l.prefix+key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(context.WithoutCancel(ctx), lock, stop, done)

	var once sync.Once
	release := func(ctx context.Context) {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.WithError(err).WithField("lock", lock.Key()).Warn("Failed to release scan lock")
			}
		})
	}
	return release, true, nil
}

// keepAlive extends lock until stop is closed or the lock is lost
func (l *ScanLock) keepAlive(ctx context.Context, lock *redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(refreshInterval(l.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx, l.ttl, nil); err != nil {
				l.logger.WithError(err).WithField("lock", lock.Key()).Error("Scan lock lost, concurrent runs are no longer excluded")
				return
			}
		}
	}
}

func refreshInterval(ttl time.Duration) time.Duration {
	interval := ttl / 3
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

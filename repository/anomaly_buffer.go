package repository

import (
	"context"
	"sync"

	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/utils"
)

// AnomalyBuffer accumulates anomaly candidates and writes them through
// BatchCreate once batchSize is reached. It is safe for concurrent use. There
// is no implicit flush: callers must Flush the remainder when done.
type AnomalyBuffer struct {
	repo             AnomalyRepository
	defaultInvoiceID *uint
	batchSize        int
	onFlush          func([]*models.Anomaly)

	mu      sync.Mutex
	pending []models.AnomalyCandidate
	created []*models.Anomaly
}

func newAnomalyBuffer(repo AnomalyRepository, defaultInvoiceID *uint, batchSize int, onFlush func([]*models.Anomaly)) *AnomalyBuffer {
	if batchSize <= 0 {
		batchSize = utils.AnomalyBatchSize
	}
	return &AnomalyBuffer{
		repo:             repo,
		defaultInvoiceID: defaultInvoiceID,
		batchSize:        batchSize,
		onFlush:          onFlush,
	}
}

// Add appends a candidate and flushes when the batch is full
func (b *AnomalyBuffer) Add(ctx context.Context, candidate models.AnomalyCandidate) {
	b.mu.Lock()
	b.pending = append(b.pending, candidate)
	var batch []models.AnomalyCandidate
	if len(b.pending) >= b.batchSize {
		batch = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if batch != nil {
		b.write(ctx, batch)
	}
}

// Flush writes every pending candidate and returns the anomalies it created
func (b *AnomalyBuffer) Flush(ctx context.Context) []*models.Anomaly {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.write(ctx, batch)
}

func (b *AnomalyBuffer) write(ctx context.Context, batch []models.AnomalyCandidate) []*models.Anomaly {
	created := b.repo.BatchCreate(ctx, batch, b.defaultInvoiceID)

	b.mu.Lock()
	b.created = append(b.created, created...)
	b.mu.Unlock()

	if b.onFlush != nil && len(created) > 0 {
		b.onFlush(created)
	}
	return created
}

// Pending returns the number of candidates not yet written
func (b *AnomalyBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Created returns every anomaly written so far, in flush order
func (b *AnomalyBuffer) Created() []*models.Anomaly {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Anomaly, len(b.created))
	copy(out, b.created)
	return out
}

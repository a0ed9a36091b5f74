package services

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) KPIs(ctx context.Context) (*repository.AnomalyKPIs, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &repository.AnomalyKPIs{TotalAnomalies: int64(p.calls), DataQualityScore: 100}, nil
}

func TestKPICacheWithoutRedis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	provider := &countingProvider{}
	cache := NewKPICache(nil, provider, "sentinel:", 0, logger)
	assert.Equal(t, utils.DefaultKPICacheTTL, cache.ttl)
	assert.Equal(t, "sentinel:kpis", cache.key())

	first, err := cache.KPIs(context.Background())
	require.NoError(t, err)
	second, err := cache.KPIs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.TotalAnomalies)
	assert.Equal(t, int64(2), second.TotalAnomalies)
	assert.NoError(t, cache.Invalidate(context.Background()))

	provider.err = errors.New("db down")
	_, err = cache.KPIs(context.Background())
	assert.Error(t, err)
}

package utils

import (
	"time"
)

// Scan and deletion batching constants
const (
	// AnomalyBatchSize is the buffer threshold that triggers an anomaly flush
	// and the chunk size for bounded-memory table iteration.
	AnomalyBatchSize = 5000

	// DeleteBatchSize is the number of anomaly primary keys deleted per transaction
	DeleteBatchSize = 10000

	// OutlierMinObservations is the minimum sample size per organization before
	// an outlier threshold is computed
	OutlierMinObservations = 5

	// OutlierSigma is the number of standard deviations above the mean that
	// marks a value as an outlier
	OutlierSigma = 3.0

	// OutlierMinRelativeDeviation is how far, as a share of the mean of the
	// other values, a value must exceed that mean before the leave-one-out
	// test can flag it
	OutlierMinRelativeDeviation = 0.5

	// TemporalMinMonths is the minimum number of monthly points required per organization
	TemporalMinMonths = 3

	// TemporalDropRatio flags a month whose total falls below this share of the previous month
	TemporalDropRatio = 0.5

	// AmountMismatchTolerance is the relative gap allowed between the discounted
	// pre-tax amount and the stated total (1%)
	AmountMismatchTolerance = 0.01

	// PreviousYearsWindow is how many preceding calendar years a billing
	// period suffix is matched against
	PreviousYearsWindow = 5
)

// Cache and locking constants
const (
	// DefaultKPICacheTTL is how long computed KPIs stay in Redis
	DefaultKPICacheTTL = 5 * time.Minute

	// DefaultScanLockTTL bounds how long a crashed scan run can hold its lock
	DefaultScanLockTTL = 2 * time.Hour
)

package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/invoice-sentinel/app/metrics"
	"github.com/amirphl/invoice-sentinel/config"
	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/amirphl/invoice-sentinel/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AnomalyScanner runs the data-quality scans over the source tables. Every
// entry point takes an optional invoice scope and returns the anomalies it
// wrote together with one result per scan routine.
type AnomalyScanner interface {
	ScanAll(ctx context.Context, invoiceID *uint) (*ScanReport, error)

	ScanForSalesJournal(ctx context.Context, invoiceID *uint) (*ScanReport, error)
	ScanForCollectionStatement(ctx context.Context, invoiceID *uint) (*ScanReport, error)
	ScanForSubscriberRoster(ctx context.Context, invoiceID *uint) (*ScanReport, error)
	ScanForReceivables(ctx context.Context, invoiceID *uint) (*ScanReport, error)

	ScanOutliersInRevenue(ctx context.Context, invoiceID *uint) (*ScanReport, error)
	ScanOutliersInCollections(ctx context.Context, invoiceID *uint) (*ScanReport, error)
	ScanTemporalPatterns(ctx context.Context, invoiceID *uint) (*ScanReport, error)
	ScanZeroValues(ctx context.Context, invoiceID *uint) (*ScanReport, error)
}

// ScanLocker excludes concurrent full runs over the same scope. release must
// be called once the run is over.
type ScanLocker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context), acquired bool, err error)
}

// Scan routine names, as reported in TaskResult.Name
const (
	TaskEmptyFieldsPrefix   = "empty_fields:"
	TaskDuplicatesJournal   = "duplicates:journal"
	TaskDuplicatesEtat      = "duplicates:etat"
	TaskOutliersJournal     = "outliers:journal"
	TaskOutliersEtat        = "outliers:etat"
	TaskTemporalPatterns    = "temporal_patterns"
	TaskZeroValues          = "zero_values"
	TaskZeroValuesJournal   = "zero_values:journal"
	TaskZeroValuesEtat      = "zero_values:etat"
	TaskReconciliation      = "reconciliation:journal_etat"
	TaskDotReferences       = "dot_references"
	TaskSubscriberRoster    = "subscriber_roster"
	TaskReceivableAmounts   = "receivable_amounts"
	TaskRevenueLineAmounts  = "revenue_line_amounts"
	TaskDotReferencesPrefix = "dot_references:"
)

// AnomalyScannerImpl implements AnomalyScanner
type AnomalyScannerImpl struct {
	stores      *repository.SourceStores
	anomalyRepo repository.AnomalyRepository
	territories repository.TerritoryRepository
	locker      ScanLocker
	logger      *logrus.Logger
	cfg         config.ScannerConfig
	now         func() time.Time
}

// NewAnomalyScanner creates the scanner. locker may be nil, in which case
// runs are not guarded.
func NewAnomalyScanner(
	stores *repository.SourceStores,
	anomalyRepo repository.AnomalyRepository,
	territories repository.TerritoryRepository,
	locker ScanLocker,
	logger *logrus.Logger,
	cfg config.ScannerConfig,
) AnomalyScanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = utils.AnomalyBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultScanWorkers()
	}
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = utils.OutlierSigma
	}
	return &AnomalyScannerImpl{
		stores:      stores,
		anomalyRepo: anomalyRepo,
		territories: territories,
		locker:      locker,
		logger:      logger,
		cfg:         cfg,
		now:         utils.UTCNow,
	}
}

// sourceTable couples a capability with its per-table routines
type sourceTable struct {
	capability    models.Capability
	emptyFields   func(ctx context.Context, sink *taskSink) error
	dotReferences func(ctx context.Context, sink *taskSink, ref *dotReference) error
}

func newSourceTable[T any, P sourceRow[T]](s *AnomalyScannerImpl, store *repository.RecordStore[T], source string) sourceTable {
	capability, ok := models.CapabilityFor(source)
	if !ok {
		panic(fmt.Sprintf("no capability registered for %s", source))
	}
	emptyType := models.AnomalyTypeEmptyField
	if source == models.DataSourceRefundRevenue {
		emptyType = models.AnomalyTypeOutlier
	}
	return sourceTable{
		capability: capability,
		emptyFields: func(ctx context.Context, sink *taskSink) error {
			return scanEmptyFields[T, P](ctx, store, capability, emptyType, s.cfg.BatchSize, sink)
		},
		dotReferences: func(ctx context.Context, sink *taskSink, ref *dotReference) error {
			return checkDotReferences[T, P](ctx, store, capability, ref, s.cfg.BatchSize, sink)
		},
	}
}

// sourceTables lists every source table in capability order
func (s *AnomalyScannerImpl) sourceTables() []sourceTable {
	st := s.stores
	return []sourceTable{
		newSourceTable(s, st.Journal, models.DataSourceJournal),
		newSourceTable(s, st.Etat, models.DataSourceEtat),
		newSourceTable(s, st.Parc, models.DataSourceParc),
		newSourceTable(s, st.Creance, models.DataSourceCreance),
		newSourceTable(s, st.Periodic, models.DataSourcePeriodicRevenue),
		newSourceTable(s, st.NonPeriodic, models.DataSourceNonPeriodic),
		newSourceTable(s, st.Adjustment, models.DataSourceAdjustmentRev),
		newSourceTable(s, st.Refund, models.DataSourceRefundRevenue),
		newSourceTable(s, st.Cancellation, models.DataSourceCancellationRev),
	}
}

func (s *AnomalyScannerImpl) tableFor(source string) sourceTable {
	for _, t := range s.sourceTables() {
		if t.capability.Source == source {
			return t
		}
	}
	panic(fmt.Sprintf("unknown source table %s", source))
}

// withoutSource drops one table from the list. The roster DOT check belongs
// to the roster routine, so the full pass leaves it out of the shared DOT task.
func withoutSource(tables []sourceTable, source string) []sourceTable {
	out := make([]sourceTable, 0, len(tables))
	for _, t := range tables {
		if t.capability.Source != source {
			out = append(out, t)
		}
	}
	return out
}

func emptyFieldsTask(t sourceTable) scanTask {
	return scanTask{name: TaskEmptyFieldsPrefix + t.capability.Source, run: t.emptyFields}
}

// ScanAll runs every routine concurrently on the worker pool
func (s *AnomalyScannerImpl) ScanAll(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	release, err := s.lock(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	tables := s.sourceTables()
	tasks := make([]scanTask, 0, len(tables)+11)
	for _, t := range tables {
		tasks = append(tasks, emptyFieldsTask(t))
	}
	tasks = append(tasks,
		scanTask{name: TaskDuplicatesJournal, run: s.duplicatesJournal},
		scanTask{name: TaskDuplicatesEtat, run: s.duplicatesEtat},
		scanTask{name: TaskOutliersJournal, run: s.outliersJournal},
		scanTask{name: TaskOutliersEtat, run: s.outliersEtat},
		scanTask{name: TaskTemporalPatterns, run: s.temporalPatterns},
		scanTask{name: TaskZeroValues, run: s.zeroValues},
		scanTask{name: TaskReconciliation, run: s.reconcileJournalEtat},
		scanTask{name: TaskDotReferences, run: s.dotReferencesTask(withoutSource(tables, models.DataSourceParc))},
		scanTask{name: TaskSubscriberRoster, run: s.subscriberRoster},
		scanTask{name: TaskReceivableAmounts, run: s.receivableAmounts},
		scanTask{name: TaskRevenueLineAmounts, run: s.revenueLineAmounts},
	)
	return s.execute(ctx, "all", invoiceID, tasks, s.cfg.Workers), nil
}

// ScanForSalesJournal runs the sales journal routines one after another
func (s *AnomalyScannerImpl) ScanForSalesJournal(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	journal := s.tableFor(models.DataSourceJournal)
	return s.execute(ctx, "journal", invoiceID, []scanTask{
		emptyFieldsTask(journal),
		{name: TaskDuplicatesJournal, run: s.duplicatesJournal},
		{name: TaskOutliersJournal, run: s.outliersJournal},
		{name: TaskTemporalPatterns, run: s.temporalPatterns},
		{name: TaskZeroValuesJournal, run: s.zeroValuesJournal},
		{name: TaskReconciliation, run: s.reconcileJournalEtat},
		{name: TaskDotReferencesPrefix + models.DataSourceJournal, run: s.dotReferencesTask([]sourceTable{journal})},
	}, 1), nil
}

// ScanForCollectionStatement runs the collection statement routines one after another
func (s *AnomalyScannerImpl) ScanForCollectionStatement(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	etat := s.tableFor(models.DataSourceEtat)
	return s.execute(ctx, "etat", invoiceID, []scanTask{
		emptyFieldsTask(etat),
		{name: TaskDuplicatesEtat, run: s.duplicatesEtat},
		{name: TaskOutliersEtat, run: s.outliersEtat},
		{name: TaskZeroValuesEtat, run: s.zeroValuesEtat},
		{name: TaskDotReferencesPrefix + models.DataSourceEtat, run: s.dotReferencesTask([]sourceTable{etat})},
	}, 1), nil
}

// ScanForSubscriberRoster runs the corporate subscriber routines
func (s *AnomalyScannerImpl) ScanForSubscriberRoster(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	parc := s.tableFor(models.DataSourceParc)
	return s.execute(ctx, "parc", invoiceID, []scanTask{
		emptyFieldsTask(parc),
		{name: TaskSubscriberRoster, run: s.subscriberRoster},
	}, 1), nil
}

// ScanForReceivables runs the receivables routines
func (s *AnomalyScannerImpl) ScanForReceivables(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	creance := s.tableFor(models.DataSourceCreance)
	return s.execute(ctx, "creance", invoiceID, []scanTask{
		emptyFieldsTask(creance),
		{name: TaskDotReferencesPrefix + models.DataSourceCreance, run: s.dotReferencesTask([]sourceTable{creance})},
		{name: TaskReceivableAmounts, run: s.receivableAmounts},
	}, 1), nil
}

// ScanOutliersInRevenue flags sales journal revenue outliers
func (s *AnomalyScannerImpl) ScanOutliersInRevenue(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	return s.execute(ctx, TaskOutliersJournal, invoiceID, []scanTask{{name: TaskOutliersJournal, run: s.outliersJournal}}, 1), nil
}

// ScanOutliersInCollections flags collected amount outliers
func (s *AnomalyScannerImpl) ScanOutliersInCollections(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	return s.execute(ctx, TaskOutliersEtat, invoiceID, []scanTask{{name: TaskOutliersEtat, run: s.outliersEtat}}, 1), nil
}

// ScanTemporalPatterns flags month-over-month revenue drops
func (s *AnomalyScannerImpl) ScanTemporalPatterns(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	return s.execute(ctx, TaskTemporalPatterns, invoiceID, []scanTask{{name: TaskTemporalPatterns, run: s.temporalPatterns}}, 1), nil
}

// ScanZeroValues flags zero amounts in the sales journal and collection statement
func (s *AnomalyScannerImpl) ScanZeroValues(ctx context.Context, invoiceID *uint) (*ScanReport, error) {
	return s.execute(ctx, TaskZeroValues, invoiceID, []scanTask{{name: TaskZeroValues, run: s.zeroValues}}, 1), nil
}

// execute runs tasks against a fresh buffer owned by this invocation and
// flushes the remainder once every task is done
func (s *AnomalyScannerImpl) execute(ctx context.Context, name string, invoiceID *uint, tasks []scanTask, workers int) *ScanReport {
	report := &ScanReport{RunID: uuid.New(), Scope: invoiceID, StartedAt: s.now()}
	log := s.logger.WithFields(logrus.Fields{"run_id": report.RunID.String(), "run": name})
	if invoiceID != nil {
		log = log.WithField("invoice_id", *invoiceID)
	}
	log.WithField("tasks", len(tasks)).Info("Scan started")

	defaultInvoice := s.cfg.DefaultInvoice()
	if defaultInvoice == nil {
		defaultInvoice = invoiceID
	}
	buffer := s.anomalyRepo.NewBuffer(defaultInvoice, s.cfg.BatchSize, metrics.RecordAnomaliesCreated)

	report.Tasks = runTasks(ctx, s.logger, report.RunID, invoiceID, buffer, tasks, workers)
	buffer.Flush(context.WithoutCancel(ctx))
	report.Anomalies = buffer.Created()
	report.FinishedAt = s.now()
	metrics.MarkScanCompleted(report.FinishedAt)

	log.WithFields(logrus.Fields{
		"anomalies":    len(report.Anomalies),
		"failed_tasks": len(report.FailedTasks()),
		"duration":     report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Scan finished")
	return report
}

func scopeKey(invoiceID *uint) string {
	if invoiceID == nil {
		return "scan:all"
	}
	return fmt.Sprintf("scan:%d", *invoiceID)
}

func (s *AnomalyScannerImpl) lock(ctx context.Context, invoiceID *uint) (func(context.Context), error) {
	noop := func(context.Context) {}
	if s.locker == nil {
		return noop, nil
	}
	key := scopeKey(invoiceID)
	release, acquired, err := s.locker.TryLock(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("lock", key).Warn("Scan lock unavailable, running unguarded")
		return noop, nil
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrScanLocked, key)
	}
	return release, nil
}

func (s *AnomalyScannerImpl) duplicatesJournal(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceJournal)
	return scanDuplicates(ctx, s.stores.Journal, capability,
		[]string{"revenue_amount", "tax_amount", "client"},
		func(r *models.SalesJournal) []string {
			return []string{decimalKey(r.RevenueAmount), decimalKey(r.TaxAmount), textKey(r.Client)}
		},
		sink,
	)
}

func (s *AnomalyScannerImpl) duplicatesEtat(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceEtat)
	return scanDuplicates(ctx, s.stores.Etat, capability,
		[]string{"invoice_amount", "collected_amount", "client"},
		func(r *models.CollectionStatement) []string {
			return []string{decimalKey(r.InvoiceAmount), decimalKey(r.CollectedAmount), textKey(r.Client)}
		},
		sink,
	)
}

func (s *AnomalyScannerImpl) outliersJournal(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceJournal)
	return scanOutliers(ctx, s.stores.Journal, capability, "revenue_amount",
		func(r *models.SalesJournal) decimal.NullDecimal { return r.RevenueAmount },
		utils.OutlierMinObservations, s.cfg.OutlierSigma, s.cfg.BatchSize, sink,
	)
}

func (s *AnomalyScannerImpl) outliersEtat(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceEtat)
	return scanOutliers(ctx, s.stores.Etat, capability, "collected_amount",
		func(r *models.CollectionStatement) decimal.NullDecimal { return r.CollectedAmount },
		utils.OutlierMinObservations, s.cfg.OutlierSigma, s.cfg.BatchSize, sink,
	)
}

func (s *AnomalyScannerImpl) zeroValuesJournal(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceJournal)
	return scanZeroValues(ctx, s.stores.Journal, capability, "revenue_amount", s.cfg.BatchSize, sink)
}

func (s *AnomalyScannerImpl) zeroValuesEtat(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceEtat)
	return scanZeroValues(ctx, s.stores.Etat, capability, "collected_amount", s.cfg.BatchSize, sink)
}

func (s *AnomalyScannerImpl) zeroValues(ctx context.Context, sink *taskSink) error {
	if err := s.zeroValuesJournal(ctx, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": models.DataSourceJournal})
	}
	if err := s.zeroValuesEtat(ctx, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": models.DataSourceEtat})
	}
	return nil
}

// dotReferencesTask validates the DOT references of tables in order. A table
// that fails is logged and the next one is checked.
func (s *AnomalyScannerImpl) dotReferencesTask(tables []sourceTable) func(context.Context, *taskSink) error {
	return func(ctx context.Context, sink *taskSink) error {
		ref, err := s.loadDotReference(ctx)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if !t.capability.HasDotReference {
				continue
			}
			if err := t.dotReferences(ctx, sink, ref); err != nil {
				sink.fail(err, logrus.Fields{"source": t.capability.Source})
			}
		}
		return nil
	}
}

func (s *AnomalyScannerImpl) loadDotReference(ctx context.Context) (*dotReference, error) {
	active, err := s.territories.ActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	codes, err := s.territories.CodesByID(ctx)
	if err != nil {
		return nil, err
	}
	return &dotReference{active: active, codes: codes}, nil
}

func (s *AnomalyScannerImpl) receivableAmounts(ctx context.Context, sink *taskSink) error {
	capability, _ := models.CapabilityFor(models.DataSourceCreance)
	return scanInvalidAmounts(ctx, s.stores.Creance, capability,
		[]string{"invoiced_amount", "open_amount"}, false, s.cfg.BatchSize, sink)
}

// revenueLineAmounts runs the shared amount check over the three revenue line tables
func (s *AnomalyScannerImpl) revenueLineAmounts(ctx context.Context, sink *taskSink) error {
	tolerance := decimal.NewFromFloat(utils.AmountMismatchTolerance)
	st := s.stores

	adjustment, _ := models.CapabilityFor(models.DataSourceAdjustmentRev)
	if err := scanRevenueLineAmounts(ctx, st.Adjustment, adjustment,
		func(r *models.AdjustmentRevenue) *models.RevenueLineColumns { return &r.RevenueLineColumns },
		tolerance, s.cfg.BatchSize, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": adjustment.Source})
	}

	refund, _ := models.CapabilityFor(models.DataSourceRefundRevenue)
	if err := scanRevenueLineAmounts(ctx, st.Refund, refund,
		func(r *models.RefundRevenue) *models.RevenueLineColumns { return &r.RevenueLineColumns },
		tolerance, s.cfg.BatchSize, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": refund.Source})
	}

	cancellation, _ := models.CapabilityFor(models.DataSourceCancellationRev)
	if err := scanRevenueLineAmounts(ctx, st.Cancellation, cancellation,
		func(r *models.CancellationRevenue) *models.RevenueLineColumns { return &r.RevenueLineColumns },
		tolerance, s.cfg.BatchSize, sink); err != nil {
		sink.fail(err, logrus.Fields{"source": cancellation.Source})
	}
	return nil
}

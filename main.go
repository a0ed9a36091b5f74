// Package main provides the operator command line of the billing extract anomaly engine
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amirphl/invoice-sentinel/app/metrics"
	"github.com/amirphl/invoice-sentinel/app/scheduler"
	"github.com/amirphl/invoice-sentinel/app/services"
	businessflow "github.com/amirphl/invoice-sentinel/business_flow"
	"github.com/amirphl/invoice-sentinel/config"
	"github.com/amirphl/invoice-sentinel/models"
	"github.com/amirphl/invoice-sentinel/repository"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const usage = `usage: invoice-sentinel <command> [flags]

commands:
  migrate     create or update every table
  scan        run anomaly scans
  clean       apply the business cleaning rules
  stats       print anomaly statistics
  kpis        print data quality KPIs
  list        list anomalies
  filters     print the values anomalies can be filtered on
  delete      delete anomalies in batches
  repair-dot  rewrite legacy DOT codes from the territory table
  schedule    run the full scan periodically until interrupted`

// Application represents the main application structure
type Application struct {
	config    *config.ProductionConfig
	logger    *logrus.Logger
	db        *gorm.DB
	rc        *redis.Client
	anomalies repository.AnomalyRepository
	scanner   businessflow.AnomalyScanner
	cleaner   businessflow.BusinessRuleCleaner
	dotRepair businessflow.DotRepairFlow
	kpis      *services.KPICache
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.run(ctx, command, args)

	if cfg.Metrics.Enabled {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Metrics.PushGatewayURL, cfg.Metrics.JobName, cfg.Deployment.Environment); err != nil {
			app.logger.WithError(err).Warn("Metrics push failed")
		}
		cancel()
	}

	if runErr != nil {
		app.logger.WithError(runErr).WithField("command", command).Error("Command failed")
		app.close()
		os.Exit(1)
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Debug("Database connection established")
	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity. A
// disabled cache yields a nil client.
func initializeCache(cfg config.CacheConfig, logger *logrus.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("redis_db", cfg.RedisDB).Debug("Redis connection established")
	return rc, nil
}

// initializeApplication wires repositories, flows and services
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	logger := config.NewLogger(cfg.Logging)

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	stores := repository.NewSourceStores(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	territoryRepo := repository.NewTerritoryRepository(db)
	anomalyRepo := repository.NewAnomalyRepository(db, invoiceRepo, logger, cfg.Scanner.DeleteBatchSize)

	// Initialize services
	var locker businessflow.ScanLocker
	if rc != nil {
		locker = services.NewScanLock(rc, cfg.Cache.RedisPrefix, cfg.Cache.LockTTL, logger)
	}
	kpiCache := services.NewKPICache(rc, anomalyRepo, cfg.Cache.RedisPrefix, cfg.Cache.KPITTL, logger)

	// Initialize flows
	scanner := businessflow.NewAnomalyScanner(stores, anomalyRepo, territoryRepo, locker, logger, cfg.Scanner)
	cleaner := businessflow.NewBusinessRuleCleaner(db, stores, logger, nil)
	dotRepair := businessflow.NewDotRepairFlow(db, logger)

	return &Application{
		config:    cfg,
		logger:    logger,
		db:        db,
		rc:        rc,
		anomalies: anomalyRepo,
		scanner:   scanner,
		cleaner:   cleaner,
		dotRepair: dotRepair,
		kpis:      kpiCache,
	}, nil
}

func (a *Application) close() {
	if a.rc != nil {
		_ = a.rc.Close()
		a.rc = nil
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		a.db = nil
	}
}

func (a *Application) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "migrate":
		return a.migrate(ctx)
	case "scan":
		return a.scan(ctx, args)
	case "clean":
		return a.clean(ctx, args)
	case "stats":
		return a.stats(ctx)
	case "kpis":
		return a.printKPIs(ctx)
	case "list":
		return a.list(ctx, args)
	case "filters":
		return a.filters(ctx)
	case "delete":
		return a.delete(ctx, args)
	case "repair-dot":
		return a.repairDot(ctx)
	case "schedule":
		return a.schedule(ctx, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// invalidateKPIs drops cached KPIs after a write to the anomaly table
func (a *Application) invalidateKPIs(ctx context.Context) {
	if err := a.kpis.Invalidate(ctx); err != nil {
		a.logger.WithError(err).Warn("KPI cache invalidation failed")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// invoiceFlag returns nil for 0, the "no scope" value
func invoiceFlag(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (a *Application) migrate(ctx context.Context) error {
	if err := a.db.WithContext(ctx).AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	a.logger.Info("Schema migrated")
	return nil
}

type scanSummary struct {
	RunID     string                    `json:"run_id"`
	Anomalies int                       `json:"anomalies"`
	ByType    map[string]int            `json:"by_type"`
	Tasks     []businessflow.TaskResult `json:"tasks"`
}

func (a *Application) scan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	invoice := fs.Uint("invoice", 0, "restrict to one invoice id (0 = all)")
	routine := fs.String("routine", "all", "all|journal|etat|parc|creance|outliers-revenue|outliers-collections|temporal|zero-values")
	if err := fs.Parse(args); err != nil {
		return err
	}
	scope := invoiceFlag(*invoice)

	var (
		report *businessflow.ScanReport
		err    error
	)
	switch *routine {
	case "all":
		report, err = a.scanner.ScanAll(ctx, scope)
	case "journal":
		report, err = a.scanner.ScanForSalesJournal(ctx, scope)
	case "etat":
		report, err = a.scanner.ScanForCollectionStatement(ctx, scope)
	case "parc":
		report, err = a.scanner.ScanForSubscriberRoster(ctx, scope)
	case "creance":
		report, err = a.scanner.ScanForReceivables(ctx, scope)
	case "outliers-revenue":
		report, err = a.scanner.ScanOutliersInRevenue(ctx, scope)
	case "outliers-collections":
		report, err = a.scanner.ScanOutliersInCollections(ctx, scope)
	case "temporal":
		report, err = a.scanner.ScanTemporalPatterns(ctx, scope)
	case "zero-values":
		report, err = a.scanner.ScanZeroValues(ctx, scope)
	default:
		return fmt.Errorf("unknown scan routine %q", *routine)
	}
	if err != nil {
		return err
	}
	a.invalidateKPIs(ctx)

	return printJSON(scanSummary{
		RunID:     report.RunID.String(),
		Anomalies: len(report.Anomalies),
		ByType:    report.CountByType(),
		Tasks:     report.Tasks,
	})
}

func (a *Application) clean(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	invoice := fs.Uint("invoice", 0, "restrict to one invoice id (0 = all)")
	table := fs.String("table", "all", "data source tag to clean, or all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	scope := invoiceFlag(*invoice)

	if *table == "all" {
		results, err := a.cleaner.CleanAll(ctx, scope)
		if printErr := printJSON(results); printErr != nil {
			return printErr
		}
		return err
	}
	result, err := a.cleaner.CleanTable(ctx, *table, scope)
	if businessflow.IsUnknownTable(err) {
		sources := make([]string, 0, len(models.Capabilities))
		for _, c := range models.Capabilities {
			sources = append(sources, c.Source)
		}
		return fmt.Errorf("%w; expected all or one of %s", err, strings.Join(sources, ", "))
	}
	if result != nil {
		if printErr := printJSON(result); printErr != nil {
			return printErr
		}
	}
	return err
}

func (a *Application) stats(ctx context.Context) error {
	stats, err := a.anomalies.Statistics(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func (a *Application) printKPIs(ctx context.Context) error {
	kpis, err := a.kpis.KPIs(ctx)
	if err != nil {
		return err
	}
	return printJSON(kpis)
}

func (a *Application) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	types := fs.String("type", "", "comma separated anomaly types")
	statuses := fs.String("status", "", "comma separated statuses")
	sources := fs.String("source", "", "comma separated data sources")
	severity := fs.String("severity", "", "critical|high|medium|low")
	organization := fs.String("org", "", "organization substring")
	invoice := fs.Uint("invoice", 0, "invoice id (0 = all)")
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 0, "page size")
	sort := fs.String("sort", "", "sort column, prefix with - for descending")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := models.AnomalyFilter{
		Types:     splitList(*types),
		Statuses:  splitList(*statuses),
		Sources:   splitList(*sources),
		InvoiceID: invoiceFlag(*invoice),
	}
	if *severity != "" {
		filter.Severity = severity
	}
	if *organization != "" {
		filter.Organization = organization
	}

	result, err := a.anomalies.List(ctx, repository.AnomalyListQuery{
		Filter:   filter,
		Page:     *page,
		PageSize: *pageSize,
		Sort:     *sort,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func (a *Application) filters(ctx context.Context) error {
	values, err := a.anomalies.AvailableFilters(ctx)
	if err != nil {
		return err
	}
	return printJSON(values)
}

func (a *Application) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	types := fs.String("type", "", "comma separated anomaly types")
	sources := fs.String("source", "", "comma separated data sources")
	statuses := fs.String("status", "", "comma separated statuses")
	invoice := fs.Uint("invoice", 0, "invoice id (0 = all)")
	olderThan := fs.Int("older-than", 0, "only anomalies created more than N days ago")
	all := fs.Bool("all", false, "delete every anomaly")
	batch := fs.Int("batch", 0, "primary keys per delete transaction")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := models.AnomalyDeleteFilter{
		Types:     splitList(*types),
		Sources:   splitList(*sources),
		Statuses:  splitList(*statuses),
		InvoiceID: invoiceFlag(*invoice),
	}
	if *olderThan > 0 {
		filter.OlderThanDays = olderThan
	}
	empty := len(filter.Types) == 0 && len(filter.Sources) == 0 && len(filter.Statuses) == 0 &&
		filter.InvoiceID == nil && filter.OlderThanDays == nil
	if empty && !*all {
		return errors.New("refusing to delete without a filter, pass -all to delete every anomaly")
	}

	batchSize := *batch
	if batchSize <= 0 {
		batchSize = a.config.Scanner.DeleteBatchSize
	}
	deleted, err := a.anomalies.DeleteByFilter(ctx, filter, batchSize, nil)
	metrics.RecordAnomaliesDeleted(deleted)
	if deleted > 0 {
		a.invalidateKPIs(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(map[string]int64{"deleted": deleted})
}

func (a *Application) repairDot(ctx context.Context) error {
	updated, err := a.dotRepair.RepairDotCodes(ctx)
	if err != nil {
		return err
	}
	return printJSON(updated)
}

func (a *Application) schedule(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	interval := fs.Duration("interval", a.config.Scheduler.Interval, "time between full scans")
	invoice := fs.Uint("invoice", a.config.Scheduler.InvoiceID, "restrict to one invoice id (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sched := scheduler.NewScanScheduler(a.scanner, invoiceFlag(*invoice), *interval, a.logger,
		func(ctx context.Context, _ *businessflow.ScanReport) {
			a.invalidateKPIs(ctx)
			if a.config.Metrics.Enabled {
				if err := metrics.Push(ctx, a.config.Metrics.PushGatewayURL, a.config.Metrics.JobName, a.config.Deployment.Environment); err != nil {
					a.logger.WithError(err).Warn("Metrics push failed")
				}
			}
		})
	stopScheduler := sched.Start(ctx)
	a.logger.WithField("interval", interval.String()).Info("Scan scheduler started")

	<-ctx.Done()
	a.logger.Info("Shutting down gracefully...")
	stopScheduler()
	return nil
}

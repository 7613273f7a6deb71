package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBConfig configures database tracing and metrics
type DBConfig struct {
	TraceEnabled bool
	// LogFullSQL includes bound query variables in spans; development only
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
	// PoolStatsInterval is the connection pool sampling period
	PoolStatsInterval time.Duration
}

func (c *DBConfig) applyDefaults() {
	if c.SlowQueryThresh <= 0 {
		c.SlowQueryThresh = 200 * time.Millisecond
	}
	if c.DBSystem == "" {
		c.DBSystem = "postgresql"
	}
	if c.PoolStatsInterval <= 0 {
		c.PoolStatsInterval = 15 * time.Second
	}
}

type dbContextKey string

const queryStartKey dbContextKey = "telemetry_query_start"

// DBInstrumentation traces GORM statements and records query and pool metrics
type DBInstrumentation struct {
	config DBConfig
	logger *zap.Logger

	queryTotal     *Counter
	queryDuration  *Histogram
	slowQueryTotal *Counter
	poolConns      *Gauge
	poolConnsMax   *Gauge

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDBInstrumentation registers the database instruments on mp
func NewDBInstrumentation(mp *MeterProvider, cfg DBConfig, logger *zap.Logger) (*DBInstrumentation, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := mp.Meter("operate/db")

	d := &DBInstrumentation{config: cfg, logger: logger.Named("db_telemetry"), stopCh: make(chan struct{})}
	var err error
	if d.queryTotal, err = NewCounter(meter, "db_query_total", "Database queries by operation", "{query}"); err != nil {
		return nil, err
	}
	if d.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if d.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total", "Queries slower than the threshold", "{query}"); err != nil {
		return nil, err
	}
	if d.poolConns, err = NewGauge(meter, "db_pool_connections", "Pool connections by state", "{connection}"); err != nil {
		return nil, err
	}
	if d.poolConnsMax, err = NewGauge(meter, "db_pool_connections_max", "Pool connection limit", "{connection}"); err != nil {
		return nil, err
	}
	return d, nil
}

// Register installs the otelgorm plugin (when tracing is on) and the timing callbacks
func (d *DBInstrumentation) Register(db *gorm.DB) error {
	if d.config.TraceEnabled {
		opts := []otelgorm.Option{otelgorm.WithDBName(d.config.DBSystem)}
		if !d.config.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	cb := db.Callback()
	hooks := []struct {
		op     string
		before func(name string, fn func(*gorm.DB)) error
		after  func(name string, fn func(*gorm.DB)) error
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		op := h.op
		if err := h.before("telemetry:before_"+op, markQueryStart); err != nil {
			return err
		}
		if err := h.after("telemetry:after_"+op, func(tx *gorm.DB) { d.afterQuery(tx, op) }); err != nil {
			return err
		}
	}

	d.logger.Info("Database instrumentation registered",
		zap.Bool("tracing", d.config.TraceEnabled),
		zap.Duration("slow_query_threshold", d.config.SlowQueryThresh))
	return nil
}

func markQueryStart(tx *gorm.DB) {
	if tx.Statement.Context != nil {
		tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey, time.Now())
	}
}

func (d *DBInstrumentation) afterQuery(tx *gorm.DB, op string) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	start, ok := ctx.Value(queryStartKey).(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)
	attrs := []attribute.KeyValue{AttrDBOperation.String(op), AttrDBTable.String(tx.Statement.Table)}
	d.queryTotal.Inc(ctx, attrs...)
	d.queryDuration.RecordDuration(ctx, elapsed, attrs...)

	span := trace.SpanFromContext(ctx)
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		RecordError(span, tx.Error)
	}
	if elapsed > d.config.SlowQueryThresh {
		d.slowQueryTotal.Inc(ctx, attrs...)
		if span.IsRecording() {
			span.SetAttributes(attribute.Bool("db.slow_query", true))
			AddEvent(span, "slow_query",
				"duration_ms", elapsed.Milliseconds(),
				"threshold_ms", d.config.SlowQueryThresh.Milliseconds())
		}
	}
}

// StartPoolStats samples sqlDB pool state until Stop or ctx ends
func (d *DBInstrumentation) StartPoolStats(ctx context.Context, sqlDB *sql.DB) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.config.PoolStatsInterval)
		defer ticker.Stop()
		for {
			d.recordPool(ctx, sqlDB.Stats())
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (d *DBInstrumentation) recordPool(ctx context.Context, s sql.DBStats) {
	d.poolConns.Record(ctx, int64(s.InUse), AttrDBState.String("in_use"))
	d.poolConns.Record(ctx, int64(s.Idle), AttrDBState.String("idle"))
	d.poolConnsMax.Record(ctx, int64(s.MaxOpenConnections))
}

// Stop ends pool sampling. Safe to call more than once.
func (d *DBInstrumentation) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

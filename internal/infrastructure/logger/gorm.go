package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger is a gormlogger.Interface over zap. Statements are tagged with the
// request and migration job carried by the statement context, so checkpoint
// writes of a job can be traced back to it.
type GormLogger struct {
	logger         *zap.Logger
	logLevel       gormlogger.LogLevel
	slowThreshold  time.Duration
	ignoreNotFound bool
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a statement is logged as slow.
// Zero turns slow statement logging off.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slowThreshold = threshold }
}

// WithIgnoreRecordNotFoundError decides whether gorm.ErrRecordNotFound counts as an SQL error.
// Mapping lookups miss routinely, so it is ignored by default.
func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.ignoreNotFound = ignore }
}

func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	l := &GormLogger{
		logger:         zapLogger.Named("gorm"),
		logLevel:       level,
		slowThreshold:  200 * time.Millisecond,
		ignoreNotFound: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	l.printf(gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	l.printf(gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	l.printf(gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) printf(min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if l.logLevel < min {
		return
	}
	l.logger.Sugar().Logf(lvl, msg, data...)
}

// Trace logs one executed statement: failures at error, statements over the
// slow threshold at warn and everything else at debug when the level is Info
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		msg   string
		lvl   zapcore.Level
		extra zap.Field
	)
	switch {
	case err != nil && l.logLevel >= gormlogger.Error:
		if l.ignoreNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
			return
		}
		msg, lvl, extra = "SQL Error", zapcore.ErrorLevel, zap.Error(err)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.logLevel >= gormlogger.Warn:
		msg, lvl, extra = "Slow SQL", zapcore.WarnLevel, zap.Duration("threshold", l.slowThreshold)
	case l.logLevel >= gormlogger.Info:
		msg, lvl = "SQL Query", zapcore.DebugLevel
	default:
		return
	}

	sql, rows := fc()
	fields := make([]zap.Field, 0, 6)
	fields = append(fields, zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := GetJobID(ctx); id != "" {
		fields = append(fields, zap.String("job_id", id))
	}
	if extra.Key != "" {
		fields = append(fields, extra)
	}
	l.logger.Log(lvl, msg, fields...)
}

// MapGormLogLevel turns the application log level into the GORM level that
// logs the same amount: only "debug" and "info" show individual statements
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

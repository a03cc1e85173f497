package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// SQLLogConfig tunes the GORM adapter
type SQLLogConfig struct {
	// Level is the GORM verbosity, see SQLLevel
	Level gormlogger.LogLevel
	// SlowThreshold turns slow statements into warnings; zero disables it
	SlowThreshold time.Duration
	// FullSQL attaches statement text to successful statements. Failures always carry it.
	FullSQL bool
}

// SQLLogger writes GORM statements to zap with the request fields of ctx.
// Row-lock statements (SELECT ... FOR UPDATE) that exceed the slow threshold
// are reported as lock waits: under hot counters they are contention, not a
// bad query plan.
type SQLLogger struct {
	log *zap.Logger
	cfg SQLLogConfig
}

// NewSQLLogger creates the adapter under the "sql" logger name
func NewSQLLogger(base *zap.Logger, cfg SQLLogConfig) *SQLLogger {
	return &SQLLogger{log: base.Named("sql"), cfg: cfg}
}

// LogMode returns a copy at level
func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.cfg.Level = level
	return &cp
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Info {
		l.log.With(contextFields(ctx)...).Sugar().Infof(msg, data...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Warn {
		l.log.With(contextFields(ctx)...).Sugar().Warnf(msg, data...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Error {
		l.log.With(contextFields(ctx)...).Sugar().Errorf(msg, data...)
	}
}

// Trace logs one finished statement
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	// a miss on First is a normal lookup result
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	stmt, rows := fc()
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold

	fields := append([]zap.Field{zap.Duration("elapsed", elapsed), zap.Int64("rows", rows)}, contextFields(ctx)...)
	if l.cfg.FullSQL || err != nil || slow {
		fields = append(fields, zap.String("sql", stmt))
	}

	switch {
	case err != nil:
		if l.cfg.Level >= gormlogger.Error {
			l.log.Error("Statement failed", append(fields, zap.Error(err))...)
		}
	case slow && isRowLock(stmt):
		if l.cfg.Level >= gormlogger.Warn {
			l.log.Info("Row lock wait", append(fields, zap.Duration("threshold", l.cfg.SlowThreshold))...)
		}
	case slow:
		if l.cfg.Level >= gormlogger.Warn {
			l.log.Warn("Slow statement", append(fields, zap.Duration("threshold", l.cfg.SlowThreshold))...)
		}
	case l.cfg.Level >= gormlogger.Info:
		l.log.Debug("Statement", fields...)
	}
}

func isRowLock(stmt string) bool {
	return strings.Contains(strings.ToUpper(stmt), "FOR UPDATE")
}

// SQLLevel derives the GORM verbosity from log.level: debug shows every
// statement, info and warn only slow ones, error only failures
func SQLLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return gormlogger.Info
	case "error", "fatal":
		return gormlogger.Error
	case "silent":
		return gormlogger.Silent
	default:
		return gormlogger.Warn
	}
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

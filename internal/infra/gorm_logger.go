package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// slowQueryThreshold 超过该耗时的查询按慢查询告警
const slowQueryThreshold = 200 * time.Millisecond

// GormLogger 把 GORM 的内部日志转发到 Zap
// 记录不存在不算错误，由调用方按业务语义处理
type GormLogger struct {
	base  *zap.Logger
	level gormLogger.LogLevel
}

// NewGormLogger 创建 GORM 日志适配器
func NewGormLogger(base *zap.Logger, level gormLogger.LogLevel) *GormLogger {
	return &GormLogger{base: base, level: level}
}

// LogMode 返回指定级别的新实例
func (l *GormLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	return &GormLogger{base: l.base, level: level}
}

// Info 日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.base.Sugar().Infof(msg, data...)
	}
}

// Warn 日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.base.Sugar().Warnf(msg, data...)
	}
}

// Error 日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.base.Sugar().Errorf(msg, data...)
	}
}

// Trace 记录单条 SQL 的执行情况
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound):
		l.base.Error("SQL 执行失败", append(fields, zap.Error(err))...)
	case elapsed > slowQueryThreshold:
		l.base.Warn("SQL 慢查询", fields...)
	case l.level >= gormLogger.Info:
		l.base.Debug("SQL 执行", fields...)
	}
}

package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// AsynqLogger 把 asynq 内部日志转发到 zap
type AsynqLogger struct {
	l *zap.SugaredLogger
}

// NewAsynqLogger 创建 asynq.Logger 适配器
func NewAsynqLogger() *AsynqLogger {
	return &AsynqLogger{l: Log.Named("asynq").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (a *AsynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *AsynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *AsynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *AsynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

// Fatal 不直接退出进程，交给上层决定
func (a *AsynqLogger) Fatal(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

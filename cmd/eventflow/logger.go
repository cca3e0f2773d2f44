package main

import (
	"context"

	"github.com/goliatone/go-eventflow"
	"github.com/goliatone/go-logger/glog"
)

// glogCompat adapts a go-logger base logger to the eventflow Logger
// interface so the whole stack logs through one backend.
type glogCompat struct {
	logger glog.Logger
}

func (l glogCompat) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogCompat) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogCompat) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogCompat) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogCompat) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogCompat) WithContext(ctx context.Context) eventflow.Logger {
	return glogCompat{logger: l.logger.WithContext(ctx)}
}

func (l glogCompat) WithFields(fields map[string]any) eventflow.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogCompat{logger: fl.WithFields(fields)}
	}
	return l
}

// Package log gives every package in this module a package-level
// Debugf/Infof/Warnf/Errorf call surface, backed by a swappable
// *zap.SugaredLogger.
package log

import "go.uber.org/zap"

var sugar = zap.NewNop().Sugar()

// Configure swaps the backing logger. Call once at process startup;
// safe to call again in tests to capture output.
func Configure(l *zap.Logger) {
	sugar = l.Sugar()
}

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

// Package gwlog centralizes construction of the zap loggers every engine
// component logs through.
package gwlog

import (
	"go.uber.org/zap"
)

// New builds a development (console) logger when development is true and a
// production JSON logger otherwise; if construction fails it returns a no-op
// logger (never fatal on logger setup alone).
func New(development bool) *zap.SugaredLogger {
	var l *zap.Logger
	var err error
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// Nop returns a logger that discards everything, for use as a default field
// value in components that accept an optional logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

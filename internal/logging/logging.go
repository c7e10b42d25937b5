// Package logging builds the per-component zap loggers used throughout
// the engine. Each component gets its own named, independently-toggled
// logger the way the teacher's single cfg.verbose flag gates its one
// logf helper -- just generalized to one flag per category.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Categories names every independently-toggleable log category. These
// correspond 1:1 to the "optional toggles for each log category"
// process config named in spec.md section 6.
const (
	CategoryEngine      = "engine"
	CategoryHotState    = "hotstate"
	CategoryStore       = "store"
	CategoryPrizeQueue  = "prizequeue"
	CategoryBroadcaster = "broadcaster"
	CategoryIngress     = "ingress"
)

// Toggles controls which categories emit Debug/Info-level logs. Warn
// and Error are always emitted regardless of toggle state.
type Toggles map[string]bool

// Factory builds named child loggers honoring Toggles.
type Factory struct {
	base    *zap.Logger
	toggles Toggles
}

// NewFactory builds a Factory around base, an already-configured root
// logger (production config by default, or a development config when
// development log encoding is requested at the process level).
func NewFactory(base *zap.Logger, toggles Toggles) *Factory {
	if toggles == nil {
		toggles = Toggles{}
	}
	return &Factory{base: base, toggles: toggles}
}

// For returns a logger scoped to category, with its level floor raised
// to Warn unless the category's toggle is enabled.
func (f *Factory) For(category string) *zap.Logger {
	named := f.base.Named(category)
	if f.toggles[category] {
		return named
	}
	return named.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))
}

// New builds a root zap.Logger, production-encoded unless dev is true.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

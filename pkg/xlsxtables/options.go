// Package xlsxtables extracts named tables from spreadsheet workbooks whose
// layouts are declared in cell comments.
package xlsxtables

import (
	"log/slog"
	"time"
)

const (
	defaultCellBatch          = 5000
	defaultTimeSlice          = 15 * time.Millisecond
	defaultMaxConcurrentLoads = 4
	defaultLoadTimeout        = 60 * time.Second
)

// Options configures an extraction session.
type Options struct {
	// Loader resolves request locators. Defaults to FileLoader{}.
	Loader Loader
	// Logger overrides the logger carried by the session context.
	Logger *slog.Logger
	// CellBatch is the number of cell appends between cancellation checks
	// and progress updates.
	CellBatch int
	// TimeSlice bounds each step of password key derivation and decryption.
	TimeSlice time.Duration
	// MaxConcurrentLoads limits the requests loaded and decrypted at once.
	MaxConcurrentLoads int
	// LoadTimeout bounds each Loader call. Zero means no limit.
	LoadTimeout time.Duration
	// Progress, when set, receives every progress increase.
	Progress func(float64)
}

// DefaultOptions returns default session options.
func DefaultOptions() Options {
	return Options{
		Loader:             FileLoader{},
		CellBatch:          defaultCellBatch,
		TimeSlice:          defaultTimeSlice,
		MaxConcurrentLoads: defaultMaxConcurrentLoads,
		LoadTimeout:        defaultLoadTimeout,
	}
}

// EffectiveLoader returns the loader, defaulting to FileLoader{}.
func (o Options) EffectiveLoader() Loader {
	if o.Loader != nil {
		return o.Loader
	}
	return FileLoader{}
}

// EffectiveCellBatch returns CellBatch, or the default when unset.
func (o Options) EffectiveCellBatch() int {
	if o.CellBatch > 0 {
		return o.CellBatch
	}
	return defaultCellBatch
}

// EffectiveTimeSlice returns TimeSlice, or the default when unset.
func (o Options) EffectiveTimeSlice() time.Duration {
	if o.TimeSlice > 0 {
		return o.TimeSlice
	}
	return defaultTimeSlice
}

// EffectiveLoadLimit returns MaxConcurrentLoads, or the default when unset.
func (o Options) EffectiveLoadLimit() int {
	if o.MaxConcurrentLoads > 0 {
		return o.MaxConcurrentLoads
	}
	return defaultMaxConcurrentLoads
}

// Package config loads runtime configuration for the xlsxtables command
// from environment variables, optionally seeded from .env files.
package config

import "time"

// Config holds all runtime configuration.
type Config struct {
	Logging LoggingConfig
	Extract ExtractConfig
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string `env:"XLSXTABLES_LOG_LEVEL" default:"info"`

	// Format is text or json (default: text)
	Format string `env:"XLSXTABLES_LOG_FORMAT" default:"text"`
}

// ExtractConfig holds extraction session settings.
type ExtractConfig struct {
	// CellBatch is the number of cell appends between suspension points (default: 5000)
	CellBatch int `env:"XLSXTABLES_CELL_BATCH" default:"5000"`

	// TimeSlice bounds one step of password key derivation (default: 15ms)
	TimeSlice time.Duration `env:"XLSXTABLES_TIME_SLICE" default:"15ms"`

	// MaxConcurrentLoads limits workbooks loaded and decrypted at once (default: 4)
	MaxConcurrentLoads int `env:"XLSXTABLES_MAX_CONCURRENT_LOADS" default:"4"`

	// LoadTimeout bounds loading one workbook (default: 60s)
	LoadTimeout time.Duration `env:"XLSXTABLES_LOAD_TIMEOUT" default:"60s"`

	// Password is used for every encrypted workbook unless a flag overrides it.
	Password string `env:"XLSXTABLES_PASSWORD"`
}

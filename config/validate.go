package config

import (
	"fmt"
	"strings"
)

var (
	MaxPageSize = uint64(1 << 16)
)

// ValidateConfig checks the engine sections before a processor is built.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if cfg.Accrual.PageSize > MaxPageSize {
		return fmt.Errorf("accrual: PageSize %d above %d", cfg.Accrual.PageSize, MaxPageSize)
	}
	if err := cfg.Accrual.Params().Validate(); err != nil {
		return fmt.Errorf("accrual: %w", err)
	}
	if cfg.Boost.TokenlessBps > 10_000 {
		return fmt.Errorf("boost: TokenlessBps %d above 10000", cfg.Boost.TokenlessBps)
	}
	if cfg.Boost.MaxSchedules <= 0 {
		return fmt.Errorf("boost: MaxSchedules must be positive")
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(cfg.Boost.LockToken)), "LP-") {
		return fmt.Errorf("boost: LockToken must not use the share token prefix")
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	return nil
}

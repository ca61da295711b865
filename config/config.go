package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"poolrewards/crypto"
	"poolrewards/native/accrual"
	"poolrewards/native/boost"
)

type Config struct {
	DataDir              string    `toml:"DataDir"`
	NetworkName          string    `toml:"NetworkName"`
	OperatorKeystorePath string    `toml:"OperatorKeystorePath"`
	Accrual              Accrual   `toml:"accrual"`
	Boost                Boost     `toml:"boost"`
	Pauses               Pauses    `toml:"pauses"`
	Logging              Logging   `toml:"logging"`
	Telemetry            Telemetry `toml:"telemetry"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	acc := accrual.DefaultParams()
	bst := boost.DefaultParams()
	return &Config{
		DataDir:     "./rewards-data",
		NetworkName: "rewards-local",
		Accrual:     Accrual{PageSize: acc.PageSize, MaxLevel: acc.MaxLevel},
		Boost:       Boost{TokenlessBps: bst.TokenlessBps, MaxSchedules: bst.MaxSchedules, LockToken: "LOCK"},
		Logging:     Logging{Env: "dev", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
}

// Load loads the configuration from the given path, writing defaults and a
// fresh operator keystore when the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "rewards-local"
	}
	cfg.Boost.LockToken = strings.ToUpper(strings.TrimSpace(cfg.Boost.LockToken))
	if cfg.Boost.LockToken == "" {
		cfg.Boost.LockToken = "LOCK"
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	if _, _, err := crypto.EnsureKeystore(keystorePath, crypto.EnvPassphrase()); err != nil {
		return err
	}
	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	if _, _, err := crypto.EnsureKeystore(keystorePath, crypto.EnvPassphrase()); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}

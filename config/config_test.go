package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"poolrewards/core/amount"
	"poolrewards/crypto"
)

func TestLoadCreatesDefaultWithKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OperatorKeystorePath != filepath.Join(dir, "operator.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.OperatorKeystorePath)
	}
	if _, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, ""); err != nil {
		t.Fatalf("keystore unreadable: %v", err)
	}

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
	require.Equal(t, uint64(100), again.Accrual.PageSize)
	require.Equal(t, 6, again.Accrual.MaxLevel)
	require.Equal(t, uint64(4000), again.Boost.TokenlessBps)
	require.Equal(t, "LOCK", again.Boost.LockToken)
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `DataDir = "/var/lib/rewards"
NetworkName = "testnet"
OperatorKeystorePath = "` + filepath.Join(dir, "op.keystore") + `"

[accrual]
PageSize = 16
MaxLevel = 4

[boost]
TokenlessBps = 2500
MaxSchedules = 3
LockToken = "vlock"

[pauses]
Router = true

[logging]
Env = "prod"
File = "/var/log/rewards.log"

[telemetry]
Endpoint = "collector:4318"
Insecure = true
Headers = "x-team=rewards"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/rewards", cfg.DataDir)
	require.Equal(t, uint64(16), cfg.Accrual.Params().PageSize)
	require.Equal(t, 3, cfg.Boost.Params().MaxSchedules)
	require.Equal(t, "VLOCK", cfg.Boost.LockToken)
	require.True(t, cfg.Pauses.IsPaused("router"))
	require.False(t, cfg.Pauses.IsPaused("rewards"))
	require.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	require.Equal(t, "/var/log/rewards.log", cfg.Logging.File)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("DataDir = \"x\"\nListenAddress = \":6001\"\n"), 0o644))
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ListenAddress") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"empty data dir":    func(c *Config) { c.DataDir = " " },
		"tiny page":         func(c *Config) { c.Accrual.PageSize = 1 },
		"huge page":         func(c *Config) { c.Accrual.PageSize = MaxPageSize + 1 },
		"too many levels":   func(c *Config) { c.Accrual.MaxLevel = 17 },
		"tokenless > 100%":  func(c *Config) { c.Boost.TokenlessBps = 10_001 },
		"no schedules":      func(c *Config) { c.Boost.MaxSchedules = 0 },
		"share token lock":  func(c *Config) { c.Boost.LockToken = "lp-x" },
		"negative rotation": func(c *Config) { c.Logging.MaxBackups = -1 },
	}
	require.NoError(t, ValidateConfig(Default()))
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	contents := `tps: "1"
duration: 1000s
token_sets:
  - tokens: [bbb, aaa]
    share: "0.5"
  - tokens: [CCC, DDD]
    share: "0.25"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	plan, err := LoadPlan(path)
	require.NoError(t, err)
	require.Equal(t, 1000*time.Second, plan.Duration.Duration)
	require.Equal(t, uint64(1_100), plan.ExpiresAt(100))

	rate, err := plan.Rate()
	require.NoError(t, err)
	require.True(t, rate.Eq(amount.Units(1)))
	shares, err := plan.Shares()
	require.NoError(t, err)
	require.Equal(t, []string{"AAA", "BBB"}, shares[0].Tokens)
	require.True(t, shares[0].Share.Eq(amount.New(5_000_000)))
	require.True(t, shares[1].Share.Eq(amount.New(2_500_000)))
}

func TestLoadPlanRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad duration": "tps: \"1\"\nduration: soon\ntoken_sets:\n  - tokens: [A, B]\n    share: \"1\"\n",
		"no sets":      "tps: \"1\"\nduration: 10s\n",
		"bad share":    "tps: \"1\"\nduration: 10s\ntoken_sets:\n  - tokens: [A, B]\n    share: \"-1\"\n",
		"unknown key":  "tps: \"1\"\nduration: 10s\nepoch: 3\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
			if _, err := LoadPlan(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadLegacySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	contents := `block: 2
last_time: 100
accumulated: "20"
tps: "1"
expires_at: 1000
per_block: ["0", "1000000000000000000", "1000000000000000000"]
stakers:
  - address: "0x0000000000000000000000000000000000000001"
    shares: "10"
    block: 1
    to_claim: "5"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	snap, err := LoadLegacySnapshot(path)
	require.NoError(t, err)
	st, err := snap.PoolState()
	require.NoError(t, err)
	require.Equal(t, uint64(2), st.Block)
	require.True(t, st.Accumulated.Eq(amount.Units(20)))
	require.Equal(t, "2000000000000000000", st.Inv.Dec())
	require.True(t, st.Claimed.IsZero())
	require.Equal(t, uint64(1000), st.Config.ExpiresAt)

	amounts, err := snap.Stakers[0].Amounts()
	require.NoError(t, err)
	require.True(t, amounts.Shares.Eq(amount.Units(10)))
	require.True(t, amounts.ToClaim.Eq(amount.Units(5)))
	require.True(t, amounts.Claimed.IsZero())
}

func TestLoadLegacySnapshotRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"short history":   "block: 2\nper_block: [\"0\", \"1\"]\n",
		"staker ahead":    "block: 1\nper_block: [\"0\", \"1\"]\nstakers:\n  - address: x\n    block: 2\n",
		"bad per block":   "block: 0\nper_block: [\"1.5\"]\n",
		"negative shares": "block: 0\nper_block: [\"0\"]\nstakers:\n  - address: x\n    shares: \"-1\"\n",
		"unknown key":     "block: 0\nper_block: [\"0\"]\ninv: \"3\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
			if _, err := LoadLegacySnapshot(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func hexAddr(last byte) string {
	return "0x" + strings.Repeat("00", 19) + strconv.FormatUint(uint64(last)|0x100, 16)[1:]
}

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	return &cli{t: t, config: filepath.Join(t.TempDir(), "rewards.toml")}
}

func (c *cli) exec(now uint64, args ...string) (map[string]interface{}, string, int) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", c.config, "--now", strconv.FormatUint(now, 10)}, args...)
	code := run(full, &stdout, &stderr)
	if code != 0 {
		return nil, stderr.String(), code
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		c.t.Fatalf("%v: output is not JSON: %v (%s)", args, err, stdout.String())
	}
	return out, stderr.String(), code
}

func (c *cli) mustExec(now uint64, args ...string) map[string]interface{} {
	c.t.Helper()
	out, stderr, code := c.exec(now, args...)
	if code != 0 {
		c.t.Fatalf("%v exited %d: %s", args, code, stderr)
	}
	return out
}

func TestCLITwoStakersEndToEnd(t *testing.T) {
	c := newCLI(t)
	pool, reserve := hexAddr(0x10), hexAddr(0xee)
	userA, userB := hexAddr(0x01), hexAddr(0x02)

	c.mustExec(1000, "init")
	c.mustExec(1000, "token", "register", "--symbol", "rwd", "--name", "Reward")
	created := c.mustExec(1000, "pool", "create", "--pool", pool, "--kind", "linear", "--tokens", "aaa,bbb", "--reward-token", "RWD", "--reserve", reserve)
	require.True(t, strings.HasPrefix(created["pool"].(string), "pool1"))
	c.mustExec(1000, "mint", "--to", reserve, "--token", "RWD", "--amount", "60")
	c.mustExec(1000, "rewards", "config", "--pool", pool, "--tps", "1", "--expires", "+60s")
	c.mustExec(1000, "stake", "deposit", "--pool", pool, "--user", userA, "--amount", "100")
	staked := c.mustExec(1030, "stake", "deposit", "--pool", pool, "--user", userB, "--amount", "100")
	require.Equal(t, "100", staked["shares"])

	info := c.mustExec(1100, "rewards", "info", "--pool", pool, "--user", userB)
	require.Equal(t, "15", info["pending"])
	require.Equal(t, "linear", info["kind"])

	claimed := c.mustExec(1100, "rewards", "claim", "--pools", pool, "--user", userA)
	require.Equal(t, "45", claimed["paid"])
	bal := c.mustExec(1100, "balance", "--addr", userA, "--token", "RWD")
	require.Equal(t, "45", bal["balance"])

	shown := c.mustExec(1100, "pool", "show", "--pool", pool)
	require.Equal(t, []interface{}{"AAA", "BBB"}, shown["tokens"])
}

func TestCLIRouterPlan(t *testing.T) {
	c := newCLI(t)
	small, large := hexAddr(0x30), hexAddr(0x31)
	c.mustExec(10, "init")
	c.mustExec(10, "token", "register", "--symbol", "RWD")
	for _, pool := range []string{small, large} {
		c.mustExec(10, "pool", "create", "--pool", pool, "--kind", "paginated", "--tokens", "AAA,BBB", "--reward-token", "RWD", "--reserve", hexAddr(0xee))
	}
	c.mustExec(10, "liquidity", "set", "--pool", small, "--amount", "34")
	c.mustExec(10, "liquidity", "set", "--pool", large, "--amount", "336")

	plan := filepath.Join(filepath.Dir(c.config), "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte("tps: \"1\"\nduration: 1000s\ntoken_sets:\n  - tokens: [AAA, BBB]\n    share: \"0.5\"\n"), 0o644))
	epoch := c.mustExec(10, "router", "configure", "--plan", plan)
	require.Equal(t, float64(1), epoch["epoch"])
	require.Equal(t, float64(1010), epoch["expires_at"])

	filled := c.mustExec(10, "router", "fill", "--tokens", "bbb,aaa")
	require.Equal(t, "370", filled["total_liquidity"])
	if _, stderr, code := c.exec(11, "router", "fill", "--tokens", "AAA,BBB"); code == 0 || !strings.Contains(stderr, "already filled") {
		t.Fatalf("expected second fill to fail, got %d %s", code, stderr)
	}

	rate := c.mustExec(10, "router", "allocate", "--pool", small)
	require.Equal(t, "0.0459459", rate["tps"])
	funder := hexAddr(0xa2)
	if _, stderr, code := c.exec(10, "--from", funder, "router", "distribute", "--pool", small); code == 0 || !strings.Contains(stderr, "not authorized") {
		t.Fatalf("expected unauthorized distribute, got %d %s", code, stderr)
	}
	c.mustExec(10, "role", "grant", "--role", "rewards_operator", "--addr", funder)
	c.mustExec(10, "mint", "--to", funder, "--token", "RWD", "--amount", "1000")
	paid := c.mustExec(10, "--from", funder, "router", "distribute", "--pool", small)
	require.Equal(t, "45.9459", paid["distributed"])
	bal := c.mustExec(10, "balance", "--addr", funder, "--token", "RWD")
	require.Equal(t, "954.0541", bal["balance"])
}

func TestCLIErrors(t *testing.T) {
	c := newCLI(t)
	if _, _, code := c.exec(1, "bogus"); code != 1 {
		t.Fatalf("unknown command must fail")
	}
	c.mustExec(1, "init")
	if _, stderr, code := c.exec(1, "init"); code != 1 || !strings.Contains(stderr, "already bootstrapped") {
		t.Fatalf("expected bootstrap failure, got %d %s", code, stderr)
	}
	if _, stderr, code := c.exec(1, "--from", hexAddr(0x99), "token", "register", "--symbol", "X"); code != 1 || !strings.Contains(stderr, "not authorized") {
		t.Fatalf("expected unauthorized, got %d %s", code, stderr)
	}
	if _, stderr, code := c.exec(1, "stake", "deposit", "--pool", hexAddr(0x10), "--amount", "abc"); code != 1 || !strings.Contains(stderr, "--amount") {
		t.Fatalf("expected amount error, got %d %s", code, stderr)
	}

	var stdout, stderr bytes.Buffer
	keyPath := filepath.Join(t.TempDir(), "key.json")
	require.Equal(t, 0, run([]string{"keygen", "--out", keyPath}, &stdout, &stderr), stderr.String())
	require.Contains(t, stdout.String(), `"address": "lp1`)
	_, err := os.Stat(keyPath)
	require.NoError(t, err)
}

func TestCLIImportLegacyPool(t *testing.T) {
	c := newCLI(t)
	pool, user := hexAddr(0x50), hexAddr(0x01)
	c.mustExec(100, "init")
	c.mustExec(100, "token", "register", "--symbol", "RWD")

	snapshot := filepath.Join(filepath.Dir(c.config), "snapshot.yaml")
	contents := "block: 2\nlast_time: 100\naccumulated: \"20\"\ntps: \"1\"\nexpires_at: 1000\n" +
		"per_block: [\"0\", \"1000000000000000000\", \"1000000000000000000\"]\n" +
		"stakers:\n  - address: \"" + user + "\"\n    shares: \"10\"\n    block: 1\n    to_claim: \"5\"\n"
	require.NoError(t, os.WriteFile(snapshot, []byte(contents), 0o644))

	imported := c.mustExec(100, "pool", "import", "--pool", pool, "--tokens", "AAA,BBB", "--reward-token", "RWD", "--reserve", hexAddr(0xee), "--file", snapshot)
	require.Equal(t, float64(2), imported["block"])
	require.Equal(t, float64(1), imported["stakers"])

	info := c.mustExec(110, "rewards", "info", "--pool", pool, "--user", user)
	require.Equal(t, "25", info["pending"])
	require.Equal(t, "paginated", info["kind"])

	if _, stderr, code := c.exec(110, "pool", "import", "--pool", pool, "--tokens", "AAA,BBB", "--reward-token", "RWD", "--reserve", hexAddr(0xee), "--file", snapshot); code == 0 || stderr == "" {
		t.Fatalf("expected second import to fail, got %d", code)
	}
}

func TestParseExpiry(t *testing.T) {
	got, err := parseExpiry("+1h", 100)
	require.NoError(t, err)
	require.Equal(t, uint64(3700), got)
	got, err = parseExpiry("5000", 100)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), got)
	_, err = parseExpiry("+1ms", 100)
	require.Error(t, err)
	_, err = parseExpiry("tomorrow", 100)
	require.Error(t, err)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"poolrewards/config"
	"poolrewards/core"
	"poolrewards/crypto"
	"poolrewards/observability/logging"
	telemetry "poolrewards/observability/otel"
	"poolrewards/storage"
)

const (
	serviceName      = "rewards-cli"
	defaultConfigRel = "rewards.toml"
)

var cliNow = time.Now

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cliEnv is the processor and caller context shared by every subcommand.
type cliEnv struct {
	ctx    context.Context
	cfg    *config.Config
	proc   *core.Processor
	logger *slog.Logger
	caller [20]byte
	now    uint64
	stdout io.Writer
	stderr io.Writer
}

type globalFlags struct {
	configPath string
	from       string
	now        int64
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globalFlags
	fs.StringVar(&g.configPath, "config", defaultConfigRel, "path to the node configuration file")
	fs.StringVar(&g.from, "from", "", "caller address; defaults to the operator keystore")
	fs.Int64Var(&g.now, "now", 0, "unix time to execute at; defaults to the wall clock")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch rest[0] {
	case "help":
		fmt.Fprintln(stdout, usage())
		return 0
	case "keygen":
		return runKeygen(rest[1:], stdout, stderr)
	}

	env, closeEnv, err := openEnv(g, stdout, stderr)
	if err != nil {
		return printError(stderr, err)
	}
	defer closeEnv()

	switch rest[0] {
	case "init":
		return runInit(env, rest[1:])
	case "role":
		return runRoleCommand(env, rest[1:])
	case "token":
		return runTokenCommand(env, rest[1:])
	case "pool":
		return runPoolCommand(env, rest[1:])
	case "stake":
		return runStakeCommand(env, rest[1:])
	case "lock":
		return runLockCommand(env, rest[1:])
	case "mint":
		return runMint(env, rest[1:])
	case "balance":
		return runBalance(env, rest[1:])
	case "liquidity":
		return runLiquidityCommand(env, rest[1:])
	case "rewards":
		return runRewardsCommand(env, rest[1:])
	case "router":
		return runRouterCommand(env, rest[1:])
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: rewards-cli [--config path] [--from addr] [--now unix] <command> [flags]",
		"",
		"Commands:",
		"  keygen --out path                      write a new operator keystore",
		"  init [--admin addr]                    bootstrap the admin role and lock token",
		"  role grant --role r --addr a           grant admin or rewards_operator",
		"  token register --symbol s --name n     register a reward token",
		"  pool create|show                       register or inspect a pool",
		"  pool import                            register a paginated pool from a per-block export",
		"  stake deposit|withdraw                 change a pool stake",
		"  lock set --user a --amount x           set a governance lock balance",
		"  mint --to a --token s --amount x       fund an account with a reward token",
		"  balance --addr a --token s             print a token balance",
		"  liquidity set --pool p --amount x      record pool liquidity for the router",
		"  rewards config|schedule|claim|info     manage pool emissions and claims",
		"  router configure|fill|allocate|distribute|epoch",
	}, "\n")
}

func openEnv(g globalFlags, stdout, stderr io.Writer) (*cliEnv, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, logCloser := logging.SetupWithOptions(serviceName, logging.Options{
		Env:        cfg.Logging.Env,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Stdout:     stderr,
	})

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Telemetry.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
	})
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}

	dataDir := cfg.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(filepath.Dir(g.configPath), dataDir)
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		shutdown(ctx)
		logCloser.Close()
		return nil, nil, fmt.Errorf("open data dir: %w", err)
	}
	closeAll := func() {
		db.Close()
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
		logCloser.Close()
	}

	opts := core.DefaultOptions()
	opts.Accrual = cfg.Accrual.Params()
	opts.Boost = cfg.Boost.Params()
	opts.LockToken = cfg.Boost.LockToken
	opts.Pauses = cfg.Pauses
	opts.Logger = logger
	proc, err := core.NewProcessor(db, opts)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	caller, err := resolveCaller(g.from, cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	now := uint64(cliNow().Unix())
	if g.now > 0 {
		now = uint64(g.now)
	}
	return &cliEnv{
		ctx:    ctx,
		cfg:    cfg,
		proc:   proc,
		logger: logger,
		caller: caller,
		now:    now,
		stdout: stdout,
		stderr: stderr,
	}, closeAll, nil
}

func resolveCaller(from string, cfg *config.Config) ([20]byte, error) {
	if strings.TrimSpace(from) != "" {
		return parseAccount(from)
	}
	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, crypto.EnvPassphrase())
	if err != nil {
		return [20]byte{}, fmt.Errorf("load operator keystore: %w", err)
	}
	return key.PubKey().Address().Raw(), nil
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var out string
	fs.StringVar(&out, "out", "", "keystore file to write")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if out == "" {
		return printError(stderr, errors.New("--out is required"))
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err)
	}
	if err := crypto.SaveToKeystore(out, key, crypto.EnvPassphrase()); err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, map[string]string{"address": key.PubKey().Address().String(), "keystore": out})
}

func runInit(env *cliEnv, args []string) int {
	fs := newFlagSet("init", env.stderr)
	var admin string
	fs.StringVar(&admin, "admin", "", "admin address; defaults to the caller")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr := env.caller
	if admin != "" {
		parsed, err := parseAccount(admin)
		if err != nil {
			return printError(env.stderr, err)
		}
		addr = parsed
	}
	if err := env.proc.Bootstrap(env.ctx, addr); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"admin": accountString(addr)})
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseAccount(raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw, crypto.AccountPrefix)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return addr.Raw(), nil
}

func parsePool(raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw, crypto.PoolPrefix)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid pool %q: %w", raw, err)
	}
	return addr.Raw(), nil
}

func accountString(addr [20]byte) string {
	return crypto.AddressFromRaw(crypto.AccountPrefix, addr).String()
}

func poolString(pool [20]byte) string {
	return crypto.AddressFromRaw(crypto.PoolPrefix, pool).String()
}

// parseExpiry accepts a unix timestamp or a +duration relative to now.
func parseExpiry(raw string, now uint64) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "+") {
		d, err := time.ParseDuration(trimmed[1:])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", trimmed, err)
		}
		if d < time.Second {
			return 0, fmt.Errorf("duration %q below one second", trimmed)
		}
		return now + uint64(d.Seconds()), nil
	}
	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expiry must be unix seconds or +duration: %w", err)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func printError(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

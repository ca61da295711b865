package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"poolrewards/config"
	"poolrewards/core"
	"poolrewards/core/amount"
)

func requireSub(env *cliEnv, group string, args []string) (string, []string, bool) {
	if len(args) == 0 {
		fmt.Fprintf(env.stderr, "Error: %s requires a subcommand\n", group)
		fmt.Fprintln(env.stderr, usage())
		return "", nil, false
	}
	return args[0], args[1:], true
}

func unknownSub(env *cliEnv, group, sub string) int {
	fmt.Fprintf(env.stderr, "Unknown %s subcommand: %s\n", group, sub)
	return 1
}

func parseAmountFlag(name, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("--%s is required", name)
	}
	value, err := amount.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return value, nil
}

func runRoleCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "role", args)
	if !ok {
		return 1
	}
	if sub != "grant" {
		return unknownSub(env, "role", sub)
	}
	fs := newFlagSet("role grant", env.stderr)
	var role, target string
	fs.StringVar(&role, "role", "", "admin or rewards_operator")
	fs.StringVar(&target, "addr", "", "account receiving the role")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	addr, err := parseAccount(target)
	if err != nil {
		return printError(env.stderr, err)
	}
	if err := env.proc.GrantRole(env.ctx, env.caller, role, addr); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"role": role, "addr": accountString(addr)})
}

func runTokenCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "token", args)
	if !ok {
		return 1
	}
	if sub != "register" {
		return unknownSub(env, "token", sub)
	}
	fs := newFlagSet("token register", env.stderr)
	var symbol, name string
	fs.StringVar(&symbol, "symbol", "", "token symbol")
	fs.StringVar(&name, "name", "", "token display name")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	if name == "" {
		name = symbol
	}
	if err := env.proc.RegisterToken(env.ctx, env.caller, symbol, name); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"symbol": strings.ToUpper(symbol)})
}

func runPoolCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "pool", args)
	if !ok {
		return 1
	}
	switch sub {
	case "create":
		fs := newFlagSet("pool create", env.stderr)
		var poolRaw, kind, tokens, rewardToken, reserveRaw string
		fs.StringVar(&poolRaw, "pool", "", "pool address")
		fs.StringVar(&kind, "kind", core.PoolKindPaginated, "linear, paginated or boosted")
		fs.StringVar(&tokens, "tokens", "", "comma separated token set traded by the pool")
		fs.StringVar(&rewardToken, "reward-token", "", "token paid to stakers")
		fs.StringVar(&reserveRaw, "reserve", "", "account holding the pool's reward budget")
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		pool, err := parsePool(poolRaw)
		if err != nil {
			return printError(env.stderr, err)
		}
		reserve, err := parseAccount(reserveRaw)
		if err != nil {
			return printError(env.stderr, err)
		}
		spec := core.PoolSpec{Pool: pool, Kind: kind, Tokens: splitList(tokens), RewardToken: rewardToken, Reserve: reserve}
		if err := env.proc.CreatePool(env.ctx, env.caller, spec, env.now); err != nil {
			return printError(env.stderr, err)
		}
		return printJSON(env.stdout, map[string]string{"pool": poolString(pool), "share_token": core.ShareTokenSymbol(pool)})
	case "import":
		return runPoolImport(env, rest)
	case "show":
		fs := newFlagSet("pool show", env.stderr)
		var poolRaw string
		fs.StringVar(&poolRaw, "pool", "", "pool address")
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		pool, err := parsePool(poolRaw)
		if err != nil {
			return printError(env.stderr, err)
		}
		rec, err := env.proc.Pool(env.ctx, pool)
		if err != nil {
			return printError(env.stderr, err)
		}
		return printJSON(env.stdout, map[string]interface{}{
			"pool":        poolString(pool),
			"kind":        rec.Kind,
			"tokens":      rec.Tokens,
			"share_token": rec.ShareToken,
		})
	default:
		return unknownSub(env, "pool", sub)
	}
}

func runPoolImport(env *cliEnv, args []string) int {
	fs := newFlagSet("pool import", env.stderr)
	var poolRaw, tokens, rewardToken, reserveRaw, file string
	fs.StringVar(&poolRaw, "pool", "", "pool address")
	fs.StringVar(&tokens, "tokens", "", "comma separated token set traded by the pool")
	fs.StringVar(&rewardToken, "reward-token", "", "token paid to stakers")
	fs.StringVar(&reserveRaw, "reserve", "", "account holding the pool's reward budget")
	fs.StringVar(&file, "file", "", "YAML export of the per-block history")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if file == "" {
		return printError(env.stderr, errors.New("--file is required"))
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	reserve, err := parseAccount(reserveRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	snap, err := config.LoadLegacySnapshot(file)
	if err != nil {
		return printError(env.stderr, err)
	}
	st, err := snap.PoolState()
	if err != nil {
		return printError(env.stderr, err)
	}
	values, err := snap.Values()
	if err != nil {
		return printError(env.stderr, err)
	}
	legacy := core.LegacyPool{State: *st, PerBlock: values}
	for _, staker := range snap.Stakers {
		user, err := parseAccount(staker.Address)
		if err != nil {
			return printError(env.stderr, err)
		}
		amounts, err := staker.Amounts()
		if err != nil {
			return printError(env.stderr, err)
		}
		legacy.Stakes = append(legacy.Stakes, core.LegacyStake{
			User:    user,
			Shares:  amounts.Shares,
			Block:   staker.Block,
			ToClaim: amounts.ToClaim,
			Claimed: amounts.Claimed,
		})
	}
	spec := core.PoolSpec{Pool: pool, Kind: core.PoolKindPaginated, Tokens: splitList(tokens), RewardToken: rewardToken, Reserve: reserve}
	if err := env.proc.ImportLegacyPool(env.ctx, env.caller, spec, legacy); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]interface{}{
		"pool":    poolString(pool),
		"block":   st.Block,
		"stakers": len(legacy.Stakes),
	})
}

func runStakeCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "stake", args)
	if !ok {
		return 1
	}
	if sub != "deposit" && sub != "withdraw" {
		return unknownSub(env, "stake", sub)
	}
	fs := newFlagSet("stake "+sub, env.stderr)
	var poolRaw, userRaw, amountRaw string
	fs.StringVar(&poolRaw, "pool", "", "pool address")
	fs.StringVar(&userRaw, "user", "", "staker; defaults to the caller")
	fs.StringVar(&amountRaw, "amount", "", "shares to deposit or withdraw")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	user := env.caller
	if userRaw != "" {
		if user, err = parseAccount(userRaw); err != nil {
			return printError(env.stderr, err)
		}
	}
	value, err := parseAmountFlag("amount", amountRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	if sub == "deposit" {
		err = env.proc.Deposit(env.ctx, pool, user, value, env.now)
	} else {
		err = env.proc.Withdraw(env.ctx, pool, user, value, env.now)
	}
	if err != nil {
		return printError(env.stderr, err)
	}
	shares, err := env.proc.Balance(env.ctx, user, core.ShareTokenSymbol(pool))
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"pool": poolString(pool), "user": accountString(user), "shares": amount.Format(shares)})
}

func runLockCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "lock", args)
	if !ok {
		return 1
	}
	if sub != "set" {
		return unknownSub(env, "lock", sub)
	}
	fs := newFlagSet("lock set", env.stderr)
	var userRaw, amountRaw string
	fs.StringVar(&userRaw, "user", "", "locker; defaults to the caller")
	fs.StringVar(&amountRaw, "amount", "", "new lock balance")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	user := env.caller
	var err error
	if userRaw != "" {
		if user, err = parseAccount(userRaw); err != nil {
			return printError(env.stderr, err)
		}
	}
	value, err := parseAmountFlag("amount", amountRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	if err := env.proc.SetLock(env.ctx, user, value, env.now); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"user": accountString(user), "locked": amount.Format(value)})
}

func runMint(env *cliEnv, args []string) int {
	fs := newFlagSet("mint", env.stderr)
	var toRaw, token, amountRaw string
	fs.StringVar(&toRaw, "to", "", "recipient")
	fs.StringVar(&token, "token", "", "reward token symbol")
	fs.StringVar(&amountRaw, "amount", "", "amount to mint")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	to, err := parseAccount(toRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	value, err := parseAmountFlag("amount", amountRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	if err := env.proc.Mint(env.ctx, env.caller, to, token, value); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"to": accountString(to), "token": strings.ToUpper(token), "amount": amount.Format(value)})
}

func runBalance(env *cliEnv, args []string) int {
	fs := newFlagSet("balance", env.stderr)
	var addrRaw, token string
	fs.StringVar(&addrRaw, "addr", "", "account; defaults to the caller")
	fs.StringVar(&token, "token", "", "token symbol")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if token == "" {
		return printError(env.stderr, errors.New("--token is required"))
	}
	addr := env.caller
	var err error
	if addrRaw != "" {
		if addr, err = parseAccount(addrRaw); err != nil {
			return printError(env.stderr, err)
		}
	}
	bal, err := env.proc.Balance(env.ctx, addr, token)
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"addr": accountString(addr), "token": strings.ToUpper(token), "balance": amount.Format(bal)})
}

func runLiquidityCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "liquidity", args)
	if !ok {
		return 1
	}
	if sub != "set" {
		return unknownSub(env, "liquidity", sub)
	}
	fs := newFlagSet("liquidity set", env.stderr)
	var poolRaw, amountRaw string
	fs.StringVar(&poolRaw, "pool", "", "pool address")
	fs.StringVar(&amountRaw, "amount", "", "liquidity depth")
	if err := fs.Parse(rest); err != nil {
		return 1
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	value, err := parseAmountFlag("amount", amountRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	if err := env.proc.SetLiquidity(env.ctx, env.caller, pool, value); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"pool": poolString(pool), "liquidity": amount.Format(value)})
}

package main

import (
	"errors"
	"strconv"
	"time"

	"poolrewards/core/amount"
)

func runRewardsCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "rewards", args)
	if !ok {
		return 1
	}
	switch sub {
	case "config":
		return runRewardsConfig(env, rest)
	case "schedule":
		return runRewardsSchedule(env, rest)
	case "claim":
		return runRewardsClaim(env, rest)
	case "info":
		return runRewardsInfo(env, rest)
	default:
		return unknownSub(env, "rewards", sub)
	}
}

func runRewardsConfig(env *cliEnv, args []string) int {
	fs := newFlagSet("rewards config", env.stderr)
	var poolRaw, tpsRaw, expires string
	fs.StringVar(&poolRaw, "pool", "", "pool address")
	fs.StringVar(&tpsRaw, "tps", "", "tokens emitted per second")
	fs.StringVar(&expires, "expires", "", "unix seconds or +duration")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	tps, err := parseAmountFlag("tps", tpsRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	if expires == "" {
		return printError(env.stderr, errors.New("--expires is required"))
	}
	expiresAt, err := parseExpiry(expires, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	if err := env.proc.SetRewardsConfig(env.ctx, env.caller, pool, tps, expiresAt, env.now); err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]interface{}{"pool": poolString(pool), "tps": amount.Format(tps), "expires_at": expiresAt})
}

func runRewardsSchedule(env *cliEnv, args []string) int {
	fs := newFlagSet("rewards schedule", env.stderr)
	var poolRaw, tpsRaw, startRaw string
	var duration time.Duration
	fs.StringVar(&poolRaw, "pool", "", "boosted pool address")
	fs.StringVar(&tpsRaw, "tps", "", "tokens emitted per second")
	fs.StringVar(&startRaw, "start", "", "unix start; defaults to now")
	fs.DurationVar(&duration, "duration", 0, "window length")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	tps, err := parseAmountFlag("tps", tpsRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	var startAt *uint64
	if startRaw != "" {
		start, err := strconv.ParseUint(startRaw, 10, 64)
		if err != nil {
			return printError(env.stderr, err)
		}
		startAt = &start
	}
	sched, err := env.proc.Schedule(env.ctx, env.caller, pool, startAt, uint64(duration.Seconds()), tps, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]interface{}{
		"pool":       poolString(pool),
		"start_at":   sched.StartAt,
		"expires_at": sched.ExpiresAt,
		"tps":        amount.Format(sched.TPS),
	})
}

func runRewardsClaim(env *cliEnv, args []string) int {
	fs := newFlagSet("rewards claim", env.stderr)
	var poolsRaw, userRaw string
	fs.StringVar(&poolsRaw, "pools", "", "comma separated pool addresses")
	fs.StringVar(&userRaw, "user", "", "claimant; defaults to the caller")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	user := env.caller
	var err error
	if userRaw != "" {
		if user, err = parseAccount(userRaw); err != nil {
			return printError(env.stderr, err)
		}
	}
	list := splitList(poolsRaw)
	if len(list) == 0 {
		return printError(env.stderr, errors.New("--pools is required"))
	}
	pools := make([][20]byte, 0, len(list))
	for _, raw := range list {
		pool, err := parsePool(raw)
		if err != nil {
			return printError(env.stderr, err)
		}
		pools = append(pools, pool)
	}
	paid, err := env.proc.ClaimAll(env.ctx, user, pools, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"user": accountString(user), "paid": amount.Format(paid)})
}

func runRewardsInfo(env *cliEnv, args []string) int {
	fs := newFlagSet("rewards info", env.stderr)
	var poolRaw, userRaw string
	fs.StringVar(&poolRaw, "pool", "", "pool address")
	fs.StringVar(&userRaw, "user", "", "account; defaults to the caller")
	if err := fs.Parse(args); err != nil {
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
	info, err := env.proc.RewardsInfo(env.ctx, pool, user, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	out := map[string]interface{}{
		"pool":         poolString(pool),
		"kind":         info.Kind,
		"reward_token": info.RewardToken,
		"tps":          amount.Format(info.TPS),
		"expires_at":   info.ExpiresAt,
		"accumulated":  amount.Format(info.Accumulated),
		"claimed":      amount.Format(info.Claimed),
		"pending":      amount.Format(info.Pending),
		"stake":        amount.Format(info.Stake),
		"total_shares": amount.Format(info.TotalShares),
	}
	if info.WorkingSupply != nil {
		out["working_balance"] = amount.Format(info.WorkingBalance)
		out["working_supply"] = amount.Format(info.WorkingSupply)
		out["schedules"] = len(info.Schedules)
	}
	return printJSON(env.stdout, out)
}

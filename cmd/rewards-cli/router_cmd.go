package main

import (
	"errors"

	"poolrewards/config"
	"poolrewards/core/amount"
)

func runRouterCommand(env *cliEnv, args []string) int {
	sub, rest, ok := requireSub(env, "router", args)
	if !ok {
		return 1
	}
	switch sub {
	case "configure":
		return runRouterConfigure(env, rest)
	case "fill":
		return runRouterFill(env, rest)
	case "allocate":
		return runRouterAllocate(env, rest)
	case "distribute":
		return runRouterDistribute(env, rest)
	case "epoch":
		return runRouterEpoch(env)
	default:
		return unknownSub(env, "router", sub)
	}
}

func runRouterConfigure(env *cliEnv, args []string) int {
	fs := newFlagSet("router configure", env.stderr)
	var planPath string
	fs.StringVar(&planPath, "plan", "", "YAML distribution plan")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if planPath == "" {
		return printError(env.stderr, errors.New("--plan is required"))
	}
	plan, err := config.LoadPlan(planPath)
	if err != nil {
		return printError(env.stderr, err)
	}
	tps, err := plan.Rate()
	if err != nil {
		return printError(env.stderr, err)
	}
	shares, err := plan.Shares()
	if err != nil {
		return printError(env.stderr, err)
	}
	epoch, err := env.proc.ConfigureGlobal(env.ctx, env.caller, tps, plan.ExpiresAt(env.now), shares, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]interface{}{
		"epoch":      epoch.Epoch,
		"tps":        amount.Format(epoch.TPS),
		"expires_at": epoch.ExpiresAt,
		"token_sets": epoch.TokenSets,
	})
}

func runRouterFill(env *cliEnv, args []string) int {
	fs := newFlagSet("router fill", env.stderr)
	var tokens string
	fs.StringVar(&tokens, "tokens", "", "comma separated token set")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	total, err := env.proc.FillLiquidity(env.ctx, splitList(tokens))
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"total_liquidity": amount.Format(total)})
}

func runRouterAllocate(env *cliEnv, args []string) int {
	fs := newFlagSet("router allocate", env.stderr)
	var poolRaw string
	fs.StringVar(&poolRaw, "pool", "", "pool address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	rate, err := env.proc.ConfigPoolRewards(env.ctx, pool, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"pool": poolString(pool), "tps": amount.Format(rate)})
}

func runRouterDistribute(env *cliEnv, args []string) int {
	fs := newFlagSet("router distribute", env.stderr)
	var poolRaw string
	fs.StringVar(&poolRaw, "pool", "", "pool address; the caller funds the top-up")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pool, err := parsePool(poolRaw)
	if err != nil {
		return printError(env.stderr, err)
	}
	paid, err := env.proc.DistributeOutstanding(env.ctx, env.caller, pool, env.caller, env.now)
	if err != nil {
		return printError(env.stderr, err)
	}
	return printJSON(env.stdout, map[string]string{"pool": poolString(pool), "distributed": amount.Format(paid)})
}

func runRouterEpoch(env *cliEnv) int {
	epoch, ok, err := env.proc.Epoch(env.ctx)
	if err != nil {
		return printError(env.stderr, err)
	}
	if !ok {
		return printError(env.stderr, errors.New("no epoch configured"))
	}
	return printJSON(env.stdout, map[string]interface{}{
		"epoch":      epoch.Epoch,
		"tps":        amount.Format(epoch.TPS),
		"started_at": epoch.StartedAt,
		"expires_at": epoch.ExpiresAt,
		"token_sets": epoch.TokenSets,
	})
}

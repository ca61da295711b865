package config

import (
	"poolrewards/native/accrual"
	"poolrewards/native/boost"
)

// Accrual sizes the paged accumulator history.
type Accrual struct {
	PageSize uint64
	MaxLevel int
}

// Params converts the section into engine parameters.
func (a Accrual) Params() accrual.Params {
	return accrual.Params{PageSize: a.PageSize, MaxLevel: a.MaxLevel}
}

// Boost controls working balance weighting for boosted pools.
type Boost struct {
	TokenlessBps uint64
	MaxSchedules int
	LockToken    string
}

func (b Boost) Params() boost.Params {
	return boost.Params{TokenlessBps: b.TokenlessBps, MaxSchedules: b.MaxSchedules}
}

// Pauses halts claim and allocation paths per module.
type Pauses struct {
	Rewards bool
	Boost   bool
	Router  bool
}

// IsPaused implements the engines' pause view.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "rewards":
		return p.Rewards
	case "boost":
		return p.Boost
	case "router":
		return p.Router
	default:
		return false
	}
}

// Logging selects the log environment and an optional rotated log file.
type Logging struct {
	Env        string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Telemetry configures OTLP trace export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint string
	Insecure bool
	Headers  string
	Env      string
}

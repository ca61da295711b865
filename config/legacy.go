package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"poolrewards/core/amount"
	"poolrewards/native/accrual"
)

// LegacySnapshot is the export of a paginated pool kept in the per-block
// layout. Token amounts are decimals; per-share values are raw integers
// scaled by 1e18:
//
//	block: 2
//	last_time: 100
//	accumulated: "20"
//	tps: "1"
//	expires_at: 1000
//	per_block: ["0", "1000000000000000000", "1000000000000000000"]
//	stakers:
//	  - address: lp1...
//	    shares: "10"
//	    block: 1
//	    to_claim: "5"
type LegacySnapshot struct {
	Block       uint64         `yaml:"block"`
	LastTime    uint64         `yaml:"last_time"`
	Accumulated string         `yaml:"accumulated"`
	Claimed     string         `yaml:"claimed"`
	TPS         string         `yaml:"tps"`
	ExpiresAt   uint64         `yaml:"expires_at"`
	PerBlock    []string       `yaml:"per_block"`
	Stakers     []LegacyStaker `yaml:"stakers"`
}

// LegacyStaker is one account of a LegacySnapshot.
type LegacyStaker struct {
	Address string `yaml:"address"`
	Shares  string `yaml:"shares"`
	Block   uint64 `yaml:"block"`
	ToClaim string `yaml:"to_claim"`
	Claimed string `yaml:"claimed"`
}

// LegacyAmounts are the parsed balances of a LegacyStaker.
type LegacyAmounts struct {
	Shares  *uint256.Int
	ToClaim *uint256.Int
	Claimed *uint256.Int
}

// LoadLegacySnapshot reads and validates a legacy pool export.
func LoadLegacySnapshot(path string) (*LegacySnapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()
	snap := &LegacySnapshot{}
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if _, err := snap.PoolState(); err != nil {
		return nil, err
	}
	for i, staker := range snap.Stakers {
		if staker.Block > snap.Block {
			return nil, fmt.Errorf("snapshot: stakers[%d].block %d is ahead of block %d", i, staker.Block, snap.Block)
		}
		if _, err := staker.Amounts(); err != nil {
			return nil, fmt.Errorf("snapshot: stakers[%d]: %w", i, err)
		}
	}
	return snap, nil
}

// Values parses the per-block per-share history.
func (s *LegacySnapshot) Values() ([]*uint256.Int, error) {
	if uint64(len(s.PerBlock)) != s.Block+1 {
		return nil, fmt.Errorf("snapshot: per_block needs %d values, got %d", s.Block+1, len(s.PerBlock))
	}
	out := make([]*uint256.Int, 0, len(s.PerBlock))
	for i, raw := range s.PerBlock {
		v, err := amount.ParseRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("snapshot: per_block[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// PoolState rebuilds the accumulator the history ends in. Inv is the sum of
// the per-block values.
func (s *LegacySnapshot) PoolState() (*accrual.PoolState, error) {
	values, err := s.Values()
	if err != nil {
		return nil, err
	}
	inv := amount.Zero()
	for _, v := range values {
		if inv, err = amount.Add(inv, v); err != nil {
			return nil, err
		}
	}
	accumulated, err := parseOptional("accumulated", s.Accumulated)
	if err != nil {
		return nil, err
	}
	claimed, err := parseOptional("claimed", s.Claimed)
	if err != nil {
		return nil, err
	}
	tps, err := parseOptional("tps", s.TPS)
	if err != nil {
		return nil, err
	}
	return &accrual.PoolState{
		Kind:          accrual.KindPaginated,
		Block:         s.Block,
		Accumulated:   accumulated,
		Undistributed: amount.Zero(),
		Inv:           inv,
		LastTime:      s.LastTime,
		Claimed:       claimed,
		Config:        accrual.RewardConfig{TPS: tps, ExpiresAt: s.ExpiresAt},
	}, nil
}

// Amounts parses the staker balances. Missing values are zero.
func (s LegacyStaker) Amounts() (*LegacyAmounts, error) {
	shares, err := parseOptional("shares", s.Shares)
	if err != nil {
		return nil, err
	}
	toClaim, err := parseOptional("to_claim", s.ToClaim)
	if err != nil {
		return nil, err
	}
	claimed, err := parseOptional("claimed", s.Claimed)
	if err != nil {
		return nil, err
	}
	return &LegacyAmounts{Shares: shares, ToClaim: toClaim, Claimed: claimed}, nil
}

func parseOptional(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return amount.Zero(), nil
	}
	v, err := amount.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", field, err)
	}
	return v, nil
}

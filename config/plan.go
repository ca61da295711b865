package config

import (
	"fmt"
	"os"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"poolrewards/core/amount"
	"poolrewards/native/router"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Plan is a global distribution epoch described in YAML:
//
//	tps: "1.5"
//	duration: 720h
//	token_sets:
//	  - tokens: [AAA, BBB]
//	    share: "0.5"
type Plan struct {
	TPS       string    `yaml:"tps"`
	Duration  Duration  `yaml:"duration"`
	TokenSets []PlanSet `yaml:"token_sets"`
}

// PlanSet is one token set and its voting share as a decimal fraction.
type PlanSet struct {
	Tokens []string `yaml:"tokens"`
	Share  string   `yaml:"share"`
}

// LoadPlan reads and validates a distribution plan.
func LoadPlan(path string) (*Plan, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer file.Close()
	plan := &Plan{}
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if plan.Duration.Duration < time.Second {
		return nil, fmt.Errorf("plan: duration must be at least 1s")
	}
	if len(plan.TokenSets) == 0 {
		return nil, fmt.Errorf("plan: no token sets")
	}
	if _, err := plan.Rate(); err != nil {
		return nil, err
	}
	if _, err := plan.Shares(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Rate parses the epoch emission per second.
func (p *Plan) Rate() (*uint256.Int, error) {
	tps, err := amount.Parse(p.TPS)
	if err != nil {
		return nil, fmt.Errorf("plan: tps: %w", err)
	}
	return tps, nil
}

// ExpiresAt returns the epoch end for an epoch starting at now.
func (p *Plan) ExpiresAt(now uint64) uint64 {
	return now + uint64(p.Duration.Seconds())
}

// Shares converts the token sets into router shares.
func (p *Plan) Shares() ([]router.TokenShare, error) {
	out := make([]router.TokenShare, 0, len(p.TokenSets))
	for i, set := range p.TokenSets {
		share, err := amount.Parse(set.Share)
		if err != nil {
			return nil, fmt.Errorf("plan: token_sets[%d].share: %w", i, err)
		}
		tokens, err := router.NormalizeTokens(set.Tokens)
		if err != nil {
			return nil, fmt.Errorf("plan: token_sets[%d]: %w", i, err)
		}
		out = append(out, router.TokenShare{Tokens: tokens, Share: share})
	}
	return out, nil
}

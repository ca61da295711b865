package boost

import (
	"github.com/holiman/uint256"

	"poolrewards/core/amount"
)

const bpsDenominator = 10_000

// DefaultTokenlessBps is the share of raw stake that counts without any lock.
const DefaultTokenlessBps = 4_000

// WorkingBalance returns
//
//	min(raw, raw*tokenless/10000 + totalRaw*locked/totalLocked*(10000-tokenless)/10000)
//
// With nothing locked anywhere only the tokenless part counts.
func WorkingBalance(raw, totalRaw, locked, totalLocked *uint256.Int, tokenlessBps uint64) (*uint256.Int, error) {
	denom := uint256.NewInt(bpsDenominator)
	base, err := amount.MulDiv(raw, uint256.NewInt(tokenlessBps), denom)
	if err != nil {
		return nil, err
	}
	if amount.IsZero(totalLocked) || amount.IsZero(locked) {
		return amount.Min(raw, base), nil
	}
	weighted, err := amount.MulDiv(totalRaw, locked, totalLocked)
	if err != nil {
		return nil, err
	}
	boosted, err := amount.MulDiv(weighted, uint256.NewInt(bpsDenominator-tokenlessBps), denom)
	if err != nil {
		return nil, err
	}
	sum, err := amount.Add(base, boosted)
	if err != nil {
		return nil, err
	}
	return amount.Min(raw, sum), nil
}

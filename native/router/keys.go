package router

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	epochKey         = []byte("router/epoch")
	tokenSetPrefix   = []byte("router/set/")
	allocationPrefix = []byte("router/alloc/")
)

var ErrInvalidTokenSet = errors.New("router: token set must list distinct, non-empty symbols")

// NormalizeTokens upper-cases, trims and sorts a token set so that every
// ordering of the same tokens maps to one key.
func NormalizeTokens(tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return nil, ErrInvalidTokenSet
	}
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		normalized := strings.ToUpper(strings.TrimSpace(token))
		if normalized == "" || strings.Contains(normalized, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTokenSet, token)
		}
		out = append(out, normalized)
	}
	sort.Strings(out)
	for i := 1; i < len(out); i++ {
		if out[i] == out[i-1] {
			return nil, fmt.Errorf("%w: duplicate %s", ErrInvalidTokenSet, out[i])
		}
	}
	return out, nil
}

// TokenSetID hashes a normalized token set.
func TokenSetID(normalized []string) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte(strings.Join(normalized, "/"))))
	return id
}

func tokenSetKey(epoch uint64, id [32]byte) []byte {
	buf := make([]byte, len(tokenSetPrefix)+8+len(id))
	n := copy(buf, tokenSetPrefix)
	binary.BigEndian.PutUint64(buf[n:], epoch)
	copy(buf[n+8:], id[:])
	return buf
}

func allocationKey(epoch uint64, pool [20]byte) []byte {
	buf := make([]byte, len(allocationPrefix)+8+len(pool))
	n := copy(buf, allocationPrefix)
	binary.BigEndian.PutUint64(buf[n:], epoch)
	copy(buf[n+8:], pool[:])
	return buf
}

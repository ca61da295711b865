package common

import "github.com/holiman/uint256"

// Roles recognised by the reward entry points.
const (
	RoleAdmin           = "admin"
	RoleRewardsOperator = "rewards_operator"
)

// Authorizer gates mutating entry points on caller roles. The caller must hold
// at least one of the listed roles.
type Authorizer interface {
	RequireRole(caller [20]byte, roles ...string) error
}

// Bank moves reward tokens between accounts. Transfer is atomic and any failure
// is fatal for the calling entry point.
type Bank interface {
	Balance(addr [20]byte, token string) (*uint256.Int, error)
	Transfer(token string, from, to [20]byte, value *uint256.Int) error
}

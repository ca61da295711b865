package rewards

var (
	poolMetaPrefix  = []byte("rewards/pool/")
	userStatePrefix = []byte("rewards/user/")
)

func poolMetaKey(pool [20]byte) []byte {
	buf := make([]byte, len(poolMetaPrefix)+len(pool))
	copy(buf, poolMetaPrefix)
	copy(buf[len(poolMetaPrefix):], pool[:])
	return buf
}

func userStateKey(pool, user [20]byte) []byte {
	buf := make([]byte, len(userStatePrefix)+len(pool)+len(user))
	n := copy(buf, userStatePrefix)
	n += copy(buf[n:], pool[:])
	copy(buf[n:], user[:])
	return buf
}

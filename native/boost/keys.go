package boost

var (
	poolStatePrefix = []byte("boost/pool/")
	userStatePrefix = []byte("boost/user/")
	poolIndexKey    = []byte("boost/index")
)

func poolStateKey(pool [20]byte) []byte {
	buf := make([]byte, len(poolStatePrefix)+len(pool))
	copy(buf, poolStatePrefix)
	copy(buf[len(poolStatePrefix):], pool[:])
	return buf
}

func userStateKey(pool, user [20]byte) []byte {
	buf := make([]byte, len(userStatePrefix)+len(pool)+len(user))
	n := copy(buf, userStatePrefix)
	n += copy(buf[n:], pool[:])
	copy(buf[n:], user[:])
	return buf
}

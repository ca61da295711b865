package accrual

import (
	"encoding/binary"
)

var (
	poolStatePrefix   = []byte("accrual/pool/")
	pageRecordPrefix  = []byte("accrual/page/")
	legacyBlockPrefix = []byte("accrual/legacy/")
)

func poolStateKey(pool [20]byte) []byte {
	buf := make([]byte, len(poolStatePrefix)+len(pool))
	copy(buf, poolStatePrefix)
	copy(buf[len(poolStatePrefix):], pool[:])
	return buf
}

func pageKey(pool [20]byte, level int, index uint64) []byte {
	buf := make([]byte, len(pageRecordPrefix)+len(pool)+1+8)
	n := copy(buf, pageRecordPrefix)
	n += copy(buf[n:], pool[:])
	buf[n] = byte(level)
	binary.BigEndian.PutUint64(buf[n+1:], index)
	return buf
}

func legacyBlockKey(pool [20]byte, block uint64) []byte {
	buf := make([]byte, len(legacyBlockPrefix)+len(pool)+8)
	n := copy(buf, legacyBlockPrefix)
	n += copy(buf[n:], pool[:])
	binary.BigEndian.PutUint64(buf[n:], block)
	return buf
}

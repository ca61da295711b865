package storage

import (
	"errors"
	"sort"
)

// CacheDB buffers writes on top of a parent Database. Reads fall through to the
// parent for keys that were not touched. Commit applies every buffered write to
// the parent in a single batch; Discard drops them.
//
// CacheDB is not safe for concurrent use.
type CacheDB struct {
	parent  Database
	dirty   map[string][]byte
	deleted map[string]struct{}
}

// NewCacheDB wraps the parent database.
func NewCacheDB(parent Database) *CacheDB {
	return &CacheDB{
		parent:  parent,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (c *CacheDB) Put(key []byte, value []byte) error {
	k := string(key)
	delete(c.deleted, k)
	c.dirty[k] = append([]byte(nil), value...)
	return nil
}

func (c *CacheDB) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := c.deleted[k]; ok {
		return nil, ErrNotFound
	}
	if value, ok := c.dirty[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return c.parent.Get(key)
}

func (c *CacheDB) Has(key []byte) (bool, error) {
	_, err := c.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *CacheDB) Delete(key []byte) error {
	k := string(key)
	delete(c.dirty, k)
	c.deleted[k] = struct{}{}
	return nil
}

// NewBatch returns a batch that lands in the cache layer on Write.
func (c *CacheDB) NewBatch() Batch {
	return &cacheBatch{cache: c}
}

// Close discards pending writes. The parent stays open.
func (c *CacheDB) Close() {
	c.Discard()
}

// Pending reports the number of buffered mutations.
func (c *CacheDB) Pending() int {
	return len(c.dirty) + len(c.deleted)
}

// Commit flushes buffered writes to the parent atomically and resets the cache.
func (c *CacheDB) Commit() error {
	if c.Pending() == 0 {
		return nil
	}
	batch := c.parent.NewBatch()
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	// Sorted so the batch contents are deterministic.
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), c.dirty[k])
	}
	for k := range c.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	c.Discard()
	return nil
}

// Discard drops every buffered write.
func (c *CacheDB) Discard() {
	c.dirty = make(map[string][]byte)
	c.deleted = make(map[string]struct{})
}

type cacheBatch struct {
	cache *CacheDB
	ops   []memOp
}

func (b *cacheBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *cacheBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
}

func (b *cacheBatch) Len() int { return len(b.ops) }

func (b *cacheBatch) Write() error {
	for _, op := range b.ops {
		if op.delete {
			_ = b.cache.Delete([]byte(op.key))
			continue
		}
		_ = b.cache.Put([]byte(op.key), op.value)
	}
	b.ops = nil
	return nil
}

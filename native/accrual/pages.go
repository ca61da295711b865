package accrual

import (
	"fmt"
	"math/bits"
	"strconv"

	"github.com/holiman/uint256"

	"poolrewards/core/amount"
)

type pageRef struct {
	level int
	index uint64
}

// pageReader resolves page values for one pool and caches every record it
// touches for the lifetime of a single query or write.
type pageReader struct {
	e       *Engine
	pool    [20]byte
	persist bool
	limit   uint64
	pages   map[pageRef]*storedPage
}

func (e *Engine) newReader(pool [20]byte, limit uint64, persist bool) *pageReader {
	return &pageReader{
		e:       e,
		pool:    pool,
		persist: persist,
		limit:   limit,
		pages:   make(map[pageRef]*storedPage),
	}
}

func mulSpan(span, size uint64) (uint64, bool) {
	hi, lo := bits.Mul64(span, size)
	return lo, hi == 0
}

func (r *pageReader) load(level int, index uint64) (*storedPage, error) {
	ref := pageRef{level: level, index: index}
	if page, ok := r.pages[ref]; ok {
		return page, nil
	}
	var stored storedPage
	ok, err := r.e.state.KVGet(pageKey(r.pool, level, index), &stored)
	if err != nil {
		return nil, err
	}
	var page *storedPage
	if ok {
		page = &stored
	}
	r.pages[ref] = page
	return page, nil
}

func (r *pageReader) store(level int, index uint64, page *storedPage) error {
	if err := r.e.state.KVPut(pageKey(r.pool, level, index), page); err != nil {
		return err
	}
	r.pages[pageRef{level: level, index: index}] = page
	return nil
}

// level0Page returns the level-0 page, converting it from legacy per-block
// records when the paged form has never been written. Conversion covers the
// blocks of the page up to and including upTo.
func (r *pageReader) level0Page(index, upTo uint64) (*storedPage, error) {
	page, err := r.load(0, index)
	if err != nil || page != nil {
		return page, err
	}
	size := r.e.params.PageSize
	start := index * size
	if upTo < start {
		return nil, nil
	}
	migrated := &storedPage{}
	for blk := start; blk <= upTo && blk < start+size; blk++ {
		var legacy storedLegacyBlock
		ok, err := r.e.state.KVGet(legacyBlockKey(r.pool, blk), &legacy)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		value := legacy.Value
		if value == nil {
			value = amount.ToBig(nil)
		}
		migrated.Values = append(migrated.Values, value)
	}
	if len(migrated.Values) == 0 {
		return nil, nil
	}
	if r.persist {
		if err := r.store(0, index, migrated); err != nil {
			return nil, err
		}
		r.e.telemetry.IncPageMigrated()
		r.e.logger.Info("accrual: migrated legacy page",
			"pool", poolLabel(r.pool), "page", index, "blocks", len(migrated.Values))
	} else {
		r.pages[pageRef{level: 0, index: index}] = migrated
	}
	return migrated, nil
}

// value returns entry j of level k: the sum of the level-0 values of blocks
// [j*P^k, (j+1)*P^k).
func (r *pageReader) value(level int, j uint64) (*uint256.Int, error) {
	size := r.e.params.PageSize
	index, slot := j/size, j%size
	var (
		page *storedPage
		err  error
	)
	if level == 0 {
		page, err = r.level0Page(index, r.limit)
	} else {
		page, err = r.load(level, index)
	}
	if err != nil {
		return nil, err
	}
	if page.has(slot) {
		return amount.FromBig(page.Values[slot-page.Offset])
	}
	if level == 0 {
		return nil, fmt.Errorf("%w: pool %s block %d", ErrPageMissing, poolLabel(r.pool), j)
	}
	r.e.logger.Warn("accrual: coarse page value missing, recomputing from finer level",
		"pool", poolLabel(r.pool), "level", level, "index", j)
	r.e.telemetry.IncPageFallback(strconv.Itoa(level))
	return r.children(level-1, j)
}

// children sums the P entries of level that make up entry j of level+1.
func (r *pageReader) children(level int, j uint64) (*uint256.Int, error) {
	size := r.e.params.PageSize
	total := amount.Zero()
	for i := uint64(0); i < size; i++ {
		v, err := r.value(level, j*size+i)
		if err != nil {
			return nil, err
		}
		if total, err = amount.Add(total, v); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (r *pageReader) appendValue(level int, j uint64, value *uint256.Int) error {
	size := r.e.params.PageSize
	index, slot := j/size, j%size
	var (
		page *storedPage
		err  error
	)
	if level == 0 {
		if slot > 0 {
			page, err = r.level0Page(index, j-1)
		} else {
			page, err = r.load(0, index)
		}
	} else {
		page, err = r.load(level, index)
	}
	if err != nil {
		return err
	}
	switch {
	case page == nil && (level > 0 || slot == 0):
		page = &storedPage{Offset: slot}
	case page.has(slot):
		return fmt.Errorf("%w: level %d index %d", ErrPageOverwrite, level, j)
	case page == nil || page.next() != slot:
		return fmt.Errorf("%w: pool %s level %d index %d", ErrPageMissing, poolLabel(r.pool), level, j)
	}
	page.Values = append(page.Values, amount.ToBig(value))
	return r.store(level, index, page)
}

// writeBlock records the per-share value of block b and every coarse value
// that block b completes.
func (e *Engine) writeBlock(pool [20]byte, b uint64, perShare *uint256.Int) error {
	r := e.newReader(pool, b, true)
	if err := r.appendValue(0, b, perShare); err != nil {
		return err
	}
	size := e.params.PageSize
	span := uint64(1)
	for level := 1; level <= e.params.MaxLevel; level++ {
		next, ok := mulSpan(span, size)
		if !ok || (b+1)%next != 0 {
			break
		}
		j := (b+1)/next - 1
		sum, err := r.children(level-1, j)
		if err != nil {
			return err
		}
		if err := r.appendValue(level, j, sum); err != nil {
			return err
		}
		span = next
	}
	return nil
}

// RangeReward returns the per-share reward generated over blocks start..end
// inclusive. Legacy pages touched by the walk are converted and persisted.
func (e *Engine) RangeReward(pool [20]byte, start, end uint64) (*uint256.Int, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	return e.rangeReward(pool, st, start, end, true)
}

func (e *Engine) rangeReward(pool [20]byte, st *PoolState, start, end uint64, persist bool) (*uint256.Int, error) {
	if st.Kind != KindPaginated {
		return nil, ErrNotPaginated
	}
	if start > end {
		return amount.Zero(), nil
	}
	if end > st.Block {
		return nil, fmt.Errorf("%w: end=%d block=%d", ErrRangeOutOfBounds, end, st.Block)
	}
	r := e.newReader(pool, st.Block, persist)
	size := e.params.PageSize
	total := amount.Zero()
	x := start
	for {
		level, span := 0, uint64(1)
		for level < e.params.MaxLevel {
			next, ok := mulSpan(span, size)
			if !ok || x%next != 0 || next-1 > end-x {
				break
			}
			level, span = level+1, next
		}
		v, err := r.value(level, x/span)
		if err != nil {
			return nil, err
		}
		if total, err = amount.Add(total, v); err != nil {
			return nil, err
		}
		if end-x < span {
			break
		}
		x += span
	}
	return total, nil
}

// PendingRange is the read-only form of RangeReward used by queries. Legacy
// pages are converted in memory only.
func (e *Engine) PendingRange(pool [20]byte, start, end uint64) (*uint256.Int, error) {
	st, err := e.requirePool(pool)
	if err != nil {
		return nil, err
	}
	return e.rangeReward(pool, st, start, end, false)
}

// ImportLegacy installs a paginated pool whose history is held in the legacy
// one-record-per-block layout. perBlock[b] is the per-share value of block b.
func (e *Engine) ImportLegacy(pool [20]byte, st *PoolState, perBlock []*uint256.Int) error {
	if e.state == nil {
		return errNilState
	}
	if st == nil || st.Kind != KindPaginated {
		return ErrNotPaginated
	}
	if uint64(len(perBlock)) != st.Block+1 {
		return fmt.Errorf("accrual: legacy import needs %d block values, got %d", st.Block+1, len(perBlock))
	}
	if _, ok, err := e.Pool(pool); err != nil {
		return err
	} else if ok {
		return ErrPoolExists
	}
	for b, v := range perBlock {
		if err := e.state.KVPut(legacyBlockKey(pool, uint64(b)), &storedLegacyBlock{Value: amount.ToBig(v)}); err != nil {
			return err
		}
	}
	return e.putPool(pool, st.Clone())
}

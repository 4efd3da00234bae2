package halloc

import (
	"fmt"
)

// PoolStats ...
type PoolStats struct {
	Capacity  uint32
	Cursor    uint32
	Remaining uint32
	LiveBytes uint64
	Objects   uint32
	Overflows uint32
}

// CreatePool creates a pool context holding one backing block of capacity bytes.
// Every allocation under the pool, or under a context carved from it, is
// bump-allocated from that block; once it is full allocations fall back to the
// heap while staying children of the requesting context.
//
// Freeing a pool object only marks its slot dead. The block goes back to where it
// came from when the pool is freed and no object carved from it is still alive.
func (t *Tree) CreatePool(parent Ctx, capacity int) (Ctx, error) {
	p, err := t.resolveParent(parent)
	if err != nil {
		return Null, err
	}
	size, err := checkSize(capacity)
	if err != nil {
		return Null, err
	}

	mem, err := t.obtainRegion(p, size)
	if err != nil {
		return Null, err
	}

	index := t.newNode(p, kindPool, size, unnamed)
	n := &t.nodes[index]
	n.mem = mem
	n.region = newPoolRegion(mem, size, t.align)
	return t.ctxOf(index), nil
}

// obtainRegion finds the backing block of a new pool or cache. Under a cache it
// takes contiguous fresh slots, anywhere else it allocates like a normal child.
func (t *Tree) obtainRegion(parent uint32, size uint32) (backing, error) {
	n := &t.nodes[parent]
	if size != 0 && n.kind == kindCache && !n.region.closed {
		if mem, ok := n.region.carveRange(size); ok {
			return mem, nil
		}
		return t.fromHeap(size)
	}
	return t.obtain(parent, size)
}

// PoolStats ...
func (t *Tree) PoolStats(pool Ctx) (PoolStats, error) {
	index, err := t.resolve(pool)
	if err != nil {
		return PoolStats{}, err
	}
	n := &t.nodes[index]
	if n.kind != kindPool {
		return PoolStats{}, fmt.Errorf("%w: %s is a %s", ErrNotPool, pool, n.kind)
	}

	r := n.region
	return PoolStats{
		Capacity:  r.bump.Capacity(),
		Cursor:    r.bump.Cursor(),
		Remaining: r.bump.Remaining(),
		LiveBytes: r.used,
		Objects:   r.objects,
		Overflows: r.overflow,
	}, nil
}

package halloc

import (
	"fmt"
)

// CacheStats ...
type CacheStats struct {
	SlotSize  uint32
	Slots     uint32
	FreeSlots uint32
	InUse     uint32
}

// CreatePoolCache creates a bounded cache of capacity / slotSize slots of slotSize bytes.
// A slot size above capacity gives a cache without slots.
// Slots are handed out by Request and go back to the cache when freed.
func (t *Tree) CreatePoolCache(parent Ctx, capacity int, slotSize int) (Ctx, error) {
	p, err := t.resolveParent(parent)
	if err != nil {
		return Null, err
	}
	if slotSize == 0 {
		return Null, fmt.Errorf("%w: slot size 0", ErrInvalidSize)
	}
	slot, err := checkSize(slotSize)
	if err != nil {
		return Null, err
	}
	total, err := checkSize(capacity)
	if err != nil {
		return Null, err
	}
	usable := total / slot * slot

	mem, err := t.obtainRegion(p, usable)
	if err != nil {
		return Null, err
	}

	index := t.newNode(p, kindCache, usable, unnamed)
	n := &t.nodes[index]
	n.mem = mem
	n.region = newCacheRegion(mem, usable, slot)
	return t.ctxOf(index), nil
}

// Request takes one slot from cache: a released slot if there is one, else a
// fresh one. It fails with ErrCacheExhausted and never falls back to the heap.
func (t *Tree) Request(cache Ctx) (Ctx, error) {
	index, err := t.resolve(cache)
	if err != nil {
		return Null, err
	}
	n := &t.nodes[index]
	if n.kind != kindCache {
		return Null, fmt.Errorf("%w: %s is a %s", ErrNotCache, cache, n.kind)
	}

	mem, ok := n.region.request()
	if !ok {
		t.logger.Debug("pool cache exhausted",
			"cache", n.name,
			"slots", n.region.slots.NumSlots(),
		)
		return Null, fmt.Errorf("%w: %q", ErrCacheExhausted, n.name)
	}

	slot := t.newNode(index, kindPlain, n.region.slots.ElemSize(), unnamed)
	t.nodes[slot].mem = mem
	return t.ctxOf(slot), nil
}

// CacheStats ...
func (t *Tree) CacheStats(cache Ctx) (CacheStats, error) {
	index, err := t.resolve(cache)
	if err != nil {
		return CacheStats{}, err
	}
	n := &t.nodes[index]
	if n.kind != kindCache {
		return CacheStats{}, fmt.Errorf("%w: %s is a %s", ErrNotCache, cache, n.kind)
	}

	slots := n.region.slots
	return CacheStats{
		SlotSize:  slots.ElemSize(),
		Slots:     slots.NumSlots(),
		FreeSlots: slots.NumFree(),
		InUse:     n.region.objects,
	}, nil
}

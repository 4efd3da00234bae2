package halloc

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

// Alloc allocates size bytes as a new last child of parent.
func (t *Tree) Alloc(parent Ctx, size int) (Ctx, error) {
	p, err := t.resolveParent(parent)
	if err != nil {
		return Null, err
	}
	n, err := checkSize(size)
	if err != nil {
		return Null, err
	}

	index, err := t.allocate(p, kindPlain, n, unnamed)
	if err != nil {
		return Null, err
	}
	return t.ctxOf(index), nil
}

// AllocZeroed is Alloc with the memory cleared.
func (t *Tree) AllocZeroed(parent Ctx, size int) (Ctx, error) {
	c, err := t.Alloc(parent, size)
	if err != nil {
		return Null, err
	}
	clear(t.Bytes(c))
	return c, nil
}

// NewContext creates a zero-size context, useful as a parent for grouping.
func (t *Tree) NewContext(parent Ctx) (Ctx, error) {
	return t.Alloc(parent, 0)
}

// Strdup copies s into a new child of parent, named s.
func (t *Tree) Strdup(parent Ctx, s string) (Ctx, error) {
	c, err := t.Alloc(parent, len(s))
	if err != nil {
		return Null, err
	}
	copy(t.Bytes(c), s)
	t.nodes[c.index].name = s
	return c, nil
}

// AllocType allocates zeroed memory sized for a T, named after the type.
func AllocType[T any](t *Tree, parent Ctx) (Ctx, error) {
	var zero T
	c, err := t.AllocZeroed(parent, int(unsafe.Sizeof(zero)))
	if err != nil {
		return Null, err
	}
	t.nodes[c.index].name = reflect.TypeOf((*T)(nil)).Elem().String()
	return c, nil
}

func (t *Tree) allocate(parent uint32, kind nodeKind, size uint32, name string) (uint32, error) {
	mem, err := t.obtain(parent, size)
	if err != nil {
		return 0, err
	}
	index := t.newNode(parent, kind, size, name)
	t.nodes[index].mem = mem
	return index, nil
}

// regionFor returns the pool region children of parent are carved from, if any.
func (t *Tree) regionFor(parent uint32) *region {
	n := &t.nodes[parent]
	switch n.kind {
	case kindPool:
		return n.region
	case kindCache, kindReference:
		return nil
	}
	if n.mem == nil {
		return nil
	}
	return n.mem.bumpRegion()
}

// obtain finds memory for a child of parent: the pool first, then the heap.
func (t *Tree) obtain(parent uint32, size uint32) (backing, error) {
	if size == 0 {
		return nil, nil
	}

	r := t.regionFor(parent)
	if r == nil {
		return t.fromHeap(size)
	}
	if mem, ok := r.carve(size); ok {
		return mem, nil
	}

	mem, err := t.fromHeap(size)
	if err != nil {
		return nil, err
	}
	r.overflow++
	t.logger.Debug("pool exhausted, allocated overflow block",
		"pool", t.nodes[parent].name,
		"size", size,
		"remaining", r.bump.Remaining(),
	)
	return mem, nil
}

func (t *Tree) fromHeap(size uint32) (backing, error) {
	block, ok := t.heap.Allocate(size)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutOfMemory, size)
	}
	return &heapBacking{block: block}, nil
}

// Realloc changes the size of c, keeping the leading bytes.
// Pool objects grow in place when they are the last bump allocation; cache slots
// shrink in place. Anything else moves to fresh memory found like Alloc would.
func (t *Tree) Realloc(c Ctx, size int) error {
	index, err := t.resolve(c)
	if err != nil {
		return err
	}
	newSize, err := checkSize(size)
	if err != nil {
		return err
	}

	n := &t.nodes[index]
	if n.kind != kindPlain {
		return fmt.Errorf("halloc: resize %s: %w", n.kind, errors.ErrUnsupported)
	}
	if newSize == n.size {
		return nil
	}
	if n.mem != nil && newSize != 0 && n.mem.resize(newSize) {
		n.size = newSize
		return nil
	}

	mem, err := t.obtain(n.parent, newSize)
	if err != nil {
		return err
	}

	n = &t.nodes[index]
	old := n.mem
	if old != nil {
		copy(bytesOf(mem), old.bytes())
		old.release(t)
	}
	n.mem = mem
	n.size = newSize
	return nil
}

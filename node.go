package halloc

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/QuangTung97/halloc/allocator"
	"github.com/QuangTung97/halloc/ilist"
)

type nodeKind uint8

const (
	kindPlain nodeKind = iota
	kindPool
	kindCache
	kindReference
)

func (k nodeKind) String() string {
	switch k {
	case kindPool:
		return "pool"
	case kindCache:
		return "pool cache"
	case kindReference:
		return "reference"
	default:
		return "context"
	}
}

const (
	unnamed       = "UNNAMED"
	nullName      = "null_context"
	referenceName = ".reference"
)

// node is the chunk header of one context.
type node struct {
	gen  uint32
	live bool
	kind nodeKind
	size uint32
	name string

	destructor Destructor
	value      any

	parent   uint32
	siblings ilist.Links
	children ilist.List

	// refs lists the reference nodes pointing at this node.
	refs ilist.List

	// Reference nodes only: the referenced node, a location tag, and the links on target.refs.
	target   uint32
	location string
	refLinks ilist.Links

	mem    backing
	region *region // pools and caches
}

// backing says where the bytes of a node came from.
type backing interface {
	bytes() []byte
	release(t *Tree)
	// resize tries to change the size in place.
	resize(newSize uint32) bool
	// bumpRegion is the open pool region children of this node may carve from, nil otherwise.
	bumpRegion() *region
}

type heapBacking struct {
	block allocator.Block
}

func (b *heapBacking) bytes() []byte {
	return b.block.Data
}

func (b *heapBacking) release(t *Tree) {
	t.heap.Deallocate(b.block)
}

func (b *heapBacking) resize(uint32) bool {
	return false
}

func (b *heapBacking) bumpRegion() *region {
	return nil
}

// bumpBacking is an object carved by the bump cursor of a plain pool.
type bumpBacking struct {
	r      *region
	offset uint32
	size   uint32
}

func (b *bumpBacking) bytes() []byte {
	return b.r.slice(b.offset, b.size)
}

func (b *bumpBacking) release(t *Tree) {
	b.r.untrack(t, b.offset, b.size)
}

func (b *bumpBacking) resize(newSize uint32) bool {
	if b.r.closed || !b.r.bump.Resize(b.offset, b.size, newSize) {
		return false
	}
	b.r.used = b.r.used - uint64(b.size) + uint64(newSize)
	b.size = newSize
	return true
}

func (b *bumpBacking) bumpRegion() *region {
	if b.r.closed {
		return nil
	}
	return b.r
}

// slotBacking is one slot of a pool cache.
type slotBacking struct {
	r      *region
	offset uint32
	size   uint32
}

func (b *slotBacking) bytes() []byte {
	return b.r.slice(b.offset, b.size)
}

func (b *slotBacking) release(t *Tree) {
	slotSize := b.r.slots.ElemSize()
	if !b.r.closed {
		b.r.slots.Deallocate(b.offset)
	}
	b.r.untrack(t, b.offset, slotSize)
}

func (b *slotBacking) resize(newSize uint32) bool {
	if newSize > b.r.slots.ElemSize() {
		return false
	}
	b.size = newSize
	return true
}

func (b *slotBacking) bumpRegion() *region {
	return nil
}

// rangeBacking is a run of never-used cache slots holding a nested pool or cache.
type rangeBacking struct {
	r      *region
	offset uint32
	size   uint32
}

func (b *rangeBacking) bytes() []byte {
	return b.r.slice(b.offset, b.size)
}

func (b *rangeBacking) release(t *Tree) {
	if !b.r.closed {
		b.r.slots.DeallocateRange(b.offset, b.size)
	}
	b.r.untrack(t, b.offset, b.size)
}

func (b *rangeBacking) resize(uint32) bool {
	return false
}

func (b *rangeBacking) bumpRegion() *region {
	return nil
}

// region is the backing block of a pool or a pool cache.
type region struct {
	data  []byte
	bump  allocator.Bump       // plain pools
	slots *allocator.SlotCache // pool caches

	// live holds the offsets of the objects carved from data.
	live     *roaring.Bitmap
	objects  uint32
	used     uint64
	overflow uint32

	// closed is set once the owning pool is freed; data is released with the last object.
	closed bool
	self   backing
}

func newPoolRegion(mem backing, capacity uint32, align uint32) *region {
	return &region{
		data: bytesOf(mem),
		bump: allocator.NewBump(capacity, align),
		live: roaring.New(),
		self: mem,
	}
}

func newCacheRegion(mem backing, capacity uint32, slotSize uint32) *region {
	return &region{
		data:  bytesOf(mem),
		slots: allocator.NewSlotCache(slotSize, capacity),
		live:  roaring.New(),
		self:  mem,
	}
}

func bytesOf(mem backing) []byte {
	if mem == nil {
		return nil
	}
	return mem.bytes()
}

func (r *region) slice(offset uint32, size uint32) []byte {
	return r.data[offset : offset+size : offset+size]
}

func (r *region) track(offset uint32, size uint32) {
	r.live.Add(offset)
	r.objects++
	r.used += uint64(size)
}

func (r *region) untrack(t *Tree, offset uint32, size uint32) {
	if !r.live.CheckedRemove(offset) {
		panic("halloc: pool object released twice")
	}
	r.objects--
	r.used -= uint64(size)
	r.maybeRelease(t)
}

// carve bump-allocates size bytes from a plain pool.
func (r *region) carve(size uint32) (backing, bool) {
	offset, ok := r.bump.Allocate(size)
	if !ok {
		return nil, false
	}
	r.track(offset, size)
	return &bumpBacking{r: r, offset: offset, size: size}, true
}

// carveRange takes contiguous fresh slots from a cache.
func (r *region) carveRange(size uint32) (backing, bool) {
	offset, ok := r.slots.AllocateRange(size)
	if !ok {
		return nil, false
	}
	r.track(offset, size)
	return &rangeBacking{r: r, offset: offset, size: size}, true
}

func (r *region) request() (backing, bool) {
	offset, ok := r.slots.Allocate()
	if !ok {
		return nil, false
	}
	size := r.slots.ElemSize()
	r.track(offset, size)
	return &slotBacking{r: r, offset: offset, size: size}, true
}

func (r *region) close(t *Tree) {
	r.closed = true
	r.maybeRelease(t)
}

func (r *region) maybeRelease(t *Tree) {
	if !r.closed || r.objects != 0 || r.self == nil {
		return
	}
	self := r.self
	r.self = nil
	r.data = nil
	self.release(t)
}

package allocator

// Block is a piece of memory handed out by a Heap.
type Block struct {
	Data []byte

	addr    uint32
	sizeLog uint32
}

// Len ...
func (b Block) Len() uint32 {
	return uint32(len(b.Data))
}

// Heap is the general allocator behind every context that is not carved from a pool.
type Heap interface {
	// Allocate returns a zeroed block of exactly size bytes, false when out of memory.
	Allocate(size uint32) (Block, bool)
	Deallocate(b Block)
	GetMemUsage() uint64
}

// GoHeap allocates blocks from the Go heap, optionally bounded by a byte limit.
type GoHeap struct {
	limit       uint64
	memoryUsage uint64
}

var _ Heap = &GoHeap{}

// NewGoHeap creates a GoHeap. A limit of 0 means unbounded.
func NewGoHeap(limit uint64) *GoHeap {
	return &GoHeap{limit: limit}
}

// Allocate ...
func (h *GoHeap) Allocate(size uint32) (Block, bool) {
	if size == 0 {
		return Block{}, true
	}
	if h.limit != 0 && h.memoryUsage+uint64(size) > h.limit {
		return Block{}, false
	}
	h.memoryUsage += uint64(size)
	return Block{Data: make([]byte, size)}, true
}

// Deallocate ...
func (h *GoHeap) Deallocate(b Block) {
	h.memoryUsage -= uint64(len(b.Data))
}

// GetMemUsage ...
func (h *GoHeap) GetMemUsage() uint64 {
	return h.memoryUsage
}

package allocator

// MmapHeap allocates every block as its own anonymous memory mapping,
// keeping large pool backings outside of the Go heap.
type MmapHeap struct {
	limit       uint64
	memoryUsage uint64
	mapFailures uint64
}

var _ Heap = &MmapHeap{}

// NewMmapHeap creates a MmapHeap. A limit of 0 means unbounded.
func NewMmapHeap(limit uint64) *MmapHeap {
	return &MmapHeap{limit: limit}
}

func roundToPage(size uint32) uint64 {
	page := uint64(pageSize())
	return (uint64(size) + page - 1) / page * page
}

// Allocate ...
func (h *MmapHeap) Allocate(size uint32) (Block, bool) {
	if size == 0 {
		return Block{}, true
	}

	mapped := roundToPage(size)
	if h.limit != 0 && h.memoryUsage+mapped > h.limit {
		return Block{}, false
	}

	data, err := osMapAnon(int(mapped))
	if err != nil {
		h.mapFailures++
		return Block{}, false
	}
	h.memoryUsage += mapped

	return Block{Data: data[:size]}, true
}

// Deallocate unmaps the whole mapping behind b.
func (h *MmapHeap) Deallocate(b Block) {
	if b.Data == nil {
		return
	}
	mapping := b.Data[:cap(b.Data)]
	if err := osUnmap(mapping); err != nil {
		panic("munmap failed: " + err.Error())
	}
	h.memoryUsage -= uint64(len(mapping))
}

// GetMemUsage returns the bytes currently mapped.
func (h *MmapHeap) GetMemUsage() uint64 {
	return h.memoryUsage
}

// MapFailures returns how many mappings the OS refused.
func (h *MmapHeap) MapFailures() uint64 {
	return h.mapFailures
}

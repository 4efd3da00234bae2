package allocator

// SlotCache manages numSlots slots of elemSize bytes inside a fixed region.
// Released slots are reused, most recent first, before the never-used tail is touched.
type SlotCache struct {
	elemSize    uint32
	numSlots    uint32
	cursor      uint32
	memoryUsage uint64

	freeList []uint32
}

// NewSlotCache creates a cache of capacity / elemSize slots.
func NewSlotCache(elemSize uint32, capacity uint32) *SlotCache {
	if elemSize == 0 {
		panic("elemSize must > 0")
	}
	return &SlotCache{
		elemSize: elemSize,
		numSlots: capacity / elemSize,
	}
}

func (s *SlotCache) contentOfList() []uint32 {
	var result []uint32
	for i := len(s.freeList) - 1; i >= 0; i-- {
		result = append(result, s.freeList[i])
	}
	return result
}

func (s *SlotCache) limit() uint32 {
	return s.numSlots * s.elemSize
}

// Allocate returns the address of a slot, false when every slot is in use.
func (s *SlotCache) Allocate() (uint32, bool) {
	if n := len(s.freeList); n > 0 {
		addr := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.memoryUsage += uint64(s.elemSize)
		return addr, true
	}

	if s.cursor >= s.limit() {
		return 0, false
	}
	addr := s.cursor
	s.cursor += s.elemSize
	s.memoryUsage += uint64(s.elemSize)
	return addr, true
}

// Deallocate ...
func (s *SlotCache) Deallocate(addr uint32) {
	s.memoryUsage -= uint64(s.elemSize)
	s.freeList = append(s.freeList, addr)
}

func (s *SlotCache) slotsFor(size uint32) uint32 {
	return (size + s.elemSize - 1) / s.elemSize
}

// AllocateRange takes enough contiguous never-used slots to hold size bytes.
func (s *SlotCache) AllocateRange(size uint32) (uint32, bool) {
	n := s.slotsFor(size)
	if n == 0 || uint64(s.cursor)+uint64(n)*uint64(s.elemSize) > uint64(s.limit()) {
		return 0, false
	}
	addr := s.cursor
	s.cursor += n * s.elemSize
	s.memoryUsage += uint64(n) * uint64(s.elemSize)
	return addr, true
}

// DeallocateRange gives back every slot taken by AllocateRange(size) at addr.
func (s *SlotCache) DeallocateRange(addr uint32, size uint32) {
	n := s.slotsFor(size)
	for i := n; i > 0; i-- {
		s.Deallocate(addr + (i-1)*s.elemSize)
	}
}

// ElemSize ...
func (s *SlotCache) ElemSize() uint32 {
	return s.elemSize
}

// NumSlots ...
func (s *SlotCache) NumSlots() uint32 {
	return s.numSlots
}

// NumFree returns the slots Allocate can still hand out.
func (s *SlotCache) NumFree() uint32 {
	return uint32(len(s.freeList)) + (s.limit()-s.cursor)/s.elemSize
}

// Cursor ...
func (s *SlotCache) Cursor() uint32 {
	return s.cursor
}

// GetMemUsage ...
func (s *SlotCache) GetMemUsage() uint64 {
	return s.memoryUsage
}

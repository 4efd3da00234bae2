package allocator

// Bump hands out increasing offsets inside a fixed capacity. Nothing is ever given back.
type Bump struct {
	capacity uint32
	cursor   uint32
	align    uint32
}

// NewBump creates a Bump, align must be a power of two (0 means 1).
func NewBump(capacity uint32, align uint32) Bump {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		panic("align must be a power of two")
	}
	return Bump{
		capacity: capacity,
		align:    align,
	}
}

func (b *Bump) alignedCursor() uint64 {
	mask := uint64(b.align - 1)
	return (uint64(b.cursor) + mask) &^ mask
}

// Allocate returns the offset of size fresh bytes.
func (b *Bump) Allocate(size uint32) (uint32, bool) {
	start := b.alignedCursor()
	if start+uint64(size) > uint64(b.capacity) {
		return 0, false
	}
	b.cursor = uint32(start) + size
	return uint32(start), true
}

// Resize grows or shrinks the most recent allocation in place.
func (b *Bump) Resize(addr uint32, oldSize uint32, newSize uint32) bool {
	if addr+oldSize != b.cursor {
		return false
	}
	if uint64(addr)+uint64(newSize) > uint64(b.capacity) {
		return false
	}
	b.cursor = addr + newSize
	return true
}

// Cursor ...
func (b *Bump) Cursor() uint32 {
	return b.cursor
}

// Capacity ...
func (b *Bump) Capacity() uint32 {
	return b.capacity
}

// Remaining ...
func (b *Bump) Remaining() uint32 {
	start := b.alignedCursor()
	if start >= uint64(b.capacity) {
		return 0
	}
	return b.capacity - uint32(start)
}

package allocator

import "unsafe"

// HeapConfig ...
type HeapConfig struct {
	MemLimit        int
	MinBlockSizeLog uint32
}

// BuddyHeap is a Heap with a hard memory limit, backed by one pre-allocated buddy arena.
// Every block is rounded up to a power of two, at least 1 << MinBlockSizeLog bytes.
type BuddyHeap struct {
	buddy Buddy

	memoryUsage uint64
}

var _ Heap = &BuddyHeap{}

func findSizeMultiple(minSizeLog uint32, limit int) uint32 {
	mask := 1<<minSizeLog - 1
	return uint32((limit + mask) >> minSizeLog)
}

// allocateData returns a byte view over 8-byte aligned memory so list heads can be stored in it.
func allocateData(minSizeLog uint32, sizeMultiple uint32) []byte {
	numBytes := uint64(sizeMultiple) << minSizeLog
	words := make([]uint64, (numBytes+7)>>3)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), numBytes)
}

func heapValidateConfig(conf HeapConfig) {
	if conf.MemLimit <= 0 {
		panic("MemLimit must > 0")
	}
	if conf.MinBlockSizeLog < minBuddySizeLog {
		panic("MinBlockSizeLog must >= 4")
	}
	if uint64(conf.MemLimit) >= 1<<32 {
		panic("MemLimit must < 4GB")
	}
}

// NewBuddyHeap ...
func NewBuddyHeap(conf HeapConfig) *BuddyHeap {
	heapValidateConfig(conf)

	sizeMultiple := findSizeMultiple(conf.MinBlockSizeLog, conf.MemLimit)
	data := allocateData(conf.MinBlockSizeLog, sizeMultiple)

	result := &BuddyHeap{}
	BuddyInit(&result.buddy, conf.MinBlockSizeLog, sizeMultiple, data)
	return result
}

// Allocate ...
func (h *BuddyHeap) Allocate(size uint32) (Block, bool) {
	if size == 0 {
		return Block{}, true
	}

	sizeLog, ok := h.buddy.SizeLogFor(size)
	if !ok {
		return Block{}, false
	}
	addr, ok := h.buddy.Allocate(sizeLog)
	if !ok {
		return Block{}, false
	}

	data := h.buddy.Bytes(addr, size)
	clear(data)
	h.memoryUsage += 1 << sizeLog

	return Block{Data: data, addr: addr, sizeLog: sizeLog}, true
}

// Deallocate ...
func (h *BuddyHeap) Deallocate(b Block) {
	if b.Data == nil {
		return
	}
	h.memoryUsage -= 1 << b.sizeLog
	h.buddy.Deallocate(b.addr, b.sizeLog)
}

// GetMemUsage returns the bytes held by live blocks, including power-of-two rounding.
func (h *BuddyHeap) GetMemUsage() uint64 {
	return h.memoryUsage
}

package allocator

import (
	"math"
	"math/bits"
	"unsafe"
)

const (
	buddyNullPtr uint32 = math.MaxUint32

	// minBuddySizeLog keeps every free block large enough to hold a buddyListHead.
	minBuddySizeLog uint32 = 4
)

// Buddy is a binary buddy allocator over a single fixed arena.
// Addresses are byte offsets into the arena.
type Buddy struct {
	minSize      uint32
	maxSize      uint32
	sizeMultiple uint32
	data         []byte
	buckets      []uint32
	free         freeBits
}

// buddyListHead is written into the first bytes of every free block.
type buddyListHead struct {
	next         uint32
	prev         uint32
	bucketOffset uint32
}

// freeBits has one bit per min-size block, set when a free block starts there.
type freeBits struct {
	shift uint32
	words []uint64
}

func newFreeBits(shift uint32, numBlocks uint32) freeBits {
	return freeBits{
		shift: shift,
		words: make([]uint64, (numBlocks+63)>>6),
	}
}

func (f freeBits) set(addr uint32) {
	index := addr >> f.shift
	f.words[index>>6] |= 1 << (index & 0x3f)
}

func (f freeBits) clear(addr uint32) {
	index := addr >> f.shift
	f.words[index>>6] &^= 1 << (index & 0x3f)
}

func (f freeBits) isSet(addr uint32) bool {
	index := addr >> f.shift
	return f.words[index>>6]&(1<<(index&0x3f)) != 0
}

// splitIntoPowers returns the positions of the set bits of sizeMultiple, lowest first.
func splitIntoPowers(sizeMultiple uint32) []uint32 {
	var result []uint32
	for sizeMultiple != 0 {
		pos := uint32(bits.TrailingZeros32(sizeMultiple))
		result = append(result, pos)
		sizeMultiple &^= 1 << pos
	}
	return result
}

// BuddyInit prepares b to manage data, which must hold sizeMultiple blocks of 1 << minSizeLog bytes.
func BuddyInit(b *Buddy, minSizeLog uint32, sizeMultiple uint32, data []byte) {
	if minSizeLog < minBuddySizeLog {
		panic("minSizeLog must >= 4")
	}
	if sizeMultiple == 0 {
		panic("sizeMultiple must > 0")
	}
	if uint64(len(data)) < uint64(sizeMultiple)<<minSizeLog {
		panic("data is smaller than sizeMultiple blocks")
	}

	powers := splitIntoPowers(sizeMultiple)
	largest := powers[len(powers)-1]

	b.minSize = minSizeLog
	b.maxSize = largest + minSizeLog
	b.sizeMultiple = sizeMultiple
	b.data = data
	b.buckets = make([]uint32, largest+1)
	for i := range b.buckets {
		b.buckets[i] = buddyNullPtr
	}
	b.free = newFreeBits(minSizeLog, sizeMultiple)

	// Largest blocks first, so the biggest block starts at address 0.
	addr := uint32(0)
	for i := len(powers) - 1; i >= 0; i-- {
		offset := powers[i]
		b.push(offset, addr)
		addr += 1 << (offset + minSizeLog)
	}
}

func (b *Buddy) head(addr uint32) *buddyListHead {
	return (*buddyListHead)(unsafe.Pointer(&b.data[addr]))
}

func (b *Buddy) push(offset uint32, addr uint32) {
	node := b.head(addr)
	root := b.buckets[offset]
	if root != buddyNullPtr {
		b.head(root).prev = addr
	}
	node.next = root
	node.prev = buddyNullPtr
	node.bucketOffset = offset
	b.buckets[offset] = addr
	b.free.set(addr)
}

func (b *Buddy) remove(offset uint32, addr uint32) {
	node := b.head(addr)
	if node.next != buddyNullPtr {
		b.head(node.next).prev = node.prev
	}
	if node.prev != buddyNullPtr {
		b.head(node.prev).next = node.next
	} else {
		b.buckets[offset] = node.next
	}
	b.free.clear(addr)
}

func (b *Buddy) contentOfList(sizeLog uint32) []uint32 {
	var result []uint32
	for addr := b.buckets[sizeLog-b.minSize]; addr != buddyNullPtr; addr = b.head(addr).next {
		result = append(result, addr)
	}
	return result
}

// Bytes returns the size bytes starting at addr.
func (b *Buddy) Bytes(addr uint32, size uint32) []byte {
	end := uint64(addr) + uint64(size)
	return b.data[addr:end:end]
}

// SizeLogFor returns the smallest block order able to hold size bytes, false if no block can.
func (b *Buddy) SizeLogFor(size uint32) (uint32, bool) {
	sizeLog := b.minSize
	if size > 1<<b.minSize {
		sizeLog = uint32(bits.Len32(size - 1))
	}
	if sizeLog > b.maxSize {
		return 0, false
	}
	return sizeLog, true
}

// Allocate returns the address of a free block of 1 << sizeLog bytes.
func (b *Buddy) Allocate(sizeLog uint32) (uint32, bool) {
	offset := sizeLog - b.minSize
	maxOffset := b.maxSize - b.minSize

	found := offset
	for found <= maxOffset && b.buckets[found] == buddyNullPtr {
		found++
	}
	if found > maxOffset {
		return 0, false
	}

	addr := b.buckets[found]
	b.remove(found, addr)

	// Hand the upper halves back while splitting down to the requested order.
	for i := found; i > offset; i-- {
		b.push(i-1, addr+(1<<(i-1+b.minSize)))
	}
	return addr, true
}

func computeRootAndNeighborAddr(addr uint32, sizeLog uint32) (uint32, uint32) {
	rootAddr := addr &^ (1<<(sizeLog+1) - 1)
	if rootAddr == addr {
		return rootAddr, addr + (1 << sizeLog)
	}
	return rootAddr, rootAddr
}

// Deallocate returns a block of 1 << sizeLog bytes, merging it with free buddies.
func (b *Buddy) Deallocate(addr uint32, sizeLog uint32) {
	offset := sizeLog - b.minSize

	for sizeLog < b.maxSize {
		rootAddr, neighborAddr := computeRootAndNeighborAddr(addr, sizeLog)
		if neighborAddr>>b.minSize >= b.sizeMultiple {
			break
		}
		if !b.free.isSet(neighborAddr) || b.head(neighborAddr).bucketOffset != offset {
			break
		}

		b.remove(offset, neighborAddr)
		addr = rootAddr
		sizeLog++
		offset++
	}

	b.push(offset, addr)
}

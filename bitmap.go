package sfs

import (
	"github.com/boljen/go-bitmap"
)

// bitmapAllocator tracks free/used data blocks. It keeps the bitmap
// resident in memory for the life of the mount and rewrites the bitmap
// block whole on every allocation/deallocation, trading throughput for
// simplicity as the design calls for.
//
// The underlying storage comes from github.com/boljen/go-bitmap.
type bitmapAllocator struct {
	bm             bitmap.Bitmap
	firstDataBlock uint32
	totalBlocks    uint32
}

func newBitmapAllocator(totalBlocks, firstDataBlock uint32) *bitmapAllocator {
	return &bitmapAllocator{
		bm:             bitmap.New(int(totalBlocks)),
		firstDataBlock: firstDataBlock,
		totalBlocks:    totalBlocks,
	}
}

func loadBitmapAllocator(data []byte, totalBlocks, firstDataBlock uint32) *bitmapAllocator {
	bm := bitmap.New(int(totalBlocks))
	copy(bm, data)
	return &bitmapAllocator{bm: bm, firstDataBlock: firstDataBlock, totalBlocks: totalBlocks}
}

func (a *bitmapAllocator) bytes(blockSize uint32) []byte {
	out := make([]byte, blockSize)
	copy(out, a.bm)
	return out
}

func (a *bitmapAllocator) markUsed(id uint32) {
	a.bm.Set(int(id), true)
}

func (a *bitmapAllocator) markFree(id uint32) {
	// Blocks 0..firstDataBlock-1 are protected metadata and are never freed
	// here; the bitmap block at firstDataBlock is not covered by this check.
	if id < a.firstDataBlock {
		return
	}
	a.bm.Set(int(id), false)
}

func (a *bitmapAllocator) isUsed(id uint32) bool {
	return a.bm.Get(int(id))
}

// allocate scans from the lowest index for the first free bit, marks it
// used, and returns its id. Returns NoSpace on exhaustion.
func (a *bitmapAllocator) allocate() (uint32, error) {
	for i := uint32(0); i < a.totalBlocks; i++ {
		if !a.bm.Get(int(i)) {
			a.bm.Set(int(i), true)
			return i, nil
		}
	}
	return 0, newError(NoSpace, "allocateNextBlock", "")
}

func (a *bitmapAllocator) freeCount() uint32 {
	var free uint32
	for i := uint32(0); i < a.totalBlocks; i++ {
		if !a.bm.Get(int(i)) {
			free++
		}
	}
	return free
}

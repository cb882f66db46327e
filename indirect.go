package sfs

import (
	multierror "github.com/hashicorp/go-multierror"
)

// indirectLevel identifies where in the {direct, single, double} hierarchy
// a logical block falls, per the state-machine shape called for in the
// design notes: a shared "read one indirection block and index it"
// step serves both single- and double-indirect traversal.
type indirectLevel int

const (
	levelDirect indirectLevel = iota
	levelSingle
	levelDouble
)

// indirectMapper translates (inode, logical byte offset) to a block id and
// allocates new blocks on demand, filling holes left-to-right.
type indirectMapper struct {
	io  *blockIO
	bm  *bitmapAllocator
	l   layout
	sb  *Superblock
	sbW func() error // persists sb and the bitmap after a counter change
}

func newIndirectMapper(io *blockIO, bm *bitmapAllocator, l layout, sb *Superblock, sbW func() error) *indirectMapper {
	return &indirectMapper{io: io, bm: bm, l: l, sb: sb, sbW: sbW}
}

// blockLocation is the traversal path locateBlock decomposes a logical
// block index into: which direct slot, or which single/double indirect
// slot(s).
type blockLocation struct {
	level      indirectLevel
	directIx   int    // for levelDirect
	l1Ix       uint32 // index into blocks[12] or blocks[13]
	l2Ix       uint32 // index into the second-level block, levelDouble only
}

func locateBlock(logicalBlock uint32, idsPerBlock uint32) blockLocation {
	if logicalBlock < numDirect {
		return blockLocation{level: levelDirect, directIx: int(logicalBlock)}
	}
	rem := logicalBlock - numDirect
	if rem < idsPerBlock {
		return blockLocation{level: levelSingle, l1Ix: rem}
	}
	rem -= idsPerBlock
	return blockLocation{level: levelDouble, l1Ix: rem / idsPerBlock, l2Ix: rem % idsPerBlock}
}

// readIndirectEntry reads the entry at index ix of the indirect block with
// id blockID. Returns 0 (unallocated) if blockID itself is 0.
func (m *indirectMapper) readIndirectEntry(blockID uint32, ix uint32) (uint32, error) {
	if blockID == 0 {
		return 0, nil
	}
	data, err := m.io.readBlock(blockID)
	if err != nil {
		return 0, err
	}
	return order.Uint32(data[ix*4 : ix*4+4]), nil
}

func (m *indirectMapper) writeIndirectEntry(blockID uint32, ix uint32, value uint32) error {
	data, err := m.io.readBlock(blockID)
	if err != nil {
		return err
	}
	order.PutUint32(data[ix*4:ix*4+4], value)
	return m.io.writeBlock(blockID, data)
}

// getBlockFromOffset performs the (inode, offset) -> block id translation.
// It returns 0 whenever the traversal reaches an unallocated reference,
// for any offset within the file: a hole reads as zeroed, it is never an
// error to ask for one.
func (m *indirectMapper) getBlockFromOffset(n *INode, offset uint64) (uint32, error) {
	logicalBlock := uint32(offset / uint64(m.l.blockSize))
	loc := locateBlock(logicalBlock, m.l.idsPerBlock())

	switch loc.level {
	case levelDirect:
		return n.Blocks[loc.directIx], nil
	case levelSingle:
		return m.readIndirectEntry(n.Blocks[singleIndirectIx], loc.l1Ix)
	default: // levelDouble
		l2Block, err := m.readIndirectEntry(n.Blocks[doubleIndirectIx], loc.l1Ix)
		if err != nil || l2Block == 0 {
			return 0, err
		}
		return m.readIndirectEntry(l2Block, loc.l2Ix)
	}
}

// allocateZeroedBlock claims a free block and zeroes it. On any failure
// after the bitmap bit is set, it frees that bit itself before returning
// so a caller's allocated-list/rollback bookkeeping never has to know
// about an id it was never handed back.
func (m *indirectMapper) allocateZeroedBlock() (uint32, error) {
	id, err := m.bm.allocate()
	if err != nil {
		return 0, err
	}
	m.sb.NumFreeBlocks = m.bm.freeCount()
	if err := m.sbW(); err != nil {
		m.bm.markFree(id)
		m.sb.NumFreeBlocks = m.bm.freeCount()
		return 0, err
	}
	zero := make([]byte, m.l.blockSize)
	if err := m.io.writeBlock(id, zero); err != nil {
		m.bm.markFree(id)
		m.sb.NumFreeBlocks = m.bm.freeCount()
		m.sbW()
		return 0, err
	}
	return id, nil
}

func (m *indirectMapper) rollback(ids []uint32) error {
	var result *multierror.Error
	for _, id := range ids {
		m.bm.markFree(id)
	}
	m.sb.NumFreeBlocks = m.bm.freeCount()
	if err := m.sbW(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// assignNextBlock allocates and installs the next logical block for n,
// filling holes left-to-right: first an empty direct slot, else the
// single-indirect block (allocating it if missing) and its first empty
// slot, else the double-indirect block, its first-level slot, and that
// slot's second-level slot. Any block allocated but not ultimately
// attached is freed before returning NoSpace.
func (m *indirectMapper) assignNextBlock(n *INode) (uint32, error) {
	var allocated []uint32
	resetSingle, resetDouble := false, false
	fail := func(err error) (uint32, error) {
		if resetSingle {
			n.Blocks[singleIndirectIx] = 0
		}
		if resetDouble {
			n.Blocks[doubleIndirectIx] = 0
		}
		if rbErr := m.rollback(allocated); rbErr != nil {
			return 0, multierror.Append(rbErr, err)
		}
		return 0, err
	}

	// Direct slots.
	for i := 0; i < numDirect; i++ {
		if n.Blocks[i] == 0 {
			id, err := m.allocateZeroedBlock()
			if err != nil {
				return fail(err)
			}
			n.Blocks[i] = id
			return id, nil
		}
	}

	idsPerBlock := m.l.idsPerBlock()

	// Single-indirect.
	if n.Blocks[singleIndirectIx] == 0 {
		id, err := m.allocateZeroedBlock()
		if err != nil {
			return fail(err)
		}
		allocated = append(allocated, id)
		n.Blocks[singleIndirectIx] = id
		resetSingle = true
	}
	if ix, ok, err := m.firstZeroSlot(n.Blocks[singleIndirectIx], idsPerBlock); err != nil {
		return fail(err)
	} else if ok {
		id, err := m.allocateZeroedBlock()
		if err != nil {
			return fail(err)
		}
		if err := m.writeIndirectEntry(n.Blocks[singleIndirectIx], ix, id); err != nil {
			allocated = append(allocated, id)
			return fail(err)
		}
		return id, nil
	}

	// Double-indirect.
	if n.Blocks[doubleIndirectIx] == 0 {
		id, err := m.allocateZeroedBlock()
		if err != nil {
			return fail(err)
		}
		allocated = append(allocated, id)
		n.Blocks[doubleIndirectIx] = id
		resetDouble = true
	}
	// The active second-level block is the one referenced by the last
	// non-zero first-level entry. Fill it before ever touching a new
	// first-level slot, matching getBlockFromOffset's left-to-right,
	// one-L2-block-at-a-time arithmetic.
	var l2Block uint32
	activeL2, _, lastErr := m.lastSecondLevelBlock(n.Blocks[doubleIndirectIx], idsPerBlock)
	haveActive := lastErr == nil
	if haveActive {
		l2Ix, ok, err := m.firstZeroSlot(activeL2, idsPerBlock)
		if err != nil {
			return fail(err)
		}
		if ok {
			l2Block = activeL2
			id, err := m.allocateZeroedBlock()
			if err != nil {
				return fail(err)
			}
			if err := m.writeIndirectEntry(l2Block, l2Ix, id); err != nil {
				allocated = append(allocated, id)
				return fail(err)
			}
			return id, nil
		}
	}

	// The active second-level block is full (or none exists yet): claim a
	// new first-level slot and a fresh second-level block for it.
	l1Ix, ok, err := m.firstZeroSlot(n.Blocks[doubleIndirectIx], idsPerBlock)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(newError(NoSpace, "assignNextBlock", ""))
	}
	id, err := m.allocateZeroedBlock()
	if err != nil {
		return fail(err)
	}
	allocated = append(allocated, id)
	if err := m.writeIndirectEntry(n.Blocks[doubleIndirectIx], l1Ix, id); err != nil {
		return fail(err)
	}
	l2Block = id

	l2Ix, ok, err := m.firstZeroSlot(l2Block, idsPerBlock)
	if err != nil {
		return fail(err)
	}
	if !ok {
		return fail(newError(NoSpace, "assignNextBlock", ""))
	}
	id, err = m.allocateZeroedBlock()
	if err != nil {
		return fail(err)
	}
	if err := m.writeIndirectEntry(l2Block, l2Ix, id); err != nil {
		allocated = append(allocated, id)
		return fail(err)
	}
	return id, nil
}

func (m *indirectMapper) firstZeroSlot(blockID uint32, count uint32) (uint32, bool, error) {
	data, err := m.io.readBlock(blockID)
	if err != nil {
		return 0, false, err
	}
	for i := uint32(0); i < count; i++ {
		if order.Uint32(data[i*4:i*4+4]) == 0 {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// lastSecondLevelBlock returns the most recently populated second-level
// block referenced from the first-level table — the active block
// assignNextBlock must fill before claiming a new first-level slot.
func (m *indirectMapper) lastSecondLevelBlock(l1BlockID uint32, count uint32) (uint32, uint32, error) {
	data, err := m.io.readBlock(l1BlockID)
	if err != nil {
		return 0, 0, err
	}
	var last uint32
	var lastIx uint32
	for i := uint32(0); i < count; i++ {
		v := order.Uint32(data[i*4 : i*4+4])
		if v != 0 {
			last = v
			lastIx = i
		}
	}
	if last == 0 {
		return 0, 0, newError(NoSpace, "assignNextBlock", "")
	}
	return last, lastIx, nil
}

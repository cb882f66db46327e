package sfs

// FileEntry is a (name, inode id) record packed into a directory's data
// blocks, dense in [0, childCount) with no tombstones.
type FileEntry struct {
	Name string
	ID   uint32
}

func (e FileEntry) marshalBinary() []byte {
	buf := make([]byte, fileEntrySize)
	copy(buf[:nameFieldSize], []byte(e.Name))
	order.PutUint32(buf[nameFieldSize:], e.ID)
	return buf
}

func unmarshalFileEntry(data []byte) FileEntry {
	end := 0
	for end < nameFieldSize && data[end] != 0 {
		end++
	}
	return FileEntry{
		Name: string(data[:end]),
		ID:   order.Uint32(data[nameFieldSize:]),
	}
}

// dirOps implements the directory-entry primitives against a directory
// inode's direct blocks; directories never use indirection.
type dirOps struct {
	io *blockIO
	bm *bitmapAllocator
	l  layout
	sb *Superblock
	sbW func() error
}

func newDirOps(io *blockIO, bm *bitmapAllocator, l layout, sb *Superblock, sbW func() error) *dirOps {
	return &dirOps{io: io, bm: bm, l: l, sb: sb, sbW: sbW}
}

// addFileEntry appends a (name, id) entry to dir's data blocks, allocating
// a new block when the current tail block is full. Refuses once childCount
// reaches the directory's fixed capacity.
func (d *dirOps) addFileEntry(dir *INode, child uint32, name string) error {
	if dir.ChildCount >= d.l.dirCapacity() {
		return newError(NoSpace, "addFileEntry", name)
	}
	entriesPerBlock := d.l.entriesPerBlock()
	blk := dir.ChildCount / entriesPerBlock
	slot := dir.ChildCount % entriesPerBlock

	// If this call must allocate a fresh block to hold the new entry, undo
	// that allocation on any later failure rather than leaving childCount
	// and the block bitmap out of sync.
	allocatedBlock := dir.Blocks[blk] == 0
	if allocatedBlock {
		id, err := d.bm.allocate()
		if err != nil {
			return err
		}
		d.sb.NumFreeBlocks = d.bm.freeCount()
		if err := d.sbW(); err != nil {
			d.bm.markFree(id)
			d.sb.NumFreeBlocks = d.bm.freeCount()
			return err
		}
		zero := make([]byte, d.l.blockSize)
		if err := d.io.writeBlock(id, zero); err != nil {
			d.bm.markFree(id)
			d.sb.NumFreeBlocks = d.bm.freeCount()
			d.sbW()
			return err
		}
		dir.Blocks[blk] = id
		dir.Size += uint64(d.l.blockSize)
	}

	rollback := func(err error) error {
		if allocatedBlock {
			freed := dir.Blocks[blk]
			dir.Blocks[blk] = 0
			dir.Size -= uint64(d.l.blockSize)
			d.bm.markFree(freed)
			d.sb.NumFreeBlocks = d.bm.freeCount()
			d.sbW()
		}
		return err
	}

	data, err := d.io.readBlock(dir.Blocks[blk])
	if err != nil {
		return rollback(err)
	}
	off := slot * fileEntrySize
	copy(data[off:off+fileEntrySize], FileEntry{Name: name, ID: child}.marshalBinary())
	if err := d.io.writeBlock(dir.Blocks[blk], data); err != nil {
		return rollback(err)
	}

	dir.ChildCount++
	return nil
}

// findFileEntry scans childCount entries block by block for name, reporting
// the matching entry's (block index, slot) location alongside its inode id.
func (d *dirOps) findFileEntry(dir *INode, name string) (id uint32, blk, slot uint32, found bool, err error) {
	if !dir.IsDir() {
		return 0, 0, 0, false, newError(NotADirectory, "findFileEntry", name)
	}
	entriesPerBlock := d.l.entriesPerBlock()
	for i := uint32(0); i < dir.ChildCount; i++ {
		b := i / entriesPerBlock
		s := i % entriesPerBlock
		data, err := d.io.readBlock(dir.Blocks[b])
		if err != nil {
			return 0, 0, 0, false, err
		}
		off := s * fileEntrySize
		e := unmarshalFileEntry(data[off : off+fileEntrySize])
		if e.Name == name {
			return e.ID, b, s, true, nil
		}
	}
	return 0, 0, 0, false, nil
}

// removeFileEntry locates name and compacts the entry array by copying the
// last entry (in insertion order) over the removed slot, then shrinking
// childCount. No attempt is made to free a now-empty trailing block.
func (d *dirOps) removeFileEntry(dir *INode, name string) error {
	_, blk, slot, found, err := d.findFileEntry(dir, name)
	if err != nil {
		return err
	}
	if !found {
		return newError(NotFound, "removeFileEntry", name)
	}

	entriesPerBlock := d.l.entriesPerBlock()
	lastIx := dir.ChildCount - 1
	lastBlk := lastIx / entriesPerBlock
	lastSlot := lastIx % entriesPerBlock

	if lastBlk != blk || lastSlot != slot {
		lastData, err := d.io.readBlock(dir.Blocks[lastBlk])
		if err != nil {
			return err
		}
		lastOff := lastSlot * fileEntrySize
		lastEntry := make([]byte, fileEntrySize)
		copy(lastEntry, lastData[lastOff:lastOff+fileEntrySize])

		targetData, err := d.io.readBlock(dir.Blocks[blk])
		if err != nil {
			return err
		}
		off := slot * fileEntrySize
		copy(targetData[off:off+fileEntrySize], lastEntry)
		if err := d.io.writeBlock(dir.Blocks[blk], targetData); err != nil {
			return err
		}
	}

	dir.ChildCount--
	return nil
}

// listEntries returns every live entry in insertion order, used by readdir.
func (d *dirOps) listEntries(dir *INode) ([]FileEntry, error) {
	entries := make([]FileEntry, 0, dir.ChildCount)
	entriesPerBlock := d.l.entriesPerBlock()
	for i := uint32(0); i < dir.ChildCount; i++ {
		b := i / entriesPerBlock
		s := i % entriesPerBlock
		data, err := d.io.readBlock(dir.Blocks[b])
		if err != nil {
			return nil, err
		}
		off := s * fileEntrySize
		entries = append(entries, unmarshalFileEntry(data[off:off+fileEntrySize]))
	}
	return entries, nil
}

// freeAllBlocks frees every direct data block a directory owns, used by
// rmdir: directories hold no indirection so this is always a
// straight walk of blocks[0:14].
func (d *dirOps) freeAllBlocks(dir *INode) {
	for i, b := range dir.Blocks {
		if b != 0 {
			d.bm.markFree(b)
			dir.Blocks[i] = 0
		}
	}
	d.sb.NumFreeBlocks = d.bm.freeCount()
}

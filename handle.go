package sfs

// fileHandle is one slot in the open-file table linking an opaque integer
// to an inode. index is reserved for a future read/write cursor
// but per the façade's stateless read/write signatures is always 0.
type fileHandle struct {
	inUse   bool
	inodeID uint32
	flags   uint32
	index   uint64
}

// handleTable is a fixed-size array of NumOpenFiles slots, allocated on
// open/create and freed on release.
type handleTable struct {
	slots []fileHandle
}

func newHandleTable(n int) *handleTable {
	return &handleTable{slots: make([]fileHandle, n)}
}

// allocate returns the index of a free slot, or TooManyOpenFiles if the
// table is full.
func (t *handleTable) allocate(inodeID uint32, flags uint32) (int, error) {
	for i := range t.slots {
		if !t.slots[i].inUse {
			t.slots[i] = fileHandle{inUse: true, inodeID: inodeID, flags: flags}
			return i, nil
		}
	}
	return 0, newError(TooManyOpenFiles, "open", "")
}

func (t *handleTable) release(fh int) error {
	if fh < 0 || fh >= len(t.slots) || !t.slots[fh].inUse {
		return newError(InvalidPath, "release", "")
	}
	t.slots[fh] = fileHandle{}
	return nil
}

func (t *handleTable) get(fh int) (*fileHandle, error) {
	if fh < 0 || fh >= len(t.slots) || !t.slots[fh].inUse {
		return nil, newError(InvalidPath, "handle", "")
	}
	return &t.slots[fh], nil
}

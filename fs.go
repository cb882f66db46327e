package sfs

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Attr is the stat-like record getattr populates.
type Attr struct {
	Ino        uint32
	Mode       uint32
	Size       uint64
	Nlink      uint32
	LastAccess int64
	LastModify int64
	LastChange int64
	BlockSize  uint32
	Blocks     uint64
	IsDir      bool
}

// DirFiller receives one directory entry at a time during Readdir. It
// returns false when the caller's buffer is full, mirroring the host's
// filler callback convention; Readdir then aborts with NoSpace.
type DirFiller func(name string, ino uint32, isDir bool) bool

// FileSystem owns everything a mounted image needs: the backing image
// handle, superblock, bitmap, and open-file table. Every core operation
// takes a FileSystem receiver explicitly; nothing is package-global.
// FileSystem is not safe for concurrent use: the host must serialize
// calls into it.
type FileSystem struct {
	io       *blockIO
	l        layout
	sb       *Superblock
	bm       *bitmapAllocator
	inodes   *inodeTable
	dirs     *dirOps
	indirect *indirectMapper
	resolver *resolver
	handles  *handleTable
	rootIno  uint32
}

// Mount opens a backing image, formatting it first if its magic does not
// match. The returned FileSystem owns dev and will Close it.
func Mount(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	params := DefaultParams()
	for _, opt := range opts {
		if err := opt(&params); err != nil {
			return nil, err
		}
	}

	probe := newBlockIO(dev, params.BlockSize)
	block0, err := probe.readBlock(0)
	if err != nil {
		return nil, err
	}
	sb := &Superblock{}
	if err := sb.UnmarshalBinary(block0[:sb.binarySize()]); err != nil {
		return nil, err
	}

	if sb.Magic != Magic {
		return format(dev, params)
	}
	return mountFormatted(dev, sb, params.NumOpenFiles)
}

func mountFormatted(dev BlockDevice, sb *Superblock, numOpenFiles int) (*FileSystem, error) {
	l := sb.layout()
	io := newBlockIO(dev, l.blockSize)
	bmBlock, err := io.readBlock(l.bitmapBlock)
	if err != nil {
		return nil, err
	}
	bm := loadBitmapAllocator(bmBlock, l.totalBlocks, l.firstDataBlock)
	return wireFileSystem(io, l, sb, bm, numOpenFiles), nil
}

func format(dev BlockDevice, params Params) (*FileSystem, error) {
	l := layoutFor(params)
	io := newBlockIO(dev, l.blockSize)
	sb := newSuperblock(params)
	bm := newBitmapAllocator(l.totalBlocks, l.firstDataBlock)

	// Blocks 0..firstDataBlock (inclusive of the bitmap block itself) are
	// metadata and are marked used and never freed.
	for i := uint32(0); i <= l.firstDataBlock; i++ {
		bm.markUsed(i)
	}
	sb.NumFreeBlocks = bm.freeCount()

	if err := persistSuperblock(io, sb); err != nil {
		return nil, err
	}
	if err := io.writeBlock(l.bitmapBlock, bm.bytes(l.blockSize)); err != nil {
		return nil, err
	}

	fsys := wireFileSystem(io, l, sb, bm, params.NumOpenFiles)

	if sb.NumINodes == sb.NumFreeINodes {
		if err := fsys.allocateRoot(); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"blockSize":  l.blockSize,
		"totalBlocks": l.totalBlocks,
		"numINodes":  l.numINodes,
	}).Info("sfs: formatted fresh image")

	return fsys, nil
}

func wireFileSystem(io *blockIO, l layout, sb *Superblock, bm *bitmapAllocator, numOpenFiles int) *FileSystem {
	fsys := &FileSystem{io: io, l: l, sb: sb, bm: bm, rootIno: 0}
	fsys.inodes = newINodeTable(io, l)
	sbW := func() error {
		if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
			return err
		}
		return fsys.persistBitmap()
	}
	fsys.dirs = newDirOps(io, bm, l, sb, sbW)
	fsys.indirect = newIndirectMapper(io, bm, l, sb, sbW)
	fsys.resolver = newResolver(fsys.dirs, fsys.inodes, fsys.rootIno)
	fsys.handles = newHandleTable(numOpenFiles)
	return fsys
}

func persistSuperblock(io *blockIO, sb *Superblock) error {
	data, err := sb.MarshalBinary(io.blockSize)
	if err != nil {
		return err
	}
	return io.writeBlock(0, data)
}

func (fsys *FileSystem) persistBitmap() error {
	return fsys.io.writeBlock(fsys.l.bitmapBlock, fsys.bm.bytes(fsys.l.blockSize))
}

// allocateRoot allocates inode 0 as the root directory during format. The
// root's first data block is allocated eagerly, unlike later entries whose
// backing blocks are allocated lazily by addFileEntry.
func (fsys *FileSystem) allocateRoot() error {
	now := time.Now()
	root, err := fsys.inodes.allocate(DirType, now)
	if err != nil {
		return err
	}
	blockID, err := fsys.bm.allocate()
	if err != nil {
		return err
	}
	fsys.sb.NumFreeBlocks = fsys.bm.freeCount()
	fsys.sb.NumFreeINodes--
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return err
	}
	if err := fsys.persistBitmap(); err != nil {
		return err
	}
	zero := make([]byte, fsys.l.blockSize)
	if err := fsys.io.writeBlock(blockID, zero); err != nil {
		return err
	}
	root.Blocks[0] = blockID
	root.Size = uint64(fsys.l.blockSize)
	return fsys.inodes.write(root)
}

// Close releases the backing image handle.
func (fsys *FileSystem) Close() error {
	return fsys.io.close()
}

func attrFromNode(n *INode, blockSize uint32) *Attr {
	return &Attr{
		Ino:        n.ID,
		Mode:       unixMode(n.Type()),
		Size:       n.Size,
		Nlink:      1,
		LastAccess: n.LastAccess,
		LastModify: n.LastModify,
		LastChange: n.LastChange,
		BlockSize:  blockSize,
		Blocks:     n.Size / 512,
		IsDir:      n.IsDir(),
	}
}

// GetAttr resolves path and populates a stat-like record.
func (fsys *FileSystem) GetAttr(path string) (*Attr, error) {
	ino, err := fsys.resolver.findFile(path)
	if err != nil {
		return nil, err
	}
	n, err := fsys.inodes.read(ino)
	if err != nil {
		return nil, err
	}
	return attrFromNode(n, fsys.l.blockSize), nil
}

func (fsys *FileSystem) touch(ino uint32, now time.Time) error {
	n, err := fsys.inodes.read(ino)
	if err != nil {
		return err
	}
	n.touchModify(now)
	return fsys.inodes.write(n)
}

// Create opens path, creating a regular file if it does not already
// exist. If the file exists, creation succeeds vacuously and the call
// behaves like Open.
func (fsys *FileSystem) Create(path string, mode uint32) (fh int, ino uint32, err error) {
	if existing, err := fsys.resolver.findFile(path); err == nil {
		fh, err := fsys.handles.allocate(existing, mode)
		return fh, existing, err
	}

	now := time.Now()
	parentIno, name, err := fsys.resolver.findParent(path)
	if err != nil {
		return 0, 0, err
	}
	if err := fsys.touch(parentIno, now); err != nil {
		return 0, 0, err
	}
	parent, err := fsys.inodes.read(parentIno)
	if err != nil {
		return 0, 0, err
	}

	n, err := fsys.inodes.allocate(FileType, now)
	if err != nil {
		return 0, 0, err
	}
	fsys.sb.NumFreeINodes--
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return 0, 0, err
	}

	if err := fsys.dirs.addFileEntry(parent, n.ID, name); err != nil {
		fsys.inodes.free(n.ID)
		fsys.sb.NumFreeINodes++
		persistSuperblock(fsys.io, fsys.sb)
		return 0, 0, err
	}
	if err := fsys.inodes.write(parent); err != nil {
		return 0, 0, err
	}

	handle, err := fsys.handles.allocate(n.ID, mode)
	if err != nil {
		return 0, 0, err
	}
	return handle, n.ID, nil
}

// Mkdir creates a new directory. Fails with AlreadyExists if path already
// names something. No "." or ".." entries are created.
func (fsys *FileSystem) Mkdir(path string, mode uint32) (uint32, error) {
	if _, err := fsys.resolver.findFile(path); err == nil {
		return 0, newError(AlreadyExists, "mkdir", path)
	}

	now := time.Now()
	parentIno, name, err := fsys.resolver.findParent(path)
	if err != nil {
		return 0, err
	}
	if err := fsys.touch(parentIno, now); err != nil {
		return 0, err
	}
	parent, err := fsys.inodes.read(parentIno)
	if err != nil {
		return 0, err
	}

	n, err := fsys.inodes.allocate(DirType, now)
	if err != nil {
		return 0, err
	}
	fsys.sb.NumFreeINodes--
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return 0, err
	}

	if err := fsys.dirs.addFileEntry(parent, n.ID, name); err != nil {
		fsys.inodes.free(n.ID)
		fsys.sb.NumFreeINodes++
		persistSuperblock(fsys.io, fsys.sb)
		return 0, err
	}
	if err := fsys.inodes.write(parent); err != nil {
		return 0, err
	}
	return n.ID, nil
}

// Open resolves path and allocates a file handle for it.
func (fsys *FileSystem) Open(path string, flags uint32) (fh int, err error) {
	ino, err := fsys.resolver.findFile(path)
	if err != nil {
		return 0, err
	}
	return fsys.handles.allocate(ino, flags)
}

// Release frees a file handle slot.
func (fsys *FileSystem) Release(fh int) error {
	return fsys.handles.release(fh)
}

// Read reads up to len(p) bytes at offset from fh's inode. It returns 0
// once offset has reached or passed the file's size. The requested size is
// clamped so offset+size <= fileSize; any clamped-off tail of p is
// zero-filled rather than left untouched.
func (fsys *FileSystem) Read(fh int, p []byte, offset uint64) (int, error) {
	h, err := fsys.handles.get(fh)
	if err != nil {
		return 0, err
	}
	n, err := fsys.inodes.read(h.inodeID)
	if err != nil {
		return 0, err
	}
	if offset >= n.Size {
		return 0, nil
	}
	size := uint64(len(p))
	if offset+size > n.Size {
		size = n.Size - offset
	}

	delivered := uint64(0)
	for delivered < size {
		pos := offset + delivered
		blockOff := pos % uint64(fsys.l.blockSize)
		blockID, err := fsys.indirect.getBlockFromOffset(n, pos)
		if err != nil {
			return int(delivered), err
		}
		want := size - delivered
		avail := uint64(fsys.l.blockSize) - blockOff
		if want > avail {
			want = avail
		}
		if blockID == 0 {
			for i := uint64(0); i < want; i++ {
				p[delivered+i] = 0
			}
		} else {
			data, err := fsys.io.readBlock(blockID)
			if err != nil {
				return int(delivered), err
			}
			copy(p[delivered:delivered+want], data[blockOff:blockOff+want])
		}
		delivered += want
	}

	for i := size; i < uint64(len(p)); i++ {
		p[i] = 0
	}

	n.touchAccess(time.Now())
	if err := fsys.inodes.write(n); err != nil {
		return int(size), err
	}
	return int(size), nil
}

// Write writes p at offset into fh's inode, allocating blocks on demand
// for any hole the translator reports. Size is extended to
// max(oldSize, offset+len(p)).
func (fsys *FileSystem) Write(fh int, p []byte, offset uint64) (int, error) {
	h, err := fsys.handles.get(fh)
	if err != nil {
		return 0, err
	}
	n, err := fsys.inodes.read(h.inodeID)
	if err != nil {
		return 0, err
	}

	written := uint64(0)
	total := uint64(len(p))
	for written < total {
		pos := offset + written
		blockOff := pos % uint64(fsys.l.blockSize)
		blockID, err := fsys.indirect.getBlockFromOffset(n, pos)
		if err != nil {
			return int(written), err
		}
		if blockID == 0 {
			blockID, err = fsys.indirect.assignNextBlock(n)
			if err != nil {
				return int(written), err
			}
		}
		want := total - written
		avail := uint64(fsys.l.blockSize) - blockOff
		if want > avail {
			want = avail
		}
		data, err := fsys.io.readBlock(blockID)
		if err != nil {
			return int(written), err
		}
		copy(data[blockOff:blockOff+want], p[written:written+want])
		if err := fsys.io.writeBlock(blockID, data); err != nil {
			return int(written), err
		}
		written += want
	}

	now := time.Now()
	if offset+total > n.Size {
		n.Size = offset + total
	}
	n.touchAccess(now)
	n.touchModify(now)
	if err := fsys.inodes.write(n); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// freeIndirectTree frees every block reachable through a single- or
// double-indirect reference, then the indirection block(s) themselves.
func (fsys *FileSystem) freeIndirectTree(n *INode) {
	idsPerBlock := fsys.l.idsPerBlock()

	if n.Blocks[doubleIndirectIx] != 0 {
		l1, err := fsys.io.readBlock(n.Blocks[doubleIndirectIx])
		if err == nil {
			for i := uint32(0); i < idsPerBlock; i++ {
				l2ID := order.Uint32(l1[i*4 : i*4+4])
				if l2ID == 0 {
					continue
				}
				l2, err := fsys.io.readBlock(l2ID)
				if err == nil {
					for j := uint32(0); j < idsPerBlock; j++ {
						dataID := order.Uint32(l2[j*4 : j*4+4])
						if dataID != 0 {
							fsys.bm.markFree(dataID)
						}
					}
				}
				fsys.bm.markFree(l2ID)
			}
		}
		fsys.bm.markFree(n.Blocks[doubleIndirectIx])
		n.Blocks[doubleIndirectIx] = 0
	}

	if n.Blocks[singleIndirectIx] != 0 {
		l1, err := fsys.io.readBlock(n.Blocks[singleIndirectIx])
		if err == nil {
			for i := uint32(0); i < idsPerBlock; i++ {
				dataID := order.Uint32(l1[i*4 : i*4+4])
				if dataID != 0 {
					fsys.bm.markFree(dataID)
				}
			}
		}
		fsys.bm.markFree(n.Blocks[singleIndirectIx])
		n.Blocks[singleIndirectIx] = 0
	}

	for i := 0; i < numDirect; i++ {
		if n.Blocks[i] != 0 {
			fsys.bm.markFree(n.Blocks[i])
			n.Blocks[i] = 0
		}
	}

	fsys.sb.NumFreeBlocks = fsys.bm.freeCount()
}

// Unlink removes a file, freeing every block it owns (direct, single- and
// double-indirect) and its inode, then removing the parent's directory
// entry.
func (fsys *FileSystem) Unlink(path string) error {
	ino, err := fsys.resolver.findFile(path)
	if err != nil {
		return err
	}
	n, err := fsys.inodes.read(ino)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return newError(NotADirectory, "unlink", path)
	}

	fsys.freeIndirectTree(n)
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return err
	}
	if err := fsys.persistBitmap(); err != nil {
		return err
	}

	fsys.sb.NumFreeINodes++
	if err := fsys.inodes.free(ino); err != nil {
		return err
	}
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return err
	}

	parentIno, name, err := fsys.resolver.findParent(path)
	if err != nil {
		return err
	}
	parent, err := fsys.inodes.read(parentIno)
	if err != nil {
		return err
	}
	if err := fsys.dirs.removeFileEntry(parent, name); err != nil {
		return err
	}
	return fsys.inodes.write(parent)
}

// Rmdir removes an empty directory. Fails with NotEmpty if
// childCount > 0.
func (fsys *FileSystem) Rmdir(path string) error {
	ino, err := fsys.resolver.findFile(path)
	if err != nil {
		return err
	}
	n, err := fsys.inodes.read(ino)
	if err != nil {
		return err
	}
	if !n.IsDir() {
		return newError(NotADirectory, "rmdir", path)
	}
	if n.ChildCount > 0 {
		return newError(NotEmpty, "rmdir", path)
	}

	fsys.dirs.freeAllBlocks(n)
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return err
	}
	if err := fsys.persistBitmap(); err != nil {
		return err
	}

	fsys.sb.NumFreeINodes++
	if err := fsys.inodes.free(ino); err != nil {
		return err
	}
	if err := persistSuperblock(fsys.io, fsys.sb); err != nil {
		return err
	}

	parentIno, name, err := fsys.resolver.findParent(path)
	if err != nil {
		return err
	}
	parent, err := fsys.inodes.read(parentIno)
	if err != nil {
		return err
	}
	if err := fsys.dirs.removeFileEntry(parent, name); err != nil {
		return err
	}
	return fsys.inodes.write(parent)
}

// OpenDir resolves a directory path and allocates a handle for it, the
// directory counterpart of Open.
func (fsys *FileSystem) OpenDir(path string) (fh int, err error) {
	ino, err := fsys.resolver.findFile(path)
	if err != nil {
		return 0, err
	}
	n, err := fsys.inodes.read(ino)
	if err != nil {
		return 0, err
	}
	if !n.IsDir() {
		return 0, newError(NotADirectory, "opendir", path)
	}
	return fsys.handles.allocate(ino, 0)
}

// ReadDir iterates a directory's live entries and invokes fill for each.
// It aborts with NoSpace if fill reports the caller's buffer is full.
func (fsys *FileSystem) ReadDir(fh int, fill DirFiller) error {
	h, err := fsys.handles.get(fh)
	if err != nil {
		return err
	}
	dir, err := fsys.inodes.read(h.inodeID)
	if err != nil {
		return err
	}
	entries, err := fsys.dirs.listEntries(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child, err := fsys.inodes.read(e.ID)
		if err != nil {
			return err
		}
		if !fill(e.Name, e.ID, child.IsDir()) {
			return newError(NoSpace, "readdir", "")
		}
	}
	return nil
}

// ReleaseDir frees a directory handle slot.
func (fsys *FileSystem) ReleaseDir(fh int) error {
	return fsys.handles.release(fh)
}

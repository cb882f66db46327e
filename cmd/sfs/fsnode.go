package main

import (
	"context"
	"path"
	"sync"
	"syscall"

	sfs "github.com/JasTuh/SimpleFileSystem"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// root owns the single FileSystem value and the mutex that serializes every
// dispatch into it, since FileSystem is documented not safe for concurrent
// use. Every fsNode holds a pointer back to its root rather than its
// own copy of the filesystem.
type root struct {
	mu   sync.Mutex
	fsys *sfs.FileSystem
}

// fsNode is the go-fuse InodeEmbedder for one path in the tree. Nodes are
// addressed by absolute path, resolved fresh on every operation — the core
// has no notion of a stable inode handle beyond a path lookup.
type fsNode struct {
	fs.Inode
	root *root
	path string
}

var (
	_ fs.InodeEmbedder = (*fsNode)(nil)
	_ fs.NodeGetattrer = (*fsNode)(nil)
	_ fs.NodeLookuper  = (*fsNode)(nil)
	_ fs.NodeCreater   = (*fsNode)(nil)
	_ fs.NodeMkdirer   = (*fsNode)(nil)
	_ fs.NodeUnlinker  = (*fsNode)(nil)
	_ fs.NodeRmdirer   = (*fsNode)(nil)
	_ fs.NodeOpener    = (*fsNode)(nil)
	_ fs.NodeReaddirer = (*fsNode)(nil)
	_ fs.NodeSetattrer = (*fsNode)(nil)
)

func newRoot(fsys *sfs.FileSystem) *fsNode {
	return &fsNode{root: &root{fsys: fsys}, path: "/"}
}

func (n *fsNode) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func attrToFuse(a *sfs.Attr, out *fuse.Attr) {
	out.Ino = uint64(a.Ino)
	out.Mode = a.Mode
	out.Size = a.Size
	out.Nlink = a.Nlink
	out.Blksize = a.BlockSize
	out.Blocks = a.Blocks
	out.Atime = uint64(a.LastAccess)
	out.Mtime = uint64(a.LastModify)
	out.Ctime = uint64(a.LastChange)
}

func (n *fsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	attr, err := n.root.fsys.GetAttr(n.path)
	if err != nil {
		return errno(err)
	}
	attrToFuse(attr, &out.Attr)
	return 0
}

// Setattr reports the node's current attributes without applying any of
// the incoming mode/size/time changes: the reported permission bits are
// always unixMode's fixed 0777, and none are enforced.
func (n *fsNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	attr, err := n.root.fsys.GetAttr(n.path)
	if err != nil {
		return errno(err)
	}
	attrToFuse(attr, &out.Attr)
	return 0
}

func (n *fsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	childPath := n.childPath(name)
	attr, err := n.root.fsys.GetAttr(childPath)
	if err != nil {
		return nil, errno(err)
	}
	attrToFuse(attr, &out.Attr)
	child := &fsNode{root: n.root, path: childPath}
	mode := uint32(syscall.S_IFREG)
	if attr.IsDir {
		mode = syscall.S_IFDIR
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: uint64(attr.Ino)}), 0
}

func (n *fsNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	childPath := n.childPath(name)
	fh, ino, err := n.root.fsys.Create(childPath, mode)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	attr, err := n.root.fsys.GetAttr(childPath)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	attrToFuse(attr, &out.Attr)
	child := &fsNode{root: n.root, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG, Ino: uint64(ino)})
	return inode, &fileHandle{root: n.root, fh: fh}, 0, 0
}

func (n *fsNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	childPath := n.childPath(name)
	ino, err := n.root.fsys.Mkdir(childPath, mode)
	if err != nil {
		return nil, errno(err)
	}
	attr, err := n.root.fsys.GetAttr(childPath)
	if err != nil {
		return nil, errno(err)
	}
	attrToFuse(attr, &out.Attr)
	child := &fsNode{root: n.root, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: uint64(ino)}), 0
}

func (n *fsNode) Unlink(ctx context.Context, name string) syscall.Errno {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return errno(n.root.fsys.Unlink(n.childPath(name)))
}

func (n *fsNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	return errno(n.root.fsys.Rmdir(n.childPath(name)))
}

func (n *fsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	fh, err := n.root.fsys.Open(n.path, flags)
	if err != nil {
		return nil, 0, errno(err)
	}
	return &fileHandle{root: n.root, fh: fh}, 0, 0
}

func (n *fsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	dh, err := n.root.fsys.OpenDir(n.path)
	if err != nil {
		return nil, errno(err)
	}
	defer n.root.fsys.ReleaseDir(dh)

	var entries []fuse.DirEntry
	fillErr := n.root.fsys.ReadDir(dh, func(name string, ino uint32, isDir bool) bool {
		mode := uint32(syscall.S_IFREG)
		if isDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: path.Base(name), Ino: uint64(ino), Mode: mode})
		return true
	})
	if fillErr != nil {
		return nil, errno(fillErr)
	}
	return fs.NewListDirStream(entries), 0
}

// fileHandle is the go-fuse FileHandle backing an open fsNode; it holds
// only the core's opaque handle index and defers every operation back
// through root under the same dispatch lock.
type fileHandle struct {
	root *root
	fh   int
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileWriter   = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.root.mu.Lock()
	defer h.root.mu.Unlock()
	n, err := h.root.fsys.Read(h.fh, dest, uint64(off))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.root.mu.Lock()
	defer h.root.mu.Unlock()
	n, err := h.root.fsys.Write(h.fh, data, uint64(off))
	if err != nil {
		return uint32(n), errno(err)
	}
	return uint32(n), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.root.mu.Lock()
	defer h.root.mu.Unlock()
	return errno(h.root.fsys.Release(h.fh))
}

package main

import (
	"syscall"

	sfs "github.com/JasTuh/SimpleFileSystem"
)

// errno maps a core Kind to the syscall.Errno go-fuse expects back from a
// node operation. Unrecognized errors (including plain I/O
// failures) map to EIO.
func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	kind, ok := sfs.KindOf(err)
	if !ok {
		return syscall.EIO
	}
	switch kind {
	case sfs.NotFound:
		return syscall.ENOENT
	case sfs.AlreadyExists:
		return syscall.EEXIST
	case sfs.NotADirectory:
		return syscall.ENOTDIR
	case sfs.NotEmpty:
		return syscall.ENOTEMPTY
	case sfs.NoSpace:
		return syscall.ENOSPC
	case sfs.TooManyOpenFiles:
		return syscall.EMFILE
	case sfs.NameTooLong:
		return syscall.ENAMETOOLONG
	case sfs.InvalidPath:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

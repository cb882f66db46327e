package sfs

import "strings"

// resolver walks absolute paths to inode ids against a directory-entry
// backend. It operates on immutable slices of the path rather than
// mutating a caller's buffer in place, per the re-architecture notes in .
type resolver struct {
	dirs    *dirOps
	inodes  *inodeTable
	rootIno uint32
}

func newResolver(dirs *dirOps, inodes *inodeTable, rootIno uint32) *resolver {
	return &resolver{dirs: dirs, inodes: inodes, rootIno: rootIno}
}

// splitPath strips a leading '/' (required) and an optional trailing '/',
// then splits on '/'. An empty result means "the root itself".
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, newError(InvalidPath, "splitPath", path)
	}
	trimmed := strings.TrimSuffix(path[1:], "/")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "/"), nil
}

// findFile recursively descends from the root inode, splitting path on '/'.
// Each component must be at most NameMax bytes.
func (r *resolver) findFile(path string) (uint32, error) {
	components, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	cur := r.rootIno
	for _, comp := range components {
		if len(comp) > NameMax {
			return 0, newError(NameTooLong, "findFile", path)
		}
		node, err := r.inodes.read(cur)
		if err != nil {
			return 0, err
		}
		if !node.IsDir() {
			return 0, newError(NotADirectory, "findFile", path)
		}
		id, _, _, found, err := r.dirs.findFileEntry(node, comp)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, newError(NotFound, "findFile", path)
		}
		cur = id
	}
	return cur, nil
}

// findParent strips the final path component (preserving a leading '/')
// and resolves the remainder; the root's parent is the root itself.
func (r *resolver) findParent(path string) (parentIno uint32, name string, err error) {
	components, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(components) == 0 {
		return r.rootIno, "", nil
	}
	name = components[len(components)-1]
	if len(name) > NameMax {
		return 0, "", newError(NameTooLong, "findParent", path)
	}
	parentPath := "/" + strings.Join(components[:len(components)-1], "/")
	if len(components) == 1 {
		return r.rootIno, name, nil
	}
	parentIno, err = r.findFile(parentPath)
	if err != nil {
		return 0, "", err
	}
	return parentIno, name, nil
}

package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// ErrExchangeUnsupported is returned by Exchange when the kernel or the
// filesystem cannot swap two directory entries in one step.
var ErrExchangeUnsupported = errors.New("atomic exchange not supported")

// subvolumeRootIno is the inode number of the root directory of every btrfs
// subvolume.
const subvolumeRootIno = 256

// Occupancy describes what sits at a path.
type Occupancy int

const (
	Absent   Occupancy = iota
	EmptyDir           // plain directory with no entries
	Occupied           // anything else, including an empty subvolume
)

func (o Occupancy) String() string {
	switch o {
	case Absent:
		return "absent"
	case EmptyDir:
		return "empty_dir"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Local performs mutations on the local filesystem.
type Local struct{}

// Probe reports whether path is absent, an empty directory, or occupied.
// Symlinks are not followed. An empty subvolume is occupied, since rmdir
// would delete it.
func (Local) Probe(path string) (Occupancy, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Absent, nil
	}
	if errors.Is(err, syscall.ENOTDIR) {
		// A parent is not a directory, so path cannot be created.
		return Occupied, nil
	}
	if err != nil {
		return Occupied, err
	}
	if !info.IsDir() || isSubvolumeRoot(info) {
		return Occupied, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Occupied, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return EmptyDir, nil
	}
	if err != nil {
		return Occupied, fmt.Errorf("read %s: %w", path, err)
	}
	return Occupied, nil
}

// MkdirAll creates path and any missing parents.
func (Local) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755) //nolint:gosec // G301: ordinary directory permissions
}

// Move renames src to dst, failing if dst exists.
func (Local) Move(src, dst string) error {
	return move(src, dst)
}

// Exchange swaps a and b in one step. It returns an error wrapping
// ErrExchangeUnsupported when that is not possible, which callers treat as
// a request to fall back, not as a failure.
func (Local) Exchange(a, b string) error {
	return exchange(a, b)
}

// RemoveEmptyDir removes path, which must be an empty directory.
func (Local) RemoveEmptyDir(path string) error {
	return rmdir(path)
}

// isSubvolumeRoot reports whether info describes the root of a btrfs
// subvolume. Off btrfs, a directory with that inode number is treated the
// same way and left alone.
func isSubvolumeRoot(info os.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	return ok && st.Ino == subvolumeRootIno
}

//go:build linux

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func move(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	if err == nil {
		return nil
	}
	if !isUnsupportedFlagErr(err) {
		return &os.LinkError{Op: "renameat2", Old: src, New: dst, Err: err}
	}

	// Filesystem without RENAME_NOREPLACE: check, then rename.
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: unix.EEXIST}
	}
	return os.Rename(src, dst)
}

func exchange(a, b string) error {
	err := unix.Renameat2(unix.AT_FDCWD, a, unix.AT_FDCWD, b, unix.RENAME_EXCHANGE)
	if err == nil {
		return nil
	}
	if isUnsupportedFlagErr(err) {
		return fmt.Errorf("exchange %s and %s: %w (%w)", a, b, ErrExchangeUnsupported, err)
	}
	return &os.LinkError{Op: "renameat2", Old: a, New: b, Err: err}
}

func rmdir(path string) error {
	if err := unix.Rmdir(path); err != nil {
		return &os.PathError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}

func isUnsupportedFlagErr(err error) bool {
	switch err {
	case unix.EINVAL, unix.ENOSYS, unix.EOPNOTSUPP:
		return true
	}
	return false
}

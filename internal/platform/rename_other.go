//go:build !linux

package platform

import (
	"fmt"
	"os"
	"syscall"
)

func move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: os.ErrExist}
	}
	return os.Rename(src, dst)
}

func exchange(a, b string) error {
	return fmt.Errorf("exchange %s and %s: %w", a, b, ErrExchangeUnsupported)
}

func rmdir(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "rmdir", Path: path, Err: syscall.ENOTDIR}
	}
	return os.Remove(path)
}

//go:build !linux

package btrfs

import "errors"

// ErrUnsupported is returned by Open on platforms without btrfs.
var ErrUnsupported = errors.New("btrfs metadata access requires linux")

// Volume is unavailable on this platform.
type Volume struct{}

// Open always fails on this platform.
func Open(string) (*Volume, error) { return nil, ErrUnsupported }

// Path returns "".
func (*Volume) Path() string { return "" }

// Close is a no-op.
func (*Volume) Close() error { return nil }

// Search always fails on this platform.
func (*Volume) Search(Query) ([]Item, error) { return nil, ErrUnsupported }

// LookupName always fails on this platform.
func (*Volume) LookupName(uint64, uint64) (string, error) { return "", ErrUnsupported }

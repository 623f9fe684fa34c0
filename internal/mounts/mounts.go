// Package mounts indexes the live mount table so that any VFS path can be
// resolved to the mount that owns it and the sub-path within that mount.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/moby/sys/mountinfo"

	"github.com/bamsammich/subvol/internal/pathutil"
)

// ErrNotFound is returned when no mount owns a path.
var ErrNotFound = errors.New("no mount entry found")

// Entry is one mounted filesystem instance.
type Entry struct {
	Target string // normalized absolute mountpoint
	Root   string // physical path within the volume exposed at Target
	FSType string
	Source string
	ID     int
}

// SourceFunc produces the raw mount list in mount order.
type SourceFunc func() ([]Entry, error)

// CanonicalizeFunc turns a user path into an absolute, symlink-free path.
type CanonicalizeFunc func(path string) (string, error)

// Option configures a Table.
type Option func(*Table)

// WithSource replaces the /proc/self/mountinfo reader.
func WithSource(fn SourceFunc) Option {
	return func(t *Table) { t.source = fn }
}

// WithCanonicalizer replaces the default abs+EvalSymlinks canonicalization.
func WithCanonicalizer(fn CanonicalizeFunc) Option {
	return func(t *Table) { t.canonicalize = fn }
}

// Table is a lazily loaded, explicitly reloadable mount index. Entries are
// kept most-specific first so the first Within match is the longest prefix.
type Table struct {
	source       SourceFunc
	canonicalize CanonicalizeFunc
	entries      []Entry
	mu           sync.Mutex
	loaded       bool
}

// NewTable creates an unloaded Table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		source:       ReadMountInfo,
		canonicalize: Canonicalize,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Load reads the mount table once. Later calls are no-ops until Reload.
func (t *Table) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return nil
	}
	return t.loadLocked()
}

// Reload discards the cached table and reads it again.
func (t *Table) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = false
	t.entries = nil
	return t.loadLocked()
}

func (t *Table) loadLocked() error {
	raw, err := t.source()
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	// Reverse mount order first so that, among equal-length targets, the
	// most recent (covering) mount wins after the stable sort.
	for i := len(raw) - 1; i >= 0; i-- {
		e := raw[i]
		e.Target = pathutil.Clean(e.Target)
		e.Root = pathutil.Clean(e.Root)
		entries = append(entries, e)
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return len(b.Target) - len(a.Target)
	})

	t.entries = entries
	t.loaded = true
	slog.Debug("mount table loaded", "entries", len(entries))
	return nil
}

// Entries returns the loaded entries, most specific first.
func (t *Table) Entries() ([]Entry, error) {
	if err := t.Load(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entries), nil
}

// Resolve returns the mount owning path and the remainder of the
// canonicalized path relative to the mount target ("" for the target itself).
func (t *Table) Resolve(path string) (Entry, string, error) {
	canon, err := t.canonicalize(path)
	if err != nil {
		return Entry{}, "", fmt.Errorf("canonicalize %s: %w", path, err)
	}
	entries, err := t.Entries()
	if err != nil {
		return Entry{}, "", err
	}
	for _, e := range entries {
		if rel, ok := pathutil.Rel(e.Target, canon); ok {
			return e, rel, nil
		}
	}
	return Entry{}, "", fmt.Errorf("%s: %w", canon, ErrNotFound)
}

// Canonicalize returns the absolute, symlink-resolved form of path.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// CanonicalizeLeaf is Canonicalize for a path whose last component may be
// missing. When it is, the parent is resolved and the base name joined to it
// unresolved, which gives the same result Canonicalize gave while the leaf
// was a plain entry.
func CanonicalizeLeaf(path string) (string, error) {
	canon, err := Canonicalize(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return canon, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}

// ReadMountInfo reads /proc/self/mountinfo.
func ReadMountInfo() ([]Entry, error) {
	infos, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			ID:     info.ID,
			Target: info.Mountpoint,
			Root:   info.Root,
			FSType: info.FSType,
			Source: info.Source,
		})
	}
	return entries, nil
}

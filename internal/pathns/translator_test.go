package pathns_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/subvol/internal/mounts"
	"github.com/bamsammich/subvol/internal/pathns"
)

func newTranslator() *pathns.Translator {
	tbl := mounts.NewTable(
		mounts.WithSource(func() ([]mounts.Entry, error) {
			return []mounts.Entry{
				{ID: 1, Target: "/", Root: "/", FSType: "ext4"},
				{ID: 2, Target: "/mnt/pool", Root: "/", FSType: "btrfs", Source: "/dev/vdb"},
				{ID: 3, Target: "/home", Root: "/@home", FSType: "btrfs", Source: "/dev/vdb"},
			}, nil
		}),
		mounts.WithCanonicalizer(func(p string) (string, error) { return p, nil }),
	)
	return pathns.New(tbl)
}

func TestToPhysical(t *testing.T) {
	t.Parallel()
	tr := newTranslator()

	loc, err := tr.ToPhysical("/home/alice/projects")
	require.NoError(t, err)
	assert.Equal(t, "/@home/alice/projects", loc.Physical)
	assert.Equal(t, "/home/alice/projects", loc.VFS)
	assert.Equal(t, "/home", loc.Mount.Target)

	loc, err = tr.ToPhysical("/home")
	require.NoError(t, err)
	assert.Equal(t, "/@home", loc.Physical)
}

func TestRoundTrip_AbsoluteThenPhysical(t *testing.T) {
	t.Parallel()
	tr := newTranslator()
	entries, err := tr.Mounts().Entries()
	require.NoError(t, err)

	var home mounts.Entry
	for _, e := range entries {
		if e.Target == "/home" {
			home = e
		}
	}

	for _, phys := range []string{"/@home", "/@home/a", "/@home/a/b/c"} {
		abs, err := tr.ToAbsolute(home, phys)
		require.NoError(t, err)
		loc, err := tr.ToPhysical(abs)
		require.NoError(t, err)
		assert.Equal(t, phys, loc.Physical, "round trip via %s", abs)
	}
}

func TestToAbsolute_OutsideMount(t *testing.T) {
	t.Parallel()
	tr := newTranslator()

	_, err := tr.ToAbsolute(mounts.Entry{Target: "/home", Root: "/@home"}, "/@homework/x")
	assert.ErrorIs(t, err, pathns.ErrOutsideMount)
}

func TestToMountpointRelative(t *testing.T) {
	t.Parallel()
	m := mounts.Entry{Target: "/home", Root: "/@home"}

	rel, err := pathns.ToMountpointRelative(m, "/@home/alice/sub")
	require.NoError(t, err)
	assert.Equal(t, "alice/sub", rel)

	rel, err = pathns.ToMountpointRelative(m, "/@home")
	require.NoError(t, err)
	assert.Equal(t, ".", rel)
}

func TestToSearchRelative(t *testing.T) {
	t.Parallel()

	rel, err := pathns.ToSearchRelative("/@home/alice", "/@home/alice/x/y")
	require.NoError(t, err)
	assert.Equal(t, "x/y", rel)

	rel, err = pathns.ToSearchRelative("/@home/alice", "/@home/alice")
	require.NoError(t, err)
	assert.Equal(t, ".", rel)

	_, err = pathns.ToSearchRelative("/@home/alice", "/@home/bob")
	assert.ErrorIs(t, err, pathns.ErrOutsideMount)
}

func TestToFind(t *testing.T) {
	t.Parallel()
	tr := newTranslator()

	loc, err := tr.ToPhysical("/home/alice")
	require.NoError(t, err)

	got, err := tr.ToFind("alice", loc, "/@home/alice", "/home")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	got, err = tr.ToFind("alice", loc, "/@home/alice/snap/1", "/home")
	require.NoError(t, err)
	assert.Equal(t, "alice/snap/1", got)

	got, err = tr.ToFind("alice/", loc, "/@home/alice/snap", "/home")
	require.NoError(t, err)
	assert.Equal(t, "alice/snap", got)

	// Outside the argument (mountpoint-wide listing): relative to cwd.
	got, err = tr.ToFind("alice", loc, "/@home/bob/vm", "/home/alice")
	require.NoError(t, err)
	assert.Equal(t, "../bob/vm", got)
}

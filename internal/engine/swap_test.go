package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/subvol/internal/event"
	"github.com/bamsammich/subvol/internal/pathutil"
	"github.com/bamsammich/subvol/internal/platform"
)

// subvolMarker marks a test directory as a subvolume root.
const subvolMarker = ".subvolume"

// markerLister treats every directory holding a marker file as a subvolume.
type markerLister struct{}

func (markerLister) Subvolumes(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, err := os.Lstat(filepath.Join(p, subvolMarker)); err == nil {
			out = append(out, p)
		}
		return nil
	})
	slices.SortFunc(out, pathutil.Compare)
	return out, err
}

// move is a (source, destination) pair.
type move struct{ src, dst string }

// testFS wraps platform.Local, counting mutations and injecting failures.
type testFS struct {
	platform.Local
	failMove   map[move]error
	silentMove map[string]bool // report success without moving
	noExchange bool
	mutations  int
}

func (f *testFS) MkdirAll(path string) error {
	f.mutations++
	return f.Local.MkdirAll(path)
}

func (f *testFS) Move(src, dst string) error {
	f.mutations++
	if err, ok := f.failMove[move{src, dst}]; ok {
		return err
	}
	if f.silentMove[src] {
		return nil
	}
	return f.Local.Move(src, dst)
}

func (f *testFS) Exchange(a, b string) error {
	f.mutations++
	if f.noExchange {
		return platform.ErrExchangeUnsupported
	}
	return f.Local.Exchange(a, b)
}

func (f *testFS) RemoveEmptyDir(path string) error {
	f.mutations++
	return f.Local.RemoveEmptyDir(path)
}

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func makeSubvol(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, subvolMarker), nil, 0o644))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// swapPair creates TARGET (holding t.txt) and NEW (holding n.txt), both
// subvolumes, plus the given nested subvolumes below TARGET.
func swapPair(t *testing.T, nested ...string) (target, newPath string) {
	t.Helper()
	root := tempRoot(t)
	target = filepath.Join(root, "target")
	newPath = filepath.Join(root, "new")
	makeSubvol(t, target)
	makeSubvol(t, newPath)
	writeFile(t, filepath.Join(target, "t.txt"), "target")
	writeFile(t, filepath.Join(newPath, "n.txt"), "new")
	for _, rel := range nested {
		makeSubvol(t, filepath.Join(target, rel))
	}
	return target, newPath
}

func testConfig(fsys FS, target, newPath string) SwapConfig {
	return SwapConfig{
		FS:           fsys,
		Lister:       markerLister{},
		Canonicalize: filepath.Abs,
		Target:       target,
		New:          newPath,
	}
}

func drain(ch chan event.Event) []event.Event {
	close(ch)
	var out []event.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestSwap_MovesNestedSubvolumesAndExchanges(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A", "A/B")
	// An empty placeholder for A is removed before the move.
	require.NoError(t, os.Mkdir(filepath.Join(newPath, "A"), 0o755))

	res := Swap(context.Background(), testConfig(&testFS{}, target, newPath))
	require.NoError(t, res.Err)

	assert.Equal(t, StageSwapped, res.Stage)
	assert.Equal(t, []string{filepath.Join(newPath, "A")}, res.Moved)
	assert.Equal(t, []string{filepath.Join(target, "A", "B")}, res.Skipped)
	assert.Equal(t, int64(1), res.Stats.PlaceholdersRemoved)
	assert.Equal(t, int64(1), res.Stats.SubvolsMoved)
	assert.Equal(t, int64(1), res.Stats.SubvolsSkipped)
	assert.Zero(t, res.Stats.Failures)

	// New content, with the nested subvolumes, now lives at TARGET.
	assert.FileExists(t, filepath.Join(target, "n.txt"))
	assert.FileExists(t, filepath.Join(target, "A", subvolMarker))
	assert.FileExists(t, filepath.Join(target, "A", "B", subvolMarker))
	assert.NoFileExists(t, filepath.Join(target, "t.txt"))

	// Old TARGET content sits at NEW with nothing nested.
	assert.FileExists(t, filepath.Join(newPath, "t.txt"))
	subs, err := markerLister{}.Subvolumes(newPath)
	require.NoError(t, err)
	assert.Equal(t, []string{newPath}, subs)
}

func TestSwap_TwiceRestoresLayout(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A", "A/B", "x/C")

	for i := 0; i < 2; i++ {
		res := Swap(context.Background(), testConfig(&testFS{}, target, newPath))
		require.NoError(t, res.Err)
	}

	assert.FileExists(t, filepath.Join(target, "t.txt"))
	assert.FileExists(t, filepath.Join(newPath, "n.txt"))
	subs, err := markerLister{}.Subvolumes(target)
	require.NoError(t, err)
	assert.Equal(t, []string{
		target,
		filepath.Join(target, "A"),
		filepath.Join(target, "A", "B"),
		filepath.Join(target, "x", "C"),
	}, subs)
	subs, err = markerLister{}.Subvolumes(newPath)
	require.NoError(t, err)
	assert.Equal(t, []string{newPath}, subs)
}

func TestSwap_CreatesMissingParents(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "x/y/C")

	res := Swap(context.Background(), testConfig(&testFS{}, target, newPath))
	require.NoError(t, res.Err)

	assert.Equal(t, int64(1), res.Stats.DirsCreated)
	assert.FileExists(t, filepath.Join(target, "x", "y", "C", subvolMarker))
}

func TestSwap_SkipsDescendantsOfMovedSubvolume(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "d", "d/x", "d/x/y", "e")

	res := Swap(context.Background(), testConfig(&testFS{}, target, newPath))
	require.NoError(t, res.Err)

	assert.Equal(t, []string{
		filepath.Join(newPath, "d"),
		filepath.Join(newPath, "e"),
	}, res.Moved)
	assert.Equal(t, []string{
		filepath.Join(target, "d", "x"),
		filepath.Join(target, "d", "x", "y"),
	}, res.Skipped)
}

func TestSwap_OccupiedDestinationMutatesNothing(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A", "B", "C")
	writeFile(t, filepath.Join(newPath, "A"), "file in the way")
	writeFile(t, filepath.Join(newPath, "C", "keep"), "not empty")

	fsys := &testFS{}
	res := Swap(context.Background(), testConfig(fsys, target, newPath))

	require.ErrorIs(t, res.Err, ErrDestinationOccupied)
	assert.Contains(t, res.Err.Error(), filepath.Join(newPath, "A"))
	assert.Contains(t, res.Err.Error(), filepath.Join(newPath, "C"))
	assert.Zero(t, fsys.mutations)
	assert.Equal(t, int64(1), res.Stats.Failures)
	assert.FileExists(t, filepath.Join(target, "B", subvolMarker))
}

func TestSwap_RejectsNonSubvolume(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t)
	require.NoError(t, os.Remove(filepath.Join(newPath, subvolMarker)))

	fsys := &testFS{}
	res := Swap(context.Background(), testConfig(fsys, target, newPath))
	require.ErrorIs(t, res.Err, ErrNotSubvolume)
	assert.Zero(t, fsys.mutations)
}

func TestSwap_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t)
	inner := filepath.Join(target, "inner")
	makeSubvol(t, inner)
	writeFile(t, filepath.Join(target, "file"), "x")

	tests := []struct {
		name   string
		target string
		new    string
	}{
		{"new inside target", target, inner},
		{"target inside new", inner, target},
		{"same path", target, target},
		{"missing", target, filepath.Join(newPath, "missing")},
		{"not a directory", filepath.Join(target, "file"), newPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := &testFS{}
			res := Swap(context.Background(), testConfig(fsys, tt.target, tt.new))
			require.ErrorIs(t, res.Err, ErrInvalidInput)
			assert.Zero(t, fsys.mutations)
		})
	}
}

func TestSwap_LeftoverSubvolumes(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A")

	fsys := &testFS{silentMove: map[string]bool{filepath.Join(target, "A"): true}}
	res := Swap(context.Background(), testConfig(fsys, target, newPath))

	require.ErrorIs(t, res.Err, ErrLeftoverSubvolumes)
	assert.Contains(t, res.Err.Error(), filepath.Join(target, "A"))
	assert.FileExists(t, filepath.Join(target, "t.txt"))
}

func TestSwap_ConfirmDeclined(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A")

	events := make(chan event.Event, 64)
	cfg := testConfig(&testFS{}, target, newPath)
	cfg.Events = events
	cfg.Confirm = func() (bool, error) { return false, nil }

	res := Swap(context.Background(), cfg)
	require.ErrorIs(t, res.Err, ErrAborted)

	// Relocation already happened; the final swap did not.
	assert.FileExists(t, filepath.Join(target, "t.txt"))
	assert.FileExists(t, filepath.Join(newPath, "A", subvolMarker))

	evs := drain(events)
	require.NotEmpty(t, evs)
	assert.Equal(t, event.Aborted, evs[len(evs)-1].Type)
}

func TestSwap_ConfirmError(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t)

	cfg := testConfig(&testFS{}, target, newPath)
	cfg.Confirm = func() (bool, error) { return false, errors.New("no tty") }

	res := Swap(context.Background(), cfg)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "no tty")
}

func TestSwap_CanceledBeforeRelocation(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fsys := &testFS{}
	res := Swap(ctx, testConfig(fsys, target, newPath))
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, fsys.mutations)
}

func TestSwap_EventSequence(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A", "A/B")

	events := make(chan event.Event, 64)
	cfg := testConfig(&testFS{noExchange: true}, target, newPath)
	cfg.Events = events

	res := Swap(context.Background(), cfg)
	require.NoError(t, res.Err)

	var types []event.Type
	for _, ev := range drain(events) {
		assert.False(t, ev.Timestamp.IsZero())
		types = append(types, ev.Type)
	}
	assert.Equal(t, []event.Type{
		event.PhaseStarted,
		event.PhaseStarted,
		event.SubvolumeMoved,
		event.SubvolumeSkipped,
		event.PhaseStarted,
		event.PhaseStarted,
		event.FallbackRename,
		event.FallbackRename,
		event.FallbackRename,
	}, types)
}

func TestSwap_FallbackRenames(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t, "A")

	cfg := testConfig(&testFS{noExchange: true}, target, newPath)
	cfg.TmpSuffix = ".parked"
	res := Swap(context.Background(), cfg)
	require.NoError(t, res.Err)

	assert.False(t, res.Exchanged)
	assert.Equal(t, StageSwapped, res.Stage)
	assert.Equal(t, int64(3), res.Stats.Renames)
	assert.FileExists(t, filepath.Join(target, "n.txt"))
	assert.FileExists(t, filepath.Join(newPath, "t.txt"))
	assert.NoDirExists(t, target+".parked")
}

func TestSwap_FallbackStepFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	tests := []struct {
		name        string
		fail        func(target, newPath, tmp string) []move
		kind        error
		step        int
		stage       Stage
		restored    bool
		tmpExists   bool
		newAtTarget bool
	}{
		{
			name: "step 1",
			fail: func(target, _, tmp string) []move {
				return []move{{target, tmp}}
			},
			kind: ErrFallbackStep, step: 1, stage: StagePending, restored: true,
		},
		{
			name: "step 2",
			fail: func(target, newPath, _ string) []move {
				return []move{{newPath, target}}
			},
			kind: ErrFallbackStep, step: 2, stage: StagePending, restored: true,
		},
		{
			name: "step 2 with failed restore",
			fail: func(target, newPath, tmp string) []move {
				return []move{{newPath, target}, {tmp, target}}
			},
			kind: ErrUnrecoverable, step: 2, stage: StageTargetParked, tmpExists: true,
		},
		{
			name: "step 3",
			fail: func(_, newPath, tmp string) []move {
				return []move{{tmp, newPath}}
			},
			kind: ErrFallbackStep, step: 3, stage: StagePending, restored: true,
		},
		{
			name: "step 3 with failed first restore",
			fail: func(target, newPath, tmp string) []move {
				return []move{{tmp, newPath}, {target, newPath}}
			},
			kind: ErrUnrecoverable, step: 3, stage: StageNewPlaced, tmpExists: true, newAtTarget: true,
		},
		{
			name: "step 3 with failed second restore",
			fail: func(target, newPath, tmp string) []move {
				return []move{{tmp, newPath}, {tmp, target}}
			},
			kind: ErrUnrecoverable, step: 3, stage: StageTargetParked, tmpExists: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target, newPath := swapPair(t, "A")
			tmp := target + defaultTmpSuffix
			fsys := &testFS{noExchange: true, failMove: map[move]error{}}
			for _, m := range tt.fail(target, newPath, tmp) {
				fsys.failMove[m] = boom
			}

			res := Swap(context.Background(), testConfig(fsys, target, newPath))
			require.ErrorIs(t, res.Err, tt.kind)
			require.ErrorIs(t, res.Err, boom)
			assert.Equal(t, tt.stage, res.Stage)

			var fe *FallbackError
			require.ErrorAs(t, res.Err, &fe)
			assert.Equal(t, tt.step, fe.Step)
			assert.Equal(t, tt.stage, fe.Stage)
			assert.Equal(t, tmp, fe.Tmp)

			if tt.restored {
				assert.FileExists(t, filepath.Join(target, "t.txt"))
				assert.FileExists(t, filepath.Join(newPath, "n.txt"))
				assert.NoDirExists(t, tmp)
			}
			if tt.tmpExists {
				assert.FileExists(t, filepath.Join(tmp, "t.txt"))
			}
			if tt.newAtTarget {
				assert.FileExists(t, filepath.Join(target, "n.txt"))
				assert.NoDirExists(t, newPath)
			}
		})
	}
}

func TestSwap_ExchangeErrorIsNotFallback(t *testing.T) {
	t.Parallel()
	target, newPath := swapPair(t)

	// Exchange fails for a reason other than lack of support.
	fsys := &exchangeErrFS{testFS: &testFS{}, err: os.ErrPermission}
	res := Swap(context.Background(), testConfig(fsys, target, newPath))

	require.ErrorIs(t, res.Err, os.ErrPermission)
	assert.Equal(t, StagePending, res.Stage)
	assert.Zero(t, res.Stats.Renames)
	assert.FileExists(t, filepath.Join(target, "t.txt"))
}

type exchangeErrFS struct {
	*testFS
	err error
}

func (f *exchangeErrFS) Exchange(string, string) error { return f.err }

func TestSwap_Journal(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	target, newPath := swapPair(t, "A")

	j, err := OpenJournal(target, newPath)
	require.NoError(t, err)
	defer j.Close()

	cfg := testConfig(&testFS{noExchange: true}, target, newPath)
	cfg.Journal = j
	res := Swap(context.Background(), cfg)
	require.NoError(t, res.Err)

	stage, err := j.Stage()
	require.NoError(t, err)
	assert.Equal(t, StageSwapped, stage)

	steps, err := j.Steps()
	require.NoError(t, err)
	var ops []string
	for _, s := range steps {
		ops = append(ops, s.Op)
	}
	assert.Equal(t, []string{"move", "rename", "rename", "rename"}, ops)
	assert.Equal(t, filepath.Join(target, "A"), steps[0].Src)
	assert.Equal(t, 2, steps[0].Phase)
}

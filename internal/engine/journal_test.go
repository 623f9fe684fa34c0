package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_OpenClose(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	j, err := OpenJournal("/target", "/new")
	require.NoError(t, err)
	require.NotNil(t, j)

	assert.FileExists(t, j.Path())
	assert.NotEmpty(t, j.RunID())
	require.NoError(t, j.Close())
}

func TestJournal_RecordAndSteps(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	j, err := OpenJournal("/target", "/new")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record(2, "rmdir", "/new/a", ""))
	require.NoError(t, j.Record(2, "move", "/target/a", "/new/a"))
	require.NoError(t, j.Record(4, "exchange", "/target", "/new"))

	steps, err := j.Steps()
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Equal(t, "rmdir", steps[0].Op)
	assert.Equal(t, "move", steps[1].Op)
	assert.Equal(t, "/target/a", steps[1].Src)
	assert.Equal(t, "/new/a", steps[1].Dst)
	assert.Equal(t, 4, steps[2].Phase)
	assert.Less(t, steps[0].Seq, steps[1].Seq)
	for _, s := range steps {
		assert.Equal(t, j.RunID(), s.RunID)
		assert.False(t, s.At.IsZero())
	}
}

func TestJournal_Stage(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	j, err := OpenJournal("/target", "/new")
	require.NoError(t, err)
	defer j.Close()

	stage, err := j.Stage()
	require.NoError(t, err)
	assert.Equal(t, StagePending, stage)

	require.NoError(t, j.SetStage(StageNewPlaced))
	stage, err = j.Stage()
	require.NoError(t, err)
	assert.Equal(t, StageNewPlaced, stage)
}

func TestJournal_JobIDDeterminism(t *testing.T) {
	id1 := journalJobID("/target/a", "/new/b")
	id2 := journalJobID("/target/a", "/new/b")
	id3 := journalJobID("/target/a", "/new/c")
	id4 := journalJobID("/new/b", "/target/a")

	assert.Equal(t, id1, id2, "same inputs should produce same job ID")
	assert.NotEqual(t, id1, id3, "different inputs should produce different job IDs")
	assert.NotEqual(t, id1, id4, "order matters")
	assert.Len(t, id1, 16)
}

func TestJournal_PathFallsBackToTempDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Contains(t, journalPath("abc"), "subvol-abc.db")
}

func TestJournal_LoadAfterCrash(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	// First session: parked Target, then "crashed".
	j, err := OpenJournal("/target", "/new")
	require.NoError(t, err)
	require.NoError(t, j.Record(4, "rename", "/target", "/target.tmp"))
	require.NoError(t, j.SetStage(StageTargetParked))
	runID := j.RunID()
	require.NoError(t, j.Close())

	loaded, err := LoadJournal("/target", "/new")
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, runID, loaded.RunID())
	stage, err := loaded.Stage()
	require.NoError(t, err)
	assert.Equal(t, StageTargetParked, stage)

	steps, err := loaded.Steps()
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "/target.tmp", steps[0].Dst)
}

func TestJournal_NewRunHidesOldSteps(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	j, err := OpenJournal("/target", "/new")
	require.NoError(t, err)
	require.NoError(t, j.Record(2, "move", "/target/a", "/new/a"))
	require.NoError(t, j.SetStage(StageSwapped))
	first := j.RunID()
	require.NoError(t, j.Close())

	j, err = OpenJournal("/target", "/new")
	require.NoError(t, err)
	defer j.Close()

	assert.NotEqual(t, first, j.RunID())
	steps, err := j.Steps()
	require.NoError(t, err)
	assert.Empty(t, steps)

	stage, err := j.Stage()
	require.NoError(t, err)
	assert.Equal(t, StagePending, stage)
}

func TestJournal_LoadMissing(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	_, err := LoadJournal("/target", "/new")
	require.ErrorIs(t, err, ErrNoJournal)
}

func TestJournal_Remove(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	j, err := OpenJournal("/target", "/new")
	require.NoError(t, err)
	dbPath := j.Path()
	require.NoError(t, j.Close())
	assert.FileExists(t, dbPath)

	require.NoError(t, j.Remove())
	assert.NoFileExists(t, dbPath)
}

func TestJournal_NilIsNoop(t *testing.T) {
	var j *Journal

	require.NoError(t, j.Record(2, "move", "/a", "/b"))
	require.NoError(t, j.SetStage(StageSwapped))
	require.NoError(t, j.Close())
	require.NoError(t, j.Remove())

	steps, err := j.Steps()
	require.NoError(t, err)
	assert.Nil(t, steps)
	assert.Empty(t, j.Path())
	assert.Empty(t, j.RunID())
}

func TestParseStage(t *testing.T) {
	for _, s := range []Stage{StagePending, StageTargetParked, StageNewPlaced, StageSwapped} {
		got, err := ParseStage(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("sideways")
	require.Error(t, err)
	assert.Equal(t, "unknown", Stage(42).String())
}

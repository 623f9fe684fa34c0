package engine

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// ErrNoJournal is returned by LoadJournal when no swap of the pair has been
// recorded.
var ErrNoJournal = errors.New("no journal recorded for this pair")

// Journal is a SQLite-backed record of the mutations one swap performed and
// of the fallback stage reached. It survives a crash so an operator can see
// which layout the pair was left in. All methods are no-ops on a nil
// *Journal.
type Journal struct {
	db    *sql.DB
	path  string
	runID string
}

// Step is one recorded mutation.
type Step struct {
	At    time.Time
	RunID string
	Op    string
	Src   string
	Dst   string
	Seq   int64
	Phase int
}

// OpenJournal opens (or creates) the journal for the target/new pair and
// starts a new run in it. The DB is stored at
// $XDG_RUNTIME_DIR/subvol/<job-id>.db or /tmp/subvol-<job-id>.db.
func OpenJournal(target, newPath string) (*Journal, error) {
	dbPath := journalPath(journalJobID(target, newPath))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	j, err := openJournalDB(dbPath)
	if err != nil {
		return nil, err
	}
	j.runID = uuid.NewString()

	if err := j.init(target, newPath); err != nil {
		j.db.Close()
		return nil, err
	}
	return j, nil
}

// LoadJournal opens an existing journal for reading.
func LoadJournal(target, newPath string) (*Journal, error) {
	dbPath := journalPath(journalJobID(target, newPath))
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s -> %s: %w", target, newPath, ErrNoJournal)
	}
	j, err := openJournalDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := j.db.QueryRow("SELECT value FROM meta WHERE key = 'run_id'").Scan(&j.runID); err != nil {
		j.db.Close()
		return nil, fmt.Errorf("read journal run: %w", err)
	}
	return j, nil
}

func openJournalDB(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	return &Journal{db: db, path: dbPath}, nil
}

func (j *Journal) init(target, newPath string) error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS steps (
			seq    INTEGER PRIMARY KEY AUTOINCREMENT,
			run    TEXT NOT NULL,
			phase  INTEGER NOT NULL,
			op     TEXT NOT NULL,
			src    TEXT NOT NULL,
			dst    TEXT NOT NULL,
			at     INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var storedTarget, storedNew string
	row := j.db.QueryRow("SELECT value FROM meta WHERE key = 'target'")
	if err := row.Scan(&storedTarget); err == nil {
		row2 := j.db.QueryRow("SELECT value FROM meta WHERE key = 'new'")
		if err := row2.Scan(&storedNew); err == nil {
			if storedTarget != target || storedNew != newPath {
				return fmt.Errorf("journal pair mismatch: stored %s<->%s, got %s<->%s",
					storedTarget, storedNew, target, newPath)
			}
		}
	}

	_, err = j.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('target', ?), ('new', ?), ('run_id', ?), ('stage', ?)",
		target, newPath, j.runID, StagePending.String(),
	)
	if err != nil {
		return fmt.Errorf("store meta: %w", err)
	}
	return nil
}

// Record appends a step to the current run.
func (j *Journal) Record(phase int, op, src, dst string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.Exec(
		"INSERT INTO steps (run, phase, op, src, dst, at) VALUES (?, ?, ?, ?, ?, ?)",
		j.runID, phase, op, src, dst, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", op, src, err)
	}
	return nil
}

// SetStage records the on-disk layout reached during the final swap.
func (j *Journal) SetStage(s Stage) error {
	if j == nil {
		return nil
	}
	if _, err := j.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('stage', ?)", s.String()); err != nil {
		return fmt.Errorf("record stage %s: %w", s, err)
	}
	return nil
}

// Stage returns the last recorded stage.
func (j *Journal) Stage() (Stage, error) {
	if j == nil {
		return StagePending, nil
	}
	var name string
	if err := j.db.QueryRow("SELECT value FROM meta WHERE key = 'stage'").Scan(&name); err != nil {
		return StagePending, fmt.Errorf("read stage: %w", err)
	}
	return ParseStage(name)
}

// Steps returns the steps of the current run in order.
func (j *Journal) Steps() ([]Step, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.Query(
		"SELECT seq, run, phase, op, src, dst, at FROM steps WHERE run = ? ORDER BY seq", j.runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			s  Step
			at int64
		)
		if err := rows.Scan(&s.Seq, &s.RunID, &s.Phase, &s.Op, &s.Src, &s.Dst, &at); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.At = time.Unix(0, at)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// RunID returns the id of the run the journal reads and writes.
func (j *Journal) RunID() string {
	if j == nil {
		return ""
	}
	return j.runID
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Remove deletes the journal database file and its WAL side files.
func (j *Journal) Remove() error {
	if j == nil {
		return nil
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(j.path + suffix)
	}
	return os.Remove(j.path)
}

// Path returns the path to the journal database file.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// journalJobID computes a deterministic job ID from the target and new paths.
func journalJobID(target, newPath string) string {
	h := blake3.New()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(newPath))
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}

// journalPath returns the filesystem path for a journal DB.
func journalPath(jobID string) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "subvol", jobID+".db")
	}
	return filepath.Join(os.TempDir(), "subvol-"+jobID+".db")
}

package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	_ "modernc.org/sqlite"

	"github.com/attachsync/attachsync/pkg/types"
)

const dbFileName = "attachsync.db"

// DB persists per-run result records so failed identifiers can be queried
// after the fact.
type DB struct {
	client *sql.DB
	dir    string
	clock  clock.PassiveClock
}

// Path returns the database file path under dir.
func Path(dir string) string {
	return filepath.Join(dir, dbFileName)
}

func New(dir string) (DB, error) {
	dbPath := Path(dir)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return DB{}, xerrors.Errorf("failed to mkdir: %w", err)
	}

	client, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return DB{}, xerrors.Errorf("can't open db: %w", err)
	}

	return DB{
		client: client,
		dir:    dir,
		clock:  clock.RealClock{},
	}, nil
}

func (db *DB) Init() error {
	if _, err := db.client.Exec("PRAGMA foreign_keys=true"); err != nil {
		return xerrors.Errorf("failed to enable 'foreign_keys': %w", err)
	}
	if _, err := db.client.Exec(`CREATE TABLE IF NOT EXISTS runs(
		id INTEGER PRIMARY KEY,
		source TEXT,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		processed INTEGER,
		successful INTEGER,
		failed INTEGER,
		skipped INTEGER)`); err != nil {
		return xerrors.Errorf("unable to create 'runs' table: %w", err)
	}
	if _, err := db.client.Exec(`CREATE TABLE IF NOT EXISTS results(
		run_id INTEGER,
		attachment_id TEXT,
		status TEXT,
		error_kind TEXT,
		message TEXT,
		created_at TIMESTAMP,
		foreign key (run_id) references runs(id))`); err != nil {
		return xerrors.Errorf("unable to create 'results' table: %w", err)
	}
	if _, err := db.client.Exec("CREATE INDEX IF NOT EXISTS results_kind_idx ON results(run_id, error_kind)"); err != nil {
		return xerrors.Errorf("unable to create 'results_kind_idx' index: %w", err)
	}
	return nil
}

func (db *DB) Dir() string {
	return db.dir
}

func (db *DB) Close() error {
	return db.client.Close()
}

// BeginRun inserts a new run row and returns its identity.
func (db *DB) BeginRun(source string) (int64, error) {
	res, err := db.client.Exec(`INSERT INTO runs(source, started_at) VALUES (?, ?)`,
		source, db.clock.Now().UTC())
	if err != nil {
		return 0, xerrors.Errorf("unable to insert to 'runs' table: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, xerrors.Errorf("unable to read run id: %w", err)
	}
	return id, nil
}

// InsertResults stores a batch of terminal outcomes in one transaction.
func (db *DB) InsertResults(runID int64, outcomes []types.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := db.client.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, o := range outcomes {
		if _, err = tx.Exec(`INSERT INTO results(run_id, attachment_id, status, error_kind, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, o.ID, o.Status(), string(o.Kind), o.Message, o.Timestamp.UTC()); err != nil {
			return xerrors.Errorf("unable to insert to 'results' table: %w", err)
		}
	}
	return tx.Commit()
}

// CompleteRun stores the final counters on the run row.
func (db *DB) CompleteRun(runID int64, sum types.Summary) error {
	if _, err := db.client.Exec(`UPDATE runs SET completed_at=?, processed=?, successful=?, failed=?, skipped=? WHERE id=?`,
		db.clock.Now().UTC(), sum.Processed, sum.Successful, sum.Failed, sum.Skipped, runID); err != nil {
		return xerrors.Errorf("unable to update 'runs' table: %w", err)
	}
	return nil
}

// SelectResultsByKind returns the records of one run matching an error kind.
func (db *DB) SelectResultsByKind(runID int64, kind types.Kind) ([]Result, error) {
	rows, err := db.client.Query(`SELECT run_id, attachment_id, status, error_kind, message, created_at
		FROM results WHERE run_id = ? AND error_kind = ?`, runID, string(kind))
	if err != nil {
		return nil, xerrors.Errorf("select results error: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// SelectFailed returns every failed record of one run.
func (db *DB) SelectFailed(runID int64) ([]Result, error) {
	rows, err := db.client.Query(`SELECT run_id, attachment_id, status, error_kind, message, created_at
		FROM results WHERE run_id = ? AND status = 'FAILED'`, runID)
	if err != nil {
		return nil, xerrors.Errorf("select results error: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// LastRun returns the most recent run row, or sql.ErrNoRows when the store
// is empty.
func (db *DB) LastRun() (Run, error) {
	var run Run
	var completed sql.NullTime
	var processed, successful, failed, skipped sql.NullInt64
	row := db.client.QueryRow(`SELECT id, source, started_at, completed_at, processed, successful, failed, skipped
		FROM runs ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&run.ID, &run.Source, &run.StartedAt, &completed,
		&processed, &successful, &failed, &skipped); err != nil {
		return Run{}, err
	}
	if completed.Valid {
		run.CompletedAt = completed.Time
	}
	run.Processed = int(processed.Int64)
	run.Successful = int(successful.Int64)
	run.Failed = int(failed.Int64)
	run.Skipped = int(skipped.Int64)
	return run, nil
}

func scanResults(rows *sql.Rows) ([]Result, error) {
	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		var created time.Time
		if err := rows.Scan(&r.RunID, &r.AttachmentID, &r.Status, &kind, &r.Message, &created); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		r.Kind = types.Kind(kind)
		r.CreatedAt = created
		results = append(results, r)
	}
	return results, rows.Err()
}

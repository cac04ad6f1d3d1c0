package tasks

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/vinayprograms/devsupport/errors"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps the collection in a SQLite table, one row per task.
// Save replaces every row inside one transaction. Update reads and writes
// inside one BEGIN IMMEDIATE transaction so that writers in other
// processes cannot interleave.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore creates or opens the database at path and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "open task database", errors.WithPath(path))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "connect to task database", errors.WithPath(path))
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "configure task database", errors.WithPath(path))
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruptState, "apply task schema", errors.WithPath(path))
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Name implements RecordStore.
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// sqlExecer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Load reads every row in insertion order and validates the collection.
func (s *SQLiteStore) Load(ctx context.Context) ([]Task, error) {
	return s.load(ctx, s.db)
}

func (s *SQLiteStore) load(ctx context.Context, db sqlExecer) ([]Task, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, title, status, created_at, completed_at FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, s.wrapErr(ctx, err, "query tasks")
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		var (
			t         Task
			status    string
			created   string
			completed sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Title, &status, &created, &completed); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeCorruptState, "scan task row", errors.WithPath(s.path))
		}
		t.Status = Status(status)
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeCorruptState,
				fmt.Sprintf("task %d created_at", t.ID), errors.WithPath(s.path), errors.WithTaskID(t.ID))
		}
		if completed.Valid {
			at, err := parseTime(completed.String)
			if err != nil {
				return nil, errors.WrapWithCode(err, errors.ErrCodeCorruptState,
					fmt.Sprintf("task %d completed_at", t.ID), errors.WithPath(s.path), errors.WithTaskID(t.ID))
			}
			t.CompletedAt = &at
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr(ctx, err, "read task rows")
	}

	if err := Validate(tasks); err != nil {
		return nil, errors.Wrap(err, "load tasks", errors.WithPath(s.path))
	}
	return tasks, nil
}

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, tasks []Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrapErr(ctx, err, "begin save")
	}
	defer tx.Rollback()

	if err := s.replace(ctx, tx, tasks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.wrapErr(ctx, err, "commit tasks")
	}
	return nil
}

// Update implements Updater.
func (s *SQLiteStore) Update(ctx context.Context, fn func([]Task) ([]Task, error)) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return s.wrapErr(ctx, err, "acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return s.wrapErr(ctx, err, "begin update")
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	tasks, err := s.load(ctx, conn)
	if err != nil {
		return err
	}
	updated, err := fn(tasks)
	if err != nil {
		return err
	}
	if err := s.replace(ctx, conn, updated); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return s.wrapErr(ctx, err, "commit tasks")
	}
	committed = true
	return nil
}

// replace swaps the table contents for tasks. The caller owns the transaction.
func (s *SQLiteStore) replace(ctx context.Context, db sqlExecer, tasks []Task) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return s.wrapErr(ctx, err, "clear tasks")
	}

	stmt, err := db.PrepareContext(ctx,
		`INSERT INTO tasks (seq, id, title, status, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return s.wrapErr(ctx, err, "prepare insert")
	}
	defer stmt.Close()

	for i, t := range tasks {
		var completed sql.NullString
		if t.CompletedAt != nil {
			completed = sql.NullString{String: formatTime(*t.CompletedAt), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i+1, t.ID, t.Title, string(t.Status), formatTime(t.CreatedAt), completed); err != nil {
			return s.wrapErr(ctx, err, fmt.Sprintf("insert task %d", t.ID))
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) wrapErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), msg)
	}
	var sqlErr sqlite3.Error
	if stderrors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked) {
		return errors.ResourceBusy("task database is locked by another process: "+msg, errors.WithPath(s.path))
	}
	return errors.WrapWithCode(err, errors.ErrCodeIO, msg, errors.WithPath(s.path))
}

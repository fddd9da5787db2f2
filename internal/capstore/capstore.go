// Package capstore archives snapshot captures in an SQLite database. Each
// record holds the decoded capture of every stage of one snapshot on one
// pipe, encoded as canonical CBOR.
package capstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pipesnap/internal/capture"
	"pipesnap/internal/common"
	"pipesnap/internal/handle"
	"pipesnap/internal/psnap"
)

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id       BLOB PRIMARY KEY,
	handle   INTEGER NOT NULL,
	dev      INTEGER NOT NULL,
	pipe     INTEGER NOT NULL,
	taken_at INTEGER NOT NULL,
	body     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_handle ON captures(handle, taken_at);
`

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("capstore: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Stage is the archived capture of one stage.
type Stage struct {
	Data   *capture.Data        `cbor:"data"`
	Fields []capture.FieldValue `cbor:"fields"`
}

// Record is one archived capture.
type Record struct {
	ID      uuid.UUID
	Handle  handle.Handle
	Pipe    int
	TakenAt time.Time
	Stages  []Stage
}

// Store is the capture archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path. ":memory:" gives a private
// in-memory archive.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("capstore: open: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA busy_timeout = 10000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("capstore: init %s: %w", path, err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save archives rec. A zero ID is replaced by a new time-ordered one and a
// zero TakenAt by the current time.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("capstore: new id: %w", err)
		}
		rec.ID = id
	}
	if rec.TakenAt.IsZero() {
		rec.TakenAt = time.Now().UTC()
	}
	body, err := encMode.Marshal(rec.Stages)
	if err != nil {
		return fmt.Errorf("capstore: encode %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO captures (id, handle, dev, pipe, taken_at, body) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID[:], int64(rec.Handle), int64(rec.Handle.Dev()), rec.Pipe, rec.TakenAt.UnixNano(), body)
	if err != nil {
		return fmt.Errorf("capstore: insert %s: %w", rec.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Record, error) {
	var (
		id      []byte
		h       int64
		pipe    int
		takenAt int64
		body    []byte
	)
	if err := row.Scan(&id, &h, &pipe, &takenAt, &body); err != nil {
		return nil, err
	}
	rec := &Record{Handle: handle.Handle(h), Pipe: pipe, TakenAt: time.Unix(0, takenAt).UTC()}
	var err error
	if rec.ID, err = uuid.FromBytes(id); err != nil {
		return nil, fmt.Errorf("capstore: bad id: %w", err)
	}
	if err := cbor.Unmarshal(body, &rec.Stages); err != nil {
		return nil, fmt.Errorf("capstore: decode %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, handle, pipe, taken_at, body FROM captures WHERE id = ?`, id[:])
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.Errorf(psnap.ErrObjectNotFound, "capture %s not archived", id)
	}
	if err != nil {
		return nil, fmt.Errorf("capstore: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns the records of a handle, oldest first.
func (s *Store) List(ctx context.Context, h handle.Handle) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, pipe, taken_at, body FROM captures WHERE handle = ? ORDER BY taken_at, id`, int64(h))
	if err != nil {
		return nil, fmt.Errorf("capstore: list %s: %w", h, err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes every record of a handle and returns how many there were.
func (s *Store) Delete(ctx context.Context, h handle.Handle) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE handle = ?`, int64(h))
	if err != nil {
		return 0, fmt.Errorf("capstore: delete %s: %w", h, err)
	}
	return res.RowsAffected()
}

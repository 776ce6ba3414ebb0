package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict covers unique violations such as a second ACTIVE sprint or a
	// duplicate membership.
	ErrConflict = errors.New("conflict")
	// ErrStaleState means the row changed between read and write.
	ErrStaleState = errors.New("stale state")
)

const uniqueViolation = "23505"

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

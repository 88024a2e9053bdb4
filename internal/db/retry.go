package db

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// IsDuplicateKeyError reports whether err means the key the operation
// tried to claim was already taken.
type IsDuplicateKeyError func(err error) bool

const DefaultMaxRetries = 3

// WithRetries runs op once plus up to maxRetries more times while it keeps
// failing with a duplicate key error. Any other error is returned at once.
func WithRetries(op Operation, maxRetries int, isDuplicateKey IsDuplicateKeyError) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !isDuplicateKey(err) {
			return err
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}

// IsUniqueViolation checks for Postgres error 23505.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

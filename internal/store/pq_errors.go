package store

import (
	"errors"

	"github.com/lib/pq"
)

// pqUniqueViolation checks the Postgres SQLSTATE for a unique_violation
// (23505), the error class the ledger's idempotency-key insert relies on.
func pqUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

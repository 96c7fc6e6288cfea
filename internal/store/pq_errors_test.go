package store

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Error("nil error should not be a unique violation")
	}
	if IsUniqueViolation(errors.New("some other error")) {
		t.Error("generic error should not be a unique violation")
	}
	if !IsUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("expected 23505 to be recognized as a unique violation")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("23503 (foreign key violation) should not be a unique violation")
	}
}

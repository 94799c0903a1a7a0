package gallery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error kinds. Every error returned by the service matches exactly one of them with errors.Is.
var (
	// ErrValidation indicates malformed input or a target that can never commit.
	ErrValidation = errors.New("gallery: validation failed")
	// ErrNotFound indicates an unknown owner or an image outside the owner's collection.
	ErrNotFound = errors.New("gallery: not found")
	// ErrConstraintViolation indicates that the store rejected a duplicate position.
	ErrConstraintViolation = errors.New("gallery: constraint violation")
	// ErrConflictRetryable indicates a lost race with a concurrent transaction.
	ErrConflictRetryable = errors.New("gallery: conflicting transaction")
	// ErrUpstreamFailure indicates that the payload collaborator failed.
	ErrUpstreamFailure = errors.New("gallery: upstream failure")
	// ErrForbidden indicates that the caller's proof was rejected.
	ErrForbidden = errors.New("gallery: forbidden")
	// ErrInternal covers store failures that fit no other kind.
	ErrInternal = errors.New("gallery: internal failure")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	postgresUniqueViolation     = "23505"
	postgresSerializationFailed = "40001"
	postgresDeadlockDetected    = "40P01"
	postgresLockNotAvailable    = "55P03"
)

// ServiceError carries a stable "gallery.operation.reason" code and one error kind.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the sentinel kind.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Reason returns the trailing segment of the code.
func (e *ServiceError) Reason() string {
	if index := strings.LastIndex(e.code, "."); index >= 0 {
		return e.code[index+1:]
	}
	return e.code
}

func newServiceError(operation, reason string, kind error, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), kind: kind, err: cause}
}

// KindOf returns the kind of err, or ErrInternal when it carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConstraintViolation, ErrConflictRetryable, ErrUpstreamFailure, ErrForbidden} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrInternal
}

// classifyStoreError maps driver failures onto error kinds.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConstraintViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case postgresUniqueViolation:
			return ErrConstraintViolation
		case postgresSerializationFailed, postgresDeadlockDetected, postgresLockNotAvailable:
			return ErrConflictRetryable
		}
		return ErrInternal
	}
	message := err.Error()
	switch {
	case strings.Contains(message, "UNIQUE constraint failed"):
		return ErrConstraintViolation
	case strings.Contains(message, "database is locked"),
		strings.Contains(message, "database table is locked"),
		strings.Contains(message, "SQLITE_BUSY"):
		return ErrConflictRetryable
	}
	return ErrInternal
}

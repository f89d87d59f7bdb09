package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies a failure so the transport can pick a status without inspecting causes.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindDuplicate           Kind = "duplicate"
	KindAlreadyFriends      Kind = "already_friends"
	KindSelfRequest         Kind = "self_request"
	KindNotLeader           Kind = "not_leader"
	KindAmbiguousQuery      Kind = "ambiguous_query"
	KindConstraintViolation Kind = "constraint_violation"
	KindUnauthorized        Kind = "unauthorized"
	KindTimeout             Kind = "timeout"
	KindInvalidInput        Kind = "invalid_input"
	KindInternal            Kind = "internal"
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrNotFound            = sentinel(KindNotFound)
	ErrDuplicate           = sentinel(KindDuplicate)
	ErrAlreadyFriends      = sentinel(KindAlreadyFriends)
	ErrSelfRequest         = sentinel(KindSelfRequest)
	ErrNotLeader           = sentinel(KindNotLeader)
	ErrAmbiguousQuery      = sentinel(KindAmbiguousQuery)
	ErrConstraintViolation = sentinel(KindConstraintViolation)
	ErrUnauthorized        = sentinel(KindUnauthorized)
	ErrTimeout             = sentinel(KindTimeout)
	ErrInvalidInput        = sentinel(KindInvalidInput)
	ErrInternal            = sentinel(KindInternal)
)

// Error is the coded failure returned by every domain service.
type Error struct {
	kind Kind
	code string
	err  error
}

func sentinel(kind Kind) *Error {
	return &Error{kind: kind, code: string(kind)}
}

// New builds an error whose code reads "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any other *Error of the same kind, so callers compare against the sentinels.
// AlreadyFriends also satisfies ErrDuplicate.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.kind == e.kind {
		return true
	}
	return e.kind == KindAlreadyFriends && other.kind == KindDuplicate
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf reports the kind of err, defaulting to Internal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// CodeOf returns the code of err when it carries one.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

// FromStore classifies a persistence error. Already-coded errors pass through untouched.
func FromStore(operation, reason string, err error) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(KindTimeout, operation, "deadline_exceeded", err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return New(KindNotFound, operation, reason, err)
	case IsUniqueViolation(err):
		return New(KindDuplicate, operation, reason, err)
	default:
		return New(KindInternal, operation, reason, err)
	}
}

// IsUniqueViolation recognises unique-index failures from gorm's translator and from raw
// driver messages when translation is unavailable.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key") ||
		strings.Contains(message, "sqlstate 23505")
}

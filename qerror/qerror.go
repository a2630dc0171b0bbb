// Package qerror defines the wire-visible error taxonomy of the query
// execution core (see spec.md §7). Every error surfaced to a caller of
// Datastore.Execute is classified into exactly one Kind so that RPC/HTTP
// framing layers (out of scope here) can map it without inspecting strings.
package qerror

import (
	"errors"
	"fmt"

	perrors "github.com/pkg/errors"
)

// Kind is the wire-visible error taxonomy of spec.md §7.
type Kind uint8

const (
	// KindInternal covers backend or invariant violations.
	KindInternal Kind = iota
	KindParse
	KindValidation
	KindNotFound
	KindNotAllowed
	KindConflict
	KindTimeout
	KindThrown
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse"
	case KindValidation:
		return "Validation"
	case KindNotFound:
		return "NotFound"
	case KindNotAllowed:
		return "NotAllowed"
	case KindConflict:
		return "Conflict"
	case KindTimeout:
		return "Timeout"
	case KindThrown:
		return "Thrown"
	case KindQuery:
		return "Query"
	default:
		return "Internal"
	}
}

// Error is the concrete error type returned across package boundaries in
// this module. It carries a Kind for classification and chains an
// underlying cause the way go-ethereum/turbo-geth wrap storage errors with
// fmt.Errorf("%w", ...); pkg/errors.Wrap is used where a stack trace at the
// origin of an Internal error earns its keep (backend/invariant failures).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given Kind with no chained cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given Kind chaining cause. If cause is nil,
// Wrap returns nil (mirrors the errors.Wrap(nil) convention of
// github.com/pkg/errors, which we depend on for the Internal stack-trace
// case below).
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Internal builds a KindInternal error, capturing a stack trace via
// pkg/errors so operators can locate the invariant violation that produced
// it — the class of error spec.md §7 says should "include the underlying
// cause in a chain".
func Internal(message string, cause error) *Error {
	if cause != nil {
		cause = perrors.WithStack(cause)
	}
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// Is reports whether err (or any error in its chain) is a *Error of kind.
// The KV sentinel ErrKeyNotFound also counts as KindNotFound, so a backend
// or B+tree miss can be tested with Is(err, KindNotFound).
func Is(err error, kind Kind) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind == kind
	}
	if kind == KindNotFound {
		return errors.Is(err, ErrKeyNotFound)
	}
	return false
}

// Sentinel errors for the KV layer (spec.md §4.B). Backends return these
// directly (no Kind wrapping needed at that layer — the driver classifies
// them into a Kind when surfacing a Response).
var (
	ErrKeyNotFound         = errors.New("kv: key not found")
	ErrTxConditionNotMet   = errors.New("kv: conditional put/delete saw a different expected value")
	ErrTxKeyAlreadyExists  = errors.New("kv: put collided with an existing key")
	ErrTxReadonly          = errors.New("kv: write attempted on a read-only transaction")
	ErrTxFinished          = errors.New("kv: transaction already committed or cancelled")
	ErrConflictRetryable   = errors.New("kv: optimistic write-write conflict, retryable")
	ErrBackendUnavailable  = errors.New("kv: backend open failed")
)

package scep

import (
	"errors"
	"fmt"

	"github.com/remiblancher/qscep/internal/cms"
)

// Error kinds. Every error returned by this package wraps exactly one of
// them, so callers can branch with errors.Is.
var (
	// ErrInput indicates an input could not be parsed into its expected
	// type (bad PEM, wrong block type, key does not match certificate).
	ErrInput = errors.New("invalid input")

	// ErrCrypto indicates encryption, digesting or signing failed.
	ErrCrypto = errors.New("cryptographic operation failed")

	// ErrIntegrity indicates the assembled message failed a sanity check.
	ErrIntegrity = errors.New("message integrity check failed")

	// ErrIO indicates reading an input or writing the output failed.
	ErrIO = errors.New("i/o error")
)

// Error is a classified build failure.
type Error struct {
	Kind error  // one of ErrInput, ErrCrypto, ErrIntegrity, ErrIO
	Op   string // e.g. "load certificate", "encrypt", "finalize"
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("scep %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("scep %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError creates an Error of the given kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func inputError(op string, err error) error     { return NewError(ErrInput, op, err) }
func cryptoError(op string, err error) error    { return NewError(ErrCrypto, op, err) }
func integrityError(op string, err error) error { return NewError(ErrIntegrity, op, err) }
func ioError(op string, err error) error        { return NewError(ErrIO, op, err) }

// classifyCMS maps an error from the cms package onto a kind. Malformed
// structures are integrity failures; everything else is cryptographic.
func classifyCMS(op string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, cms.ErrInvalidContent) {
		return integrityError(op, err)
	}
	return cryptoError(op, err)
}

// KindOf returns the kind of err, or nil if err was not produced by this
// package.
func KindOf(err error) error {
	for _, k := range []error{ErrInput, ErrCrypto, ErrIntegrity, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

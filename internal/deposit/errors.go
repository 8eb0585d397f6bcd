package deposit

import (
	"errors"
	"fmt"
)

// Kind is the externally visible failure class of a deposit batch. Codes are
// stable: receipts and billing key off them.
type Kind uint8

const (
	KindOK                      Kind = 0
	KindParseError              Kind = 1
	KindWrongLengthOfArguments  Kind = 2
	KindAssetDecodeError        Kind = 3
	KindProofDecodeError        Kind = 4
	KindProofVerificationFailed Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindParseError:
		return "parse_error"
	case KindWrongLengthOfArguments:
		return "wrong_length_of_arguments"
	case KindAssetDecodeError:
		return "asset_decode_error"
	case KindProofDecodeError:
		return "proof_decode_error"
	case KindProofVerificationFailed:
		return "proof_verification_failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Code is the numeric form of k.
func (k Kind) Code() uint32 {
	return uint32(k)
}

// Valid reports whether k belongs to the closed taxonomy.
func (k Kind) Valid() bool {
	return k <= KindProofVerificationFailed
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k := KindOK; k <= KindProofVerificationFailed; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("deposit: unknown error kind %q", s)
}

// Error is the only error type that leaves the verification core. It carries
// the failure kind and, for per-request failures, the request index (-1
// otherwise). Library diagnostics never end up in it.
type Error struct {
	Kind  Kind
	Index int
}

func (e *Error) Error() string {
	if e.Index < 0 {
		return "deposit: " + e.Kind.String()
	}
	return fmt.Sprintf("deposit: request %d: %s", e.Index, e.Kind.String())
}

// Is matches any *Error of the same kind, so callers can compare against the
// sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrParse                   = &Error{Kind: KindParseError, Index: -1}
	ErrWrongLengthOfArguments  = &Error{Kind: KindWrongLengthOfArguments, Index: -1}
	ErrAssetDecode             = &Error{Kind: KindAssetDecodeError, Index: -1}
	ErrProofDecode             = &Error{Kind: KindProofDecodeError, Index: -1}
	ErrProofVerificationFailed = &Error{Kind: KindProofVerificationFailed, Index: -1}
)

// RequestError builds the error for a failed request at index i.
func RequestError(k Kind, i int) *Error {
	return &Error{Kind: k, Index: i}
}

// KindOf returns the taxonomy kind of err. A nil error is KindOK; any error
// that is not a *Error is reported as a verification failure so that nothing
// escapes the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProofVerificationFailed
}

// IndexOf returns the failed request index carried by err, or -1.
func IndexOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Index
	}
	return -1
}

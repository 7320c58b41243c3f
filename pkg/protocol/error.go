package protocol

import "fmt"

// DecodeErrorKind classifies why a datagram could not be decoded.
type DecodeErrorKind uint8

const (
	DecodeVersionMismatch DecodeErrorKind = iota + 1 // Version byte differs from this build
	DecodeTruncated                                  // Fewer bytes than declared
	DecodeUnknownType                                // Unrecognized message tag
	DecodeMalformed                                  // Structurally invalid content
)

// String returns the string representation of the decode error kind.
func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeVersionMismatch:
		return "VersionMismatch"
	case DecodeTruncated:
		return "Truncated"
	case DecodeUnknownType:
		return "UnknownType"
	case DecodeMalformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// DecodeError is returned by Decode for any malformed datagram.
// The packet is dropped; the connection it came from is unaffected.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("protocol: decode: %s", e.Kind)
	}
	return fmt.Sprintf("protocol: decode: %s: %s", e.Kind, e.Detail)
}

// Is reports whether target is a DecodeError of the same kind, so that
// errors.Is(err, ErrTruncated) matches any truncation regardless of detail.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// Sentinel decode errors for use with errors.Is.
var (
	ErrVersionMismatch = &DecodeError{Kind: DecodeVersionMismatch}
	ErrTruncated       = &DecodeError{Kind: DecodeTruncated}
	ErrUnknownType     = &DecodeError{Kind: DecodeUnknownType}
	ErrMalformed       = &DecodeError{Kind: DecodeMalformed}
)

func truncated(what string) error {
	return &DecodeError{Kind: DecodeTruncated, Detail: what}
}

func malformed(detail string) error {
	return &DecodeError{Kind: DecodeMalformed, Detail: detail}
}

package api

import "errors"

// Class groups errors by how a caller should react to them.
type Class uint8

const (
	// ClassValidation is a malformed request, rejected before any state change.
	ClassValidation Class = iota + 1
	// ClassMembership is a room membership violation, no side effects.
	ClassMembership
	// ClassToken is a bad reconnection token, the caller should do a fresh join.
	ClassToken
	// ClassRelay means the remote peer is gone.
	ClassRelay
	// ClassNegotiation is terminal for one peer pair only.
	ClassNegotiation
	// ClassInternal is anything unexpected.
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassMembership:
		return "membership"
	case ClassToken:
		return "token"
	case ClassRelay:
		return "relay"
	case ClassNegotiation:
		return "negotiation"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a typed domain error.
// The Code value goes to the wire as is.
type Error struct {
	Class  Class
	Code   string
	Reason string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Code + ": " + e.Reason
	}
	return e.Code
}

// Is matches errors by their code, so errors.Is(ErrRoomFull.With("x"), ErrRoomFull) holds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of the error with some details attached.
func (e *Error) With(reason string) *Error {
	return &Error{Class: e.Class, Code: e.Code, Reason: reason}
}

var (
	ErrValidation        = &Error{Class: ClassValidation, Code: "ValidationError"}
	ErrRoomNotFound      = &Error{Class: ClassMembership, Code: "RoomNotFound"}
	ErrRoomInactive      = &Error{Class: ClassMembership, Code: "RoomInactive"}
	ErrRoomFull          = &Error{Class: ClassMembership, Code: "RoomFull"}
	ErrRoomAlreadyActive = &Error{Class: ClassMembership, Code: "RoomAlreadyActive"}
	ErrNotInRoom         = &Error{Class: ClassMembership, Code: "NotInRoom"}
	ErrForbidden         = &Error{Class: ClassMembership, Code: "Forbidden"}
	ErrTokenInvalid      = &Error{Class: ClassToken, Code: "TokenInvalid"}
	ErrTokenExpired      = &Error{Class: ClassToken, Code: "TokenExpired"}
	ErrTokenConsumed     = &Error{Class: ClassToken, Code: "TokenConsumed"}
	ErrTargetNotFound    = &Error{Class: ClassRelay, Code: "TargetNotFound"}
	ErrNegotiation       = &Error{Class: ClassNegotiation, Code: "NegotiationError"}
	ErrInternal          = &Error{Class: ClassInternal, Code: "InternalError"}
)

// AsError extracts a typed error, anything else becomes ErrInternal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

// FromCode restores a typed error from its wire code.
func FromCode(code string) *Error {
	for _, e := range []*Error{
		ErrValidation, ErrRoomNotFound, ErrRoomInactive, ErrRoomFull, ErrRoomAlreadyActive,
		ErrNotInRoom, ErrForbidden, ErrTokenInvalid, ErrTokenExpired, ErrTokenConsumed,
		ErrTargetNotFound, ErrNegotiation,
	} {
		if e.Code == code {
			return e
		}
	}
	return ErrInternal.With(code)
}

// IsClass tells whether err is a typed error of the class c.
func IsClass(err error, c Class) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == c
}

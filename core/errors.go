package core

import (
	stderrors "errors"
	"fmt"

	"github.com/vuuvv/errors"
)

// ErrorCode classifies a problem found while decoding. Every code is recovered
// locally and surfaced as an annotation on the field tree.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeBounds
	CodeLengthMismatch
	CodeOverrun
	CodeUnknownDiscriminator
	CodeRecursionLimit
	CodeEmptyFrame
	CodeIncomplete
	CodeOutOfOrder
	CodePanic
	CodeDecode
)

var codeNames = map[ErrorCode]string{
	CodeNone:                 "none",
	CodeBounds:               "bounds",
	CodeLengthMismatch:       "length_mismatch",
	CodeOverrun:              "overrun",
	CodeUnknownDiscriminator: "unknown_discriminator",
	CodeRecursionLimit:       "recursion_limit",
	CodeEmptyFrame:           "empty_frame",
	CodeIncomplete:           "incomplete",
	CodeOutOfOrder:           "out_of_order",
	CodePanic:                "panic",
	CodeDecode:               "decode",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code_%d", int(c))
}

// BoundsError is returned by every Cursor read that falls outside the cursor.
type BoundsError struct {
	Offset    int
	Requested int
	Available int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("bounds: requested %d bytes at offset %d, %d available", e.Requested, e.Offset, e.Available)
}

func newBoundsError(offset, requested, length int) *BoundsError {
	available := length - offset
	if available < 0 || offset < 0 {
		available = 0
	}
	return &BoundsError{Offset: offset, Requested: requested, Available: available}
}

// AsBoundsError reports whether err (or anything it wraps) is a BoundsError.
func AsBoundsError(err error) (*BoundsError, bool) {
	var be *BoundsError
	if stderrors.As(err, &be) {
		return be, true
	}
	return nil, false
}

var (
	ErrRegistryFrozen       = errors.New("registry is frozen")
	ErrDuplicateProtocol    = errors.New("protocol already registered")
	ErrDuplicateExact       = errors.New("discriminator already claimed")
	ErrUnknownProtocol      = errors.New("protocol not registered")
	ErrInvalidBitfield      = errors.New("invalid bitfield descriptor")
	ErrInvalidTlvHeader     = errors.New("invalid tlv header format")
	ErrInvalidExpression    = errors.New("heuristic expression must return bool or int")
	ErrInvalidDiscriminator = errors.New("invalid discriminator")
)

// PanicError carries a panic recovered from a plug-in decoder.
type PanicError struct {
	Reason any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("decoder panic: %v", e.Reason)
}

// codeOf maps a decode error onto the annotation taxonomy.
func codeOf(err error) ErrorCode {
	if _, ok := AsBoundsError(err); ok {
		return CodeBounds
	}
	var pe *PanicError
	if stderrors.As(err, &pe) {
		return CodePanic
	}
	return CodeDecode
}

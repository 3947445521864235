package vmerrors

import (
	"errors"
	"fmt"
)

// VerifyKind classifies verifier rejections. All of them are fatal to
// loading the program and none of them are fatal to the host process.
type VerifyKind int

const (
	UninitializedRegister VerifyKind = iota + 1
	OutOfBoundsAccess
	IllegalPointerArithmetic
	UnboundedLoop
	ComplexityLimitExceeded
	DisallowedCall
	TypeMismatch
)

var verifyKindNames = map[VerifyKind]string{
	UninitializedRegister:    "UninitializedRegister",
	OutOfBoundsAccess:        "OutOfBoundsAccess",
	IllegalPointerArithmetic: "IllegalPointerArithmetic",
	UnboundedLoop:            "UnboundedLoop",
	ComplexityLimitExceeded:  "ComplexityLimitExceeded",
	DisallowedCall:           "DisallowedCall",
	TypeMismatch:             "TypeMismatch",
}

// Verify (V) codes, matching the kind order above.
func (k VerifyKind) String() string {
	if name, ok := verifyKindNames[k]; ok {
		return name
	}
	return "UnknownVerifyKind"
}

func (k VerifyKind) Code() string {
	return fmt.Sprintf("V%d", int(k))
}

// VerifyError is the structured rejection produced by the verifier. It
// identifies the offending instruction and register so the diagnostic can be
// rendered as a single human-readable line.
type VerifyError struct {
	Kind    VerifyKind
	InsnIdx int
	Reg     int    // offending register index, or -1 when not register-specific
	Detail  string // optional free-form detail
}

func (e *VerifyError) Error() string {
	line := fmt.Sprintf("%s|%s: insn %d", e.Kind.Code(), e.Kind, e.InsnIdx)
	if e.Reg >= 0 {
		line += fmt.Sprintf(": reg r%d", e.Reg)
	}
	if e.Detail != "" {
		line += ": " + e.Detail
	}
	return line
}

// NewVerifyError builds a VerifyError. Pass reg = -1 for errors that are not
// tied to a particular register.
func NewVerifyError(kind VerifyKind, insn int, reg int, detail string) *VerifyError {
	return &VerifyError{Kind: kind, InsnIdx: insn, Reg: reg, Detail: detail}
}

// IsVerifyKind reports whether err is, or wraps, a *VerifyError of the given
// kind.
func IsVerifyKind(err error, kind VerifyKind) bool {
	var ve *VerifyError
	return errors.As(err, &ve) && ve.Kind == kind
}

package vmerrors

import (
	"errors"
	"strings"
)

// Decode (D) Errors -- malformed bytecode, always fatal to loading.
var (
	ErrDTruncatedProgram = errors.New("D1|TruncatedProgram: Program length is not a multiple of the instruction width.")
	ErrDEmptyProgram     = errors.New("D2|EmptyProgram: Program contains no instructions.")
	ErrDProgramTooLarge  = errors.New("D3|ProgramTooLarge: Program exceeds the maximum instruction count.")
	ErrDUnknownOpcode    = errors.New("D4|UnknownOpcode: Opcode is not in the known instruction set.")
	ErrDBadRegister      = errors.New("D5|BadRegister: Register index exceeds 10.")
	ErrDBadWideImm       = errors.New("D6|BadWideImm: Malformed or truncated two-slot immediate load.")
)

// Structural (S) Errors -- bad control flow shape, fatal to loading.
var (
	ErrSJumpOutOfRange  = errors.New("S1|JumpOutOfRange: Jump target is outside the program.")
	ErrSJumpIntoWideImm = errors.New("S2|JumpIntoWideImm: Jump target is the second slot of a two-slot immediate load.")
	ErrSFallOffEnd      = errors.New("S3|FallOffEnd: Control flow can fall through past the last instruction.")
	ErrSUnreachableInsn = errors.New("S4|UnreachableInsn: Instruction is not reachable from the entry.")
)

// Execution (E) Errors -- faults of one execution, never fatal to the host.
var (
	ErrEStepBudget     = errors.New("E1|StepBudgetExhausted: Execution exceeded the instruction step budget.")
	ErrEBadMemory      = errors.New("E2|BadMemory: Runtime access resolved to no mapped region.")
	ErrEBadHelper      = errors.New("E3|BadHelper: Helper id has no entry in the capability table.")
	ErrEBadJump        = errors.New("E4|BadJump: Runtime jump target outside the program.")
	ErrEBadInstruction = errors.New("E5|BadInstruction: Execution reached an undecodable instruction.")
	ErrEDivZero        = errors.New("E6|DivZero: Division or modulo by zero produced the defined result.")
)

// GetErrorCode extracts the short code ("D1", "S3", ...) from a coded error.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorName extracts the error name from a coded error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorDesc extracts the human description from a coded error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}

package bytecode

import "fmt"

// Instruction is one decoded 8-byte slot. It is immutable once decoded; the
// instruction's address is its index in the program slice. The second slot of
// an LDDW pair appears as an Instruction with Opcode == WIDE_CONT whose Imm
// carries the high 32 bits of the 64-bit immediate.
type Instruction struct {
	Opcode byte
	Dst    uint8
	Src    uint8
	Off    int16
	Imm    int32
}

// IsWide reports whether the instruction is the first slot of an LDDW pair.
func (i Instruction) IsWide() bool { return i.Opcode == LDDW }

// IsWideCont reports whether the instruction is the second slot of an LDDW pair.
func (i Instruction) IsWideCont() bool { return i.Opcode == WIDE_CONT }

// IsExit reports whether the instruction halts the program.
func (i Instruction) IsExit() bool { return i.Opcode == EXIT }

// IsCall reports whether the instruction invokes a helper function.
func (i Instruction) IsCall() bool { return i.Opcode == CALL }

// IsBranch reports whether the instruction is a conditional jump.
func (i Instruction) IsBranch() bool {
	cls := Class(i.Opcode)
	if cls != CLS_JMP && cls != CLS_JMP32 {
		return false
	}
	op := JmpOp(i.Opcode)
	return op != JMP_JA && op != JMP_CALL && op != JMP_EXIT
}

// IsJump reports whether the instruction transfers control (conditionally or not).
func (i Instruction) IsJump() bool {
	return i.Opcode == JA || i.IsBranch()
}

// IsLoad reports whether the instruction reads memory through a register.
func (i Instruction) IsLoad() bool {
	return Class(i.Opcode) == CLS_LDX && Mode(i.Opcode) == MODE_MEM
}

// IsStore reports whether the instruction writes memory through a register.
func (i Instruction) IsStore() bool {
	cls := Class(i.Opcode)
	return (cls == CLS_ST || cls == CLS_STX) && Mode(i.Opcode) == MODE_MEM
}

// IsBasicBlockTerminator returns true if the instruction terminates a basic
// block: every jump, call and exit ends the block it sits in.
func (i Instruction) IsBasicBlockTerminator() bool {
	return i.IsJump() || i.IsCall() || i.IsExit()
}

// JumpTarget returns the instruction index a jump at index idx lands on.
func (i Instruction) JumpTarget(idx int) int {
	return idx + 1 + int(i.Off)
}

// WideImm combines the LDDW pair starting at the receiver with the given
// continuation slot into the full 64-bit immediate.
func (i Instruction) WideImm(cont Instruction) uint64 {
	return uint64(uint32(i.Imm)) | uint64(uint32(cont.Imm))<<32
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s dst=%s src=%s off=%d imm=%d",
		OpcodeToString(i.Opcode), RegName(i.Dst), RegName(i.Src), i.Off, i.Imm)
}

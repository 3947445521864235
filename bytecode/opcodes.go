package bytecode

// Instruction opcodes - Unified Definition
// This file contains all opcode constants for the fixed-width instruction
// set. All other packages should import and use these constants instead of
// defining their own.

// Instruction classes (low 3 bits of the opcode).
const (
	CLS_LD    = 0x00
	CLS_LDX   = 0x01
	CLS_ST    = 0x02
	CLS_STX   = 0x03
	CLS_ALU32 = 0x04
	CLS_JMP   = 0x05
	CLS_JMP32 = 0x06
	CLS_ALU64 = 0x07
)

// Operand width field for load/store classes (bits 3-4).
const (
	SIZE_W  = 0x00 // 4 bytes
	SIZE_H  = 0x08 // 2 bytes
	SIZE_B  = 0x10 // 1 byte
	SIZE_DW = 0x18 // 8 bytes
)

// Addressing mode field for load/store classes (high 3 bits).
const (
	MODE_IMM = 0x00
	MODE_MEM = 0x60
)

// Source operand field for ALU/JMP classes (bit 3).
const (
	SRC_K = 0x00 // use the 32-bit immediate
	SRC_X = 0x08 // use the source register
)

// ALU operation field (high 4 bits).
const (
	ALU_ADD  = 0x00
	ALU_SUB  = 0x10
	ALU_MUL  = 0x20
	ALU_DIV  = 0x30
	ALU_OR   = 0x40
	ALU_AND  = 0x50
	ALU_LSH  = 0x60
	ALU_RSH  = 0x70
	ALU_NEG  = 0x80
	ALU_MOD  = 0x90
	ALU_XOR  = 0xa0
	ALU_MOV  = 0xb0
	ALU_ARSH = 0xc0
	ALU_END  = 0xd0
)

// Jump operation field (high 4 bits).
const (
	JMP_JA   = 0x00
	JMP_JEQ  = 0x10
	JMP_JGT  = 0x20
	JMP_JGE  = 0x30
	JMP_JSET = 0x40
	JMP_JNE  = 0x50
	JMP_JSGT = 0x60
	JMP_JSGE = 0x70
	JMP_CALL = 0x80
	JMP_EXIT = 0x90
	JMP_JLT  = 0xa0
	JMP_JLE  = 0xb0
	JMP_JSLT = 0xc0
	JMP_JSLE = 0xd0
)

// Whole opcodes that need to be named directly.
const (
	LDDW      = CLS_LD | SIZE_DW | MODE_IMM // 0x18, two-slot immediate load
	WIDE_CONT = 0x00                        // second slot of an LDDW pair
	CALL      = CLS_JMP | JMP_CALL          // 0x85
	EXIT      = CLS_JMP | JMP_EXIT          // 0x95
	JA        = CLS_JMP | JMP_JA            // 0x05
)

// Src register field values on LDDW marking what the 64-bit immediate means.
const (
	PSEUDO_NONE   = 0 // plain 64-bit constant
	PSEUDO_MAP_ID = 1 // imm is a map id; dst becomes a map handle
)

// Registers 0-10. R10 is the read-only frame pointer.
const (
	R0  = 0
	R1  = 1
	R2  = 2
	R3  = 3
	R4  = 4
	R5  = 5
	R6  = 6
	R7  = 7
	R8  = 8
	R9  = 9
	R10 = 10

	FP     = R10
	MaxReg = 10
)

// Program limits.
const (
	InsnSize  = 8    // fixed instruction width in bytes
	MaxInsns  = 4096 // maximum program length in instructions
	StackSize = 512  // per-invocation stack frame in bytes
)

// opcodeNames maps every opcode in the known set to its string name.
// Decode rejects any opcode not present here (WIDE_CONT is handled as part
// of the preceding LDDW, never on its own).
var opcodeNames = map[byte]string{
	LDDW: "LDDW",

	// LDX: memory loads
	CLS_LDX | MODE_MEM | SIZE_W:  "LDXW",
	CLS_LDX | MODE_MEM | SIZE_H:  "LDXH",
	CLS_LDX | MODE_MEM | SIZE_B:  "LDXB",
	CLS_LDX | MODE_MEM | SIZE_DW: "LDXDW",

	// ST: immediate stores
	CLS_ST | MODE_MEM | SIZE_W:  "STW",
	CLS_ST | MODE_MEM | SIZE_H:  "STH",
	CLS_ST | MODE_MEM | SIZE_B:  "STB",
	CLS_ST | MODE_MEM | SIZE_DW: "STDW",

	// STX: register stores
	CLS_STX | MODE_MEM | SIZE_W:  "STXW",
	CLS_STX | MODE_MEM | SIZE_H:  "STXH",
	CLS_STX | MODE_MEM | SIZE_B:  "STXB",
	CLS_STX | MODE_MEM | SIZE_DW: "STXDW",

	// ALU64
	CLS_ALU64 | ALU_ADD | SRC_K:  "ADD64_IMM",
	CLS_ALU64 | ALU_ADD | SRC_X:  "ADD64_REG",
	CLS_ALU64 | ALU_SUB | SRC_K:  "SUB64_IMM",
	CLS_ALU64 | ALU_SUB | SRC_X:  "SUB64_REG",
	CLS_ALU64 | ALU_MUL | SRC_K:  "MUL64_IMM",
	CLS_ALU64 | ALU_MUL | SRC_X:  "MUL64_REG",
	CLS_ALU64 | ALU_DIV | SRC_K:  "DIV64_IMM",
	CLS_ALU64 | ALU_DIV | SRC_X:  "DIV64_REG",
	CLS_ALU64 | ALU_OR | SRC_K:   "OR64_IMM",
	CLS_ALU64 | ALU_OR | SRC_X:   "OR64_REG",
	CLS_ALU64 | ALU_AND | SRC_K:  "AND64_IMM",
	CLS_ALU64 | ALU_AND | SRC_X:  "AND64_REG",
	CLS_ALU64 | ALU_LSH | SRC_K:  "LSH64_IMM",
	CLS_ALU64 | ALU_LSH | SRC_X:  "LSH64_REG",
	CLS_ALU64 | ALU_RSH | SRC_K:  "RSH64_IMM",
	CLS_ALU64 | ALU_RSH | SRC_X:  "RSH64_REG",
	CLS_ALU64 | ALU_NEG | SRC_K:  "NEG64",
	CLS_ALU64 | ALU_MOD | SRC_K:  "MOD64_IMM",
	CLS_ALU64 | ALU_MOD | SRC_X:  "MOD64_REG",
	CLS_ALU64 | ALU_XOR | SRC_K:  "XOR64_IMM",
	CLS_ALU64 | ALU_XOR | SRC_X:  "XOR64_REG",
	CLS_ALU64 | ALU_MOV | SRC_K:  "MOV64_IMM",
	CLS_ALU64 | ALU_MOV | SRC_X:  "MOV64_REG",
	CLS_ALU64 | ALU_ARSH | SRC_K: "ARSH64_IMM",
	CLS_ALU64 | ALU_ARSH | SRC_X: "ARSH64_REG",

	// ALU32
	CLS_ALU32 | ALU_ADD | SRC_K:  "ADD32_IMM",
	CLS_ALU32 | ALU_ADD | SRC_X:  "ADD32_REG",
	CLS_ALU32 | ALU_SUB | SRC_K:  "SUB32_IMM",
	CLS_ALU32 | ALU_SUB | SRC_X:  "SUB32_REG",
	CLS_ALU32 | ALU_MUL | SRC_K:  "MUL32_IMM",
	CLS_ALU32 | ALU_MUL | SRC_X:  "MUL32_REG",
	CLS_ALU32 | ALU_DIV | SRC_K:  "DIV32_IMM",
	CLS_ALU32 | ALU_DIV | SRC_X:  "DIV32_REG",
	CLS_ALU32 | ALU_OR | SRC_K:   "OR32_IMM",
	CLS_ALU32 | ALU_OR | SRC_X:   "OR32_REG",
	CLS_ALU32 | ALU_AND | SRC_K:  "AND32_IMM",
	CLS_ALU32 | ALU_AND | SRC_X:  "AND32_REG",
	CLS_ALU32 | ALU_LSH | SRC_K:  "LSH32_IMM",
	CLS_ALU32 | ALU_LSH | SRC_X:  "LSH32_REG",
	CLS_ALU32 | ALU_RSH | SRC_K:  "RSH32_IMM",
	CLS_ALU32 | ALU_RSH | SRC_X:  "RSH32_REG",
	CLS_ALU32 | ALU_NEG | SRC_K:  "NEG32",
	CLS_ALU32 | ALU_MOD | SRC_K:  "MOD32_IMM",
	CLS_ALU32 | ALU_MOD | SRC_X:  "MOD32_REG",
	CLS_ALU32 | ALU_XOR | SRC_K:  "XOR32_IMM",
	CLS_ALU32 | ALU_XOR | SRC_X:  "XOR32_REG",
	CLS_ALU32 | ALU_MOV | SRC_K:  "MOV32_IMM",
	CLS_ALU32 | ALU_MOV | SRC_X:  "MOV32_REG",
	CLS_ALU32 | ALU_ARSH | SRC_K: "ARSH32_IMM",
	CLS_ALU32 | ALU_ARSH | SRC_X: "ARSH32_REG",
	CLS_ALU32 | ALU_END | SRC_K:  "LE",
	CLS_ALU32 | ALU_END | SRC_X:  "BE",

	// JMP
	JA:   "JA",
	CALL: "CALL",
	EXIT: "EXIT",

	CLS_JMP | JMP_JEQ | SRC_K:  "JEQ_IMM",
	CLS_JMP | JMP_JEQ | SRC_X:  "JEQ_REG",
	CLS_JMP | JMP_JGT | SRC_K:  "JGT_IMM",
	CLS_JMP | JMP_JGT | SRC_X:  "JGT_REG",
	CLS_JMP | JMP_JGE | SRC_K:  "JGE_IMM",
	CLS_JMP | JMP_JGE | SRC_X:  "JGE_REG",
	CLS_JMP | JMP_JSET | SRC_K: "JSET_IMM",
	CLS_JMP | JMP_JSET | SRC_X: "JSET_REG",
	CLS_JMP | JMP_JNE | SRC_K:  "JNE_IMM",
	CLS_JMP | JMP_JNE | SRC_X:  "JNE_REG",
	CLS_JMP | JMP_JSGT | SRC_K: "JSGT_IMM",
	CLS_JMP | JMP_JSGT | SRC_X: "JSGT_REG",
	CLS_JMP | JMP_JSGE | SRC_K: "JSGE_IMM",
	CLS_JMP | JMP_JSGE | SRC_X: "JSGE_REG",
	CLS_JMP | JMP_JLT | SRC_K:  "JLT_IMM",
	CLS_JMP | JMP_JLT | SRC_X:  "JLT_REG",
	CLS_JMP | JMP_JLE | SRC_K:  "JLE_IMM",
	CLS_JMP | JMP_JLE | SRC_X:  "JLE_REG",
	CLS_JMP | JMP_JSLT | SRC_K: "JSLT_IMM",
	CLS_JMP | JMP_JSLT | SRC_X: "JSLT_REG",
	CLS_JMP | JMP_JSLE | SRC_K: "JSLE_IMM",
	CLS_JMP | JMP_JSLE | SRC_X: "JSLE_REG",

	// JMP32: same conditions on the low 32 bits
	CLS_JMP32 | JMP_JEQ | SRC_K:  "JEQ32_IMM",
	CLS_JMP32 | JMP_JEQ | SRC_X:  "JEQ32_REG",
	CLS_JMP32 | JMP_JGT | SRC_K:  "JGT32_IMM",
	CLS_JMP32 | JMP_JGT | SRC_X:  "JGT32_REG",
	CLS_JMP32 | JMP_JGE | SRC_K:  "JGE32_IMM",
	CLS_JMP32 | JMP_JGE | SRC_X:  "JGE32_REG",
	CLS_JMP32 | JMP_JSET | SRC_K: "JSET32_IMM",
	CLS_JMP32 | JMP_JSET | SRC_X: "JSET32_REG",
	CLS_JMP32 | JMP_JNE | SRC_K:  "JNE32_IMM",
	CLS_JMP32 | JMP_JNE | SRC_X:  "JNE32_REG",
	CLS_JMP32 | JMP_JSGT | SRC_K: "JSGT32_IMM",
	CLS_JMP32 | JMP_JSGT | SRC_X: "JSGT32_REG",
	CLS_JMP32 | JMP_JSGE | SRC_K: "JSGE32_IMM",
	CLS_JMP32 | JMP_JSGE | SRC_X: "JSGE32_REG",
	CLS_JMP32 | JMP_JLT | SRC_K:  "JLT32_IMM",
	CLS_JMP32 | JMP_JLT | SRC_X:  "JLT32_REG",
	CLS_JMP32 | JMP_JLE | SRC_K:  "JLE32_IMM",
	CLS_JMP32 | JMP_JLE | SRC_X:  "JLE32_REG",
	CLS_JMP32 | JMP_JSLT | SRC_K: "JSLT32_IMM",
	CLS_JMP32 | JMP_JSLT | SRC_X: "JSLT32_REG",
	CLS_JMP32 | JMP_JSLE | SRC_K: "JSLE32_IMM",
	CLS_JMP32 | JMP_JSLE | SRC_X: "JSLE32_REG",
}

// OpcodeToString returns the string representation of an opcode
func OpcodeToString(opcode byte) string {
	name, exists := opcodeNames[opcode]
	if !exists {
		return "UNKNOWN"
	}
	return name
}

// KnownOpcode reports whether the opcode is in the known instruction set.
func KnownOpcode(opcode byte) bool {
	_, ok := opcodeNames[opcode]
	return ok
}

// Class returns the instruction class bits of an opcode.
func Class(opcode byte) byte { return opcode & 0x07 }

// Size returns the operand width field of a load/store opcode.
func Size(opcode byte) byte { return opcode & 0x18 }

// Mode returns the addressing mode field of a load/store opcode.
func Mode(opcode byte) byte { return opcode & 0xe0 }

// AluOp returns the operation field of an ALU32/ALU64 opcode.
func AluOp(opcode byte) byte { return opcode & 0xf0 }

// JmpOp returns the operation field of a JMP/JMP32 opcode.
func JmpOp(opcode byte) byte { return opcode & 0xf0 }

// UsesImm reports whether the second operand comes from the immediate.
func UsesImm(opcode byte) bool { return opcode&SRC_X == 0 }

// SizeBytes converts a width field to a byte count.
func SizeBytes(size byte) int {
	switch size {
	case SIZE_B:
		return 1
	case SIZE_H:
		return 2
	case SIZE_W:
		return 4
	case SIZE_DW:
		return 8
	}
	return 0
}

// RegName returns the conventional register name ("r0".."r10").
func RegName(reg uint8) string {
	return regNames[min(int(reg), MaxReg)]
}

var regNames = [...]string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10"}

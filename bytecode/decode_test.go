package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/sbvm/vmerrors"
)

func TestDecodeRoundTrip(t *testing.T) {
	insns := []Instruction{
		Mov64Imm(R0, -1),
		Mov64Reg(R2, R1),
		Alu64Imm(ALU_ADD, R2, 42),
		Alu32Reg(ALU_XOR, R3, R3),
		LoadMem(SIZE_W, R4, R1, 8),
		StoreMem(SIZE_DW, R10, R4, -8),
		StoreImm(SIZE_H, R10, -16, 0x7fff),
		JumpImm(JMP_JGT, R2, 100, 2),
		JumpReg(JMP_JSLT, R2, R4, -3),
		Jump(1),
		Call(1),
		Exit(),
	}
	insns = append(insns, LoadImm64(R5, 0xdeadbeefcafef00d)...)
	insns = append(insns, LoadMapID(R6, 7)...)
	insns = append(insns, Exit())

	raw := Encode(insns)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, insns, decoded)
	assert.Equal(t, raw, Encode(decoded))
}

func TestDecodeErrors(t *testing.T) {
	wideHead := Encode([]Instruction{{Opcode: LDDW, Dst: R1, Imm: 1}})

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, vmerrors.ErrDEmptyProgram},
		{"truncated", Encode([]Instruction{Exit()})[:5], vmerrors.ErrDTruncatedProgram},
		{"too large", Encode(make([]Instruction, MaxInsns+1)), vmerrors.ErrDProgramTooLarge},
		{"unknown opcode", Encode([]Instruction{{Opcode: 0xff}, Exit()}), vmerrors.ErrDUnknownOpcode},
		{"bad dst register", Encode([]Instruction{{Opcode: CLS_ALU64 | ALU_MOV | SRC_K, Dst: 11}, Exit()}), vmerrors.ErrDBadRegister},
		{"stray continuation", Encode([]Instruction{Exit(), {Opcode: WIDE_CONT}}), vmerrors.ErrDBadWideImm},
		{"wide missing continuation", wideHead, vmerrors.ErrDBadWideImm},
		{"wide bad continuation", Encode([]Instruction{{Opcode: LDDW, Dst: R1}, {Opcode: WIDE_CONT, Off: 3}}), vmerrors.ErrDBadWideImm},
		{"wide bad pseudo", Encode([]Instruction{{Opcode: LDDW, Dst: R1, Src: 5}, {Opcode: WIDE_CONT}}), vmerrors.ErrDBadWideImm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRegisterFieldsPacked(t *testing.T) {
	raw := Encode([]Instruction{Mov64Reg(R3, R7), Exit()})
	// dst in the low nibble, src in the high nibble
	assert.Equal(t, byte(0x73), raw[1])

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(R3), decoded[0].Dst)
	assert.Equal(t, uint8(R7), decoded[0].Src)
}

func TestWideImm(t *testing.T) {
	pair := LoadImm64(R1, 0xdeadbeefcafef00d)
	assert.Equal(t, uint64(0xdeadbeefcafef00d), pair[0].WideImm(pair[1]))

	// "too large" above relies on a zeroed instruction being WIDE_CONT;
	// make the encoding assumption explicit here.
	assert.True(t, Instruction{}.IsWideCont())
}

func TestInstructionPredicates(t *testing.T) {
	assert.True(t, Exit().IsExit())
	assert.True(t, Call(1).IsCall())
	assert.True(t, Jump(0).IsJump())
	assert.False(t, Jump(0).IsBranch())
	assert.True(t, JumpImm(JMP_JEQ, R1, 0, 1).IsBranch())
	assert.True(t, JumpImm(JMP_JEQ, R1, 0, 1).IsJump())
	assert.True(t, LoadImm64(R1, 0)[0].IsWide())
	assert.True(t, Exit().IsBasicBlockTerminator())
	assert.True(t, Call(1).IsBasicBlockTerminator())
	assert.False(t, Mov64Imm(R0, 0).IsBasicBlockTerminator())

	// relative target: pc + 1 + off
	assert.Equal(t, 5, Jump(2).JumpTarget(2))
	assert.Equal(t, 1, Jump(-2).JumpTarget(2))
}

func TestDisassemble(t *testing.T) {
	insns := []Instruction{
		Mov64Imm(R0, 5),
		JumpImm(JMP_JGT, R0, 9, 1),
		StoreMem(SIZE_DW, R10, R0, -8),
		Exit(),
	}
	out := Disassemble(insns)
	assert.Contains(t, out, "r0 = 5")
	assert.Contains(t, out, "goto")
	assert.Contains(t, out, "exit")
}

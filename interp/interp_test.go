package interp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

func run(t *testing.T, insns []bytecode.Instruction) Result {
	t.Helper()
	return Run(insns, caps.NewTable(), nil, 0)
}

func TestExecuteArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		insns []bytecode.Instruction
		want  uint64
	}{
		{
			"add mul",
			[]bytecode.Instruction{
				bytecode.Mov64Imm(bytecode.R0, 5),
				bytecode.Alu64Imm(bytecode.ALU_MUL, bytecode.R0, 7),
				bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R0, 3),
				bytecode.Exit(),
			},
			38,
		},
		{
			"sub wraps",
			[]bytecode.Instruction{
				bytecode.Mov64Imm(bytecode.R0, 0),
				bytecode.Alu64Imm(bytecode.ALU_SUB, bytecode.R0, 1),
				bytecode.Exit(),
			},
			^uint64(0),
		},
		{
			"neg",
			[]bytecode.Instruction{
				bytecode.Mov64Imm(bytecode.R0, 5),
				bytecode.Alu64Imm(bytecode.ALU_NEG, bytecode.R0, 0),
				bytecode.Exit(),
			},
			^uint64(4),
		},
		{
			"alu32 truncates",
			[]bytecode.Instruction{
				bytecode.Mov64Imm(bytecode.R0, -1), // 0xffffffffffffffff
				bytecode.Alu32Imm(bytecode.ALU_ADD, bytecode.R0, 1),
				bytecode.Exit(),
			},
			0,
		},
		{
			"shift masks count",
			[]bytecode.Instruction{
				bytecode.Mov64Imm(bytecode.R0, 1),
				bytecode.Mov64Imm(bytecode.R2, 65), // 65 & 63 == 1
				bytecode.Alu64Reg(bytecode.ALU_LSH, bytecode.R0, bytecode.R2),
				bytecode.Exit(),
			},
			2,
		},
		{
			"arsh sign extends",
			[]bytecode.Instruction{
				bytecode.Mov64Imm(bytecode.R0, -16),
				bytecode.Alu64Imm(bytecode.ALU_ARSH, bytecode.R0, 2),
				bytecode.Exit(),
			},
			^uint64(3), // -4
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.insns)
			assert.Equal(t, FaultNone, res.Fault)
			assert.Equal(t, tt.want, res.R0)
		})
	}
}

func TestExecuteDeterministic(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Mov64Imm(bytecode.R2, 0),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R0, 3),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R2, 1),
		bytecode.JumpImm(bytecode.JMP_JLT, bytecode.R2, 100, -3),
		bytecode.Exit(),
	}
	first := run(t, insns)
	for i := 0; i < 5; i++ {
		again := run(t, insns)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, uint64(300), first.R0)
}

func TestExecuteDivModByZero(t *testing.T) {
	div := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 10),
		bytecode.Mov64Imm(bytecode.R2, 0),
		bytecode.Alu64Reg(bytecode.ALU_DIV, bytecode.R0, bytecode.R2),
		bytecode.Exit(),
	}
	res := run(t, div)
	assert.Equal(t, FaultDivZero, res.Fault)
	assert.False(t, res.Fault.Fatal())
	assert.Equal(t, uint64(0), res.R0)

	mod := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 10),
		bytecode.Mov64Imm(bytecode.R2, 0),
		bytecode.Alu64Reg(bytecode.ALU_MOD, bytecode.R0, bytecode.R2),
		bytecode.Exit(),
	}
	res = run(t, mod)
	assert.Equal(t, FaultDivZero, res.Fault)
	assert.Equal(t, uint64(10), res.R0, "modulo by zero keeps the dividend")
}

func TestExecuteStepBudget(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Jump(-1),
	}
	res := Run(insns, nil, nil, 100)
	assert.Equal(t, FaultStepBudget, res.Fault)
	assert.Equal(t, uint64(100), res.Steps)
}

func TestExecuteBadMemoryFaults(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R2, 0x1234),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R2, 0),
		bytecode.Exit(),
	}
	res := run(t, insns)
	assert.Equal(t, FaultBadMemory, res.Fault)
	assert.True(t, res.Fault.Fatal())
	assert.ErrorIs(t, res.Fault.Err(), vmerrors.ErrEBadMemory)
}

// Every fault maps to its coded sentinel; a clean exit maps to none.
func TestFaultErrCodes(t *testing.T) {
	tests := []struct {
		fault Fault
		code  string
	}{
		{FaultStepBudget, "E1"},
		{FaultBadMemory, "E2"},
		{FaultBadHelper, "E3"},
		{FaultBadJump, "E4"},
		{FaultBadInstruction, "E5"},
		{FaultDivZero, "E6"},
	}
	for _, tt := range tests {
		t.Run(tt.fault.String(), func(t *testing.T) {
			require.Error(t, tt.fault.Err())
			assert.Equal(t, tt.code, vmerrors.GetErrorCode(tt.fault.Err()))
		})
	}
	assert.NoError(t, FaultNone.Err())
}

func TestExecuteStackRoundTrip(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R2, -7),
		bytecode.StoreMem(bytecode.SIZE_DW, bytecode.R10, bytecode.R2, -8),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R10, -8),
		bytecode.Exit(),
	}
	res := run(t, insns)
	assert.Equal(t, FaultNone, res.Fault)
	assert.Equal(t, ^uint64(6), res.R0)
}

func TestExecuteContextRead(t *testing.T) {
	ctx := make([]byte, 24)
	binary.LittleEndian.PutUint32(ctx[0:4], 1500)
	insns := []bytecode.Instruction{
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R0, bytecode.R1, 0),
		bytecode.Exit(),
	}
	res := Run(insns, caps.NewTable(), ctx, 0)
	assert.Equal(t, FaultNone, res.Fault)
	assert.Equal(t, uint64(1500), res.R0)
}

func TestExecuteByteSwap(t *testing.T) {
	be16 := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0x1234),
		{Opcode: bytecode.CLS_ALU32 | bytecode.ALU_END | bytecode.SRC_X, Dst: bytecode.R0, Imm: 16},
		bytecode.Exit(),
	}
	res := run(t, be16)
	assert.Equal(t, uint64(0x3412), res.R0)

	le32 := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, -1),
		{Opcode: bytecode.CLS_ALU32 | bytecode.ALU_END | bytecode.SRC_K, Dst: bytecode.R0, Imm: 32},
		bytecode.Exit(),
	}
	res = run(t, le32)
	assert.Equal(t, uint64(0xffffffff), res.R0, "LE truncates to the operand width")
}

func TestExecuteJmp32UsesLow32Bits(t *testing.T) {
	insns := []bytecode.Instruction{}
	insns = append(insns, bytecode.LoadImm64(bytecode.R2, 0xffffffff00000001)...)
	insns = append(insns,
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Jump32Imm(bytecode.JMP_JEQ, bytecode.R2, 1, 1), // low word is 1
		bytecode.Exit(),
		bytecode.Mov64Imm(bytecode.R0, 1),
		bytecode.Exit(),
	)
	res := run(t, insns)
	assert.Equal(t, uint64(1), res.R0)
}

func TestExecuteSignedCompare(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R2, -5),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.JumpImm(bytecode.JMP_JSLT, bytecode.R2, 0, 1), // -5 <s 0: taken
		bytecode.Exit(),
		bytecode.Mov64Imm(bytecode.R0, 1),
		bytecode.Exit(),
	}
	res := run(t, insns)
	assert.Equal(t, uint64(1), res.R0)
}

func lookupProgram() []bytecode.Instruction {
	var insns []bytecode.Instruction
	insns = append(insns, bytecode.StoreImm(bytecode.SIZE_W, bytecode.R10, -4, 1))
	insns = append(insns, bytecode.LoadMapID(bytecode.R1, 7)...)
	insns = append(insns,
		bytecode.Mov64Reg(bytecode.R2, bytecode.R10),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R2, -4),
		bytecode.Call(caps.HELPER_MAP_LOOKUP),
		bytecode.JumpImm(bytecode.JMP_JEQ, bytecode.R0, 0, 2), // -> miss
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R0, bytecode.R0, 0),
		bytecode.Jump(1),
		bytecode.Mov64Imm(bytecode.R0, -1), // miss
		bytecode.Exit(),
	)
	return insns
}

func testMap(t *testing.T) (*caps.Table, *caps.HashMap) {
	t.Helper()
	table := caps.NewTable()
	m := caps.NewHashMap(caps.MapSpec{ID: 7, KeySize: 4, ValueSize: 8, Name: "counters"})
	require.NoError(t, table.AddMap(m))
	return table, m
}

func TestExecuteMapLookupHit(t *testing.T) {
	table, m := testMap(t)
	key := []byte{1, 0, 0, 0}
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, 42)
	require.NoError(t, m.Update(key, value))

	res := Run(lookupProgram(), table, nil, 0)
	assert.Equal(t, FaultNone, res.Fault)
	assert.Equal(t, uint64(42), res.R0)
}

func TestExecuteMapLookupMiss(t *testing.T) {
	table, _ := testMap(t)
	res := Run(lookupProgram(), table, nil, 0)
	assert.Equal(t, FaultNone, res.Fault)
	assert.Equal(t, ^uint64(0), res.R0)
}

// Stores through a looked-up value pointer must land in the map.
func TestExecuteMapValueWriteThrough(t *testing.T) {
	table, m := testMap(t)
	key := []byte{1, 0, 0, 0}
	require.NoError(t, m.Update(key, make([]byte, 8)))

	var insns []bytecode.Instruction
	insns = append(insns, bytecode.StoreImm(bytecode.SIZE_W, bytecode.R10, -4, 1))
	insns = append(insns, bytecode.LoadMapID(bytecode.R1, 7)...)
	insns = append(insns,
		bytecode.Mov64Reg(bytecode.R2, bytecode.R10),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R2, -4),
		bytecode.Call(caps.HELPER_MAP_LOOKUP),
		bytecode.JumpImm(bytecode.JMP_JEQ, bytecode.R0, 0, 1),
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R0, 0, 99),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	)
	res := Run(insns, table, nil, 0)
	require.Equal(t, FaultNone, res.Fault)

	got := m.Lookup(key)
	require.NotNil(t, got)
	assert.Equal(t, uint64(99), binary.LittleEndian.Uint64(got))
}

func TestExecuteProgID(t *testing.T) {
	table := caps.NewTable()
	table.ProgID = 1234
	insns := []bytecode.Instruction{
		bytecode.Call(caps.HELPER_PROG_ID),
		bytecode.Exit(),
	}
	res := Run(insns, table, nil, 0)
	assert.Equal(t, FaultNone, res.Fault)
	assert.Equal(t, uint64(1234), res.R0)
}

func TestExecuteUnknownHelperFaults(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Call(99),
		bytecode.Exit(),
	}
	res := run(t, insns)
	assert.Equal(t, FaultBadHelper, res.Fault)
}

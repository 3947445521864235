package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/cfg"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

func mustGraph(t *testing.T, insns []bytecode.Instruction) *cfg.Graph {
	t.Helper()
	g, err := cfg.Build(insns)
	require.NoError(t, err)
	return g
}

func verifyProgram(t *testing.T, insns []bytecode.Instruction, category caps.ProgramCategory) (Stats, error) {
	t.Helper()
	return Verify(insns, mustGraph(t, insns), category, testConfig())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Maps = map[uint32]caps.MapSpec{
		7: {ID: 7, KeySize: 4, ValueSize: 16, Name: "counters"},
	}
	return cfg
}

func TestVerifyMinimalProgram(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	stats, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.StatesExplored)
}

func TestVerifyUninitializedRegister(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Reg(bytecode.R0, bytecode.R2),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.UninitializedRegister))
}

func TestVerifyExitWithoutR0(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.UninitializedRegister))
}

// Both arms of a branch store to distinct in-bounds stack slots; the join at
// the merge point must keep the program verifiable.
func TestVerifyBranchMerge(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R2, bytecode.R1, 0), // ctx len
		bytecode.JumpImm(bytecode.JMP_JGT, bytecode.R2, 100, 2),
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -8, 1),
		bytecode.Jump(1),
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -16, 2),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
}

// A full-width read at fp-4 overlaps an uninitialized slot and also runs past
// the frame top. Initialization is tested first, so the diagnostic names the
// uninitialized read.
func TestVerifyUninitializedStackRead(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R10, -4),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.UninitializedRegister), "got %v", err)
}

// Same shape, but with the overlapped slot initialized: now the access is
// reported for what remains wrong with it, the out-of-bounds tail.
func TestVerifyStackReadPastFrameTop(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -8, 0),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R10, -4),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess), "got %v", err)
}

func TestVerifyMisalignedStackRead(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -16, 0),
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -8, 0),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R10, -12),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess), "got %v", err)
}

// Pointer arithmetic may wander out of bounds; only the dereference is the
// error.
func TestVerifyFarPointerDeref(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Reg(bytecode.R2, bytecode.R10),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R2, 1000000),
		bytecode.StoreImm(bytecode.SIZE_W, bytecode.R2, 0, 7),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess), "got %v", err)
}

func TestVerifyFramePointerReadOnly(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R10, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.TypeMismatch))
}

func TestVerifyPointerLeakAtExit(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Reg(bytecode.R0, bytecode.R10),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.TypeMismatch))
}

func TestVerifyContextPointerArithmetic(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R1, 4),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.IllegalPointerArithmetic))
}

func TestVerifyContextFieldAllowList(t *testing.T) {
	tests := []struct {
		name string
		off  int16
		size byte
		ok   bool
	}{
		{"len field", 0, bytecode.SIZE_W, true},
		{"protocol field", 4, bytecode.SIZE_W, true},
		{"timestamp field", 8, bytecode.SIZE_DW, true},
		{"wrong width", 0, bytecode.SIZE_DW, false},
		{"straddling offset", 2, bytecode.SIZE_W, false},
		{"past the layout", 64, bytecode.SIZE_W, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insns := []bytecode.Instruction{
				bytecode.LoadMem(tt.size, bytecode.R0, bytecode.R1, tt.off),
				bytecode.Mov64Imm(bytecode.R0, 0),
				bytecode.Exit(),
			}
			_, err := verifyProgram(t, insns, caps.CategoryFilter)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess), "got %v", err)
			}
		})
	}
}

func TestVerifyContextWriteRejected(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreImm(bytecode.SIZE_W, bytecode.R1, 0, 1),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess))
}

func countedLoop(bound int32) []bytecode.Instruction {
	return []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R0, 1),
		bytecode.JumpImm(bytecode.JMP_JLT, bytecode.R0, bound, -2),
		bytecode.Exit(),
	}
}

func TestVerifyCountedLoopAccepted(t *testing.T) {
	_, err := verifyProgram(t, countedLoop(10), caps.CategoryFilter)
	require.NoError(t, err)
}

// A bound past WidenAfter exercises range widening at the loop head; the loop
// must still converge and verify.
func TestVerifyWideCountedLoopAccepted(t *testing.T) {
	_, err := verifyProgram(t, countedLoop(200), caps.CategoryFilter)
	require.NoError(t, err)
}

func TestVerifyInfiniteLoopRejected(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Jump(-1),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.UnboundedLoop))
}

// The loop condition reads a value the body never changes: no iteration makes
// abstract progress, so no bound is provable.
func TestVerifyLoopWithoutProgressRejected(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R2, bytecode.R1, 0),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.JumpImm(bytecode.JMP_JEQ, bytecode.R2, 0, 1),
		bytecode.Jump(-2),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.UnboundedLoop), "got %v", err)
}

func TestVerifyLoopIterCap(t *testing.T) {
	cfg := testConfig()
	cfg.LoopIterCap = 8
	insns := countedLoop(100)
	_, err := Verify(insns, mustGraph(t, insns), caps.CategoryFilter, cfg)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.UnboundedLoop))
}

func TestVerifyComplexityBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ComplexityBudget = 16
	insns := countedLoop(100)
	_, err := Verify(insns, mustGraph(t, insns), caps.CategoryFilter, cfg)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.ComplexityLimitExceeded))
}

// A diamond whose arms leave equivalent states must be pruned at the merge
// point rather than explored twice.
func TestVerifyPruningAtMerge(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R2, bytecode.R1, 0),
		bytecode.JumpImm(bytecode.JMP_JGT, bytecode.R2, 100, 2),
		bytecode.Mov64Imm(bytecode.R2, 0),
		bytecode.Jump(1),
		bytecode.Mov64Imm(bytecode.R2, 0),
		// merge: both arms arrive with identical states
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	stats, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
	assert.Greater(t, stats.StatesPruned, 0, "one arm should be pruned at the merge")
}

// Chained diamonds give exponentially many paths; pruning at each merge point
// must keep the explored states linear in the number of diamonds.
func TestVerifyPruningBoundsChainedDiamonds(t *testing.T) {
	const n = 10 // 2^10 paths
	insns := []bytecode.Instruction{
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R2, bytecode.R1, 0),
	}
	for i := 0; i < n; i++ {
		insns = append(insns,
			bytecode.JumpImm(bytecode.JMP_JSET, bytecode.R2, int32(1)<<i, 2),
			bytecode.Mov64Imm(bytecode.R3, 0),
			bytecode.Jump(1),
			bytecode.Mov64Imm(bytecode.R3, 0),
		)
	}
	insns = append(insns,
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	)
	stats, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.StatesPruned, n, "every merge prunes its second arm")
	assert.Less(t, stats.StatesExplored, 8*n, "explored states grow with diamonds, not paths")
}

// A 32-bit op acts on the low 32 bits of its operands, exactly as at runtime.
// Here only bits above 31 are set, so the shifted value is zero and the zero
// branch is the one that actually runs; the unsafe access on that branch must
// be found. Computing through the full width instead would declare that branch
// dead and silently accept the program.
func TestVerifyAlu32ShiftUsesLow32Bits(t *testing.T) {
	var insns []bytecode.Instruction
	insns = append(insns, bytecode.LoadImm64(bytecode.R2, 0x500000000)...)
	insns = append(insns,
		bytecode.Alu32Imm(bytecode.ALU_RSH, bytecode.R2, 16),
		bytecode.JumpImm(bytecode.JMP_JEQ, bytecode.R2, 0, 2),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R10, -520),
		bytecode.Exit(),
	)
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess), "got %v", err)
}

// The truncated-operand rule cuts the other way too: 0x100000003 truncates to
// 3 and 3/2 is 1, so the comparison proves the unsafe branch dead and the
// program is fine.
func TestVerifyAlu32DivUsesLow32Bits(t *testing.T) {
	var insns []bytecode.Instruction
	insns = append(insns, bytecode.LoadImm64(bytecode.R2, 0x100000003)...)
	insns = append(insns,
		bytecode.Alu32Imm(bytecode.ALU_DIV, bytecode.R2, 2),
		bytecode.JumpImm(bytecode.JMP_JNE, bytecode.R2, 1, 2),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R10, -520),
		bytecode.Exit(),
	)
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
}

func TestVerifyDivisionByConstantZero(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 5),
		bytecode.Alu64Imm(bytecode.ALU_DIV, bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.TypeMismatch))
}

func TestVerifyShiftOutOfRange(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 1),
		bytecode.Alu64Imm(bytecode.ALU_LSH, bytecode.R0, 64),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.TypeMismatch))
}

// Branch refinement must prove the bounded index safe: the taken edge caps
// the scalar, which then indexes the stack.
func TestVerifyRefinedIndexAccepted(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -8, 0),
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -16, 0),
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R2, bytecode.R1, 0),
		// keep only r2 in [0,1], scale to a slot offset
		bytecode.JumpImm(bytecode.JMP_JGT, bytecode.R2, 1, 5),
		bytecode.Alu64Imm(bytecode.ALU_LSH, bytecode.R2, 3),
		bytecode.Mov64Reg(bytecode.R3, bytecode.R10),
		bytecode.Alu64Reg(bytecode.ALU_SUB, bytecode.R3, bytecode.R2),
		// r3 in [fp-8, fp] ... still must be a constant offset for the stack
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
}

func TestVerifyVariableStackOffsetRejected(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -8, 0),
		bytecode.StoreImm(bytecode.SIZE_DW, bytecode.R10, -16, 0),
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R2, bytecode.R1, 0),
		bytecode.JumpImm(bytecode.JMP_JGT, bytecode.R2, 1, 4),
		bytecode.Alu64Imm(bytecode.ALU_LSH, bytecode.R2, 3),
		bytecode.Mov64Reg(bytecode.R3, bytecode.R10),
		bytecode.Alu64Reg(bytecode.ALU_SUB, bytecode.R3, bytecode.R2),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R0, bytecode.R3, -8),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.OutOfBoundsAccess), "got %v", err)
}

// Spill a pointer to the stack and fill it back: the pointer must survive
// with its provenance.
func TestVerifySpillFillPointer(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreMem(bytecode.SIZE_DW, bytecode.R10, bytecode.R1, -8),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R2, bytecode.R10, -8),
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R0, bytecode.R2, 0), // ctx len via the filled pointer
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.NoError(t, err)
}

// A narrow store degrades the slot: filling a pointer through it must fail.
func TestVerifyClobberedSpillRejected(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.StoreMem(bytecode.SIZE_DW, bytecode.R10, bytecode.R1, -8),
		bytecode.StoreImm(bytecode.SIZE_B, bytecode.R10, -8, 0xff),
		bytecode.LoadMem(bytecode.SIZE_DW, bytecode.R2, bytecode.R10, -8),
		bytecode.LoadMem(bytecode.SIZE_W, bytecode.R0, bytecode.R2, 0),
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Exit(),
	}
	_, err := verifyProgram(t, insns, caps.CategoryFilter)
	require.Error(t, err)
	assert.True(t, vmerrors.IsVerifyKind(err, vmerrors.TypeMismatch), "got %v", err)
}

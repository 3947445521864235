package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

func TestBuildStraightLine(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R0, 1),
		bytecode.Exit(),
	}
	g, err := Build(insns)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 1)
	assert.Equal(t, 0, g.Blocks[0].Start)
	assert.Equal(t, 3, g.Blocks[0].End)
	assert.Empty(t, g.Blocks[0].Succs)
	assert.False(t, g.HasBackEdges())
}

func TestBuildDiamond(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.JumpImm(bytecode.JMP_JEQ, bytecode.R0, 0, 2), // -> 4
		bytecode.Mov64Imm(bytecode.R0, 1),
		bytecode.Jump(1), // -> 5
		bytecode.Mov64Imm(bytecode.R0, 2),
		bytecode.Exit(),
	}
	g, err := Build(insns)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 4)

	branch := g.Blocks[g.BlockOf(1)]
	require.Len(t, branch.Succs, 2)
	// fall-through first, then the taken edge
	assert.False(t, branch.Succs[0].Taken)
	assert.Equal(t, g.BlockOf(2), branch.Succs[0].Block)
	assert.True(t, branch.Succs[1].Taken)
	assert.Equal(t, g.BlockOf(4), branch.Succs[1].Block)

	// a merge of two forward paths is not a loop
	assert.False(t, g.HasBackEdges())
	for _, blk := range g.Blocks {
		for _, e := range blk.Succs {
			assert.Equal(t, EdgeForward, e.Kind)
		}
	}
}

func TestBuildBackEdge(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R0, 1),
		bytecode.JumpImm(bytecode.JMP_JLT, bytecode.R0, 10, -2), // -> 1
		bytecode.Exit(),
	}
	g, err := Build(insns)
	require.NoError(t, err)
	assert.True(t, g.HasBackEdges())
	assert.Equal(t, 1, g.NumBackEdges())

	loop := g.Blocks[g.BlockOf(1)]
	require.Len(t, loop.Succs, 2)
	assert.Equal(t, EdgeForward, loop.Succs[0].Kind)
	assert.Equal(t, EdgeBack, loop.Succs[1].Kind)
	assert.Equal(t, g.BlockOf(1), loop.Succs[1].Block)
}

func TestBuildWidePairStaysTogether(t *testing.T) {
	var insns []bytecode.Instruction
	insns = append(insns, bytecode.LoadImm64(bytecode.R0, 1)...)
	insns = append(insns, bytecode.Exit())
	g, err := Build(insns)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 1)
	assert.Equal(t, g.BlockOf(0), g.BlockOf(1))
}

func TestBuildStructuralErrors(t *testing.T) {
	wideThenJumpIn := append(
		[]bytecode.Instruction{bytecode.Jump(1)}, // -> 2, the continuation slot
		bytecode.LoadImm64(bytecode.R0, 1)...,
	)
	wideThenJumpIn = append(wideThenJumpIn, bytecode.Exit())

	tests := []struct {
		name  string
		insns []bytecode.Instruction
		want  error
	}{
		{
			"jump past the end",
			[]bytecode.Instruction{bytecode.Jump(5), bytecode.Exit()},
			vmerrors.ErrSJumpOutOfRange,
		},
		{
			"jump before the start",
			[]bytecode.Instruction{bytecode.Jump(-2), bytecode.Exit()},
			vmerrors.ErrSJumpOutOfRange,
		},
		{
			"jump into a wide immediate",
			wideThenJumpIn,
			vmerrors.ErrSJumpIntoWideImm,
		},
		{
			"fall off the end",
			[]bytecode.Instruction{bytecode.Mov64Imm(bytecode.R0, 0)},
			vmerrors.ErrSFallOffEnd,
		},
		{
			"unreachable after exit",
			[]bytecode.Instruction{
				bytecode.Exit(),
				bytecode.Mov64Imm(bytecode.R0, 0),
				bytecode.Exit(),
			},
			vmerrors.ErrSUnreachableInsn,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.insns)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildCallSplitsBlocks(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R1, 0),
		bytecode.Call(7),
		bytecode.Exit(),
	}
	g, err := Build(insns)
	require.NoError(t, err)
	require.Len(t, g.Blocks, 2)
	require.Len(t, g.Blocks[0].Succs, 1)
	assert.Equal(t, 1, g.Blocks[0].Succs[0].Block)
}

func TestTreeRendersAllBlocks(t *testing.T) {
	insns := []bytecode.Instruction{
		bytecode.Mov64Imm(bytecode.R0, 0),
		bytecode.Alu64Imm(bytecode.ALU_ADD, bytecode.R0, 1),
		bytecode.JumpImm(bytecode.JMP_JLT, bytecode.R0, 10, -2),
		bytecode.Exit(),
	}
	g, err := Build(insns)
	require.NoError(t, err)
	out := g.Tree()
	assert.Contains(t, out, "block")
	assert.Contains(t, out, "back")
}

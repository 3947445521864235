package cfg

import (
	"fmt"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/log"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

// EdgeKind tags a control-flow edge as forward or as a loop back edge.
type EdgeKind int

const (
	EdgeForward EdgeKind = iota
	EdgeBack
)

func (k EdgeKind) String() string {
	if k == EdgeBack {
		return "back"
	}
	return "forward"
}

// Edge links a block to a successor block, referenced by arena index.
// Taken marks the branch-taken edge of a conditional jump.
type Edge struct {
	Block int
	Kind  EdgeKind
	Taken bool
}

// Block is a contiguous instruction range [Start, End). Blocks are built once
// per program and immutable afterward; the verifier references them by index
// only, never by pointer.
type Block struct {
	Start int
	End   int
	Succs []Edge
}

// Graph is the arena of basic blocks for one program.
type Graph struct {
	Blocks  []Block
	blockOf []int // instruction index -> owning block index
	nBack   int
}

// BlockOf returns the index of the block containing the instruction.
func (g *Graph) BlockOf(insn int) int { return g.blockOf[insn] }

// HasBackEdges reports whether the program contains any loop.
func (g *Graph) HasBackEdges() bool { return g.nBack > 0 }

// NumBackEdges returns the number of back edges in the graph.
func (g *Graph) NumBackEdges() int { return g.nBack }

// Build splits the instruction sequence into basic blocks and links them into
// a control-flow graph, classifying every edge as forward or back. It returns
// a structural error for jumps outside the program, jumps into the second
// slot of a two-slot immediate load, control flow that can fall through past
// the last instruction, and unreachable instructions.
func Build(insns []bytecode.Instruction) (*Graph, error) {
	n := len(insns)

	// First pass: validate jump shape and mark leaders.
	leader := make([]bool, n)
	leader[0] = true
	for i := 0; i < n; i++ {
		insn := insns[i]
		if insn.IsWideCont() {
			continue
		}
		next := i + 1
		if insn.IsWide() {
			next = i + 2
		}
		if insn.IsJump() {
			tgt := insn.JumpTarget(i)
			if tgt < 0 || tgt >= n {
				return nil, fmt.Errorf("insn %d: target %d: %w", i, tgt, vmerrors.ErrSJumpOutOfRange)
			}
			if insns[tgt].IsWideCont() {
				return nil, fmt.Errorf("insn %d: target %d: %w", i, tgt, vmerrors.ErrSJumpIntoWideImm)
			}
			leader[tgt] = true
		}
		fallsThrough := !insn.IsExit() && insn.Opcode != bytecode.JA
		if fallsThrough && next >= n {
			return nil, fmt.Errorf("insn %d: %w", i, vmerrors.ErrSFallOffEnd)
		}
		if insn.IsBasicBlockTerminator() && next < n {
			leader[next] = true
		}
	}

	// Second pass: carve blocks at leaders and terminators.
	g := &Graph{blockOf: make([]int, n)}
	start := 0
	for i := 0; i < n; i++ {
		insn := insns[i]
		end := i + 1
		if insn.IsWide() {
			end = i + 2
		}
		lastOfBlock := insn.IsBasicBlockTerminator() || end >= n || leader[end]
		if lastOfBlock {
			b := len(g.Blocks)
			g.Blocks = append(g.Blocks, Block{Start: start, End: end})
			for j := start; j < end; j++ {
				g.blockOf[j] = b
			}
			start = end
		}
		if insn.IsWide() {
			i++ // continuation slot belongs to the same block
		}
	}

	// Third pass: link successor edges. The fall-through edge is appended
	// first so the verifier explores it before the taken edge.
	for b := range g.Blocks {
		blk := &g.Blocks[b]
		last := insns[blk.End-1]
		lastIdx := blk.End - 1
		if last.IsWideCont() {
			last = insns[blk.End-2]
			lastIdx = blk.End - 2
		}
		switch {
		case last.IsExit():
			// no successors
		case last.Opcode == bytecode.JA:
			blk.Succs = append(blk.Succs, Edge{Block: g.blockOf[last.JumpTarget(lastIdx)], Taken: true})
		case last.IsBranch():
			blk.Succs = append(blk.Succs,
				Edge{Block: g.blockOf[blk.End]},
				Edge{Block: g.blockOf[last.JumpTarget(lastIdx)], Taken: true})
		default:
			// call or plain fall-through into the next leader
			blk.Succs = append(blk.Succs, Edge{Block: g.blockOf[blk.End]})
		}
	}

	if err := g.classifyEdges(); err != nil {
		return nil, err
	}

	log.Debug(log.LoaderMonitoring, "cfg built", "insns", n, "blocks", len(g.Blocks), "backEdges", g.nBack)
	return g, nil
}

// classifyEdges runs an iterative depth-first traversal from the entry block,
// tagging every edge whose target is an ancestor on the traversal stack as a
// back edge, and rejecting programs with unreachable blocks. The traversal
// uses an explicit stack so adversarial programs cannot exhaust the host call
// stack.
func (g *Graph) classifyEdges() error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the traversal stack
		black = 2 // fully explored
	)
	color := make([]int, len(g.Blocks))

	type frame struct {
		block int
		succ  int
	}
	stack := []frame{{block: 0}}
	color[0] = grey

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		blk := &g.Blocks[top.block]
		if top.succ >= len(blk.Succs) {
			color[top.block] = black
			stack = stack[:len(stack)-1]
			continue
		}
		e := &blk.Succs[top.succ]
		top.succ++
		switch color[e.Block] {
		case grey:
			e.Kind = EdgeBack
			g.nBack++
		case white:
			color[e.Block] = grey
			stack = append(stack, frame{block: e.Block})
		default:
			// already explored; a retreating edge to a finished block is a
			// merge, not a loop
		}
	}

	for b, c := range color {
		if c == white {
			return fmt.Errorf("insn %d: %w", g.Blocks[b].Start, vmerrors.ErrSUnreachableInsn)
		}
	}
	return nil
}

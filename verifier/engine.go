package verifier

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/cfg"
	"github.com/colorfulnotion/sbvm/log"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

// VerifierContext is the working state of one verification run. Every run
// gets its own context, so concurrent Verify calls never share anything.
type VerifierContext struct {
	insns    []bytecode.Instruction
	graph    *cfg.Graph
	category caps.ProgramCategory
	cfg      Config

	budget     int
	prune      *pruneCache
	loopHead   []bool
	headVisits map[int]int
	headState  map[int]*State
	stats      Stats
}

// pending is one branch of the exploration: an abstract state about to enter
// a block. viaBack marks arrival over a loop back edge.
type pending struct {
	block   int
	st      *State
	viaBack bool
}

// Verify abstractly interprets every path through the program, proving that
// no execution can read uninitialized data, access memory out of bounds, leak
// or forge pointers, loop without bound, or call outside the capability
// table. On success it returns exploration statistics; on failure the error
// is a *vmerrors.VerifyError pinpointing the offending instruction.
func Verify(insns []bytecode.Instruction, graph *cfg.Graph, category caps.ProgramCategory, config Config) (Stats, error) {
	vc := &VerifierContext{
		insns:      insns,
		graph:      graph,
		category:   category,
		cfg:        config.withDefaults(),
		prune:      newPruneCache(),
		loopHead:   make([]bool, len(graph.Blocks)),
		headVisits: make(map[int]int),
		headState:  make(map[int]*State),
	}
	vc.budget = vc.cfg.ComplexityBudget
	for _, blk := range graph.Blocks {
		for _, e := range blk.Succs {
			if e.Kind == cfg.EdgeBack {
				vc.loopHead[e.Block] = true
			}
		}
	}

	work := []pending{{block: 0, st: NewEntryState()}}
	for len(work) > 0 {
		if len(work) > vc.stats.PeakPending {
			vc.stats.PeakPending = len(work)
		}
		p := work[len(work)-1]
		work = work[:len(work)-1]
		blk := &graph.Blocks[p.block]
		// PC is diagnostic; normalize it so state equality at a block entry
		// compares only the machine-visible facts.
		p.st.PC = blk.Start

		// A back edge delivering a state we have already explored means the
		// loop body made no abstract progress: nothing bounds it. States
		// arriving over a back edge are never subsumption-pruned; a loop
		// closes only by exhausting its branch (the taken edge turns
		// infeasible) or is rejected at the iteration cap.
		if p.viaBack {
			if vc.prune.hasEqual(p.block, p.st) {
				return vc.stats, vmerrors.NewVerifyError(vmerrors.UnboundedLoop, blk.Start, -1,
					"loop makes no progress between iterations")
			}
		} else if vc.prune.subsumed(p.block, p.st) {
			vc.stats.StatesPruned++
			continue
		}
		if vc.loopHead[p.block] {
			vc.headVisits[p.block]++
			if vc.headVisits[p.block] > vc.cfg.LoopIterCap {
				return vc.stats, vmerrors.NewVerifyError(vmerrors.UnboundedLoop, blk.Start, -1,
					fmt.Sprintf("no bound proven after %d loop iterations", vc.cfg.LoopIterCap))
			}
			if vc.headVisits[p.block] > vc.cfg.WidenAfter {
				if prev := vc.headState[p.block]; prev != nil {
					p.st = widenState(prev, p.st)
					if p.viaBack && vc.prune.hasEqual(p.block, p.st) {
						return vc.stats, vmerrors.NewVerifyError(vmerrors.UnboundedLoop, blk.Start, -1,
							"loop makes no progress between iterations")
					}
				}
			}
			vc.headState[p.block] = p.st.Clone()
		}
		vc.prune.insert(p.block, p.st.Clone())
		vc.stats.StatesExplored++

		succs, err := vc.executeBlock(p.block, p.st)
		if err != nil {
			return vc.stats, err
		}
		// LIFO: push in reverse so the fall-through edge is explored first.
		for i := len(succs) - 1; i >= 0; i-- {
			work = append(work, succs[i])
		}
	}

	vc.stats.BudgetUsed = vc.cfg.ComplexityBudget - vc.budget
	log.Debug(log.VerifierMonitoring, "program verified",
		"insns", len(insns), "blocks", len(graph.Blocks),
		"explored", vc.stats.StatesExplored, "pruned", vc.stats.StatesPruned,
		"budget", vc.stats.BudgetUsed)
	return vc.stats, nil
}

// executeBlock runs the transfer function over one block and returns the
// refined successor states.
func (vc *VerifierContext) executeBlock(b int, st *State) ([]pending, error) {
	blk := &vc.graph.Blocks[b]
	for pc := blk.Start; pc < blk.End; pc++ {
		insn := vc.insns[pc]
		if insn.IsWideCont() {
			continue
		}
		vc.budget--
		if vc.budget < 0 {
			return nil, vmerrors.NewVerifyError(vmerrors.ComplexityLimitExceeded, pc, -1,
				fmt.Sprintf("exceeded budget of %d abstract instructions", vc.cfg.ComplexityBudget))
		}
		st.PC = pc

		switch bytecode.Class(insn.Opcode) {
		case bytecode.CLS_LD:
			if err := vc.applyWideLoad(pc, insn, st); err != nil {
				return nil, err
			}
		case bytecode.CLS_ALU32, bytecode.CLS_ALU64:
			if err := vc.applyALU(pc, insn, st); err != nil {
				return nil, err
			}
		case bytecode.CLS_LDX:
			if insn.Dst == bytecode.R10 {
				return nil, vmerrors.NewVerifyError(vmerrors.TypeMismatch, pc, int(insn.Dst), "frame pointer is read-only")
			}
			size := bytecode.SizeBytes(bytecode.Size(insn.Opcode))
			loaded, err := vc.checkLoad(pc, insn.Src, st.Regs[insn.Src], int64(insn.Off), size, st)
			if err != nil {
				return nil, err
			}
			st.Regs[insn.Dst] = loaded
		case bytecode.CLS_ST:
			size := bytecode.SizeBytes(bytecode.Size(insn.Opcode))
			stored := ConstScalar(uint64(int64(insn.Imm)))
			if err := vc.checkStore(pc, insn.Dst, st.Regs[insn.Dst], int64(insn.Off), size, stored, st); err != nil {
				return nil, err
			}
		case bytecode.CLS_STX:
			size := bytecode.SizeBytes(bytecode.Size(insn.Opcode))
			stored := st.Regs[insn.Src]
			if stored.Kind == KindNotInit {
				return nil, vmerrors.NewVerifyError(vmerrors.UninitializedRegister, pc, int(insn.Src), "store of uninitialized register")
			}
			if err := vc.checkStore(pc, insn.Dst, st.Regs[insn.Dst], int64(insn.Off), size, stored, st); err != nil {
				return nil, err
			}
		case bytecode.CLS_JMP, bytecode.CLS_JMP32:
			switch {
			case insn.Opcode == bytecode.CALL:
				if err := vc.checkHelperCall(pc, uint32(insn.Imm), st); err != nil {
					return nil, err
				}
			case insn.Opcode == bytecode.EXIT:
				r0 := st.Regs[bytecode.R0]
				if r0.Kind == KindNotInit {
					return nil, vmerrors.NewVerifyError(vmerrors.UninitializedRegister, pc, bytecode.R0, "r0 not set before exit")
				}
				if r0.IsPointer() {
					return nil, vmerrors.NewVerifyError(vmerrors.TypeMismatch, pc, bytecode.R0, "cannot return a pointer")
				}
			case insn.Opcode == bytecode.JA:
				// unconditional, handled via successors
			default:
				return vc.branchSuccessors(b, pc, insn, st)
			}
		}
	}
	return vc.plainSuccessors(b, st), nil
}

// plainSuccessors forwards the state to the (at most one) successor of a
// block ending in a fall-through, JA, CALL or EXIT.
func (vc *VerifierContext) plainSuccessors(b int, st *State) []pending {
	blk := &vc.graph.Blocks[b]
	out := make([]pending, 0, len(blk.Succs))
	for _, e := range blk.Succs {
		out = append(out, pending{block: e.Block, st: st, viaBack: e.Kind == cfg.EdgeBack})
	}
	return out
}

// branchSuccessors refines the operand values along each feasible edge of a
// conditional branch. Contradicted edges are not explored at all.
func (vc *VerifierContext) branchSuccessors(b, pc int, insn bytecode.Instruction, st *State) ([]pending, error) {
	is64 := bytecode.Class(insn.Opcode) == bytecode.CLS_JMP
	op := bytecode.JmpOp(insn.Opcode)

	dstV := st.Regs[insn.Dst]
	if dstV.Kind == KindNotInit {
		return nil, vmerrors.NewVerifyError(vmerrors.UninitializedRegister, pc, int(insn.Dst), "comparison with uninitialized register")
	}
	var srcV Value
	if bytecode.UsesImm(insn.Opcode) {
		srcV = ConstScalar(uint64(int64(insn.Imm)))
	} else {
		srcV = st.Regs[insn.Src]
		if srcV.Kind == KindNotInit {
			return nil, vmerrors.NewVerifyError(vmerrors.UninitializedRegister, pc, int(insn.Src), "comparison with uninitialized register")
		}
	}
	// Pointers may be compared against zero (null checks) or against a
	// pointer into the same object; comparing a pointer with an arbitrary
	// scalar would let the program probe its base address.
	if err := vc.checkPtrCompare(pc, insn, dstV, srcV); err != nil {
		return nil, err
	}

	blk := &vc.graph.Blocks[b]
	out := make([]pending, 0, len(blk.Succs))
	for _, e := range blk.Succs {
		rd, rs, ok := refineBranch(op, is64, dstV, srcV, e.Taken)
		if !ok {
			continue
		}
		ns := st.Clone()
		ns.Regs[insn.Dst] = rd
		if !bytecode.UsesImm(insn.Opcode) {
			ns.Regs[insn.Src] = rs
		}
		out = append(out, pending{block: e.Block, st: ns, viaBack: e.Kind == cfg.EdgeBack})
	}
	return out, nil
}

func (vc *VerifierContext) checkPtrCompare(pc int, insn bytecode.Instruction, dstV, srcV Value) error {
	dp, sp := dstV.IsPointer(), srcV.IsPointer()
	if !dp && !sp {
		return nil
	}
	if dp && sp {
		if dstV.Kind == srcV.Kind && dstV.MapID == srcV.MapID {
			return nil
		}
		return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, pc, int(insn.Dst), "comparison of unrelated pointers")
	}
	scalar := dstV
	reg := insn.Src
	if dp {
		scalar = srcV
		reg = insn.Dst
	}
	if scalar.Tnum.IsConst() && scalar.Tnum.Value == 0 {
		return nil
	}
	return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, pc, int(reg), "comparison of a pointer with a non-zero scalar")
}

// applyWideLoad handles the two-slot immediate load: a plain 64-bit constant,
// or a map handle when the pseudo source marks the immediate as a map id.
func (vc *VerifierContext) applyWideLoad(pc int, insn bytecode.Instruction, st *State) error {
	if insn.Dst == bytecode.R10 {
		return vmerrors.NewVerifyError(vmerrors.TypeMismatch, pc, int(insn.Dst), "frame pointer is read-only")
	}
	if insn.Src == bytecode.PSEUDO_MAP_ID {
		id := uint32(insn.Imm)
		if _, ok := vc.cfg.Maps[id]; !ok {
			return vmerrors.NewVerifyError(vmerrors.DisallowedCall, pc, int(insn.Dst),
				fmt.Sprintf("map %d not declared for this program", id))
		}
		st.Regs[insn.Dst] = MapPtr(id)
		return nil
	}
	st.Regs[insn.Dst] = ConstScalar(insn.WideImm(vc.insns[pc+1]))
	return nil
}

// widenState forces convergence at a loop head: any bound still moving after
// the precise iterations is dropped to its extreme, so the next arrival is
// subsumed and the loop closes.
func widenState(prev, cur *State) *State {
	out := cur.Clone()
	for i := range out.Regs {
		out.Regs[i] = widenValue(prev.Regs[i], cur.Regs[i])
	}
	for i := range out.Stack {
		if !prev.Stack[i].Init || !cur.Stack[i].Init {
			continue
		}
		out.Stack[i].Val = widenValue(prev.Stack[i].Val, cur.Stack[i].Val)
	}
	return out
}

func widenValue(prev, cur Value) Value {
	if prev.Kind == KindNotInit || cur.Kind == KindNotInit {
		return NotInit()
	}
	if prev.IsScalar() && cur.IsScalar() {
		out := cur
		if cur.UMin < prev.UMin {
			out.UMin = 0
		}
		if cur.UMax > prev.UMax {
			out.UMax = math.MaxUint64
		}
		if cur.SMin < prev.SMin {
			out.SMin = math.MinInt64
		}
		if cur.SMax > prev.SMax {
			out.SMax = math.MaxInt64
		}
		if !prev.Tnum.Covers(cur.Tnum) {
			out.Tnum = TnumUnknown()
		}
		return out.normalize()
	}
	if prev.Kind != cur.Kind {
		return Join(prev, cur)
	}
	switch cur.Kind {
	case KindStackPtr, KindMapValuePtr:
		if cur.MapID != prev.MapID {
			return Join(prev, cur)
		}
		out := cur
		if cur.OffMin < prev.OffMin {
			out.OffMin = math.MinInt32
		}
		if cur.OffMax > prev.OffMax {
			out.OffMax = math.MaxInt32
		}
		out.MaybeNull = prev.MaybeNull || cur.MaybeNull
		return out
	}
	return Join(prev, cur)
}

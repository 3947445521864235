package interp

import (
	"encoding/binary"
	"math/bits"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/log"
)

// Execute runs the program to completion: EXIT, a fatal fault, or the step
// budget. All arithmetic wraps; division by zero produces the defined
// sentinel and sets the div-zero flag instead of halting.
func (m *Machine) Execute() Result {
	var steps uint64
	pc := 0
	n := len(m.insns)

	fault := func(f Fault) Result {
		log.Debug(log.InterpMonitoring, "execution faulted", "fault", f, "pc", pc, "steps", steps)
		return Result{R0: m.regs[bytecode.R0], Fault: f, Steps: steps}
	}

	for {
		if steps >= m.budget {
			return fault(FaultStepBudget)
		}
		if pc < 0 || pc >= n {
			return fault(FaultBadJump)
		}
		steps++
		insn := m.insns[pc]

		switch bytecode.Class(insn.Opcode) {
		case bytecode.CLS_LD:
			if insn.Opcode != bytecode.LDDW || pc+1 >= n {
				return fault(FaultBadInstruction)
			}
			if insn.Src == bytecode.PSEUDO_MAP_ID {
				// A map handle at runtime is just the map id.
				m.regs[insn.Dst] = uint64(uint32(insn.Imm))
			} else {
				m.regs[insn.Dst] = insn.WideImm(m.insns[pc+1])
			}
			pc += 2
			continue

		case bytecode.CLS_ALU64:
			m.stepALU(insn, true)

		case bytecode.CLS_ALU32:
			m.stepALU(insn, false)

		case bytecode.CLS_LDX:
			size := bytecode.SizeBytes(bytecode.Size(insn.Opcode))
			addr := m.regs[insn.Src] + uint64(int64(insn.Off))
			b, ok := m.resolve(addr, size)
			if !ok {
				return fault(FaultBadMemory)
			}
			m.regs[insn.Dst] = loadLE(b)

		case bytecode.CLS_ST:
			size := bytecode.SizeBytes(bytecode.Size(insn.Opcode))
			addr := m.regs[insn.Dst] + uint64(int64(insn.Off))
			b, ok := m.resolve(addr, size)
			if !ok {
				return fault(FaultBadMemory)
			}
			storeLE(b, uint64(int64(insn.Imm)))

		case bytecode.CLS_STX:
			size := bytecode.SizeBytes(bytecode.Size(insn.Opcode))
			addr := m.regs[insn.Dst] + uint64(int64(insn.Off))
			b, ok := m.resolve(addr, size)
			if !ok {
				return fault(FaultBadMemory)
			}
			storeLE(b, m.regs[insn.Src])

		case bytecode.CLS_JMP:
			switch insn.Opcode {
			case bytecode.JA:
				pc = insn.JumpTarget(pc)
				continue
			case bytecode.CALL:
				if !m.call(uint32(insn.Imm)) {
					return fault(FaultBadHelper)
				}
			case bytecode.EXIT:
				f := FaultNone
				if m.divZero {
					f = FaultDivZero
				}
				return Result{R0: m.regs[bytecode.R0], Fault: f, Steps: steps}
			default:
				if m.branchTaken(insn, true) {
					pc = insn.JumpTarget(pc)
					continue
				}
			}

		case bytecode.CLS_JMP32:
			if m.branchTaken(insn, false) {
				pc = insn.JumpTarget(pc)
				continue
			}

		default:
			return fault(FaultBadInstruction)
		}
		pc++
	}
}

// call dispatches a helper through the capability table. Arguments travel in
// r1-r5, the result lands in r0.
func (m *Machine) call(id uint32) bool {
	if m.table == nil {
		return false
	}
	h, ok := m.table.Helpers[id]
	if !ok {
		return false
	}
	args := [5]uint64{
		m.regs[bytecode.R1], m.regs[bytecode.R2], m.regs[bytecode.R3],
		m.regs[bytecode.R4], m.regs[bytecode.R5],
	}
	ret, err := h.Fn(m, m.table, args)
	if err != nil {
		log.Debug(log.InterpMonitoring, "helper failed", "helper", h.Sig.Name, "err", err)
		return false
	}
	m.regs[bytecode.R0] = ret
	return true
}

func (m *Machine) stepALU(insn bytecode.Instruction, is64 bool) {
	op := bytecode.AluOp(insn.Opcode)

	if op == bytecode.ALU_END {
		m.regs[insn.Dst] = byteSwap(m.regs[insn.Dst], insn.Imm, insn.Opcode&bytecode.SRC_X != 0)
		return
	}

	var rhs uint64
	if bytecode.UsesImm(insn.Opcode) {
		rhs = uint64(int64(insn.Imm))
	} else {
		rhs = m.regs[insn.Src]
	}
	lhs := m.regs[insn.Dst]
	if !is64 {
		lhs = uint64(uint32(lhs))
		rhs = uint64(uint32(rhs))
	}

	var out uint64
	switch op {
	case bytecode.ALU_ADD:
		out = lhs + rhs
	case bytecode.ALU_SUB:
		out = lhs - rhs
	case bytecode.ALU_MUL:
		out = lhs * rhs
	case bytecode.ALU_DIV:
		if rhs == 0 {
			m.divZero = true
			out = 0
		} else {
			out = lhs / rhs
		}
	case bytecode.ALU_MOD:
		if rhs == 0 {
			m.divZero = true
			out = lhs
		} else {
			out = lhs % rhs
		}
	case bytecode.ALU_OR:
		out = lhs | rhs
	case bytecode.ALU_AND:
		out = lhs & rhs
	case bytecode.ALU_XOR:
		out = lhs ^ rhs
	case bytecode.ALU_LSH:
		out = lhs << shiftAmount(rhs, is64)
	case bytecode.ALU_RSH:
		out = lhs >> shiftAmount(rhs, is64)
	case bytecode.ALU_ARSH:
		if is64 {
			out = uint64(int64(lhs) >> shiftAmount(rhs, true))
		} else {
			out = uint64(int32(uint32(lhs)) >> shiftAmount(rhs, false))
		}
	case bytecode.ALU_NEG:
		out = -lhs
	case bytecode.ALU_MOV:
		out = rhs
	}
	if !is64 {
		out = uint64(uint32(out))
	}
	m.regs[insn.Dst] = out
}

// shiftAmount masks the shift count to the operand width, matching hardware
// semantics so no shift is ever undefined.
func shiftAmount(v uint64, is64 bool) uint64 {
	if is64 {
		return v & 63
	}
	return v & 31
}

func (m *Machine) branchTaken(insn bytecode.Instruction, is64 bool) bool {
	var rhs uint64
	if bytecode.UsesImm(insn.Opcode) {
		rhs = uint64(int64(insn.Imm))
	} else {
		rhs = m.regs[insn.Src]
	}
	lhs := m.regs[insn.Dst]
	if !is64 {
		lhs = uint64(uint32(lhs))
		rhs = uint64(uint32(rhs))
	}
	sl, sr := int64(lhs), int64(rhs)
	if !is64 {
		sl, sr = int64(int32(uint32(lhs))), int64(int32(uint32(rhs)))
	}

	switch bytecode.JmpOp(insn.Opcode) {
	case bytecode.JMP_JEQ:
		return lhs == rhs
	case bytecode.JMP_JNE:
		return lhs != rhs
	case bytecode.JMP_JGT:
		return lhs > rhs
	case bytecode.JMP_JGE:
		return lhs >= rhs
	case bytecode.JMP_JLT:
		return lhs < rhs
	case bytecode.JMP_JLE:
		return lhs <= rhs
	case bytecode.JMP_JSGT:
		return sl > sr
	case bytecode.JMP_JSGE:
		return sl >= sr
	case bytecode.JMP_JSLT:
		return sl < sr
	case bytecode.JMP_JSLE:
		return sl <= sr
	case bytecode.JMP_JSET:
		return lhs&rhs != 0
	}
	return false
}

func byteSwap(v uint64, width int32, toBE bool) uint64 {
	// The guest byte order is little endian, so LE is a plain truncation and
	// BE swaps within the operand width.
	switch width {
	case 16:
		h := uint16(v)
		if toBE {
			h = bits.ReverseBytes16(h)
		}
		return uint64(h)
	case 32:
		w := uint32(v)
		if toBE {
			w = bits.ReverseBytes32(w)
		}
		return uint64(w)
	case 64:
		if toBE {
			return bits.ReverseBytes64(v)
		}
		return v
	}
	return v
}

func loadLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func storeLE(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

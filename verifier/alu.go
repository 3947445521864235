package verifier

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

// applyALU is the transfer function for the ALU64 and ALU32 classes.
func (vc *VerifierContext) applyALU(insnIdx int, insn bytecode.Instruction, st *State) error {
	is64 := bytecode.Class(insn.Opcode) == bytecode.CLS_ALU64
	op := bytecode.AluOp(insn.Opcode)
	dst := insn.Dst

	if dst == bytecode.R10 {
		return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(dst), "frame pointer is read-only")
	}

	// Byte swaps read only dst; the Src bit selects LE vs BE and the
	// immediate carries the width.
	if op == bytecode.ALU_END {
		v := st.Regs[dst]
		if v.Kind == KindNotInit {
			return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(dst), "read of uninitialized register")
		}
		if v.IsPointer() {
			return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(dst), "byte swap on a pointer")
		}
		switch insn.Imm {
		case 16, 32, 64:
		default:
			return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(dst),
				fmt.Sprintf("byte swap width %d", insn.Imm))
		}
		st.Regs[dst] = boundedScalar(int(insn.Imm) / 8)
		return nil
	}

	// Resolve the right-hand operand.
	var rhs Value
	if bytecode.UsesImm(insn.Opcode) {
		rhs = ConstScalar(uint64(int64(insn.Imm)))
	} else {
		rhs = st.Regs[insn.Src]
		if rhs.Kind == KindNotInit {
			return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(insn.Src), "read of uninitialized register")
		}
	}

	if op == bytecode.ALU_MOV {
		if is64 {
			st.Regs[dst] = rhs
		} else {
			st.Regs[dst] = cast32(rhs)
		}
		return nil
	}

	lhs := st.Regs[dst]
	if lhs.Kind == KindNotInit {
		return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(dst), "read of uninitialized register")
	}

	// Pointer arithmetic: only 64-bit ADD and SUB, and never on the context
	// pointer or a map handle.
	if lhs.IsPointer() || rhs.IsPointer() {
		if !is64 {
			return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(dst), "32-bit arithmetic on a pointer")
		}
		switch op {
		case bytecode.ALU_ADD:
			if lhs.IsPointer() && rhs.IsPointer() {
				return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(dst), "cannot add two pointers")
			}
			ptr, delta := lhs, rhs
			if rhs.IsPointer() {
				ptr, delta = rhs, lhs
			}
			out, err := ptrOffset(insnIdx, dst, ptr, delta, false)
			if err != nil {
				return err
			}
			st.Regs[dst] = out
			return nil
		case bytecode.ALU_SUB:
			if lhs.IsPointer() && rhs.IsPointer() {
				// Distance between two pointers into the same object is a
				// scalar; anything else leaks a base address.
				if lhs.Kind == rhs.Kind && lhs.MapID == rhs.MapID &&
					(lhs.Kind == KindStackPtr || lhs.Kind == KindMapValuePtr) {
					st.Regs[dst] = UnknownScalar()
					return nil
				}
				return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(dst), "cannot subtract unrelated pointers")
			}
			if rhs.IsPointer() {
				return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(dst), "cannot subtract a pointer from a scalar")
			}
			out, err := ptrOffset(insnIdx, dst, lhs, rhs, true)
			if err != nil {
				return err
			}
			st.Regs[dst] = out
			return nil
		default:
			return vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(dst),
				fmt.Sprintf("%s on a pointer", bytecode.OpcodeToString(insn.Opcode)))
		}
	}

	if !is64 {
		// 32-bit ops act on the truncated operands, not on truncated
		// results. The distinction matters for DIV, MOD and the right
		// shifts whenever bits above 31 are set.
		lhs = cast32(lhs)
		rhs = cast32(rhs)
	}
	out, err := scalarALU(insnIdx, insn, op, lhs, rhs)
	if err != nil {
		return err
	}
	if !is64 {
		out = cast32(out)
	}
	st.Regs[dst] = out.normalize()
	return nil
}

// ptrOffset applies ptr +/- delta, keeping the offset range. Context pointers
// and map handles admit no arithmetic at all; out-of-range offsets are caught
// at the eventual dereference, not here.
func ptrOffset(insnIdx int, reg uint8, ptr, delta Value, negate bool) (Value, error) {
	switch ptr.Kind {
	case KindCtxPtr:
		return Value{}, vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(reg), "arithmetic on the context pointer")
	case KindMapPtr:
		return Value{}, vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(reg), "arithmetic on a map handle")
	case KindNull:
		return Value{}, vmerrors.NewVerifyError(vmerrors.IllegalPointerArithmetic, insnIdx, int(reg), "arithmetic on a null pointer")
	}
	lo, hi := delta.SMin, delta.SMax
	if negate {
		lo, hi = -hi, -lo
		if delta.SMax == math.MinInt64 || delta.SMin == math.MinInt64 {
			lo, hi = math.MinInt64, math.MaxInt64
		}
	}
	out := ptr
	out.OffMin = addSat(ptr.OffMin, lo)
	out.OffMax = addSat(ptr.OffMax, hi)
	return out, nil
}

// scalarALU computes the abstract result of a scalar binary op.
func scalarALU(insnIdx int, insn bytecode.Instruction, op byte, a, b Value) (Value, error) {
	out := UnknownScalar()
	switch op {
	case bytecode.ALU_ADD:
		out.Tnum = TnumAdd(a.Tnum, b.Tnum)
		if umin := a.UMin + b.UMin; umin >= a.UMin {
			if umax := a.UMax + b.UMax; umax >= a.UMax {
				out.UMin, out.UMax = umin, umax
			}
		}
		if smin, ok1 := addS64(a.SMin, b.SMin); ok1 {
			if smax, ok2 := addS64(a.SMax, b.SMax); ok2 {
				out.SMin, out.SMax = smin, smax
			}
		}

	case bytecode.ALU_SUB:
		out.Tnum = TnumSub(a.Tnum, b.Tnum)
		if a.UMin >= b.UMax {
			out.UMin = a.UMin - b.UMax
			out.UMax = a.UMax - b.UMin
		}
		if smin, ok1 := subS64(a.SMin, b.SMax); ok1 {
			if smax, ok2 := subS64(a.SMax, b.SMin); ok2 {
				out.SMin, out.SMax = smin, smax
			}
		}

	case bytecode.ALU_MUL:
		out.Tnum = TnumMul(a.Tnum, b.Tnum)
		if a.UMax < math.MaxUint32 && b.UMax < math.MaxUint32 {
			out.UMin = a.UMin * b.UMin
			out.UMax = a.UMax * b.UMax
			if out.UMax <= math.MaxInt64 {
				out.SMin, out.SMax = int64(out.UMin), int64(out.UMax)
			}
		}

	case bytecode.ALU_DIV:
		if b.Tnum.IsConst() {
			if b.Tnum.Value == 0 {
				return Value{}, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(insn.Dst), "division by constant zero")
			}
			out.UMin = a.UMin / b.Tnum.Value
			out.UMax = a.UMax / b.Tnum.Value
		} else {
			// Division by a runtime zero yields zero.
			out.UMin, out.UMax = 0, a.UMax
		}
		if out.UMax <= math.MaxInt64 {
			out.SMin, out.SMax = int64(out.UMin), int64(out.UMax)
		}
		out.Tnum = TnumUnknown()

	case bytecode.ALU_MOD:
		if b.Tnum.IsConst() {
			if b.Tnum.Value == 0 {
				return Value{}, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(insn.Dst), "modulo by constant zero")
			}
			out.UMin, out.UMax = 0, b.Tnum.Value-1
		} else {
			// Modulo by a runtime zero yields the dividend.
			out.UMin, out.UMax = 0, maxU(a.UMax, b.UMax)
		}
		if out.UMax <= math.MaxInt64 {
			out.SMin, out.SMax = int64(out.UMin), int64(out.UMax)
		}
		out.Tnum = TnumUnknown()

	case bytecode.ALU_AND:
		out.Tnum = TnumAnd(a.Tnum, b.Tnum)
		out.UMin = out.Tnum.Value
		out.UMax = minU(out.Tnum.Value|out.Tnum.Mask, minU(a.UMax, b.UMax))
		signFromUnsigned(&out)

	case bytecode.ALU_OR:
		out.Tnum = TnumOr(a.Tnum, b.Tnum)
		out.UMin = maxU(out.Tnum.Value, maxU(a.UMin, b.UMin))
		out.UMax = out.Tnum.Value | out.Tnum.Mask
		signFromUnsigned(&out)

	case bytecode.ALU_XOR:
		out.Tnum = TnumXor(a.Tnum, b.Tnum)
		out.UMin = out.Tnum.Value
		out.UMax = out.Tnum.Value | out.Tnum.Mask
		signFromUnsigned(&out)

	case bytecode.ALU_LSH, bytecode.ALU_RSH, bytecode.ALU_ARSH:
		return scalarShift(insnIdx, insn, op, a, b)

	case bytecode.ALU_NEG:
		out.Tnum = TnumSub(TnumConst(0), a.Tnum)
		if a.SMax != math.MinInt64 && a.SMin != math.MinInt64 {
			out.SMin, out.SMax = -a.SMax, -a.SMin
		}
		if out.Tnum.IsConst() {
			out.UMin, out.UMax = out.Tnum.Value, out.Tnum.Value
		}

	default:
		return Value{}, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(insn.Dst),
			fmt.Sprintf("unsupported alu op %#x", op))
	}
	return out, nil
}

func scalarShift(insnIdx int, insn bytecode.Instruction, op byte, a, b Value) (Value, error) {
	width := uint64(64)
	if bytecode.Class(insn.Opcode) == bytecode.CLS_ALU32 {
		width = 32
	}
	if !b.Tnum.IsConst() {
		// Variable shifts are masked to the width at runtime.
		return UnknownScalar(), nil
	}
	if b.Tnum.Value >= width {
		return Value{}, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(insn.Dst),
			fmt.Sprintf("shift by %d exceeds %d-bit width", b.Tnum.Value, width))
	}
	k := uint8(b.Tnum.Value)
	out := UnknownScalar()
	switch op {
	case bytecode.ALU_LSH:
		out.Tnum = TnumLshift(a.Tnum, k)
		if k == 0 || a.UMax <= math.MaxUint64>>k {
			out.UMin = a.UMin << k
			out.UMax = a.UMax << k
			if out.UMax <= math.MaxInt64 {
				out.SMin, out.SMax = int64(out.UMin), int64(out.UMax)
			}
		}
	case bytecode.ALU_RSH:
		out.Tnum = TnumRshift(a.Tnum, k)
		out.UMin = a.UMin >> k
		out.UMax = a.UMax >> k
		if out.UMax <= math.MaxInt64 {
			out.SMin, out.SMax = int64(out.UMin), int64(out.UMax)
		}
	case bytecode.ALU_ARSH:
		out.Tnum = TnumArshift(a.Tnum, k)
		out.SMin = a.SMin >> k
		out.SMax = a.SMax >> k
		if out.SMin >= 0 {
			out.UMin = uint64(out.SMin)
			out.UMax = uint64(out.SMax)
		}
	}
	return out, nil
}

// cast32 truncates a value to its low 32 bits, zero-extended.
func cast32(v Value) Value {
	if !v.IsScalar() {
		// Narrowing a pointer strips its provenance.
		v = UnknownScalar()
	}
	t := TnumCast32(v.Tnum)
	out := Value{
		Kind: KindScalar,
		Tnum: t,
		UMin: t.Value,
		UMax: t.Value | t.Mask,
	}
	// Bounds already within 32 bits survive the truncation unchanged.
	if v.UMax <= math.MaxUint32 {
		out.UMin = maxU(out.UMin, v.UMin)
		out.UMax = minU(out.UMax, v.UMax)
	}
	out.SMin, out.SMax = int64(out.UMin), int64(out.UMax)
	return out.normalize()
}

// signFromUnsigned derives signed bounds when the sign bit is provably clear.
func signFromUnsigned(v *Value) {
	if v.UMax <= math.MaxInt64 {
		v.SMin, v.SMax = int64(v.UMin), int64(v.UMax)
	} else {
		v.SMin, v.SMax = math.MinInt64, math.MaxInt64
	}
}

func addSat(a, b int64) int64 {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		if b > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return s
}

func addS64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func subS64(a, b int64) (int64, bool) {
	s := a - b
	if (b < 0 && s < a) || (b > 0 && s > a) {
		return 0, false
	}
	return s, true
}

package verifier

import (
	"math"

	"github.com/colorfulnotion/sbvm/bytecode"
)

// refineBranch narrows dst and src under the assumption that the conditional
// jump went the given way. ok=false means the assumption is contradictory and
// the edge is dead. Refinement only applies to 64-bit comparisons against a
// known constant and to null checks on map value pointers; everything else
// passes through unchanged, which is always sound.
func refineBranch(op byte, is64 bool, dst, src Value, taken bool) (Value, Value, bool) {
	// Null check: `if rX == 0` / `if rX != 0` on a maybe-null map value
	// pointer splits it into a proven pointer and a proven null. Only a
	// full-width comparison counts.
	if is64 && dst.Kind == KindMapValuePtr && dst.MaybeNull && src.IsScalar() && src.Tnum == TnumConst(0) {
		switch op {
		case bytecode.JMP_JEQ:
			if taken {
				return NullPtr(), src, true
			}
			notNull := dst
			notNull.MaybeNull = false
			return notNull, src, true
		case bytecode.JMP_JNE:
			if taken {
				notNull := dst
				notNull.MaybeNull = false
				return notNull, src, true
			}
			return NullPtr(), src, true
		}
		return dst, src, true
	}

	if !is64 || !dst.IsScalar() || !src.IsScalar() {
		return dst, src, true
	}

	if src.Tnum.IsConst() {
		out, ok := refineScalar(op, dst, src.Tnum.Value, taken)
		return out, src, ok
	}
	if dst.Tnum.IsConst() {
		out, ok := refineScalar(swapCmp(op), src, dst.Tnum.Value, taken)
		return dst, out, ok
	}
	return dst, src, true
}

// swapCmp rewrites `c op x` as `x op' c`.
func swapCmp(op byte) byte {
	switch op {
	case bytecode.JMP_JGT:
		return bytecode.JMP_JLT
	case bytecode.JMP_JLT:
		return bytecode.JMP_JGT
	case bytecode.JMP_JGE:
		return bytecode.JMP_JLE
	case bytecode.JMP_JLE:
		return bytecode.JMP_JGE
	case bytecode.JMP_JSGT:
		return bytecode.JMP_JSLT
	case bytecode.JMP_JSLT:
		return bytecode.JMP_JSGT
	case bytecode.JMP_JSGE:
		return bytecode.JMP_JSLE
	case bytecode.JMP_JSLE:
		return bytecode.JMP_JSGE
	}
	// JEQ, JNE and JSET are symmetric.
	return op
}

// refineScalar narrows v under `v op c` being taken (or not).
func refineScalar(op byte, v Value, c uint64, taken bool) (Value, bool) {
	switch op {
	case bytecode.JMP_JEQ:
		if taken {
			if !v.Tnum.Contains(c) || c < v.UMin || c > v.UMax || int64(c) < v.SMin || int64(c) > v.SMax {
				return v, false
			}
			return ConstScalar(c), true
		}
		return excludeConst(v, c)

	case bytecode.JMP_JNE:
		if taken {
			return excludeConst(v, c)
		}
		if !v.Tnum.Contains(c) || c < v.UMin || c > v.UMax {
			return v, false
		}
		return ConstScalar(c), true

	case bytecode.JMP_JGT:
		if taken {
			if c == math.MaxUint64 {
				return v, false
			}
			return clampU(v, c+1, math.MaxUint64)
		}
		return clampU(v, 0, c)

	case bytecode.JMP_JGE:
		if taken {
			return clampU(v, c, math.MaxUint64)
		}
		if c == 0 {
			return v, false
		}
		return clampU(v, 0, c-1)

	case bytecode.JMP_JLT:
		if taken {
			if c == 0 {
				return v, false
			}
			return clampU(v, 0, c-1)
		}
		return clampU(v, c, math.MaxUint64)

	case bytecode.JMP_JLE:
		if taken {
			return clampU(v, 0, c)
		}
		if c == math.MaxUint64 {
			return v, false
		}
		return clampU(v, c+1, math.MaxUint64)

	case bytecode.JMP_JSGT:
		sc := int64(c)
		if taken {
			if sc == math.MaxInt64 {
				return v, false
			}
			return clampS(v, sc+1, math.MaxInt64)
		}
		return clampS(v, math.MinInt64, sc)

	case bytecode.JMP_JSGE:
		sc := int64(c)
		if taken {
			return clampS(v, sc, math.MaxInt64)
		}
		if sc == math.MinInt64 {
			return v, false
		}
		return clampS(v, math.MinInt64, sc-1)

	case bytecode.JMP_JSLT:
		sc := int64(c)
		if taken {
			if sc == math.MinInt64 {
				return v, false
			}
			return clampS(v, math.MinInt64, sc-1)
		}
		return clampS(v, sc, math.MaxInt64)

	case bytecode.JMP_JSLE:
		sc := int64(c)
		if taken {
			return clampS(v, math.MinInt64, sc)
		}
		if sc == math.MaxInt64 {
			return v, false
		}
		return clampS(v, sc+1, math.MaxInt64)

	case bytecode.JMP_JSET:
		possible := v.Tnum.Value | v.Tnum.Mask
		if taken {
			// At least one bit of c is set in v.
			return v, possible&c != 0
		}
		// No bit of c is set: contradicted when a known bit overlaps c.
		return v, v.Tnum.Value&c == 0
	}
	return v, true
}

func excludeConst(v Value, c uint64) (Value, bool) {
	if v.Tnum.IsConst() && v.Tnum.Value == c {
		return v, false
	}
	out := v
	if c == out.UMin && out.UMin < out.UMax {
		out.UMin++
	}
	if c == out.UMax && out.UMax > out.UMin {
		out.UMax--
	}
	if out.UMin == out.UMax && out.UMin == c {
		return v, false
	}
	return out.normalize(), true
}

func clampU(v Value, lo, hi uint64) (Value, bool) {
	out := v
	out.UMin = maxU(out.UMin, lo)
	out.UMax = minU(out.UMax, hi)
	if out.UMin > out.UMax {
		return v, false
	}
	// A clear sign bit lets the signed bounds tighten too.
	if out.UMax <= math.MaxInt64 {
		out.SMin = maxS(out.SMin, int64(out.UMin))
		out.SMax = minS(out.SMax, int64(out.UMax))
		if out.SMin > out.SMax {
			return v, false
		}
	}
	out = out.normalize()
	if out.infeasible() {
		return v, false
	}
	return out, true
}

func clampS(v Value, lo, hi int64) (Value, bool) {
	out := v
	out.SMin = maxS(out.SMin, lo)
	out.SMax = minS(out.SMax, hi)
	if out.SMin > out.SMax {
		return v, false
	}
	// A non-negative range maps one-to-one onto unsigned bounds.
	if out.SMin >= 0 {
		out.UMin = maxU(out.UMin, uint64(out.SMin))
		out.UMax = minU(out.UMax, uint64(out.SMax))
		if out.UMin > out.UMax {
			return v, false
		}
	}
	out = out.normalize()
	if out.infeasible() {
		return v, false
	}
	return out, true
}

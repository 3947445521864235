package verifier

import (
	"fmt"
	"strings"
)

// Tnum tracks which bits of a 64-bit number are known. A bit set in Mask is
// unknown; for known bits the corresponding Value bit holds the constant.
// Value bits under the mask are always kept zero so comparisons stay
// canonical.
type Tnum struct {
	Value uint64
	Mask  uint64
}

// TnumConst returns a fully-known tnum.
func TnumConst(v uint64) Tnum { return Tnum{Value: v} }

// TnumUnknown returns a tnum with no known bits.
func TnumUnknown() Tnum { return Tnum{Mask: ^uint64(0)} }

// IsConst reports whether every bit is known.
func (t Tnum) IsConst() bool { return t.Mask == 0 }

// Contains reports whether the concrete value v is representable by t.
func (t Tnum) Contains(v uint64) bool { return v&^t.Mask == t.Value }

// Covers reports whether every value representable by other is also
// representable by t (t is no less general).
func (t Tnum) Covers(other Tnum) bool {
	if other.Mask&^t.Mask != 0 {
		return false
	}
	return t.Value == other.Value&^t.Mask
}

func TnumAdd(a, b Tnum) Tnum {
	sm := a.Mask + b.Mask
	sv := a.Value + b.Value
	sigma := sm + sv
	chi := sigma ^ sv
	mu := chi | a.Mask | b.Mask
	return Tnum{Value: sv &^ mu, Mask: mu}
}

func TnumSub(a, b Tnum) Tnum {
	dv := a.Value - b.Value
	alpha := dv + a.Mask
	beta := dv - b.Mask
	chi := alpha ^ beta
	mu := chi | a.Mask | b.Mask
	return Tnum{Value: dv &^ mu, Mask: mu}
}

func TnumAnd(a, b Tnum) Tnum {
	alpha := a.Value | a.Mask
	beta := b.Value | b.Mask
	v := a.Value & b.Value
	return Tnum{Value: v, Mask: alpha & beta &^ v}
}

func TnumOr(a, b Tnum) Tnum {
	v := a.Value | b.Value
	mu := a.Mask | b.Mask
	return Tnum{Value: v, Mask: mu &^ v}
}

func TnumXor(a, b Tnum) Tnum {
	v := a.Value ^ b.Value
	mu := a.Mask | b.Mask
	return Tnum{Value: v &^ mu, Mask: mu}
}

func TnumLshift(a Tnum, shift uint8) Tnum {
	return Tnum{Value: a.Value << shift, Mask: a.Mask << shift}
}

func TnumRshift(a Tnum, shift uint8) Tnum {
	return Tnum{Value: a.Value >> shift, Mask: a.Mask >> shift}
}

func TnumArshift(a Tnum, shift uint8) Tnum {
	return Tnum{
		Value: uint64(int64(a.Value) >> shift),
		Mask:  uint64(int64(a.Mask) >> shift),
	}
}

// hma performs a half-multiply accumulate: acc + value * mask-bits.
func hma(acc Tnum, value, mask uint64) Tnum {
	for mask != 0 {
		if mask&1 != 0 {
			acc = TnumAdd(acc, Tnum{Mask: value})
		}
		mask >>= 1
		value <<= 1
	}
	return acc
}

func TnumMul(a, b Tnum) Tnum {
	pi := a.Value * b.Value
	acc := hma(TnumConst(pi), a.Mask, b.Mask|b.Value)
	return hma(acc, b.Mask, a.Value)
}

// TnumIntersect combines two tnums known to describe the same value.
func TnumIntersect(a, b Tnum) Tnum {
	v := a.Value | b.Value
	mu := a.Mask & b.Mask
	return Tnum{Value: v &^ mu, Mask: mu}
}

// TnumUnion is the lattice join: keep only bits both sides agree on.
func TnumUnion(a, b Tnum) Tnum {
	mu := a.Mask | b.Mask | (a.Value ^ b.Value)
	return Tnum{Value: a.Value &^ mu, Mask: mu}
}

// TnumCast32 truncates to the low 32 bits with the high bits known zero.
func TnumCast32(a Tnum) Tnum {
	return Tnum{Value: a.Value & 0xffffffff, Mask: a.Mask & 0xffffffff}
}

// String renders one hex digit per nibble, 'x' where any bit of the nibble is
// unknown.
func (t Tnum) String() string {
	if t.IsConst() {
		return fmt.Sprintf("%#x", t.Value)
	}
	var sb strings.Builder
	sb.WriteString("0x")
	started := false
	for i := 15; i >= 0; i-- {
		m := (t.Mask >> (i * 4)) & 0xf
		v := (t.Value >> (i * 4)) & 0xf
		if !started && m == 0 && v == 0 && i > 0 {
			continue
		}
		started = true
		if m != 0 {
			sb.WriteByte('x')
		} else {
			fmt.Fprintf(&sb, "%x", v)
		}
	}
	return sb.String()
}

package verifier

import (
	"fmt"
	"math"
)

// Kind classifies what an abstract register value may be at runtime.
type Kind int

const (
	KindNotInit     Kind = iota // never written on this path
	KindUnknown                 // initialized scalar, nothing known
	KindScalar                  // scalar with tracked bits and ranges
	KindStackPtr                // pointer into the program's own stack frame
	KindCtxPtr                  // pointer to the context buffer
	KindMapPtr                  // map handle from a pseudo map load
	KindMapValuePtr             // pointer into a map value buffer
	KindNull                    // proven-null pointer
)

func (k Kind) String() string {
	switch k {
	case KindNotInit:
		return "not_init"
	case KindUnknown:
		return "unknown"
	case KindScalar:
		return "scalar"
	case KindStackPtr:
		return "stack_ptr"
	case KindCtxPtr:
		return "ctx_ptr"
	case KindMapPtr:
		return "map_ptr"
	case KindMapValuePtr:
		return "map_value_or_null"
	case KindNull:
		return "null"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the abstract state of one register or spilled stack slot. Scalar
// facts (Tnum and the four range bounds) are meaningful for KindUnknown and
// KindScalar; offset and map facts for the pointer kinds.
type Value struct {
	Kind Kind

	Tnum Tnum
	UMin uint64
	UMax uint64
	SMin int64
	SMax int64

	// Byte offset range relative to the pointer's base. For stack pointers
	// the base is the frame top (r10), so valid offsets are negative.
	OffMin int64
	OffMax int64

	MapID     uint32
	ValueSize uint32
	// MaybeNull marks a map value pointer that has not yet passed a null
	// check; dereferencing it is an error.
	MaybeNull bool
}

// NotInit returns the bottom value: a register never written on this path.
func NotInit() Value { return Value{Kind: KindNotInit} }

// UnknownScalar returns the scalar top: initialized, no bits or bounds known.
func UnknownScalar() Value {
	return Value{
		Kind: KindUnknown,
		Tnum: TnumUnknown(),
		UMax: math.MaxUint64,
		SMin: math.MinInt64,
		SMax: math.MaxInt64,
	}
}

// ConstScalar returns a fully-known scalar.
func ConstScalar(v uint64) Value {
	return Value{
		Kind: KindScalar,
		Tnum: TnumConst(v),
		UMin: v,
		UMax: v,
		SMin: int64(v),
		SMax: int64(v),
	}
}

// StackPtr returns a pointer to the frame top (offset zero, i.e. r10 itself).
func StackPtr() Value { return Value{Kind: KindStackPtr} }

// CtxPtr returns the context pointer handed to the program in r1.
func CtxPtr() Value { return Value{Kind: KindCtxPtr} }

// MapPtr returns a map handle for the given map id.
func MapPtr(id uint32) Value { return Value{Kind: KindMapPtr, MapID: id} }

// MapValuePtr returns a pointer to the start of a map value buffer.
func MapValuePtr(id, valueSize uint32, maybeNull bool) Value {
	return Value{Kind: KindMapValuePtr, MapID: id, ValueSize: valueSize, MaybeNull: maybeNull}
}

// NullPtr returns a pointer proven to be null.
func NullPtr() Value { return Value{Kind: KindNull} }

// IsScalar reports whether v holds an initialized scalar.
func (v Value) IsScalar() bool { return v.Kind == KindUnknown || v.Kind == KindScalar }

// IsPointer reports whether v holds a pointer (null included).
func (v Value) IsPointer() bool {
	switch v.Kind {
	case KindStackPtr, KindCtxPtr, KindMapPtr, KindMapValuePtr, KindNull:
		return true
	}
	return false
}

// normalize canonicalizes a scalar: collapse full-range values to KindUnknown
// and derive bounds from a constant tnum. Keeps state comparisons stable.
func (v Value) normalize() Value {
	if v.Kind != KindScalar && v.Kind != KindUnknown {
		return v
	}
	if v.Tnum.IsConst() {
		c := v.Tnum.Value
		v.Kind = KindScalar
		v.UMin, v.UMax = c, c
		v.SMin, v.SMax = int64(c), int64(c)
		return v
	}
	// Tighten unsigned bounds from known bits.
	if lo := v.Tnum.Value; lo > v.UMin {
		v.UMin = lo
	}
	if hi := v.Tnum.Value | v.Tnum.Mask; hi < v.UMax {
		v.UMax = hi
	}
	if v.UMin > v.UMax || v.SMin > v.SMax {
		// Infeasible; callers treat this as a dead path.
		return v
	}
	if v.Tnum.Mask == ^uint64(0) && v.UMin == 0 && v.UMax == math.MaxUint64 &&
		v.SMin == math.MinInt64 && v.SMax == math.MaxInt64 {
		v.Kind = KindUnknown
	} else {
		v.Kind = KindScalar
	}
	return v
}

// infeasible reports whether a refined scalar has an empty concretization.
func (v Value) infeasible() bool {
	return v.IsScalar() && (v.UMin > v.UMax || v.SMin > v.SMax)
}

// Join computes the least value covering both inputs. Incompatible kinds
// widen to an unknown scalar; the checker rejects any later use of such a
// value as a pointer.
func Join(a, b Value) Value {
	if a.Kind == KindNotInit || b.Kind == KindNotInit {
		return NotInit()
	}
	if a.IsScalar() && b.IsScalar() {
		out := Value{
			Kind: KindScalar,
			Tnum: TnumUnion(a.Tnum, b.Tnum),
			UMin: minU(a.UMin, b.UMin),
			UMax: maxU(a.UMax, b.UMax),
			SMin: minS(a.SMin, b.SMin),
			SMax: maxS(a.SMax, b.SMax),
		}
		return out.normalize()
	}
	if a.Kind != b.Kind {
		return UnknownScalar()
	}
	switch a.Kind {
	case KindStackPtr:
		return Value{
			Kind:   KindStackPtr,
			OffMin: minS(a.OffMin, b.OffMin),
			OffMax: maxS(a.OffMax, b.OffMax),
		}
	case KindCtxPtr:
		return CtxPtr()
	case KindMapPtr:
		if a.MapID == b.MapID {
			return a
		}
		return UnknownScalar()
	case KindMapValuePtr:
		if a.MapID != b.MapID {
			return UnknownScalar()
		}
		return Value{
			Kind:      KindMapValuePtr,
			MapID:     a.MapID,
			ValueSize: a.ValueSize,
			OffMin:    minS(a.OffMin, b.OffMin),
			OffMax:    maxS(a.OffMax, b.OffMax),
			MaybeNull: a.MaybeNull || b.MaybeNull,
		}
	case KindNull:
		return NullPtr()
	}
	return UnknownScalar()
}

// Subsumes reports whether every runtime behavior allowed under the candidate
// value is also allowed under old. Used by the pruning cache.
func (old Value) Subsumes(cand Value) bool {
	// A register the cached path never read is compatible with anything.
	if old.Kind == KindNotInit {
		return true
	}
	if old.IsScalar() && cand.IsScalar() {
		return old.UMin <= cand.UMin && old.UMax >= cand.UMax &&
			old.SMin <= cand.SMin && old.SMax >= cand.SMax &&
			old.Tnum.Covers(cand.Tnum)
	}
	if old.Kind != cand.Kind {
		return false
	}
	switch old.Kind {
	case KindStackPtr:
		return old.OffMin <= cand.OffMin && old.OffMax >= cand.OffMax
	case KindCtxPtr, KindNull:
		return true
	case KindMapPtr:
		return old.MapID == cand.MapID
	case KindMapValuePtr:
		if old.MapID != cand.MapID {
			return false
		}
		if !old.MaybeNull && cand.MaybeNull {
			return false
		}
		return old.OffMin <= cand.OffMin && old.OffMax >= cand.OffMax
	}
	return false
}

// Equal reports exact equality of abstract values.
func (v Value) Equal(o Value) bool { return v == o }

func (v Value) String() string {
	switch v.Kind {
	case KindScalar:
		if v.Tnum.IsConst() {
			return fmt.Sprintf("scalar(%d)", int64(v.Tnum.Value))
		}
		return fmt.Sprintf("scalar(umin=%d umax=%d tnum=%s)", v.UMin, v.UMax, v.Tnum)
	case KindStackPtr:
		if v.OffMin == v.OffMax {
			return fmt.Sprintf("fp%+d", v.OffMin)
		}
		return fmt.Sprintf("fp[%+d,%+d]", v.OffMin, v.OffMax)
	case KindMapPtr:
		return fmt.Sprintf("map(%d)", v.MapID)
	case KindMapValuePtr:
		null := ""
		if v.MaybeNull {
			null = "_or_null"
		}
		return fmt.Sprintf("map_value%s(map=%d off=[%d,%d])", null, v.MapID, v.OffMin, v.OffMax)
	}
	return v.Kind.String()
}

func minU(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minS(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxS(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

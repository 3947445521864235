package verifier

import (
	"fmt"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

// checkLoad validates a memory read through ptr and returns the abstract
// value loaded. size is the access width in bytes.
func (vc *VerifierContext) checkLoad(insnIdx int, reg uint8, ptr Value, off int64, size int, st *State) (Value, error) {
	switch ptr.Kind {
	case KindStackPtr:
		return vc.checkStackRead(insnIdx, reg, ptr, off, size, st)
	case KindCtxPtr:
		return vc.checkCtxRead(insnIdx, reg, off, size)
	case KindMapValuePtr:
		if err := vc.checkMapValueAccess(insnIdx, reg, ptr, off, size); err != nil {
			return Value{}, err
		}
		return boundedScalar(size), nil
	case KindNotInit:
		return Value{}, vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(reg), "pointer register not initialized")
	case KindNull:
		return Value{}, vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg), "null pointer dereference")
	case KindMapPtr:
		return Value{}, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg), "map handle is not dereferenceable")
	default:
		return Value{}, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
			fmt.Sprintf("cannot load through %s", ptr.Kind))
	}
}

// checkStore validates a memory write through ptr and applies its effect on
// the stack model. stored is the abstract value written (an imm store passes
// the constant).
func (vc *VerifierContext) checkStore(insnIdx int, reg uint8, ptr Value, off int64, size int, stored Value, st *State) error {
	switch ptr.Kind {
	case KindStackPtr:
		return vc.checkStackWrite(insnIdx, reg, ptr, off, size, stored, st)
	case KindCtxPtr:
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg), "context is read-only")
	case KindMapValuePtr:
		if err := vc.checkMapValueAccess(insnIdx, reg, ptr, off, size); err != nil {
			return err
		}
		if stored.IsPointer() {
			return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg), "cannot store pointer into map value")
		}
		return nil
	case KindNotInit:
		return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(reg), "pointer register not initialized")
	case KindNull:
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg), "null pointer dereference")
	default:
		return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
			fmt.Sprintf("cannot store through %s", ptr.Kind))
	}
}

// checkStackRead tests slot initialization before bounds or alignment: a read
// of never-written stack bytes is reported as an uninitialized read even when
// the access is also misaligned.
func (vc *VerifierContext) checkStackRead(insnIdx int, reg uint8, ptr Value, off int64, size int, st *State) (Value, error) {
	if ptr.OffMin != ptr.OffMax {
		return Value{}, vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("variable stack offset [%d,%d]", ptr.OffMin, ptr.OffMax))
	}
	at := ptr.OffMin + off
	// Test initialization over the slots the access overlaps (clamped to the
	// frame) before bounds and alignment.
	lo, hi := at, at+int64(size)
	if lo < -bytecode.StackSize {
		lo = -bytecode.StackSize
	}
	if hi > 0 {
		hi = 0
	}
	if lo < hi {
		for i := slotIndex(lo); i <= slotIndex(hi-1); i++ {
			if !st.Stack[i].Init {
				return Value{}, vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(reg),
					fmt.Sprintf("read of uninitialized stack at fp%+d", at))
			}
		}
	}
	if at < -bytecode.StackSize || at+int64(size) > 0 {
		return Value{}, vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("stack access at fp%+d size %d outside [-%d,0)", at, size, bytecode.StackSize))
	}
	if at%int64(size) != 0 {
		return Value{}, vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("misaligned stack access at fp%+d size %d", at, size))
	}
	if size == 8 {
		// Fill: a full-width read recovers whatever was spilled, pointers
		// included.
		return st.Stack[slotIndex(at)].Val, nil
	}
	return boundedScalar(size), nil
}

func (vc *VerifierContext) checkStackWrite(insnIdx int, reg uint8, ptr Value, off int64, size int, stored Value, st *State) error {
	if ptr.OffMin != ptr.OffMax {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("variable stack offset [%d,%d]", ptr.OffMin, ptr.OffMax))
	}
	at := ptr.OffMin + off
	if at < -bytecode.StackSize || at+int64(size) > 0 {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("stack access at fp%+d size %d outside [-%d,0)", at, size, bytecode.StackSize))
	}
	if at%int64(size) != 0 {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("misaligned stack access at fp%+d size %d", at, size))
	}
	if size == 8 {
		st.Stack[slotIndex(at)] = Slot{Val: stored, Init: true}
		return nil
	}
	// A narrow store initializes the slot but loses precision.
	st.Stack[slotIndex(at)] = Slot{Val: UnknownScalar(), Init: true}
	return nil
}

// checkCtxRead matches the access against the category's field allow-list:
// offset and width must both match a declared field.
func (vc *VerifierContext) checkCtxRead(insnIdx int, reg uint8, off int64, size int) (Value, error) {
	for _, f := range caps.CtxLayout(vc.category) {
		if int64(f.Off) == off && f.Size == size {
			return boundedScalar(size), nil
		}
	}
	return Value{}, vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
		fmt.Sprintf("context access at offset %d size %d matches no %s field", off, size, vc.category))
}

func (vc *VerifierContext) checkMapValueAccess(insnIdx int, reg uint8, ptr Value, off int64, size int) error {
	if ptr.MaybeNull {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			"map value pointer may be null, check it first")
	}
	lo := ptr.OffMin + off
	hi := ptr.OffMax + off + int64(size)
	if lo < 0 || hi > int64(ptr.ValueSize) {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("map value access [%d,%d) outside value size %d", lo, hi, ptr.ValueSize))
	}
	return nil
}

// boundedScalar is the result of loading size bytes: unknown content, range
// bounded by the access width.
func boundedScalar(size int) Value {
	if size >= 8 {
		return UnknownScalar()
	}
	max := uint64(1)<<(uint(size)*8) - 1
	v := Value{
		Kind: KindScalar,
		Tnum: Tnum{Mask: max},
		UMax: max,
		SMax: int64(max),
	}
	return v
}

// checkHelperCall validates a CALL against the helper catalog, the category
// allow-list and the signature's argument contract, then applies the call's
// effect: r0 takes the return type, r1-r5 are clobbered.
func (vc *VerifierContext) checkHelperCall(insnIdx int, helperID uint32, st *State) error {
	sig, known := vc.cfg.Helpers[helperID]
	if !known {
		return vmerrors.NewVerifyError(vmerrors.DisallowedCall, insnIdx, -1,
			fmt.Sprintf("unknown helper %d", helperID))
	}
	if !caps.HelperAllowed(vc.category, helperID) {
		return vmerrors.NewVerifyError(vmerrors.DisallowedCall, insnIdx, -1,
			fmt.Sprintf("helper %s not allowed for %s programs", sig.Name, vc.category))
	}
	if len(sig.Args) > 5 {
		return vmerrors.NewVerifyError(vmerrors.DisallowedCall, insnIdx, -1,
			fmt.Sprintf("helper %s declares %d arguments", sig.Name, len(sig.Args)))
	}

	var argMap caps.MapSpec
	haveMap := false
	for i, at := range sig.Args {
		reg := uint8(bytecode.R1 + i)
		v := st.Regs[reg]
		switch at {
		case caps.ArgUnused:
			continue
		case caps.ArgAnything:
			if v.Kind == KindNotInit {
				return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(reg),
					fmt.Sprintf("%s argument %d not initialized", sig.Name, i+1))
			}
		case caps.ArgConstMapPtr:
			if v.Kind != KindMapPtr {
				return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
					fmt.Sprintf("%s expects a map handle, got %s", sig.Name, v.Kind))
			}
			spec, ok := vc.cfg.Maps[v.MapID]
			if !ok {
				return vmerrors.NewVerifyError(vmerrors.DisallowedCall, insnIdx, int(reg),
					fmt.Sprintf("map %d not declared for this program", v.MapID))
			}
			argMap, haveMap = spec, true
		case caps.ArgPtrToMapKey, caps.ArgPtrToMapValue:
			if !haveMap {
				return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
					fmt.Sprintf("%s key/value argument without a preceding map handle", sig.Name))
			}
			n := int64(argMap.KeySize)
			if at == caps.ArgPtrToMapValue {
				n = int64(argMap.ValueSize)
			}
			if err := vc.checkStackArg(insnIdx, reg, sig.Name, v, n, st); err != nil {
				return err
			}
		case caps.ArgPtrToStackMem:
			n, err := vc.memSizeBound(insnIdx, sig, i, st)
			if err != nil {
				return err
			}
			if err := vc.checkStackArg(insnIdx, reg, sig.Name, v, n, st); err != nil {
				return err
			}
		case caps.ArgMemSize:
			if !v.IsScalar() {
				return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
					fmt.Sprintf("%s size argument must be a scalar, got %s", sig.Name, v.Kind))
			}
		}
	}

	for r := bytecode.R1; r <= bytecode.R5; r++ {
		st.Regs[r] = NotInit()
	}
	switch sig.Ret {
	case caps.RetInteger:
		st.Regs[bytecode.R0] = UnknownScalar()
	case caps.RetVoid:
		st.Regs[bytecode.R0] = NotInit()
	case caps.RetMapValueOrNull:
		if !haveMap {
			return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, -1,
				fmt.Sprintf("%s returns a map value but takes no map handle", sig.Name))
		}
		st.Regs[bytecode.R0] = MapValuePtr(argMap.ID, argMap.ValueSize, true)
	}
	return nil
}

// memSizeBound finds the ArgMemSize companion of a stack-mem argument and
// returns the largest byte count the call may touch.
func (vc *VerifierContext) memSizeBound(insnIdx int, sig caps.Signature, ptrArg int, st *State) (int64, error) {
	for j := ptrArg + 1; j < len(sig.Args); j++ {
		if sig.Args[j] != caps.ArgMemSize {
			continue
		}
		reg := uint8(bytecode.R1 + j)
		v := st.Regs[reg]
		if !v.IsScalar() {
			return 0, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
				fmt.Sprintf("%s size argument must be a scalar, got %s", sig.Name, v.Kind))
		}
		if v.UMax > bytecode.StackSize {
			return 0, vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
				fmt.Sprintf("%s size argument may be as large as %d", sig.Name, v.UMax))
		}
		return int64(v.UMax), nil
	}
	return 0, vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, -1,
		fmt.Sprintf("%s stack-mem argument has no size argument", sig.Name))
}

// checkStackArg validates that a helper pointer argument is a constant-offset
// stack pointer with n initialized bytes behind it.
func (vc *VerifierContext) checkStackArg(insnIdx int, reg uint8, helper string, v Value, n int64, st *State) error {
	if v.Kind == KindNotInit {
		return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(reg),
			fmt.Sprintf("%s pointer argument not initialized", helper))
	}
	if v.Kind != KindStackPtr {
		return vmerrors.NewVerifyError(vmerrors.TypeMismatch, insnIdx, int(reg),
			fmt.Sprintf("%s expects a stack pointer, got %s", helper, v.Kind))
	}
	if v.OffMin != v.OffMax {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("%s pointer argument has variable offset [%d,%d]", helper, v.OffMin, v.OffMax))
	}
	if n == 0 {
		return nil
	}
	at := v.OffMin
	if at < -bytecode.StackSize || at+n > 0 {
		return vmerrors.NewVerifyError(vmerrors.OutOfBoundsAccess, insnIdx, int(reg),
			fmt.Sprintf("%s argument [fp%+d, fp%+d) outside the stack", helper, at, at+n))
	}
	lo := slotIndex(at)
	hi := slotIndex(at + n - 1)
	for i := lo; i <= hi; i++ {
		if !st.Stack[i].Init {
			return vmerrors.NewVerifyError(vmerrors.UninitializedRegister, insnIdx, int(reg),
				fmt.Sprintf("%s argument reads uninitialized stack at fp%+d", helper, at))
		}
	}
	return nil
}

package interp

import (
	"fmt"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/vmerrors"
)

// Fault enumerates runtime outcomes other than a clean exit. A verified
// program should never raise the fatal ones; the interpreter still checks
// everything so that a hostile or buggy program faults instead of touching
// host memory.
type Fault int

const (
	FaultNone Fault = iota
	FaultDivZero
	FaultBadMemory
	FaultBadJump
	FaultBadInstruction
	FaultBadHelper
	FaultStepBudget
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultDivZero:
		return "div_zero"
	case FaultBadMemory:
		return "bad_memory"
	case FaultBadJump:
		return "bad_jump"
	case FaultBadInstruction:
		return "bad_instruction"
	case FaultBadHelper:
		return "bad_helper"
	case FaultStepBudget:
		return "step_budget"
	}
	return fmt.Sprintf("fault(%d)", int(f))
}

// Fatal reports whether the fault halted execution. A division by zero is
// recorded but execution continues with the defined result.
func (f Fault) Fatal() bool {
	return f != FaultNone && f != FaultDivZero
}

// Err returns the coded sentinel for the fault, or nil for a clean exit.
func (f Fault) Err() error {
	switch f {
	case FaultDivZero:
		return vmerrors.ErrEDivZero
	case FaultBadMemory:
		return vmerrors.ErrEBadMemory
	case FaultBadJump:
		return vmerrors.ErrEBadJump
	case FaultBadInstruction:
		return vmerrors.ErrEBadInstruction
	case FaultBadHelper:
		return vmerrors.ErrEBadHelper
	case FaultStepBudget:
		return vmerrors.ErrEStepBudget
	}
	return nil
}

// Result is the outcome of one program invocation.
type Result struct {
	R0    uint64
	Fault Fault
	Steps uint64
}

// Guest address space layout. Addresses are opaque tokens: every access goes
// through the region table, so a bad address faults instead of reaching host
// memory.
const (
	ctxBase   = 0x10000000
	stackBase = 0x20000000
	dynBase   = 0x40000000
	dynAlign  = 0x10000
)

// DefaultStepBudget bounds one invocation when the caller does not set one.
const DefaultStepBudget = 1 << 20

type region struct {
	base uint64
	data []byte
}

// Machine is one program invocation: registers, a private stack frame, and
// the region table mapping guest addresses to host buffers. A Machine is
// single-use and confined to one goroutine; concurrent invocations each get
// their own.
type Machine struct {
	insns []bytecode.Instruction
	table *caps.Table

	regs    [bytecode.MaxReg + 1]uint64
	stack   [bytecode.StackSize]byte
	regions []region
	nextDyn uint64

	budget  uint64
	divZero bool
}

// NewMachine prepares an invocation with the given context buffer mapped at
// the context base. r1 points at the context, r10 at the frame top.
func NewMachine(insns []bytecode.Instruction, table *caps.Table, ctx []byte) *Machine {
	m := &Machine{
		insns:   insns,
		table:   table,
		nextDyn: dynBase,
		budget:  DefaultStepBudget,
	}
	m.regions = append(m.regions,
		region{base: stackBase - bytecode.StackSize, data: m.stack[:]},
	)
	if len(ctx) > 0 {
		m.regions = append(m.regions, region{base: ctxBase, data: ctx})
		m.regs[bytecode.R1] = ctxBase
	}
	m.regs[bytecode.R10] = stackBase
	return m
}

// SetStepBudget overrides the default instruction-step budget.
func (m *Machine) SetStepBudget(n uint64) {
	if n > 0 {
		m.budget = n
	}
}

// resolve maps [addr, addr+n) to the backing host bytes, or fails when the
// range is not fully inside one region.
func (m *Machine) resolve(addr uint64, n int) ([]byte, bool) {
	if n <= 0 {
		return nil, false
	}
	for _, r := range m.regions {
		if addr >= r.base && addr-r.base+uint64(n) <= uint64(len(r.data)) {
			off := addr - r.base
			return r.data[off : off+uint64(n)], true
		}
	}
	return nil, false
}

// ReadAt implements caps.Memory: helpers read guest memory through it.
func (m *Machine) ReadAt(addr uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b, ok := m.resolve(addr, n)
	if !ok {
		return nil, fmt.Errorf("read of unmapped guest range [%#x, %#x)", addr, addr+uint64(n))
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// WriteAt implements caps.Memory.
func (m *Machine) WriteAt(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b, ok := m.resolve(addr, len(data))
	if !ok {
		return fmt.Errorf("write to unmapped guest range [%#x, %#x)", addr, addr+uint64(len(data)))
	}
	copy(b, data)
	return nil
}

// RegisterRegion implements caps.Memory: it maps a host buffer (typically a
// map value) into the guest address space and returns its guest base.
func (m *Machine) RegisterRegion(data []byte) uint64 {
	base := m.nextDyn
	span := (uint64(len(data))/dynAlign + 1) * dynAlign
	m.nextDyn += span
	m.regions = append(m.regions, region{base: base, data: data})
	return base
}

// Run executes a decoded program against a fresh machine. This is the plain
// entry point; verification is the caller's responsibility (see the root
// package for the combined pipeline).
func Run(insns []bytecode.Instruction, table *caps.Table, ctx []byte, stepBudget uint64) Result {
	m := NewMachine(insns, table, ctx)
	m.SetStepBudget(stepBudget)
	return m.Execute()
}

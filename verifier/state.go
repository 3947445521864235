package verifier

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/sbvm/bytecode"
)

const (
	// NumRegs covers r0..r10.
	NumRegs = 11
	// NumSlots is the stack tracked at 8-byte slot granularity.
	NumSlots = bytecode.StackSize / 8
)

// Slot is one 8-byte stack slot. A full-width aligned store records the
// stored abstract value, so pointers survive a spill and fill. Any narrower
// store initializes the slot but degrades it to an unknown scalar.
type Slot struct {
	Val  Value
	Init bool
}

// State is the abstract machine state at one program point.
type State struct {
	PC    int
	Regs  [NumRegs]Value
	Stack [NumSlots]Slot
}

// NewEntryState returns the state at instruction 0: r1 holds the context
// pointer, r10 the frame pointer, everything else is uninitialized.
func NewEntryState() *State {
	s := &State{}
	for i := range s.Regs {
		s.Regs[i] = NotInit()
	}
	s.Regs[bytecode.R1] = CtxPtr()
	s.Regs[bytecode.R10] = StackPtr()
	return s
}

// Clone returns an independent copy.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// slotIndex maps a frame-relative byte offset (negative, within the stack) to
// its slot. Callers bounds-check first.
func slotIndex(off int64) int {
	return int((off + bytecode.StackSize) / 8)
}

// SubsumedBy reports whether every behavior reachable from s is also
// reachable from old: pruning s is then safe.
func (s *State) SubsumedBy(old *State) bool {
	for i := range s.Regs {
		if !old.Regs[i].Subsumes(s.Regs[i]) {
			return false
		}
	}
	for i := range s.Stack {
		if !old.Stack[i].Init {
			// The cached path never read this slot, so whatever the
			// candidate holds there cannot matter less safely than what the
			// cached path proved. Only an initialized cached slot constrains.
			continue
		}
		if !s.Stack[i].Init {
			return false
		}
		if !old.Stack[i].Val.Subsumes(s.Stack[i].Val) {
			return false
		}
	}
	return true
}

// Equal reports exact equality of two states at the same program point.
func (s *State) Equal(o *State) bool {
	return *s == *o
}

// JoinStates widens a loop-head state with a newly arriving one.
func JoinStates(a, b *State) *State {
	out := &State{PC: a.PC}
	for i := range out.Regs {
		out.Regs[i] = Join(a.Regs[i], b.Regs[i])
	}
	for i := range out.Stack {
		if !a.Stack[i].Init || !b.Stack[i].Init {
			continue
		}
		out.Stack[i] = Slot{Val: Join(a.Stack[i].Val, b.Stack[i].Val), Init: true}
	}
	return out
}

func (s *State) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pc=%d", s.PC)
	for i, v := range s.Regs {
		if v.Kind == KindNotInit {
			continue
		}
		fmt.Fprintf(&sb, " r%d=%s", i, v)
	}
	return sb.String()
}

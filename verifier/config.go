package verifier

import "github.com/colorfulnotion/sbvm/caps"

// Defaults for Config. The complexity budget counts abstract instruction
// visits across all explored paths; the loop cap bounds visits to any single
// loop head before the program is rejected.
const (
	DefaultComplexityBudget = 1 << 20
	DefaultLoopIterCap      = 1024
	DefaultWidenAfter       = 32
)

// Config carries everything one verification run needs. Verify never touches
// package-level state, so distinct programs verify concurrently with
// independent configs.
type Config struct {
	// ComplexityBudget bounds total abstract instruction visits.
	ComplexityBudget int

	// LoopIterCap bounds arrivals at any one loop head.
	LoopIterCap int

	// WidenAfter is the number of loop-head arrivals simulated precisely
	// before range widening kicks in to force convergence.
	WidenAfter int

	// Maps declares the map objects the program may reference via pseudo map
	// loads, keyed by map id.
	Maps map[uint32]caps.MapSpec

	// Helpers is the callable catalog checked against CALL instructions.
	// Nil means the built-in catalog.
	Helpers map[uint32]caps.Signature
}

// DefaultConfig returns a config with the default budgets and the built-in
// helper catalog.
func DefaultConfig() Config {
	return Config{
		ComplexityBudget: DefaultComplexityBudget,
		LoopIterCap:      DefaultLoopIterCap,
		WidenAfter:       DefaultWidenAfter,
		Helpers:          caps.BuiltinSignatures(),
	}
}

func (c Config) withDefaults() Config {
	if c.ComplexityBudget <= 0 {
		c.ComplexityBudget = DefaultComplexityBudget
	}
	if c.LoopIterCap <= 0 {
		c.LoopIterCap = DefaultLoopIterCap
	}
	if c.WidenAfter <= 0 {
		c.WidenAfter = DefaultWidenAfter
	}
	if c.Helpers == nil {
		c.Helpers = caps.BuiltinSignatures()
	}
	return c
}

// Stats reports how much work one verification run performed.
type Stats struct {
	StatesExplored int
	StatesPruned   int
	PeakPending    int
	BudgetUsed     int
}

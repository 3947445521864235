// Package sbvm loads, verifies and executes sandboxed bytecode programs.
//
// The pipeline is: decode the raw image into instructions, build the control
// flow graph, run the abstract-interpretation verifier, and only then allow
// execution. A Program that came out of VerifyAndLoad can be run any number
// of times, concurrently, against capability tables supplied per invocation.
package sbvm

import (
	"fmt"

	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/cfg"
	"github.com/colorfulnotion/sbvm/interp"
	"github.com/colorfulnotion/sbvm/log"
	"github.com/colorfulnotion/sbvm/verifier"
)

// Program is a verified, executable program. Insns and Graph are immutable
// after load; Run never mutates the Program, so one Program may serve many
// goroutines.
type Program struct {
	Insns    []bytecode.Instruction
	Graph    *cfg.Graph
	Category caps.ProgramCategory
	Stats    verifier.Stats
}

// VerifyAndLoad decodes a raw program image, builds its control flow graph
// and verifies it under the given config. Any decode, structural or
// verification failure rejects the program as a whole.
func VerifyAndLoad(image []byte, category caps.ProgramCategory, config verifier.Config) (*Program, error) {
	insns, err := bytecode.Decode(image)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	graph, err := cfg.Build(insns)
	if err != nil {
		return nil, fmt.Errorf("cfg: %w", err)
	}
	stats, err := verifier.Verify(insns, graph, category, config)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	log.Info(log.LoaderMonitoring, "program loaded",
		"insns", len(insns), "blocks", len(graph.Blocks), "category", category,
		"statesExplored", stats.StatesExplored)
	return &Program{Insns: insns, Graph: graph, Category: category, Stats: stats}, nil
}

// LoadTable is a convenience that verifies against the maps and helper
// signatures of a concrete capability table.
func LoadTable(image []byte, category caps.ProgramCategory, table *caps.Table) (*Program, error) {
	config := verifier.DefaultConfig()
	if table != nil {
		config.Maps = table.MapSpecs()
		sigs := make(map[uint32]caps.Signature, len(table.Helpers))
		for id, h := range table.Helpers {
			sigs[id] = h.Sig
		}
		config.Helpers = sigs
	}
	return VerifyAndLoad(image, category, config)
}

// Run executes the program once against the given capability table and
// context buffer. A zero stepBudget uses the interpreter default. The context
// buffer must match the category's layout size.
func (p *Program) Run(table *caps.Table, ctx []byte, stepBudget uint64) (interp.Result, error) {
	if want := caps.CtxSize(p.Category); len(ctx) != want {
		return interp.Result{}, fmt.Errorf("context size %d, category %s wants %d", len(ctx), p.Category, want)
	}
	return interp.Run(p.Insns, table, ctx, stepBudget), nil
}

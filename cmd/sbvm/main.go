// sbvm - verify, inspect and execute sandboxed bytecode programs.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/sbvm"
	"github.com/colorfulnotion/sbvm/bytecode"
	"github.com/colorfulnotion/sbvm/caps"
	"github.com/colorfulnotion/sbvm/cfg"
	"github.com/colorfulnotion/sbvm/log"
	"github.com/colorfulnotion/sbvm/store"
	"github.com/colorfulnotion/sbvm/verifier"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "sbvm",
		Short: "Sandboxed bytecode verifier and interpreter",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		logLevel string
		debug    string
		category string
		mapSpecs []string
		ctxHex   string
		steps    uint64
		progID   uint64
		budget   int
	)

	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma-separated log modules to enable")

	setup := func() {
		log.InitLogger(logLevel)
		for _, m := range strings.Split(debug, ",") {
			if m != "" {
				log.EnableModule(m)
			}
		}
	}

	var verifyCmd = &cobra.Command{
		Use:   "verify <program.bin>",
		Short: "Verify a program image without running it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			image := readImage(args[0])
			cat := parseCategory(category)
			table := buildTable(mapSpecs, progID)

			config := verifier.DefaultConfig()
			config.Maps = table.MapSpecs()
			if budget > 0 {
				config.ComplexityBudget = budget
			}
			prog, err := sbvm.VerifyAndLoad(image, cat, config)
			if err != nil {
				fmt.Printf("REJECTED: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("OK: %d instructions, %d blocks, %d back edges\n",
				len(prog.Insns), len(prog.Graph.Blocks), prog.Graph.NumBackEdges())
			fmt.Printf("    states explored %d, pruned %d, peak pending %d, budget used %d\n",
				prog.Stats.StatesExplored, prog.Stats.StatesPruned,
				prog.Stats.PeakPending, prog.Stats.BudgetUsed)
		},
	}
	verifyCmd.Flags().StringVar(&category, "category", "filter", "program category (filter|tracing)")
	verifyCmd.Flags().StringArrayVar(&mapSpecs, "map", nil, "map declaration id:keysize:valuesize[:path]")
	verifyCmd.Flags().IntVar(&budget, "budget", 0, "complexity budget override")
	verifyCmd.Flags().Uint64Var(&progID, "prog-id", 1, "program id reported by get_prog_id")

	var disasmCmd = &cobra.Command{
		Use:   "disasm <program.bin>",
		Short: "Disassemble a program and print its control flow graph",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			image := readImage(args[0])
			insns, err := bytecode.Decode(image)
			if err != nil {
				fmt.Printf("decode failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(bytecode.Disassemble(insns))
			graph, err := cfg.Build(insns)
			if err != nil {
				fmt.Printf("\ncfg build failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\n%s", graph.Tree())
		},
	}

	var runCmd = &cobra.Command{
		Use:   "run <program.bin>",
		Short: "Verify a program, then execute it once",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup()
			image := readImage(args[0])
			cat := parseCategory(category)
			table := buildTable(mapSpecs, progID)

			prog, err := sbvm.LoadTable(image, cat, table)
			if err != nil {
				fmt.Printf("REJECTED: %v\n", err)
				os.Exit(1)
			}

			ctx := make([]byte, caps.CtxSize(cat))
			if ctxHex != "" {
				raw, err := hex.DecodeString(strings.TrimPrefix(ctxHex, "0x"))
				if err != nil {
					fmt.Printf("bad --ctx hex: %v\n", err)
					os.Exit(1)
				}
				copy(ctx, raw)
			}

			res, err := prog.Run(table, ctx, steps)
			if err != nil {
				fmt.Printf("run failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("r0=%d (%#x) steps=%d\n", res.R0, res.R0, res.Steps)
			if err := res.Fault.Err(); err != nil {
				fmt.Printf("fault: %v\n", err)
			}
			if res.Fault.Fatal() {
				os.Exit(2)
			}
		},
	}
	runCmd.Flags().StringVar(&category, "category", "filter", "program category (filter|tracing)")
	runCmd.Flags().StringArrayVar(&mapSpecs, "map", nil, "map declaration id:keysize:valuesize[:path]")
	runCmd.Flags().StringVar(&ctxHex, "ctx", "", "context buffer as hex")
	runCmd.Flags().Uint64Var(&steps, "steps", 0, "instruction step budget (0 = default)")
	runCmd.Flags().Uint64Var(&progID, "prog-id", 1, "program id reported by get_prog_id")

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sbvm %s (%s)\n", Version, Commit)
		},
	}

	rootCmd.AddCommand(verifyCmd, disasmCmd, runCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readImage(path string) []byte {
	image, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("cannot read program image: %v\n", err)
		os.Exit(1)
	}
	return image
}

func parseCategory(s string) caps.ProgramCategory {
	cat, ok := caps.ParseCategory(s)
	if !ok {
		fmt.Printf("unknown category %q (want filter or tracing)\n", s)
		os.Exit(1)
	}
	return cat
}

// buildTable assembles the capability table from --map declarations of the
// form id:keysize:valuesize[:path]. With a path the map is LevelDB-backed,
// without it lives in memory.
func buildTable(specs []string, progID uint64) *caps.Table {
	table := caps.NewTable()
	table.ProgID = progID
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) != 3 && len(parts) != 4 {
			fmt.Printf("bad --map %q, want id:keysize:valuesize[:path]\n", s)
			os.Exit(1)
		}
		id := parseU32(parts[0], s)
		spec := caps.MapSpec{
			ID:        id,
			KeySize:   parseU32(parts[1], s),
			ValueSize: parseU32(parts[2], s),
			Name:      fmt.Sprintf("map%d", id),
		}
		var m caps.Map
		if len(parts) == 4 {
			pm, err := store.OpenMap(parts[3], spec)
			if err != nil {
				fmt.Printf("cannot open map %d: %v\n", id, err)
				os.Exit(1)
			}
			m = pm
		} else {
			m = caps.NewHashMap(spec)
		}
		if err := table.AddMap(m); err != nil {
			fmt.Printf("cannot register map %d: %v\n", id, err)
			os.Exit(1)
		}
	}
	return table
}

func parseU32(s, whole string) uint32 {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Printf("bad number %q in --map %q\n", s, whole)
		os.Exit(1)
	}
	return uint32(v)
}

// Command vexresched reschedules an already-assembled stream of VLIW
// instruction bundles for a differently configured target machine,
// preserving program semantics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vexresched/vexresched/pkg/format"
	"github.com/vexresched/vexresched/pkg/function"
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/machine"
	"github.com/vexresched/vexresched/pkg/program"
	"github.com/vexresched/vexresched/pkg/report"
)

func main() {
	var (
		outFile    string
		resched    bool
		optLevel   int
		borrowOpt  string
		configOpt  string
		nalu, nmul int
		nmem, nbr  int
		reportFile string
	)

	rootCmd := &cobra.Command{
		Use:   "vexresched <file>",
		Short: "Reschedule VLIW instruction bundles for a different lane configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if optLevel < 0 || optLevel > 2 {
				return fmt.Errorf("-O must be 0, 1, or 2")
			}

			cfg := machine.DefaultConfig()
			cfg.Opt = optLevel

			if borrowOpt != "" {
				borrow, err := machine.ParseBorrowOpt(borrowOpt)
				if err != nil {
					return fmt.Errorf("invalid --borrow: %w", err)
				}
				cfg.Borrow = borrow
			}
			if configOpt != "" {
				layout, err := machine.ParseConfigOpt(configOpt)
				if err != nil {
					return fmt.Errorf("invalid --config: %w", err)
				}
				cfg.Layout = layout
				cfg.FUs = machine.CountFUs(layout)
			}
			if cmd.Flags().Changed("nalu") {
				cfg.FUs[inst.ALU] = nalu
			}
			if cmd.Flags().Changed("nmul") {
				cfg.FUs[inst.MUL] = nmul
			}
			if cmd.Flags().Changed("nmem") {
				cfg.FUs[inst.MEM] = nmem
			}
			if cmd.Flags().Changed("nbr") {
				cfg.FUs[inst.BR] = nbr
			}

			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer in.Close()

			units, err := program.Read(in)
			if err != nil {
				return fmt.Errorf("failed to parse: %w", err)
			}

			var stats []report.FunctionStats
			for _, u := range units {
				if u.Func == nil {
					continue
				}
				before := bundleCount(u.Func)
				if err := program.Fix(u.Func); err != nil {
					return err
				}
				if resched && cfg.Opt > 0 {
					if err := u.Func.NewResched(cfg); err != nil {
						return err
					}
				}
				if reportFile != "" {
					alu, mul, mem, br, longImm := report.Tally(allInsns(u.Func))
					stats = append(stats, report.FunctionStats{
						Name:           u.Func.Name,
						BundlesBefore:  before,
						BundlesAfter:   bundleCount(u.Func),
						ALUOps:         alu,
						MULOps:         mul,
						MEMOps:         mem,
						BROps:          br,
						LongImmediates: longImm,
					})
				}
			}

			out := os.Stdout
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := format.Write(out, units); err != nil {
				return err
			}

			if reportFile != "" {
				rf, err := os.Create(reportFile)
				if err != nil {
					return fmt.Errorf("failed to create report: %w", err)
				}
				defer rf.Close()
				if err := report.WriteJSON(rf, &report.Report{Functions: stats}); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file name (default stdout)")
	rootCmd.Flags().BoolVar(&resched, "resched", false, "Allow rescheduling in addition to register renaming")
	rootCmd.Flags().IntVarP(&optLevel, "opt-level", "O", 0, "Optimization level (0, 1, or 2); ignored without --resched")
	rootCmd.Flags().StringVar(&borrowOpt, "borrow", "", "Borrow configuration: lane0.lane1. ... .lane7, each a comma list of slots")
	rootCmd.Flags().StringVar(&configOpt, "config", "", "Lane resource configuration: 8 hex nibbles, bit 0 ALU, 1 MUL, 2 MEM, 3 BR")
	rootCmd.Flags().IntVar(&nalu, "nalu", 0, "Number of ALU resources (overrides --config)")
	rootCmd.Flags().IntVar(&nmul, "nmul", 0, "Number of MUL resources (overrides --config)")
	rootCmd.Flags().IntVar(&nmem, "nmem", 0, "Number of MEM resources (overrides --config)")
	rootCmd.Flags().IntVar(&nbr, "nbr", 0, "Number of BR resources (overrides --config)")
	rootCmd.Flags().StringVar(&reportFile, "report", "", "Write a JSON schedule-statistics report to this file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bundleCount returns the number of non-fake bundles currently in f.
func bundleCount(f *function.Function) int {
	n := 0
	for _, b := range f.Bundles {
		if !b.IsFake() {
			n++
		}
	}
	return n
}

// allInsns flattens every instruction in f's non-fake bundles, in
// order, for statistics tallying.
func allInsns(f *function.Function) []*inst.Instruction {
	var out []*inst.Instruction
	for _, b := range f.Bundles {
		if b.IsFake() {
			continue
		}
		out = append(out, b.Insns...)
	}
	return out
}

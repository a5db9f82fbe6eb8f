package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/caseflow-xyz/go-caseflow/parser"
	"github.com/caseflow-xyz/go-caseflow/soundness"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

func verify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	outputJSON := fs.Bool("json", false, "Output report as JSON")
	outputFile := fs.String("output", "", "Write JSON report to file")
	maxMarkings := fs.Int("max-markings", 10000, "Maximum markings to explore")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: caseflow verify <net.json> [options]

Verify a workflow net definition against the classical soundness
criteria.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Checks performed:
  - Structural preconditions (one input, one output, well-formed flows)
  - Option to complete (every reachable marking can still finish)
  - Proper completion (no tokens left beside the output condition)
  - No dead transitions (every task can fire on some path)

Exit code is 0 iff the net is sound.

Examples:
  caseflow verify net.json
  caseflow verify net.json --json --output report.json
  caseflow verify net.json --max-markings 50000
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("net definition file required")
	}

	net, err := loadNet(fs.Arg(0))
	if err != nil {
		return err
	}

	report := soundness.NewVerifier(net).WithMaxMarkings(*maxMarkings).Verify()

	if *outputJSON || *outputFile != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if *outputFile != "" {
			if err := os.WriteFile(*outputFile, data, 0644); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
		} else {
			fmt.Println(string(data))
		}
	} else {
		printReport(report)
	}

	if !report.IsSound {
		os.Exit(1)
	}
	return nil
}

func printReport(report *soundness.Report) {
	fmt.Println("=== Workflow Net Soundness ===")
	fmt.Printf("Net: %s\n", report.NetID)
	if report.IsSound {
		fmt.Println("Verdict: sound")
	} else if report.Inconclusive {
		fmt.Println("Verdict: inconclusive (marking budget exhausted)")
	} else {
		fmt.Println("Verdict: unsound")
	}
	fmt.Printf("Reachable markings: %d\n", report.ReachableMarkings)
	fmt.Printf("Deadlock markings:  %d\n", report.DeadlockMarkings)
	if len(report.DeadTransitions) > 0 {
		fmt.Printf("Dead transitions:   %v\n", report.DeadTransitions)
	}

	if len(report.Violations) > 0 {
		fmt.Printf("\nViolations (%d):\n", len(report.Violations))
		for _, v := range report.Violations {
			fmt.Printf("  [%s] %s\n", v.Kind, v.Message)
		}
	}
}

func loadNet(file string) (*wfnet.Net, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	net, err := parser.FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if err := wfnet.Validate(net); err != nil {
		return nil, err
	}
	return net, nil
}

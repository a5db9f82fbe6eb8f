package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/caseflow-xyz/go-caseflow/soundness"
)

func path(args []string) error {
	fs := flag.NewFlagSet("path", flag.ExitOnError)
	maxMarkings := fs.Int("max-markings", 10000, "Maximum markings to explore")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: caseflow path <net.json> [options]

Find a shortest firing sequence from the initial marking to the final
marking, useful for generating test cases.

Options:
`)
		fs.PrintDefaults()
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

	sequence := soundness.NewVerifier(net).WithMaxMarkings(*maxMarkings).ShortestSequence()
	if sequence == nil {
		return fmt.Errorf("no firing sequence reaches the final marking")
	}

	fmt.Printf("%d firings: %s\n", len(sequence), strings.Join(sequence, " -> "))
	return nil
}

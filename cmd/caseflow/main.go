package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "verify":
		if err := verify(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "path":
		if err := path(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "coverage":
		if err := coverage(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Println("caseflow version 1.0.0")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`caseflow - workflow net verification tool

Usage:
  caseflow <command> [options]

Commands:
  verify     Check a workflow net definition for soundness
  path       Find a shortest firing sequence from input to output
  coverage   Check boundedness via coverability analysis
  help       Show this help message
  version    Show version information

Examples:
  # Verify soundness, text report
  caseflow verify net.json

  # Verify soundness, JSON report written to a file
  caseflow verify net.json --json --output report.json

  # Shortest completing firing sequence
  caseflow path net.json

  # Boundedness with a custom node budget
  caseflow coverage net.json --max-nodes 50000

For command-specific help, run:
  caseflow <command> --help`)
}

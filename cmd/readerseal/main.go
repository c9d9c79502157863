package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK           = 0
	exitVerifyFailed = 1
	exitUsage        = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		printUsage()
		return exitUsage
	}
	if arguments[1] == "--explain" {
		return writeExplain("Readerseal records clinical AI reading sessions in a tamper-evident hash-chained ledger and verifies exported packs offline.")
	}
	switch arguments[1] {
	case "verify":
		return runVerify(arguments[2:])
	case "session":
		return runSession(arguments[2:])
	case "version", "--version", "-v":
		fmt.Println("readerseal", version)
		return exitOK
	default:
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Println(`readerseal - tamper-evident reading session ledgers and pack verification

Usage:
  readerseal verify <pack-dir> [--json] [--config <path>]
  readerseal session <subcommand> [flags]
  readerseal version

Session subcommands:
  init        open a ledger for a new case
  lock-first  seal the pre-AI first impression
  expose-ai   record the AI output and region acknowledgements
  reconcile   record the final assessment
  status      show the current phase and entries
  export      write the verifiable pack directory`)
}

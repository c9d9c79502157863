package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/davidahmann/readerseal/core/config"
	"github.com/davidahmann/readerseal/core/verifier"
)

type verifyOutput struct {
	OK      bool                   `json:"ok"`
	PackDir string                 `json:"pack_dir,omitempty"`
	Stages  []verifier.StageResult `json:"stages,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func runVerify(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Verify a pack directory offline: manifest digests, ledger hash chain, event replay, and the published derived metrics.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{"config": true})
	flagSet := flag.NewFlagSet("verify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var jsonOutput bool
	var configPath string
	var helpFlag bool
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.StringVar(&configPath, "config", "", "path to readerseal.yaml")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{OK: false, Error: err.Error()}, exitUsage)
	}
	if helpFlag {
		printVerifyUsage()
		return exitOK
	}
	if flagSet.NArg() != 1 {
		if !jsonOutput {
			printVerifyUsage()
		}
		return writeVerifyOutput(jsonOutput, verifyOutput{OK: false, Error: "verify takes exactly one pack directory"}, exitUsage)
	}
	packDir := flagSet.Arg(0)

	if configPath == "" {
		configPath = filepath.Join(packDir, config.DefaultFileName)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{OK: false, Error: err.Error()}, exitCodeForError(err))
	}

	report, err := verifier.Verify(packDir, cfg)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{OK: false, PackDir: packDir, Error: err.Error()}, exitVerifyFailed)
	}

	output := verifyOutput{OK: report.Pass(), PackDir: report.PackDir, Stages: report.Stages}
	exitCode := exitOK
	if !report.Pass() {
		exitCode = exitVerifyFailed
		output.Error = "verification failed"
	}
	return writeVerifyOutput(jsonOutput, output, exitCode)
}

func writeVerifyOutput(jsonOutput bool, output verifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	for _, stage := range output.Stages {
		fmt.Printf("%-16s %s\n", stage.Name, stageStatus(stage))
		for _, message := range stage.Errors {
			fmt.Printf("  error: %s\n", message)
		}
		for _, message := range stage.Warnings {
			fmt.Printf("  warning: %s\n", message)
		}
	}
	if output.OK {
		fmt.Println("verification passed")
	} else {
		message := strings.TrimSpace(output.Error)
		if message == "" {
			message = "verification failed"
		}
		fmt.Println(message)
	}
	return exitCode
}

func stageStatus(stage verifier.StageResult) string {
	switch {
	case stage.Skipped:
		return "SKIP"
	case stage.Pass:
		return "PASS"
	default:
		return "FAIL"
	}
}

func printVerifyUsage() {
	fmt.Println(`Usage: readerseal verify <pack-dir> [--json] [--config <path>]

Checks the pack layout, manifest digests, ledger hash chain, event replay,
and the published derived metrics. Exit codes: 0 verified, 1 failed, 2 usage.`)
}

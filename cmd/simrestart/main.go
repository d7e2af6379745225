package main

import (
	"fmt"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK              = 0
	exitInternalFailure = 1
	exitVerifyFailed    = 2
	exitInvalidInput    = 6
	exitStateContention = 7
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	setCurrentCorrelationID(commandCorrelationID(arguments))
	defer setCurrentCorrelationID("")
	return runDispatch(arguments)
}

func runDispatch(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("simrestart", version)
		return exitOK
	}
	if explanation, ok := explanationFor(arguments[1:]); ok {
		return writeExplain(explanation)
	}

	switch arguments[1] {
	case "handle":
		return runHandle(arguments[2:])
	case "rank":
		return runRank(arguments[2:])
	case "hub":
		return runHub(arguments[2:])
	case "checkpoint":
		return runCheckpoint(arguments[2:])
	case "journal":
		return runJournal(arguments[2:])
	case "version", "--version", "-v":
		fmt.Println("simrestart", version)
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  simrestart handle [--cpi <state.cpt>] --log <md.log> [--out <csv>] [--append|--noappend] [--double] [--ranks N] [--sims M --multidir <csv>] [--journal <path>] [--timeout <duration>] [--config <path>] [--json] [--explain]")
	fmt.Println("  simrestart rank --hub <addr> --rank R --ranks N [--sim I --sims M --multidir <csv>] [--cpi <state.cpt>] --log <md.log> [--out <csv>] [--append|--noappend] [--double] [--json] [--explain]")
	fmt.Println("  simrestart hub [--listen 127.0.0.1:7400] [--config <path>] [--explain]")
	fmt.Println("  simrestart checkpoint write --cpo <state.cpt> --log <md.log> [--out <csv>] [--part N] [--double] [--json] [--explain]")
	fmt.Println("  simrestart checkpoint inspect --cpi <state.cpt> [--json] [--explain]")
	fmt.Println("  simrestart journal --from <restart.jsonl> [--json] [--explain]")
	fmt.Println("  simrestart version")
}

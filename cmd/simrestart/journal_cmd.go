package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/davidahmann/simrestart/core/config"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/journal"
)

type journalOutput struct {
	OK        bool            `json:"ok"`
	Path      string          `json:"path,omitempty"`
	Committed int             `json:"committed"`
	Aborted   int             `json:"aborted"`
	Events    []journal.Event `json:"events,omitempty"`
	errorEnvelope
}

func runJournal(arguments []string) int {
	flagSet := flag.NewFlagSet("journal", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var from string
	var configPath string
	var jsonOutput bool
	var helpFlag bool
	flagSet.StringVar(&from, "from", "", "journal to read (defaults to restart.journal_path)")
	flagSet.StringVar(&configPath, "config", config.DefaultPath, "path to simrestart config")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(interspersed(flagSet, arguments)); err != nil {
		return writeJournalOutput(jsonOutput, journalOutput{OK: false, errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printJournalUsage()
		return exitOK
	}
	path := strings.TrimSpace(from)
	if path == "" {
		configuration, err := config.Load(configPath, !explicitFlags(flagSet)["config"])
		if err != nil {
			wrapped := coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "", false)
			return writeJournalOutput(jsonOutput, journalOutput{OK: false, errorEnvelope: envelopeFor(wrapped)}, exitInvalidInput)
		}
		path = configuration.Restart.JournalPath
	}
	if path == "" {
		return writeJournalOutput(jsonOutput, journalOutput{OK: false, errorEnvelope: errorEnvelope{Error: "--from is required"}}, exitInvalidInput)
	}

	events, err := journal.Load(path)
	if err != nil {
		wrapped := coreerrors.Wrap(err, coreerrors.CategoryVerification, "journal_invalid", "", false)
		return writeJournalOutput(jsonOutput, journalOutput{OK: false, Path: path, errorEnvelope: envelopeFor(wrapped)}, exitVerifyFailed)
	}
	output := journalOutput{OK: true, Path: path, Events: events}
	for _, event := range events {
		if event.Status == journal.StatusCommitted {
			output.Committed++
		} else {
			output.Aborted++
		}
	}
	return writeJournalOutput(jsonOutput, output, exitOK)
}

func writeJournalOutput(jsonOutput bool, output journalOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if !output.OK {
		fmt.Printf("journal error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("journal: %s committed=%d aborted=%d\n", output.Path, output.Committed, output.Aborted)
	for _, event := range output.Events {
		if event.Status == journal.StatusCommitted {
			fmt.Printf("%s simulation=%d %s part=%d\n", event.CreatedAt.Format("2006-01-02T15:04:05Z"), event.Simulation, event.StartingBehavior, event.SimulationPart)
			continue
		}
		fmt.Printf("%s simulation=%d aborted %s\n", event.CreatedAt.Format("2006-01-02T15:04:05Z"), event.Simulation, event.ErrorCode)
	}
	return exitCode
}

func printJournalUsage() {
	fmt.Println("Usage:")
	fmt.Println("  simrestart journal --from <restart.jsonl> [--config <path>] [--json] [--explain]")
}

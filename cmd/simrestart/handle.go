package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/davidahmann/simrestart/core/collective"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/filenames"
	"github.com/davidahmann/simrestart/core/journal"
	"github.com/davidahmann/simrestart/core/restart"
)

type handleOutput struct {
	OK               bool                `json:"ok"`
	Appending        string              `json:"appending,omitempty"`
	StartingBehavior string              `json:"starting_behavior,omitempty"`
	Ranks            int                 `json:"ranks,omitempty"`
	Simulations      []simulationOutcome `json:"simulations,omitempty"`
	errorEnvelope
}

// simulationOutcome is what the master of one simulation saw.
type simulationOutcome struct {
	Simulation       int              `json:"simulation"`
	StartingBehavior string           `json:"starting_behavior,omitempty"`
	SimulationPart   int              `json:"simulation_part"`
	Log              string           `json:"log,omitempty"`
	Files            []filenames.File `json:"files,omitempty"`
	JournalError     string           `json:"journal_error,omitempty"`
	Error            string           `json:"error,omitempty"`
}

func runHandle(arguments []string) int {
	flagSet := flag.NewFlagSet("handle", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var flags runFlags
	var ranks int
	var sims int
	flags.register(flagSet)
	flagSet.IntVar(&ranks, "ranks", 1, "ranks per simulation")
	flagSet.IntVar(&sims, "sims", 1, "number of simulations")

	if err := flagSet.Parse(interspersed(flagSet, arguments)); err != nil {
		return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if flags.helpFlag {
		printHandleUsage()
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: errorEnvelope{Error: "unexpected positional arguments"}}, exitInvalidInput)
	}
	settings, err := resolveRunSettings(flagSet, flags)
	if err != nil {
		return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInvalidInput))
	}
	if ranks < 1 || sims < 1 {
		return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: errorEnvelope{Error: "--ranks and --sims must be at least 1"}}, exitInvalidInput)
	}
	if sims > 1 && len(splitCSV(flags.multidir)) != sims {
		return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: errorEnvelope{
			Error: fmt.Sprintf("--multidir must list one directory per simulation (%d)", sims),
		}}, exitInvalidInput)
	}
	fileSets := make([]filenames.Set, sims)
	for simIndex := range fileSets {
		if fileSets[simIndex], err = settings.files(simIndex); err != nil {
			return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInvalidInput))
		}
	}

	logger := newLogger(settings.config, "handle", os.Stderr)
	shutdown := setupTracing(settings.config, logger)
	defer shutdown()
	ctx, cancel := settings.context()
	defer cancel()

	topologies, err := collective.NewLocalMultiSim(sims, ranks)
	if err != nil {
		wrapped := coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_input", "", false)
		return writeHandleOutput(flags.jsonOutput, handleOutput{OK: false, errorEnvelope: envelopeFor(wrapped)}, exitInvalidInput)
	}

	outcomes := make([]simulationOutcome, sims)
	behaviors := make([]restart.StartingBehavior, len(topologies))
	errs := collective.RunRanks(ctx, topologies, func(ctx context.Context, topology collective.Topology) error {
		options := restart.HandleOptions{
			Appending:       settings.appending,
			Files:           fileSets[topology.SimIndex],
			DoublePrecision: settings.doublePrecision,
			Platform:        settings.platform,
			Logger:          logger,
		}.WithTopology(topology)
		outcome, err := restart.Handle(ctx, options)
		if topology.IsMaster() {
			outcomes[topology.SimIndex] = finishMaster(settings, options.Role, outcome, err, logger)
		}
		if err == nil {
			behaviors[topology.SimIndex*ranks+topology.Sim.Rank()] = outcome.Behavior
		}
		return err
	})

	output := handleOutput{
		OK:          true,
		Appending:   settings.appending.String(),
		Ranks:       ranks,
		Simulations: outcomes,
	}
	if handleErr := coreerrors.Origin(errs); handleErr != nil {
		output.OK = false
		output.errorEnvelope = envelopeFor(handleErr)
		return writeHandleOutput(flags.jsonOutput, output, exitCodeForError(handleErr, exitInternalFailure))
	}
	output.StartingBehavior = behaviors[0].String()
	return writeHandleOutput(flags.jsonOutput, output, exitOK)
}

// finishMaster records the outcome of one simulation and releases its log.
// On success the log receives one line announcing how the run starts.
func finishMaster(settings runSettings, role restart.ProcessRole, outcome restart.Outcome, handleErr error, logger *slog.Logger) simulationOutcome {
	result := simulationOutcome{Simulation: role.SimIndex}
	var event journal.Event
	if settings.journalPath != "" {
		event = journal.NewEvent(role, settings.appending, outcome, handleErr, version, time.Now())
		event.CorrelationID = currentCorrelationID()
	}

	if handleErr != nil {
		result.Error = handleErr.Error()
	} else {
		result.StartingBehavior = outcome.Behavior.String()
		result.SimulationPart = outcome.Header.SimulationPart
		result.Log = outcome.Log.Name()
		result.Files = outcome.Files.Files()
		if _, err := fmt.Fprintf(outcome.Log, "simrestart %s: %s at simulation part %d\n",
			version, outcome.Behavior, nextSimulationPart(outcome)); err != nil {
			logger.Warn("write log banner failed", "log", result.Log, "error", err.Error())
		}
		if err := outcome.Log.Close(); err != nil {
			logger.Warn("close log failed", "log", result.Log, "error", err.Error())
		}
	}

	if settings.journalPath == "" {
		return result
	}
	if err := journal.Append(settings.journalPath, event); err != nil {
		logger.Warn("journal append failed", "journal", settings.journalPath, "error", err.Error())
		result.JournalError = err.Error()
	}
	return result
}

func nextSimulationPart(outcome restart.Outcome) int {
	if outcome.Behavior == restart.NewSimulation {
		return 1
	}
	return outcome.Header.SimulationPart + 1
}

func writeHandleOutput(jsonOutput bool, output handleOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("restart: %s\n", output.StartingBehavior)
		for _, simulation := range output.Simulations {
			fmt.Printf("simulation %d: %s log=%s\n", simulation.Simulation, simulation.StartingBehavior, simulation.Log)
			if simulation.JournalError != "" {
				fmt.Printf("journal error: %s\n", simulation.JournalError)
			}
		}
		return exitCode
	}
	fmt.Printf("handle error: %s\n", output.Error)
	if strings.TrimSpace(output.Hint) != "" {
		fmt.Printf("hint: %s\n", output.Hint)
	}
	return exitCode
}

func printHandleUsage() {
	fmt.Println("Usage:")
	fmt.Println("  simrestart handle [--cpi <state.cpt>] [--cpo <state.cpt>] --log <md.log> [--out <csv>] [--append|--noappend] [--double] [--ranks N] [--sims M --multidir <csv>] [--journal <path>] [--timeout <duration>] [--config <path>] [--log-format json|text] [--log-level <level>] [--json] [--explain]")
}

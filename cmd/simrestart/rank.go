package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davidahmann/simrestart/core/collective"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/restart"
)

type rankOutput struct {
	OK               bool               `json:"ok"`
	Rank             int                `json:"rank"`
	Ranks            int                `json:"ranks"`
	Simulation       int                `json:"simulation"`
	Simulations      int                `json:"simulations"`
	StartingBehavior string             `json:"starting_behavior,omitempty"`
	Master           *simulationOutcome `json:"master,omitempty"`
	errorEnvelope
}

func runRank(arguments []string) int {
	flagSet := flag.NewFlagSet("rank", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var flags runFlags
	var hubAddress string
	var rank int
	var ranks int
	var simIndex int
	var sims int
	flags.register(flagSet)
	flagSet.StringVar(&hubAddress, "hub", "", "address of the collective hub (defaults to collective.hub_address)")
	flagSet.IntVar(&rank, "rank", 0, "rank within the simulation")
	flagSet.IntVar(&ranks, "ranks", 1, "ranks per simulation")
	flagSet.IntVar(&simIndex, "sim", 0, "index of this rank's simulation")
	flagSet.IntVar(&sims, "sims", 1, "number of simulations")

	if err := flagSet.Parse(interspersed(flagSet, arguments)); err != nil {
		return writeRankOutput(flags.jsonOutput, rankOutput{OK: false, errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if flags.helpFlag {
		printRankUsage()
		return exitOK
	}
	output := rankOutput{Rank: rank, Ranks: ranks, Simulation: simIndex, Simulations: sims}
	fail := func(err error, fallbackExit int) int {
		output.OK = false
		output.errorEnvelope = envelopeFor(err)
		return writeRankOutput(flags.jsonOutput, output, exitCodeForError(err, fallbackExit))
	}

	settings, err := resolveRunSettings(flagSet, flags)
	if err != nil {
		return fail(err, exitInvalidInput)
	}
	if explicitFlags(flagSet)["hub"] {
		hubAddress = strings.TrimSpace(hubAddress)
	} else {
		hubAddress = settings.config.Collective.HubAddress
	}
	if hubAddress == "" {
		return fail(coreerrors.Newf(coreerrors.CategoryInvalidInput, "invalid_input", "start `simrestart hub` and pass its address with --hub", "collective hub address is required"), exitInvalidInput)
	}
	files, err := settings.files(simIndex)
	if err != nil {
		return fail(err, exitInvalidInput)
	}

	logger := newLogger(settings.config, "rank", os.Stderr)
	shutdown := setupTracing(settings.config, logger)
	defer shutdown()
	ctx, cancel := settings.context()
	defer cancel()

	remote, err := collective.DialHub(hubAddress)
	if err != nil {
		return fail(coreerrors.Wrap(err, coreerrors.CategoryIOFailure, restart.CodeCollectiveFailed, "check the hub address", true), exitInternalFailure)
	}
	defer func() {
		_ = remote.Close()
	}()
	topology, err := collective.TopologyFor(remote, simIndex, sims, rank, ranks)
	if err != nil {
		return fail(coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, restart.CodeInvalidRole, "", false), exitInvalidInput)
	}

	options := restart.HandleOptions{
		Appending:       settings.appending,
		Files:           files,
		DoublePrecision: settings.doublePrecision,
		Platform:        settings.platform,
		Logger:          logger,
	}.WithTopology(topology)
	outcome, handleErr := restart.Handle(ctx, options)
	if topology.IsMaster() {
		master := finishMaster(settings, options.Role, outcome, handleErr, logger)
		output.Master = &master
	}
	if handleErr != nil {
		return fail(handleErr, exitInternalFailure)
	}
	output.OK = true
	output.StartingBehavior = outcome.Behavior.String()
	return writeRankOutput(flags.jsonOutput, output, exitOK)
}

func writeRankOutput(jsonOutput bool, output rankOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if output.OK {
		fmt.Printf("rank %d of simulation %d: %s\n", output.Rank, output.Simulation, output.StartingBehavior)
		if output.Master != nil && output.Master.Log != "" {
			fmt.Printf("log: %s\n", output.Master.Log)
		}
		return exitCode
	}
	fmt.Printf("rank error: %s\n", output.Error)
	if strings.TrimSpace(output.Hint) != "" {
		fmt.Printf("hint: %s\n", output.Hint)
	}
	return exitCode
}

func printRankUsage() {
	fmt.Println("Usage:")
	fmt.Println("  simrestart rank --hub <addr> --rank R --ranks N [--sim I --sims M --multidir <csv>] [--cpi <state.cpt>] [--cpo <state.cpt>] --log <md.log> [--out <csv>] [--append|--noappend] [--double] [--journal <path>] [--timeout <duration>] [--config <path>] [--json] [--explain]")
}

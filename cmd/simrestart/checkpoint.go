package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/davidahmann/simrestart/core/checkpoint"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/filenames"
	"github.com/davidahmann/simrestart/core/restart"
)

type checkpointOutput struct {
	OK              bool               `json:"ok"`
	Operation       string             `json:"operation,omitempty"`
	Path            string             `json:"path,omitempty"`
	SimulationPart  int                `json:"simulation_part"`
	DoublePrecision bool               `json:"double_precision"`
	FileVersion     int                `json:"file_version,omitempty"`
	OutputFiles     []outputFileOutput `json:"output_files,omitempty"`
	errorEnvelope
}

type outputFileOutput struct {
	Filename     string `json:"filename"`
	Offset       int64  `json:"offset"`
	ChecksumSize int64  `json:"checksum_size"`
	Checksum     string `json:"checksum,omitempty"`
}

func runCheckpoint(arguments []string) int {
	if len(arguments) == 0 {
		printCheckpointUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "write":
		return runCheckpointWrite(arguments[1:])
	case "inspect":
		return runCheckpointInspect(arguments[1:])
	default:
		printCheckpointUsage()
		return exitInvalidInput
	}
}

func runCheckpointWrite(arguments []string) int {
	flagSet := flag.NewFlagSet("checkpoint-write", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var checkpointOut string
	var logPath string
	var outputs string
	var part int
	var doublePrecision bool
	var jsonOutput bool
	var helpFlag bool
	flagSet.StringVar(&checkpointOut, "cpo", "", "checkpoint manifest to write")
	flagSet.StringVar(&logPath, "log", "", "log file of the run")
	flagSet.StringVar(&outputs, "out", "", "comma-separated output files besides the log")
	flagSet.IntVar(&part, "part", 1, "simulation part the checkpoint belongs to")
	flagSet.BoolVar(&doublePrecision, "double", false, "the run uses double precision")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(interspersed(flagSet, arguments)); err != nil {
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printCheckpointUsage()
		return exitOK
	}
	checkpointOut = strings.TrimSpace(checkpointOut)
	logPath = strings.TrimSpace(logPath)
	if checkpointOut == "" || logPath == "" {
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: errorEnvelope{Error: "--cpo and --log are required"}}, exitInvalidInput)
	}
	if !filenames.HasLogExtension(logPath) {
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: errorEnvelope{
			Error: fmt.Sprintf("--log must name a file with extension %s", filenames.LogExtension),
		}}, exitInvalidInput)
	}
	if part < 1 {
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: errorEnvelope{Error: "--part must be at least 1"}}, exitInvalidInput)
	}

	records, err := checkpoint.RecordOutputFiles(append([]string{logPath}, splitCSV(outputs)...))
	if err != nil {
		wrapped := coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "checkpoint_write_failed", "check that every output file exists and is readable", false)
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: envelopeFor(wrapped)}, exitInternalFailure)
	}
	header := checkpoint.Header{SimulationPart: part, DoublePrecision: doublePrecision, FileVersion: checkpoint.CurrentFileVersion}
	if err := checkpoint.WriteManifest(checkpointOut, header, records); err != nil {
		wrapped := coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "checkpoint_write_failed", "", false)
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: envelopeFor(wrapped)}, exitInternalFailure)
	}
	return writeCheckpointOutput(jsonOutput, newCheckpointOutput("write", checkpointOut, header, records), exitOK)
}

func runCheckpointInspect(arguments []string) int {
	flagSet := flag.NewFlagSet("checkpoint-inspect", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var checkpointIn string
	var jsonOutput bool
	var helpFlag bool
	flagSet.StringVar(&checkpointIn, "cpi", "", "checkpoint manifest to read")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(interspersed(flagSet, arguments)); err != nil {
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if helpFlag {
		printCheckpointUsage()
		return exitOK
	}
	checkpointIn = strings.TrimSpace(checkpointIn)
	if checkpointIn == "" && len(flagSet.Args()) == 1 {
		checkpointIn = strings.TrimSpace(flagSet.Args()[0])
	}
	if checkpointIn == "" {
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, errorEnvelope: errorEnvelope{Error: "--cpi is required"}}, exitInvalidInput)
	}
	header, records, err := checkpoint.ReadManifestFile(checkpointIn)
	if err != nil {
		wrapped := coreerrors.Wrap(err, coreerrors.CategoryVerification, restart.CodeCheckpointUnreadable, "", false)
		return writeCheckpointOutput(jsonOutput, checkpointOutput{OK: false, Path: checkpointIn, errorEnvelope: envelopeFor(wrapped)}, exitVerifyFailed)
	}
	return writeCheckpointOutput(jsonOutput, newCheckpointOutput("inspect", checkpointIn, header, records), exitOK)
}

func newCheckpointOutput(operation string, path string, header checkpoint.Header, records []checkpoint.OutputFileRecord) checkpointOutput {
	output := checkpointOutput{
		OK:              true,
		Operation:       operation,
		Path:            path,
		SimulationPart:  header.SimulationPart,
		DoublePrecision: header.DoublePrecision,
		FileVersion:     header.FileVersion,
		OutputFiles:     make([]outputFileOutput, 0, len(records)),
	}
	for _, record := range records {
		file := outputFileOutput{Filename: record.Filename, Offset: record.Offset, ChecksumSize: record.ChecksumSize}
		if record.ChecksumSize != checkpoint.NoChecksum {
			file.Checksum = hex.EncodeToString(record.Checksum[:])
		}
		output.OutputFiles = append(output.OutputFiles, file)
	}
	return output
}

func writeCheckpointOutput(jsonOutput bool, output checkpointOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(output, exitCode)
	}
	if !output.OK {
		fmt.Printf("checkpoint error: %s\n", output.Error)
		return exitCode
	}
	fmt.Printf("checkpoint %s: %s\n", output.Operation, output.Path)
	fmt.Printf("simulation part: %d\n", output.SimulationPart)
	fmt.Printf("double precision: %t\n", output.DoublePrecision)
	for _, file := range output.OutputFiles {
		fmt.Printf("  %s offset=%d checksum_size=%d %s\n", file.Filename, file.Offset, file.ChecksumSize, file.Checksum)
	}
	return exitCode
}

func printCheckpointUsage() {
	fmt.Println("Usage:")
	fmt.Println("  simrestart checkpoint write --cpo <state.cpt> --log <md.log> [--out <csv>] [--part N] [--double] [--json] [--explain]")
	fmt.Println("  simrestart checkpoint inspect --cpi <state.cpt> [--json] [--explain]")
}

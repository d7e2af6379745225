package restart

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davidahmann/simrestart/core/checkpoint"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/filenames"
	"github.com/davidahmann/simrestart/core/fsx"
)

type DecideOptions struct {
	Appending AppendingBehavior
	Files     filenames.Set
	Reader    checkpoint.Reader
	// DoublePrecision is the numeric precision of this build.
	DoublePrecision bool
	// Exists and Open default to the host filesystem.
	Exists func(path string) bool
	Open   func(path string) (io.ReadCloser, error)
}

func (o DecideOptions) exists(path string) bool {
	if o.Exists != nil {
		return o.Exists(path)
	}
	return fsx.Exists(path)
}

func (o DecideOptions) open(path string) (io.ReadCloser, error) {
	if o.Open != nil {
		return o.Open(path)
	}
	// #nosec G304 -- checkpoint path is supplied by the operator.
	return os.Open(path)
}

// Decide chooses how this simulation starts. It only reads the filesystem and
// never talks to other processes.
func Decide(opts DecideOptions) (Decision, error) {
	if !opts.Files.IsSet(filenames.CheckpointInputOption) {
		return Decision{Behavior: NewSimulation}, nil
	}

	checkpointPath := opts.Files.Path(filenames.CheckpointInputOption)
	if !opts.exists(checkpointPath) {
		// A missing checkpoint means a generic launch of the first part.
		if opts.Appending == Appending {
			return Decision{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, CodeCheckpointMissing,
				"supply the name of the right checkpoint file or do not use -append",
				"could not do a restart with appending because the checkpoint file %s was not found", checkpointPath)
		}
		return Decision{Behavior: NewSimulation}, nil
	}

	header, outputFiles, err := readCheckpoint(opts, checkpointPath)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Header: header, OutputFiles: outputFiles}

	if opts.Appending != NoAppending {
		blocker := appendingBlocker(opts, checkpointPath, header, outputFiles)
		if blocker == nil {
			decision.Behavior = RestartWithAppending
			return decision, nil
		}
		if opts.Appending == Appending {
			return Decision{}, blocker
		}
	}

	if opts.Appending == Appending {
		return Decision{}, coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeAppendingLogic, "",
			"logic error in appending: requested appending resolved to a restart without appending")
	}
	decision.Behavior = RestartWithoutAppending
	return decision, nil
}

func readCheckpoint(opts DecideOptions, path string) (checkpoint.Header, []checkpoint.OutputFileRecord, error) {
	reader := opts.Reader
	if reader == nil {
		reader = checkpoint.ManifestReader{}
	}
	file, err := opts.open(path)
	if err != nil {
		return checkpoint.Header{}, nil, coreerrors.Wrap(
			fmt.Errorf("checkpoint file %s was found but could not be opened for reading: %w", path, err),
			coreerrors.CategoryIOFailure, CodeCheckpointUnreadable, "check the file permissions", false)
	}
	defer func() {
		_ = file.Close()
	}()

	header, outputFiles, err := reader.ReadHeaderAndFiles(file)
	if err != nil {
		return checkpoint.Header{}, nil, coreerrors.Wrap(
			fmt.Errorf("read checkpoint %s: %w", path, err),
			coreerrors.CategoryVerification, CodeCheckpointUnreadable, hintBrokenCheckpoint, false)
	}
	if len(outputFiles) == 0 {
		return checkpoint.Header{}, nil, coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeCheckpointInconsistent,
			hintBrokenCheckpoint, "checkpoint %s stores no output file information", path)
	}
	if !filenames.HasLogExtension(outputFiles[0].Filename) {
		return checkpoint.Header{}, nil, coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeCheckpointInconsistent,
			hintBrokenCheckpoint, "checkpoint %s is inconsistent: the first output file %q must be a log file with extension %s",
			path, outputFiles[0].Filename, filenames.LogExtension)
	}
	return header, outputFiles, nil
}

// appendingBlocker returns the first reason appending is impossible, or nil.
func appendingBlocker(opts DecideOptions, checkpointPath string, header checkpoint.Header, outputFiles []checkpoint.OutputFileRecord) error {
	present, missing := partitionOutputFiles(opts, outputFiles)
	if len(missing) > 0 {
		return missingOutputFilesError(checkpointPath, present, missing)
	}

	for _, outputFile := range outputFiles {
		if outputFile.Offset < 0 {
			return coreerrors.Newf(coreerrors.CategoryInvalidInput, CodeOutputFileTooLarge,
				"use a filesystem with large file support, or restart with -noappend once output gets large",
				"the previous run wrote %s beyond the size its filesystem could represent; it cannot be continued with appending",
				outputFile.Filename)
		}
	}

	if header.FileVersion >= checkpoint.CurrentFileVersion && header.DoublePrecision != opts.DoublePrecision {
		return coreerrors.Newf(coreerrors.CategoryInvalidInput, CodePrecisionMismatch,
			"use a build with matching precision or restart with -noappend",
			"cannot restart with appending because the previous simulation part used %s precision which does not match the %s precision of this build",
			precisionName(header.DoublePrecision), precisionName(opts.DoublePrecision))
	}

	if filenames.HasPartSuffix(outputFiles[0].Filename) {
		return coreerrors.Newf(coreerrors.CategoryInvalidInput, CodePreviousPartNotAppended,
			"do not use -append, or provide the correct checkpoint file",
			"cannot restart with appending because the previous simulation part %s did not use appending",
			outputFiles[0].Filename)
	}
	return nil
}

// partitionOutputFiles splits checkpointed outputs by whether they are named
// as outputs of this run and exist on disk. Content is checked later.
func partitionOutputFiles(opts DecideOptions, outputFiles []checkpoint.OutputFileRecord) (present []string, missing []string) {
	for _, outputFile := range outputFiles {
		if opts.Files.IsDeclaredOutput(outputFile.Filename) && opts.exists(outputFile.Filename) {
			present = append(present, outputFile.Filename)
			continue
		}
		missing = append(missing, outputFile.Filename)
	}
	return present, missing
}

// MissingOutputFilesError carries the file lists of an appending restart that
// found outputs absent or renamed.
type MissingOutputFilesError struct {
	Checkpoint string
	Present    []string
	Missing    []string
}

func (e *MissingOutputFilesError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "some output files listed in the checkpoint file %s are not present or not named as the output files of the current run:\n", e.Checkpoint)
	builder.WriteString("expected output files that are present:\n")
	for _, name := range e.Present {
		fmt.Fprintf(&builder, "  %s\n", name)
	}
	builder.WriteString("expected output files that are not present or named differently:\n")
	for _, name := range e.Missing {
		fmt.Fprintf(&builder, "  %s\n", name)
	}
	return strings.TrimSuffix(builder.String(), "\n")
}

func missingOutputFilesError(checkpointPath string, present []string, missing []string) error {
	return coreerrors.Wrap(&MissingOutputFilesError{Checkpoint: checkpointPath, Present: present, Missing: missing},
		coreerrors.CategoryVerification, CodeOutputFilesMissing,
		"name output files exactly as the previous part, run from the directory holding them, or restart with -noappend",
		false)
}

func precisionName(double bool) string {
	if double {
		return "double"
	}
	return "mixed"
}

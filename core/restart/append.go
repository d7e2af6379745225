package restart

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/davidahmann/simrestart/core/checkpoint"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/fsx"
)

// PrepareForAppending locks and positions the open log, then checks every
// other output file and truncates it to its checkpointed length. The log must
// be records[0]. A file is truncated only after it validated, so an error on
// record k leaves records before k truncated and the rest untouched. Without
// file checks the log is only moved to its end.
func PrepareForAppending(records []checkpoint.OutputFileRecord, log *LogFile, platform fsx.Capabilities) error {
	if !platform.CheckFiles {
		return seekLogEnd(log)
	}
	if len(records) == 0 {
		return coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeCheckpointInconsistent, hintBrokenCheckpoint,
			"no output file records to append to")
	}
	if log == nil || log.file == nil {
		return coreerrors.Newf(coreerrors.CategoryInternalFailure, CodeLogOpenFailed, "",
			"log file must be open before preparing to append")
	}

	logRecord := records[0]
	if err := lockLogFile(log, logRecord.Filename); err != nil {
		return err
	}
	if err := ValidateOutputFile(log.file, logRecord); err != nil {
		return err
	}
	if _, err := log.file.Seek(logRecord.Offset, io.SeekStart); err != nil {
		return coreerrors.Wrap(fmt.Errorf("seek log file %s to %d: %w", logRecord.Filename, logRecord.Offset, err),
			coreerrors.CategoryIOFailure, CodeSeekFailed, "", false)
	}

	for _, record := range records[1:] {
		if err := validateOnDisk(record); err != nil {
			return err
		}
		if !platform.TruncateFiles {
			continue
		}
		if err := fsx.Truncate(record.Filename, record.Offset); err != nil {
			return coreerrors.Wrap(fmt.Errorf("truncation of %s failed; cannot do appending: %w", record.Filename, err),
				coreerrors.CategoryIOFailure, CodeTruncateFailed, "", false)
		}
	}
	return nil
}

func seekLogEnd(log *LogFile) error {
	if log == nil || log.file == nil {
		return nil
	}
	if _, err := log.file.Seek(0, io.SeekEnd); err != nil {
		return coreerrors.Wrap(fmt.Errorf("seek log file %s to its end: %w", log.file.Name(), err),
			coreerrors.CategoryIOFailure, CodeSeekFailed, "", false)
	}
	return nil
}

func lockLogFile(log *LogFile, name string) error {
	err := fsx.LockExclusive(log.file)
	switch {
	case err == nil:
		log.locked = true
		return nil
	case errors.Is(err, fsx.ErrLockUnsupported):
		return coreerrors.Wrap(fmt.Errorf("file locking is not supported on this system: %w", err),
			coreerrors.CategoryIOFailure, CodeLockUnsupported, hintUseNoAppend, false)
	case errors.Is(err, fsx.ErrLockHeld):
		return coreerrors.Wrap(fmt.Errorf("failed to lock %s; already running simulation?: %w", name, err),
			coreerrors.CategoryStateContention, CodeLockHeld,
			"stop the other process writing this log, or run from another directory", true)
	default:
		return coreerrors.Wrap(fmt.Errorf("failed to lock %s: %w", name, err),
			coreerrors.CategoryIOFailure, CodeLockFailed, "", false)
	}
}

func validateOnDisk(record checkpoint.OutputFileRecord) error {
	// #nosec G304 -- record names were matched against the run's declared outputs.
	file, err := os.OpenFile(record.Filename, os.O_RDWR, 0)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("open output file %s: %w", record.Filename, err),
			coreerrors.CategoryIOFailure, CodeOutputFileOpenFailed, "", false)
	}
	validateErr := ValidateOutputFile(file, record)
	closeErr := file.Close()
	if validateErr != nil {
		return validateErr
	}
	if closeErr != nil {
		return coreerrors.Wrap(fmt.Errorf("close output file %s: %w", record.Filename, closeErr),
			coreerrors.CategoryIOFailure, CodeOutputFileOpenFailed, "", false)
	}
	return nil
}

// openLogFile opens the log for continuation without moving its end, or
// creates it empty for a fresh part.
func openLogFile(path string, appending bool) (*LogFile, error) {
	if path == "" {
		return nil, coreerrors.Newf(coreerrors.CategoryInvalidInput, CodeLogOpenFailed,
			"declare a log file with -g", "no log file is declared for this run")
	}
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if appending {
		flags = os.O_RDWR
	}
	// #nosec G304 -- log path is declared by the run.
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("open log file %s: %w", path, err),
			coreerrors.CategoryIOFailure, CodeLogOpenFailed, "", false)
	}
	return &LogFile{file: file}, nil
}

package restart

import (
	"errors"

	coreerrors "github.com/davidahmann/simrestart/core/errors"
)

const (
	CodeCheckpointMissing       = "restart_checkpoint_missing"
	CodeCheckpointUnreadable    = "restart_checkpoint_unreadable"
	CodeCheckpointInconsistent  = "restart_checkpoint_inconsistent"
	CodeOutputFilesMissing      = "restart_output_files_missing"
	CodeOutputFileTooLarge      = "restart_output_file_too_large"
	CodePrecisionMismatch       = "restart_precision_mismatch"
	CodePreviousPartNotAppended = "restart_previous_part_not_appended"
	CodeAppendingLogic          = "restart_appending_logic"
	CodeChecksumShortRead       = "restart_checksum_short_read"
	CodeChecksumMismatch        = "restart_checksum_mismatch"
	CodeLockUnsupported         = "restart_lock_unsupported"
	CodeLockHeld                = "restart_lock_held"
	CodeLockFailed              = "restart_lock_failed"
	CodeSeekFailed              = "restart_seek_failed"
	CodeOutputFileOpenFailed    = "restart_output_file_open_failed"
	CodeTruncateFailed          = "restart_truncate_failed"
	CodeLogOpenFailed           = "restart_log_open_failed"
	CodeSimulationPartMismatch  = "restart_simulation_part_mismatch"
	CodeInvalidRole             = "restart_invalid_role"
	CodeCollectiveFailed        = "restart_collective_failed"
	CodePeerFailed              = "restart_peer_failed"
)

const (
	hintUseNoAppend      = "restart with -noappend to write new numbered output files"
	hintBrokenCheckpoint = "the checkpoint file or its reader is broken; regenerate the checkpoint"
)

// ErrPeerFailed is returned on every rank that did not itself detect the error
// that aborted the protocol.
var ErrPeerFailed = errors.New("another rank encountered an error")

func peerFailure() error {
	return coreerrors.Echo(ErrPeerFailed, CodePeerFailed,
		"inspect the log of the rank that reported the original error")
}

package restart

import (
	"fmt"
	"io"

	"github.com/davidahmann/simrestart/core/checkpoint"
	coreerrors "github.com/davidahmann/simrestart/core/errors"
	"github.com/davidahmann/simrestart/core/fsx"
)

const hintFileModified = "the file has been replaced or modified since the checkpoint; restart with -noappend"

// ValidateOutputFile checks that file still holds the content fingerprinted in
// record. Records without a checksum pass without reading file.
func ValidateOutputFile(file io.ReaderAt, record checkpoint.OutputFileRecord) error {
	if record.ChecksumSize == checkpoint.NoChecksum {
		return nil
	}
	if file == nil {
		return shortReadError(record, fmt.Errorf("no open handle"))
	}

	digest, read, err := fsx.DigestBefore(file, record.Offset)
	if err != nil {
		return shortReadError(record, err)
	}
	if read != record.ChecksumSize {
		return shortReadError(record, nil)
	}
	if digest != record.Checksum {
		return coreerrors.Newf(coreerrors.CategoryVerification, CodeChecksumMismatch, hintFileModified,
			"checksum wrong for %s; cannot do appending", record.Filename)
	}
	return nil
}

func shortReadError(record checkpoint.OutputFileRecord, cause error) error {
	message := fmt.Sprintf("can't read %d bytes of %s to compute checksum; cannot do appending", record.ChecksumSize, record.Filename)
	if cause != nil {
		return coreerrors.Wrap(fmt.Errorf("%s: %w", message, cause),
			coreerrors.CategoryVerification, CodeChecksumShortRead, hintFileModified, false)
	}
	return coreerrors.Newf(coreerrors.CategoryVerification, CodeChecksumShortRead, hintFileModified, "%s", message)
}

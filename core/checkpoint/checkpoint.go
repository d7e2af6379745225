// Package checkpoint describes what a checkpoint remembers about the output
// files of a run, and reads and writes the JSON manifest that carries it.
//
// A manifest is a snapshot taken when the checkpoint was written: for every
// output file it stores the byte position reached so far and an MD5 of the
// bytes just before that position, so a later run can prove the file still
// holds exactly what the checkpointed run wrote.
package checkpoint

import (
	"io"

	"github.com/davidahmann/simrestart/core/fsx"
)

// CurrentFileVersion is the manifest file version written by this build.
// From version 13 on the precision flag is reliable.
const CurrentFileVersion = 13

// Header is the checkpoint metadata needed to choose how a run starts.
type Header struct {
	// SimulationPart counts how many times the run has been continued.
	SimulationPart  int
	DoublePrecision bool
	FileVersion     int
}

// OutputFileRecord is the checkpointed position of one output file.
type OutputFileRecord struct {
	Filename string
	// Offset is negative when the writer could not represent the file size.
	Offset int64
	// ChecksumSize is the number of bytes covered by Checksum, or -1 when no
	// checksum is expected.
	ChecksumSize int64
	Checksum     fsx.Digest
}

// NoChecksum marks a record whose content is not fingerprinted.
const NoChecksum int64 = -1

// Reader extracts the header and output file records from an open checkpoint.
// Readers do not enforce that the first record is the log file.
type Reader interface {
	ReadHeaderAndFiles(r io.Reader) (Header, []OutputFileRecord, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(r io.Reader) (Header, []OutputFileRecord, error)

func (f ReaderFunc) ReadHeaderAndFiles(r io.Reader) (Header, []OutputFileRecord, error) {
	return f(r)
}

package fsx

import (
	"crypto/md5" // #nosec G501 -- content fingerprint recorded by checkpoints, not a security boundary.
	"fmt"
	"io"
)

// ChecksumWindow caps how many bytes before a recorded offset are fingerprinted.
const ChecksumWindow int64 = 1 << 20

type Digest [md5.Size]byte

// ChecksumSpan returns the window [start, offset) fingerprinted for a file
// position, which is the whole prefix for positions up to ChecksumWindow.
func ChecksumSpan(offset int64) (start int64, length int64) {
	if offset <= ChecksumWindow {
		return 0, offset
	}
	return offset - ChecksumWindow, ChecksumWindow
}

// DigestBefore hashes the checksum window that ends at offset and reports how
// many bytes were actually read. A file shorter than offset yields fewer bytes
// than the window length rather than an error.
func DigestBefore(file io.ReaderAt, offset int64) (Digest, int64, error) {
	if offset < 0 {
		return Digest{}, 0, fmt.Errorf("digest: negative offset %d", offset)
	}
	start, length := ChecksumSpan(offset)
	hash := md5.New() // #nosec G401 -- see import note.
	read, err := io.Copy(hash, io.NewSectionReader(file, start, length))
	if err != nil {
		return Digest{}, read, fmt.Errorf("digest: %w", err)
	}
	var digest Digest
	copy(digest[:], hash.Sum(nil))
	return digest, read, nil
}

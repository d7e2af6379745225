package checkpoint

import (
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/simrestart/core/fsx"
)

// maxConcurrentFingerprints bounds how many output files are read at once.
const maxConcurrentFingerprints = 4

// RecordOutputFiles captures the current position and fingerprint of each
// output file, in the order given. The log file must come first.
func RecordOutputFiles(paths []string) ([]OutputFileRecord, error) {
	records := make([]OutputFileRecord, len(paths))
	var group errgroup.Group
	group.SetLimit(maxConcurrentFingerprints)
	for index, path := range paths {
		group.Go(func() error {
			record, err := recordOutputFile(path)
			if err != nil {
				return err
			}
			records[index] = record
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func recordOutputFile(path string) (OutputFileRecord, error) {
	// #nosec G304 -- output paths are declared by the run being checkpointed.
	file, err := os.Open(path)
	if err != nil {
		return OutputFileRecord{}, fmt.Errorf("open output file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	info, err := file.Stat()
	if err != nil {
		return OutputFileRecord{}, fmt.Errorf("stat output file: %w", err)
	}
	digest, read, err := fsx.DigestBefore(file, info.Size())
	if err != nil {
		return OutputFileRecord{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return OutputFileRecord{
		Filename:     path,
		Offset:       info.Size(),
		ChecksumSize: read,
		Checksum:     digest,
	}, nil
}

// WriteManifest atomically writes a manifest for header and records to path.
func WriteManifest(path string, header Header, records []OutputFileRecord) error {
	payload, err := EncodeManifest(header, records)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(path, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint manifest: %w", err)
	}
	return nil
}

// ReadManifestFile reads the manifest stored at path.
func ReadManifestFile(path string) (Header, []OutputFileRecord, error) {
	// #nosec G304 -- checkpoint path is explicit user input.
	file, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open checkpoint manifest: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return ManifestReader{}.ReadHeaderAndFiles(file)
}

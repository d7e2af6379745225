package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Capabilities describes what the host can do to existing output files.
type Capabilities struct {
	// CheckFiles is false on hosts where output files must be continued unchecked.
	CheckFiles bool
	// TruncateFiles is false where truncation of files that may be open elsewhere is unsafe.
	TruncateFiles bool
}

func HostCapabilities() Capabilities {
	return Capabilities{
		CheckFiles:    true,
		TruncateFiles: runtime.GOOS != "windows",
	}
}

// Exists reports whether path names an existing filesystem entry.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Truncate shortens or extends the named file to size bytes.
func Truncate(path string, size int64) error {
	if size < 0 {
		return fmt.Errorf("truncate %s: negative size %d", path, size)
	}
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic replaces path with content through a synced temporary sibling.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	tempPath, err := writeTemp(parent, filepath.Base(path), content, mode)
	if err != nil {
		return err
	}
	if err := replaceFile(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	syncDirectory(parent)
	return nil
}

func writeTemp(dir string, base string, content []byte, mode os.FileMode) (string, error) {
	tempFile, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	fail := func(step string, cause error) (string, error) {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("%s temp file: %w", step, cause)
	}
	if _, err := tempFile.Write(content); err != nil {
		return fail("write", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fail("chmod", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tempPath, nil
}

func replaceFile(from string, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	if runtime.GOOS != "windows" {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if removeErr := os.Remove(to); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove destination before rename: %w", removeErr)
	}
	if renameErr := os.Rename(from, to); renameErr != nil {
		return fmt.Errorf("rename temp file after remove: %w", renameErr)
	}
	return nil
}

func syncDirectory(path string) {
	// #nosec G304 -- directory is the parent of a caller-provided destination.
	if dirHandle, err := os.Open(path); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
}

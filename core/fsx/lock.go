package fsx

import (
	"errors"
	"fmt"
	"os"
)

var (
	ErrLockUnsupported = errors.New("file locking is not supported on this system")
	ErrLockHeld        = errors.New("file is locked by another process")
)

// LockExclusive takes a non-blocking, advisory, exclusive write lock over the
// whole of file. The lock lives until Unlock or until the handle is closed.
//
// Some filesystems report success while still letting a second process lock
// the same file, so the lock is not a proof of exclusivity.
func LockExclusive(file *os.File) error {
	if file == nil {
		return fmt.Errorf("lock: nil file handle")
	}
	if err := lockExclusive(file); err != nil {
		return fmt.Errorf("lock %s: %w", file.Name(), err)
	}
	return nil
}

func Unlock(file *os.File) error {
	if file == nil {
		return nil
	}
	if err := unlock(file); err != nil {
		return fmt.Errorf("unlock %s: %w", file.Name(), err)
	}
	return nil
}

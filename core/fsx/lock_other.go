//go:build !unix && !windows

package fsx

import "os"

func lockExclusive(*os.File) error {
	return ErrLockUnsupported
}

func unlock(*os.File) error {
	return nil
}

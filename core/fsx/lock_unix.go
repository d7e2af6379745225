//go:build unix

package fsx

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func lockExclusive(file *os.File) error {
	return classifyLockError(setLock(file, unix.F_WRLCK))
}

func unlock(file *os.File) error {
	return setLock(file, unix.F_UNLCK)
}

func setLock(file *os.File, lockType int16) error {
	lock := unix.Flock_t{
		Type:   lockType,
		Whence: io.SeekStart,
	}
	err := unix.FcntlFlock(file.Fd(), setLockCommand, &lock)
	if err == unix.EINVAL && setLockCommand != unix.F_SETLK {
		// Kernel without open file description locks.
		lock = unix.Flock_t{Type: lockType, Whence: io.SeekStart}
		err = unix.FcntlFlock(file.Fd(), unix.F_SETLK, &lock)
	}
	return err
}

func classifyLockError(err error) error {
	switch err {
	case nil:
		return nil
	case unix.ENOSYS:
		return ErrLockUnsupported
	case unix.EACCES, unix.EAGAIN:
		return ErrLockHeld
	default:
		return err
	}
}

//go:build unix && !linux

package fsx

import "golang.org/x/sys/unix"

const setLockCommand = unix.F_SETLK

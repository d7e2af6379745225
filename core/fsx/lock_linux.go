//go:build linux

package fsx

import "golang.org/x/sys/unix"

// Open file description locks conflict between handles of the same process too.
const setLockCommand = unix.F_OFD_SETLK

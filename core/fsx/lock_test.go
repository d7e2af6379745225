//go:build linux

package fsx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLockExclusiveConflictsAcrossHandles(t *testing.T) {
	target := filepath.Join(t.TempDir(), "md.log")
	if err := os.WriteFile(target, []byte("log\n"), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	first, err := os.OpenFile(target, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open first handle: %v", err)
	}
	defer func() { _ = first.Close() }()
	second, err := os.OpenFile(target, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	defer func() { _ = second.Close() }()

	if err := LockExclusive(first); err != nil {
		t.Fatalf("lock first handle: %v", err)
	}
	err = LockExclusive(second)
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := Unlock(first); err != nil {
		t.Fatalf("unlock first handle: %v", err)
	}
	if err := LockExclusive(second); err != nil {
		t.Fatalf("lock second handle after release: %v", err)
	}
}

func TestLockExclusiveReleasedOnClose(t *testing.T) {
	target := filepath.Join(t.TempDir(), "md.log")
	if err := os.WriteFile(target, nil, 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	first, err := os.OpenFile(target, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open first handle: %v", err)
	}
	if err := LockExclusive(first); err != nil {
		t.Fatalf("lock first handle: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first handle: %v", err)
	}
	second, err := os.OpenFile(target, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	defer func() { _ = second.Close() }()
	if err := LockExclusive(second); err != nil {
		t.Fatalf("expected lock after close, got %v", err)
	}
}

func TestLockExclusiveNilHandle(t *testing.T) {
	if err := LockExclusive(nil); err == nil {
		t.Fatalf("expected nil handle to fail")
	}
	if err := Unlock(nil); err != nil {
		t.Fatalf("unlock nil handle: %v", err)
	}
}

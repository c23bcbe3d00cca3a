package backupfs

import (
	"strings"
	"testing"
)

func TestAcquireBackupLock_BlocksConcurrentAcquire(t *testing.T) {
	backupDir := t.TempDir()

	lock, err := AcquireBackupLock(backupDir)
	if err != nil {
		t.Fatalf("acquire first lock: %v", err)
	}
	defer func() {
		_ = lock.Release()
	}()

	_, err = AcquireBackupLock(backupDir)
	if err == nil {
		t.Fatalf("expected second acquire to fail")
	}
	if !strings.Contains(err.Error(), "locked by another archiver run") {
		t.Fatalf("lock conflict error should name the conflict, got: %v", err)
	}
	if !strings.Contains(err.Error(), "pid=") {
		t.Fatalf("lock conflict error should name the owner, got: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}

	lock2, err := AcquireBackupLock(backupDir)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := lock2.Release(); err != nil {
		t.Fatalf("release second lock: %v", err)
	}
}

func TestAcquireBackupLock_CreatesMissingBackupDir(t *testing.T) {
	backupDir := t.TempDir() + "/new_backup"

	lock, err := AcquireBackupLock(backupDir)
	if err != nil {
		t.Fatalf("acquire lock on missing dir: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release lock: %v", err)
	}
}

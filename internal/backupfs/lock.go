package backupfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	backupLockDirName   = ".archive.lock"
	backupLockOwnerFile = "owner.json"
)

// BackupLock guards a backup directory against concurrent archiver
// invocations. Exactly one writer per backup is assumed; a second acquire
// fails fast instead of queueing.
type BackupLock struct {
	lockDir string
}

type backupLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireBackupLock(backupDir string) (BackupLock, error) {
	target := strings.TrimSpace(backupDir)
	if target == "" {
		return BackupLock{}, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return BackupLock{}, fmt.Errorf("create backup directory %s: %w", target, err)
	}

	lockDir := filepath.Join(target, backupLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, backupLockOwnerFile)
			var owner backupLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return BackupLock{}, fmt.Errorf(
					"backup is locked by another archiver run: %s (pid=%d created_at=%s host=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return BackupLock{}, fmt.Errorf("backup is locked by another archiver run: %s", target)
		}
		return BackupLock{}, fmt.Errorf("acquire backup lock for %s: %w", target, err)
	}

	owner := backupLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, backupLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return BackupLock{}, fmt.Errorf("write backup lock owner for %s: %w", target, err)
	}

	return BackupLock{lockDir: lockDir}, nil
}

func (l BackupLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, backupLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release backup lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}

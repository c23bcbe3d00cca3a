package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"thread-archiver/internal/backup"
	"thread-archiver/internal/ledger"
)

func checkByName(res DoctorResult, name string) (DoctorCheck, bool) {
	for _, c := range res.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return DoctorCheck{}, false
}

func TestDoctorHealthyWorkspace(t *testing.T) {
	root := t.TempDir()
	seedThread(t, root, "https://forum.example.com/threads/fine.1", 2, 2, nil, ledger.StatusComplete)

	res, err := Doctor(DoctorOptions{
		OutputRoot: root,
		ConfigPath: filepath.Join(t.TempDir(), "config", "archiver.json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("expected all checks to pass: %+v", res.Checks)
	}
	if c, ok := checkByName(res, "backup:https://forum.example.com/threads/fine.1"); !ok || !c.OK {
		t.Fatalf("expected passing backup check, got %+v", c)
	}
}

func TestDoctorFlagsMissingPageFile(t *testing.T) {
	root := t.TempDir()
	dir := seedThread(t, root, "https://forum.example.com/threads/holey.2", 3, 3, nil, ledger.StatusComplete)
	if err := os.Remove(backup.PagePath(dir, 2)); err != nil {
		t.Fatal(err)
	}

	res, err := Doctor(DoctorOptions{
		OutputRoot: root,
		ConfigPath: filepath.Join(root, "config", "archiver.json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected doctor to fail on a missing page file")
	}
	c, ok := checkByName(res, "backup:https://forum.example.com/threads/holey.2")
	if !ok || c.OK {
		t.Fatalf("expected failing backup check, got %+v", c)
	}
}

func TestDoctorCorruptLedger(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(ledger.PathIn(root), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Doctor(DoctorOptions{
		OutputRoot: root,
		ConfigPath: filepath.Join(root, "config", "archiver.json"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected doctor to fail on a corrupt ledger")
	}
	c, ok := checkByName(res, "ledger:parse")
	if !ok || c.OK {
		t.Fatalf("expected failing ledger check, got %+v", c)
	}
}

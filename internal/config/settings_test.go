package config

import (
	"path/filepath"
	"testing"
)

func TestRead_MissingFileYieldsDefaults(t *testing.T) {
	s, err := Read(filepath.Join(t.TempDir(), "archiver.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if s.Workers != DefaultWorkers {
		t.Fatalf("workers default: got %d want %d", s.Workers, DefaultWorkers)
	}
	if s.OutputRoot != DefaultOutputRoot {
		t.Fatalf("output root default: got %q want %q", s.OutputRoot, DefaultOutputRoot)
	}
	if s.FetchDelayMS != DefaultFetchDelayMS {
		t.Fatalf("fetch delay default: got %d want %d", s.FetchDelayMS, DefaultFetchDelayMS)
	}
	if s.UserAgent == "" {
		t.Fatalf("user agent default missing")
	}
}

func TestEnsure_CreatesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archiver.json")

	_, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatalf("first ensure should create")
	}

	_, created, err = Ensure(path)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created {
		t.Fatalf("second ensure should not create")
	}
}

func TestUpdate_NormalizesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archiver.json")

	res, err := Update(UpdateOptions{ConfigPath: path, Settings: Settings{
		OutputRoot: "  backups  ",
		Workers:    0,
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Settings.OutputRoot != "backups" {
		t.Fatalf("output root: got %q", res.Settings.OutputRoot)
	}
	if res.Settings.Workers != DefaultWorkers {
		t.Fatalf("zero workers should take the default, got %d", res.Settings.Workers)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.OutputRoot != "backups" {
		t.Fatalf("persisted output root: got %q", got.OutputRoot)
	}

	if _, err := Update(UpdateOptions{ConfigPath: path, Settings: Settings{Workers: 999}}); err == nil {
		t.Fatalf("expected workers bound error")
	}
}

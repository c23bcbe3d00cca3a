package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"thread-archiver/internal/backup"
	"thread-archiver/internal/backupfs"
	"thread-archiver/internal/ledger"
)

type DoctorOptions struct {
	OutputRoot string
	ConfigPath string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Doctor runs the preflight checks: both working directories must be
// writable, the ledger must parse, and every tracked backup is probed for
// the files its ledger record claims exist.
func Doctor(opts DoctorOptions) (DoctorResult, error) {
	outputRoot := strings.TrimSpace(opts.OutputRoot)
	checks := make([]DoctorCheck, 0, 4)

	outOK, outMessage := ensureWritableDir(outputRoot)
	checks = append(checks, DoctorCheck{
		Name:    "directory:output",
		OK:      outOK,
		Message: outMessage,
	})

	cfgDir := filepath.Dir(strings.TrimSpace(opts.ConfigPath))
	cfgOK, cfgMessage := ensureWritableDir(cfgDir)
	checks = append(checks, DoctorCheck{
		Name:    "directory:config",
		OK:      cfgOK,
		Message: cfgMessage,
	})

	store, err := ledger.Load(ledger.PathIn(outputRoot))
	if err != nil {
		checks = append(checks, DoctorCheck{
			Name:    "ledger:parse",
			OK:      false,
			Message: err.Error(),
		})
		return DoctorResult{OK: false, Checks: checks}, nil
	}
	checks = append(checks, DoctorCheck{
		Name:    "ledger:parse",
		OK:      true,
		Message: fmt.Sprintf("%d thread(s) tracked in %s", len(store.Threads()), store.Path()),
	})

	for _, rec := range store.Threads() {
		checks = append(checks, backupIntegrityCheck(rec))
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}, nil
}

func backupIntegrityCheck(rec ledger.ThreadRecord) DoctorCheck {
	check := DoctorCheck{Name: "backup:" + rec.URL}

	info, err := os.Stat(rec.BackupPath)
	if err != nil || !info.IsDir() {
		check.Message = "backup directory missing: " + rec.BackupPath
		return check
	}

	var problems []string
	var missingPages []int
	for page := range rec.Pages {
		if !rec.IsPageComplete(page) {
			continue
		}
		if _, err := os.Stat(backup.PagePath(rec.BackupPath, page)); err != nil {
			missingPages = append(missingPages, page)
		}
	}
	if len(missingPages) > 0 {
		problems = append(problems, fmt.Sprintf("%d complete page(s) missing on disk (self-heals on next archive run)", len(missingPages)))
	}
	if _, err := backup.ReadMetadata(rec.BackupPath); err != nil {
		problems = append(problems, "no readable "+backup.MetadataFileName)
	}
	if fi, err := os.Stat(backup.AssetsDir(rec.BackupPath)); err != nil || !fi.IsDir() {
		problems = append(problems, "no "+backup.AssetsDirName+" directory")
	}

	if len(problems) > 0 {
		check.Message = strings.Join(problems, "; ")
		return check
	}
	check.OK = true
	check.Message = fmt.Sprintf("%d/%d pages on disk", rec.CompletedCount(), rec.TotalPages)
	return check
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := backupfs.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "thread-archiver-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}

package catalog

import (
	"os"
	"sort"
	"strings"

	"thread-archiver/internal/backup"
	"thread-archiver/internal/ledger"
)

type StatusOptions struct {
	OutputRoot string
	URL        string // empty = every tracked thread
}

type StatusResult struct {
	LedgerPath string       `json:"ledger_path"`
	Rows       []StatusItem `json:"threads"`
	Totals     StatusTotals `json:"totals"`
}

type StatusItem struct {
	URL            string `json:"url"`
	FriendlyName   string `json:"friendly_name,omitempty"`
	BackupPath     string `json:"backup_path"`
	State          string `json:"state"`
	Status         string `json:"status"`
	FormatVersion  int    `json:"format_version,omitempty"`
	TotalPages     int    `json:"total_pages"`
	CompletedPages int    `json:"completed_pages"`
	FailedAssets   int    `json:"failed_asset_count"`
	MissingOnDisk  bool   `json:"missing_on_disk,omitempty"`
	SizeBytes      int64  `json:"size_bytes,omitempty"`
	LastRun        string `json:"last_run,omitempty"`
}

type StatusTotals struct {
	Threads      int `json:"threads"`
	Complete     int `json:"complete"`
	InProgress   int `json:"in_progress"`
	Failed       int `json:"failed"`
	Attention    int `json:"attention"`
	FailedAssets int `json:"failed_asset_count"`
	TotalPages   int `json:"total_pages"`
	DonePages    int `json:"completed_pages"`
}

// Status builds the per-thread rollup the list and status commands print. It
// joins the ledger records with each backup's metadata; a backup directory
// that is gone is reported, never dropped.
func Status(opts StatusOptions) (StatusResult, error) {
	store, err := ledger.Load(ledger.PathIn(opts.OutputRoot))
	if err != nil {
		return StatusResult{}, err
	}

	var records []ledger.ThreadRecord
	if strings.TrimSpace(opts.URL) != "" {
		identity := backup.CanonicalURL(opts.URL)
		if rec, ok := store.Get(identity); ok {
			records = append(records, rec)
		}
	} else {
		records = store.Threads()
	}

	result := StatusResult{LedgerPath: store.Path()}
	for _, rec := range records {
		row := buildStatusRow(rec)
		result.Rows = append(result.Rows, row)

		result.Totals.Threads++
		result.Totals.FailedAssets += row.FailedAssets
		result.Totals.TotalPages += row.TotalPages
		result.Totals.DonePages += row.CompletedPages
		switch rec.Status {
		case ledger.StatusComplete:
			result.Totals.Complete++
		case ledger.StatusFailed:
			result.Totals.Failed++
		default:
			result.Totals.InProgress++
		}
		if row.State != "healthy" {
			result.Totals.Attention++
		}
	}

	sort.Slice(result.Rows, func(i, j int) bool {
		return result.Rows[i].URL < result.Rows[j].URL
	})
	return result, nil
}

func buildStatusRow(rec ledger.ThreadRecord) StatusItem {
	row := StatusItem{
		URL:            rec.URL,
		BackupPath:     rec.BackupPath,
		Status:         rec.Status,
		TotalPages:     rec.TotalPages,
		CompletedPages: rec.CompletedCount(),
		FailedAssets:   len(rec.FailedAssets),
		LastRun:        rec.LastRun,
	}

	if info, err := os.Stat(rec.BackupPath); err != nil || !info.IsDir() {
		row.MissingOnDisk = true
	} else {
		if meta, err := backup.ReadMetadata(rec.BackupPath); err == nil {
			row.FriendlyName = meta.FriendlyName
			row.FormatVersion = meta.Version
		}
		row.SizeBytes = DirSize(rec.BackupPath)
	}

	row.State = summarizeState(rec, row)
	return row
}

// summarizeState collapses a row to one operator-facing word, worst
// condition first.
func summarizeState(rec ledger.ThreadRecord, row StatusItem) string {
	switch {
	case row.MissingOnDisk:
		return "missing_backup"
	case rec.Status == ledger.StatusFailed:
		return "failed"
	case row.FailedAssets > 0:
		return "needs_retry"
	case rec.TotalPages > 0 && row.CompletedPages < rec.TotalPages:
		return "incomplete"
	default:
		return "healthy"
	}
}

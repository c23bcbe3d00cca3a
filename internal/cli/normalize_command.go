package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"thread-archiver/internal/normalize"
)

func runNormalize(args []string) error {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report what would change without touching any file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir := strings.TrimSpace(fs.Arg(0))
	if dir == "" {
		fs.Usage()
		return errors.New("backup directory is required")
	}

	report, err := normalize.Run(dir, *dryRun)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(report)
	}

	if *dryRun {
		fmt.Println("normalize (dry run)")
	} else {
		fmt.Println("normalize")
	}
	fmt.Printf("backup_dir: %s\n", report.BackupDir)
	fmt.Printf("renamed: %d\n", len(report.Renamed))
	for _, old := range sortedRenameKeys(report.Renamed) {
		fmt.Printf("  %s -> %s\n", old, report.Renamed[old])
	}
	fmt.Printf("rewritten_pages: %d\n", len(report.RewrittenPages))
	fmt.Printf("gallery_links_fixed: %d\n", report.GalleryLinks)
	fmt.Printf("metadata_created: %t\n", report.MetadataCreated)
	if report.IdentityMissing {
		fmt.Println("warning: no thread URL could be recovered; edit thread_info.json to set it")
	}
	if !report.Changed() {
		fmt.Println("nothing to do: backup is already normalized")
	}
	return nil
}

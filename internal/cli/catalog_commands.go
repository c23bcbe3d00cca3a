package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"thread-archiver/internal/catalog"
	"thread-archiver/internal/config"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	output := fs.String("output", "", "output root directory (default: settings output_root)")
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	outputRoot, err := resolveOutputRoot(*output, *configPath)
	if err != nil {
		return err
	}
	res, err := catalog.Status(catalog.StatusOptions{OutputRoot: outputRoot})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	if len(res.Rows) == 0 {
		fmt.Println("no threads tracked")
		fmt.Println("next: thread-archiver archive <thread-url>")
		return nil
	}
	for _, row := range res.Rows {
		name := row.FriendlyName
		if name == "" {
			name = "(no metadata)"
		}
		fmt.Printf("- %s | %s\n", name, row.URL)
		fmt.Printf("  pages: %d/%d | failed_assets: %d | status: %s | %s\n",
			row.CompletedPages, row.TotalPages, row.FailedAssets, row.Status, row.BackupPath)
	}
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	output := fs.String("output", "", "output root directory (default: settings output_root)")
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	outputRoot, err := resolveOutputRoot(*output, *configPath)
	if err != nil {
		return err
	}
	res, err := catalog.Status(catalog.StatusOptions{
		OutputRoot: outputRoot,
		URL:        strings.TrimSpace(fs.Arg(0)),
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	if len(res.Rows) == 0 {
		fmt.Println("no threads tracked")
		fmt.Println("next: thread-archiver archive <thread-url>")
		return nil
	}
	for _, row := range res.Rows {
		fmt.Printf("%s [%s]\n", row.URL, row.State)
		fmt.Printf("  pages: %d/%d\n", row.CompletedPages, row.TotalPages)
		fmt.Printf("  failed_assets: %d\n", row.FailedAssets)
		if row.FormatVersion > 0 {
			fmt.Printf("  format_version: %d\n", row.FormatVersion)
		}
		if row.SizeBytes > 0 {
			fmt.Printf("  size: %s\n", formatBytesIEC(row.SizeBytes))
		}
		fmt.Printf("  backup: %s\n", row.BackupPath)
		if row.LastRun != "" {
			fmt.Printf("  last_run: %s\n", row.LastRun)
		}
	}
	fmt.Println("totals")
	fmt.Printf("  threads: %d\n", res.Totals.Threads)
	fmt.Printf("  complete: %d\n", res.Totals.Complete)
	fmt.Printf("  in_progress: %d\n", res.Totals.InProgress)
	fmt.Printf("  failed: %d\n", res.Totals.Failed)
	fmt.Printf("  attention: %d\n", res.Totals.Attention)
	fmt.Printf("  pages: %d/%d\n", res.Totals.DonePages, res.Totals.TotalPages)
	if res.Totals.FailedAssets > 0 {
		fmt.Printf("  failed_assets: %d (rerun with `thread-archiver archive --retry-failed`)\n", res.Totals.FailedAssets)
	}
	return nil
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	output := fs.String("output", "", "output root directory (default: settings output_root)")
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	outputRoot, err := resolveOutputRoot(*output, *configPath)
	if err != nil {
		return err
	}
	res, err := catalog.Doctor(catalog.DoctorOptions{
		OutputRoot: outputRoot,
		ConfigPath: config.NormalizePath(*configPath),
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.OK {
			return errors.New("doctor checks failed")
		}
		return nil
	}

	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	fmt.Println("doctor: all checks passed")
	return nil
}

func resolveOutputRoot(flagValue, configPath string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue), nil
	}
	settings, err := config.Read(configPath)
	if err != nil {
		return "", err
	}
	return settings.OutputRoot, nil
}

package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"thread-archiver/internal/config"
	"thread-archiver/internal/fetch"
)

func runSettings(args []string) error {
	if len(args) == 0 {
		printSettingsUsage()
		return nil
	}
	switch args[0] {
	case "show":
		return runSettingsShow(args[1:])
	case "set":
		return runSettingsSet(args[1:])
	case "help", "-h", "--help":
		printSettingsUsage()
		return nil
	default:
		printSettingsUsage()
		return fmt.Errorf("unknown settings subcommand %q", args[0])
	}
}

func printSettingsUsage() {
	fmt.Println("settings: show/update archiver settings")
	fmt.Println()
	fmt.Println("  settings show [--config <path>] [--json]")
	fmt.Println("  settings set [--workers N] [--delay-ms N] [--ua <string>]")
	fmt.Println("               [--output-root <dir>] [--proxy <url>]")
	fmt.Println("               [--cookies-file <path>] [--config <path>] [--json]")
	fmt.Println()
	fmt.Println("  --cookies-file imports a Netscape cookies.txt export as the per-domain")
	fmt.Println("  sessions authenticated fetches use.")
}

func runSettingsShow(args []string) error {
	fs := flag.NewFlagSet("settings show", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.NormalizePath(*configPath)
	settings, err := config.Read(path)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(map[string]any{
			"config_path": path,
			"settings":    settings,
		})
	}

	fmt.Printf("config: %s\n", path)
	fmt.Printf("output_root: %s\n", settings.OutputRoot)
	fmt.Printf("workers: %d\n", settings.Workers)
	fmt.Printf("fetch_delay_ms: %d\n", settings.FetchDelayMS)
	fmt.Printf("user_agent: %s\n", settings.UserAgent)
	if strings.TrimSpace(settings.Proxy) == "" {
		fmt.Println("proxy: (none)")
	} else {
		fmt.Printf("proxy: %s\n", settings.Proxy)
	}
	return nil
}

func runSettingsSet(args []string) error {
	fs := flag.NewFlagSet("settings set", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "settings file path")
	workers := fs.Int("workers", -1, "asset download workers (>=1, -1 keeps current)")
	delayMS := fs.Int("delay-ms", -1, "delay between page fetches in ms (>=0, -1 keeps current)")
	ua := fs.String("ua", "", "user agent string (empty keeps current)")
	outputRoot := fs.String("output-root", "", "output root directory (empty keeps current)")
	proxy := fs.String("proxy", "", "proxy URL; 'off' clears it (empty keeps current)")
	cookiesFile := fs.String("cookies-file", "", "Netscape cookies.txt export to import as sessions")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := config.NormalizePath(*configPath)
	settings, err := config.Read(path)
	if err != nil {
		return err
	}

	changed := false
	if *workers != -1 {
		if *workers <= 0 {
			return errors.New("--workers must be >= 1")
		}
		settings.Workers = *workers
		changed = true
	}
	if *delayMS != -1 {
		if *delayMS < 0 {
			return errors.New("--delay-ms must be >= 0")
		}
		settings.FetchDelayMS = *delayMS
		changed = true
	}
	if strings.TrimSpace(*ua) != "" {
		settings.UserAgent = strings.TrimSpace(*ua)
		changed = true
	}
	if strings.TrimSpace(*outputRoot) != "" {
		settings.OutputRoot = strings.TrimSpace(*outputRoot)
		changed = true
	}
	if strings.TrimSpace(*proxy) != "" {
		if strings.EqualFold(strings.TrimSpace(*proxy), "off") {
			settings.Proxy = ""
		} else {
			settings.Proxy = strings.TrimSpace(*proxy)
		}
		changed = true
	}

	imported := 0
	if strings.TrimSpace(*cookiesFile) != "" {
		data, err := os.ReadFile(strings.TrimSpace(*cookiesFile))
		if err != nil {
			return fmt.Errorf("read cookies file: %w", err)
		}
		imported, err = fetch.ImportCookieFile(fetch.SessionsDirIn(settings.OutputRoot), data)
		if err != nil {
			return err
		}
	}

	if !changed && imported == 0 {
		return errors.New("nothing to set; see `thread-archiver settings help`")
	}

	res := config.UpdateResult{ConfigPath: path, Settings: settings}
	if changed {
		res, err = config.Update(config.UpdateOptions{ConfigPath: path, Settings: settings})
		if err != nil {
			return err
		}
	}

	if *jsonOut {
		return printJSON(map[string]any{
			"config_path":      res.ConfigPath,
			"settings":         res.Settings,
			"cookies_imported": imported,
		})
	}
	if changed {
		fmt.Printf("updated settings in %s\n", res.ConfigPath)
		fmt.Printf("output_root: %s\n", res.Settings.OutputRoot)
		fmt.Printf("workers: %d\n", res.Settings.Workers)
		fmt.Printf("fetch_delay_ms: %d\n", res.Settings.FetchDelayMS)
	}
	if imported > 0 {
		fmt.Printf("cookies_imported: %d\n", imported)
		fmt.Printf("sessions_dir: %s\n", fetch.SessionsDirIn(res.Settings.OutputRoot))
	}
	return nil
}

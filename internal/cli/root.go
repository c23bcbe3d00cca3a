package cli

import "fmt"

const appVersion = "0.3.0"

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "archive":
		return runArchive(args[1:])
	case "normalize":
		return runNormalize(args[1:])
	case "list":
		return runList(args[1:])
	case "status":
		return runStatus(args[1:])
	case "manage":
		return runManage(args[1:])
	case "settings":
		return runSettings(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "version":
		fmt.Println("thread-archiver " + appVersion)
		return nil
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("thread-archiver: resumable forum thread backups")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  thread-archiver archive <thread-url>")
	fmt.Println("  thread-archiver archive --check-updates")
	fmt.Println("  thread-archiver status")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  archive    scrape or resume a thread backup")
	fmt.Println("             --check-updates re-checks tracked threads for new pages")
	fmt.Println("             --retry-failed re-attempts previously failed assets")
	fmt.Println("  normalize  repair misnamed assets and gallery links in a backup")
	fmt.Println("  list       list tracked threads")
	fmt.Println("  status     status rollup for tracked threads")
	fmt.Println("  manage     interactive thread browser (filter, updates, settings)")
	fmt.Println("  settings   show/update archiver settings and import cookies")
	fmt.Println("  doctor     run filesystem and backup integrity preflight checks")
	fmt.Println("  version    print the version")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - A run resumes where the last one stopped; --from/--to force a re-scrape")
	fmt.Println("  - Authenticated forums: import a cookies.txt via")
	fmt.Println("      thread-archiver settings set --cookies-file <path>")
}

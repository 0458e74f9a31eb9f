package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/agentgate/agentgate/internal/update"
)

func runUpdate(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	check := fs.Bool("check", false, "only report, never prompt")
	force := fs.Bool("force", false, "ignore the cached result")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: agentgate update [flags]")
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	dataDir, err := resolveDataDir("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolving data dir: %v\n", err)
		os.Exit(1)
	}

	checker := update.NewChecker(dataDir)
	res, err := checker.Check(version, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "checking for updates: %v\n", err)
		os.Exit(1)
	}

	if !res.UpdateAvailable {
		fmt.Printf("agentgate %s is up to date.\n", version)
		return
	}
	fmt.Printf("Update available: %s -> %s\n",
		res.CurrentVersion, res.LatestVersion)
	if !*check {
		fmt.Println("Download it from " +
			"https://github.com/agentgate/agentgate/releases/latest")
	}
}

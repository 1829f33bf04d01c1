package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"alertrelay/internal/app"
	"alertrelay/internal/clock"
	"alertrelay/internal/config"
)

// main starts the entity health debouncer.
// Params: CLI flags (--config-file or --config-dir).
// Returns: exit 2 on CLI misuse, 1 on init or run failure.
func main() {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	watcher, err := app.NewWatcher(source, clock.RealClock{})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "watcher init failed:", err.Error())
		os.Exit(1)
	}

	if err := watcher.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "watcher run failed:", err.Error())
		os.Exit(1)
	}
}

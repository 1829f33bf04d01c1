package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"alertrelay/internal/routes"
)

func main() {
	file := flag.String("file", "routes.yml", "path to routes document")
	flag.Parse()
	os.Exit(run(*file, os.Stdout, os.Stderr))
}

// run validates one routes document and reports the result.
// Params: document path and output streams.
// Returns: 0 when valid, 1 on any violation or read error.
func run(path string, stdout, stderr io.Writer) int {
	cfg, err := routes.LoadStrict(path, routes.LoadOptions{})
	if err != nil {
		var configErr *routes.ConfigError
		if errors.As(err, &configErr) {
			_, _ = fmt.Fprintf(stderr, "%s: %d problem(s)\n", configErr.Source, len(configErr.Problems))
			for _, problem := range configErr.Problems {
				_, _ = fmt.Fprintf(stderr, "  - %s\n", problem)
			}
			return 1
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s OK\n", cfg.Source())
	return 0
}

// Command stealthdriver provisions patched chromedriver binaries.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/config"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0-dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, d deps) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := New(d)
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", config.FormatError(err, cli.verbose))
		return 1
	}
	return 0
}

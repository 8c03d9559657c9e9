// Command batchctl is an interactive shell for a batch server.
//
// Usage:
//
//	batchctl [--server name] [--config file]
//
// Each line is one command; type help for the list. A single connection
// is kept open for the whole session.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/geoyin/openpbs/internal/cli"
)

const prog = "batchctl"

const usage = `usage:
	batchctl [--server name] [--config file]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	cli.Exit(prog, err)
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	var conn cli.Connection
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	conn.AddFlags(fs)
	if err := cli.Parse(fs, args, stderr, prog, usage); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		fmt.Fprint(stderr, usage)
		return &cli.ExitError{Code: 2}
	}
	defer conn.Close()

	c, err := conn.Dial(ctx, "")
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return &cli.ExitError{Code: 1}
	}
	defer c.Close()

	sh, err := NewShell(c)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return &cli.ExitError{Code: 1}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sh.Run(ctx, cancel)
	return nil
}

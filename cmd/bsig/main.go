// Command bsig sends a signal to running batch jobs.
//
// Usage:
//
//	bsig [-s signal] job_identifier...
//
// The signal is a name such as SIGTERM or TERM, a number, or one of the
// server pseudo-signals suspend and resume. The default is SIGTERM. An
// array job identifier signals every running subjob.
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
	"github.com/geoyin/openpbs/pkg/client"
)

const prog = "bsig"

const usage = `usage:
	bsig [-s signal] job_identifier...
`

const defaultSignal = "SIGTERM"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	cli.Exit(prog, err)
}

// signaler is the part of a connection bsig needs.
type signaler interface {
	SignalJob(ctx context.Context, id, sig string) error
}

var _ signaler = (*client.Conn)(nil)

func run(ctx context.Context, args []string, stderr io.Writer) error {
	var (
		conn cli.Connection
		sig  string
	)
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVarP(&sig, "signal", "s", defaultSignal, "signal name or number, suspend or resume")
	conn.AddFlags(fs)

	if err := cli.Parse(fs, args, stderr, prog, usage); err != nil {
		return err
	}
	if fs.NArg() == 0 || sig == "" {
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

	if signalAll(ctx, c, sig, fs.Args(), stderr) {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// signalAll signals each job in turn and reports whether any failed.
func signalAll(ctx context.Context, s signaler, sig string, ids []string, stderr io.Writer) bool {
	failed := false
	for _, id := range ids {
		if _, _, err := client.ParseJobID(id); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
			failed = true
			continue
		}
		if err := s.SignalJob(ctx, id, sig); err != nil {
			cli.PrintError(stderr, prog, id, err)
			failed = true
		}
	}
	return failed
}

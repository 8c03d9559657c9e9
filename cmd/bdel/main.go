// Command bdel deletes batch jobs.
//
// Usage:
//
//	bdel [-W force|suppress_email=N] [-x] job_identifier...
//
// Flags:
//
//	-W, --option string     force, or suppress_email=N to stop mail after N deletions
//	-x, --history           also delete finished jobs from history
//	    --server string     server name or host:port
//	    --config string     client configuration file
//	    --protocol-log      protocol event log
//
// A job the server does not know is located and deleted where it moved
// to. bdel exits 0 when every job was deleted, 1 when any failed and 2 on
// a usage error.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/geoyin/openpbs/internal/cli"
	"github.com/geoyin/openpbs/pkg/client"
)

const prog = "bdel"

const usage = `usage:
	bdel [-W force|suppress_email=X] [-x] job_identifier...
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	cli.Exit(prog, err)
}

type options struct {
	conn    cli.Connection
	batch   client.DeleteBatch
	jobIDs  []string
	verbose bool
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	var opts options
	var wopts []string

	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringArrayVarP(&wopts, "option", "W", nil, "force, or suppress_email=N")
	fs.BoolVarP(&opts.batch.DeleteHistory, "history", "x", false, "also delete finished jobs from history")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log each request")
	opts.conn.AddFlags(fs)

	if err := cli.Parse(fs, args, stderr, prog, usage); err != nil {
		return nil, err
	}

	bad := false
	for _, w := range wopts {
		if err := applyOption(&opts.batch, w); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
			bad = true
		}
	}
	if bad || fs.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return nil, &cli.ExitError{Code: 2}
	}
	opts.jobIDs = fs.Args()
	return &opts, nil
}

// applyOption applies one -W value.
func applyOption(b *client.DeleteBatch, w string) error {
	if w == "" {
		return fmt.Errorf("illegal -W value")
	}
	if w == client.ModForce {
		b.Force = true
		return nil
	}
	n, ok, err := client.ParseSuppressEmail(w)
	if err != nil {
		return fmt.Errorf("illegal -W value: %w", err)
	}
	if !ok {
		return fmt.Errorf("illegal -W value %q", w)
	}
	// suppress_email=0 keeps the built-in threshold without asking the
	// server.
	if n == 0 {
		n = client.DefaultMailThreshold
	}
	b.MailThreshold = n
	return nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	defer opts.conn.Close()

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	opts.batch.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	opts.batch.Connect = opts.conn.Connect

	cfg, err := opts.conn.Config()
	if err != nil {
		return err
	}
	if opts.batch.MailThreshold == 0 {
		opts.batch.MailThreshold = cfg.MailThreshold
	}

	failed := false
	ids := make([]string, 0, len(opts.jobIDs))
	for _, id := range opts.jobIDs {
		if _, _, err := client.ParseJobID(id); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
			failed = true
			continue
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		conn, err := opts.conn.Dial(ctx, "")
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
			return &cli.ExitError{Code: 1}
		}
		report := opts.batch.Run(ctx, conn, ids)
		conn.Close()

		for _, r := range report.Results {
			if r.Err != nil {
				cli.PrintError(stderr, prog, r.JobID, r.Err)
			}
		}
		failed = failed || report.AnyFailed
	}

	if failed {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

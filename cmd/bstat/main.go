// Command bstat shows the status of batch jobs, queues and the server.
//
// Usage:
//
//	bstat [-f] [-x] [-t] [--select attr=value]... [job_identifier...]
//	bstat -Q [-f] [queue...]
//	bstat -B [-f]
//
// Without identifiers bstat lists every job the server shows the user.
// -x includes finished jobs, -t lists the subjobs of array jobs and -f
// prints every attribute. --select keeps jobs whose attribute equals the
// value, or differs from it with attr!=value.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/geoyin/openpbs/internal/cli"
	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/client"
)

const prog = "bstat"

const usage = `usage:
	bstat [-f] [-x] [-t] [--select attr=value]... [job_identifier...]
	bstat -Q [-f] [queue...]
	bstat -B [-f]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	cli.Exit(prog, err)
}

type options struct {
	conn     cli.Connection
	full     bool
	history  bool
	subjobs  bool
	queues   bool
	server   bool
	attrs    []string
	selects  []string
	operands []string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	var opts options
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.BoolVarP(&opts.full, "full", "f", false, "print every attribute")
	fs.BoolVarP(&opts.history, "history", "x", false, "include finished jobs")
	fs.BoolVarP(&opts.subjobs, "subjobs", "t", false, "list array subjobs")
	fs.BoolVarP(&opts.queues, "queues", "Q", false, "show queue status")
	fs.BoolVarP(&opts.server, "server-status", "B", false, "show server status")
	fs.StringSliceVarP(&opts.attrs, "attr", "a", nil, "limit output to these attributes")
	fs.StringArrayVar(&opts.selects, "select", nil, "select jobs by attr=value or attr!=value")
	opts.conn.AddFlags(fs)

	if err := cli.Parse(fs, args, stderr, prog, usage); err != nil {
		return nil, err
	}
	if opts.queues && opts.server {
		fmt.Fprint(stderr, usage)
		return nil, &cli.ExitError{Code: 2}
	}
	if len(opts.selects) > 0 && (opts.queues || opts.server || fs.NArg() > 0) {
		fmt.Fprint(stderr, usage)
		return nil, &cli.ExitError{Code: 2}
	}
	opts.operands = fs.Args()
	return &opts, nil
}

// parseSelect turns "attr=value" or "attr!=value" into a criterion.
func parseSelect(s string) (attr.Fragment, error) {
	if name, value, ok := strings.Cut(s, "!="); ok && name != "" {
		return client.NotEqual(name, value), nil
	}
	if name, value, ok := strings.Cut(s, "="); ok && name != "" {
		return client.Equal(name, value), nil
	}
	return attr.Fragment{}, fmt.Errorf("bad selection %q", s)
}

func (o *options) extend() string {
	var b strings.Builder
	if o.subjobs {
		b.WriteByte('t')
	}
	if o.history {
		b.WriteByte('x')
	}
	return b.String()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	defer opts.conn.Close()

	c, err := opts.conn.Dial(ctx, "")
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		return &cli.ExitError{Code: 1}
	}
	defer c.Close()

	var (
		entries []*batch.StatusEntry
		failed  bool
	)
	switch {
	case opts.server:
		e, err := c.StatusServer(ctx, opts.attrs...)
		if err != nil {
			cli.PrintError(stderr, prog, "", err)
			return &cli.ExitError{Code: 1}
		}
		entries = []*batch.StatusEntry{e}
	case opts.queues:
		entries, failed = collect(stderr, opts.operands, func(name string) ([]*batch.StatusEntry, error) {
			return c.StatusQueues(ctx, name, opts.attrs...)
		})
	default:
		ids := opts.operands
		if len(opts.selects) > 0 {
			ids, err = selectJobs(ctx, c, opts.selects)
			if err != nil {
				fmt.Fprintf(stderr, "%s: %v\n", prog, err)
				return &cli.ExitError{Code: 1}
			}
			if len(ids) == 0 {
				return nil
			}
		}
		entries, failed = collect(stderr, ids, func(id string) ([]*batch.StatusEntry, error) {
			return c.StatusJobs(ctx, id, opts.extend(), opts.attrs...)
		})
	}

	switch {
	case opts.full:
		printFull(stdout, entries)
	case opts.server:
		printServerTable(stdout, entries)
	case opts.queues:
		printQueueTable(stdout, entries)
	default:
		printJobTable(stdout, entries)
	}

	if failed {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

// collect runs stat for each operand, or once with "" when there are
// none, printing failures as it goes.
func collect(stderr io.Writer, operands []string, stat func(string) ([]*batch.StatusEntry, error)) ([]*batch.StatusEntry, bool) {
	if len(operands) == 0 {
		operands = []string{""}
	}
	var (
		all    []*batch.StatusEntry
		failed bool
	)
	for _, op := range operands {
		list, err := stat(op)
		if err != nil {
			cli.PrintError(stderr, prog, op, err)
			failed = true
			continue
		}
		all = append(all, list...)
	}
	return all, failed
}

func selectJobs(ctx context.Context, c *client.Conn, selects []string) ([]string, error) {
	criteria := make([]attr.Fragment, 0, len(selects))
	for _, s := range selects {
		f, err := parseSelect(s)
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, f)
	}
	return c.SelectJobs(ctx, criteria...)
}

// Command batch-log views and analyzes batch protocol log files.
//
// Log files are written by batchd and the client tools when run with
// --protocol-log. A file name ending in .zst is a zstd archive.
//
// Usage:
//
//	batch-log <command> [flags] <file.mlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only failed replies and errors
//	batch-log view --errors server.mlog
//
//	# View DeleteJob traffic
//	batch-log view --operation DeleteJob server.mlog
//
//	# Keep one connection, compressed
//	batch-log filter --conn-id c0ffee00-1111 -o conn.mlog.zst server.mlog
//
//	# Show statistics
//	batch-log stats server.mlog.zst
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/geoyin/openpbs/cmd/batch-log/commands"
)

const usage = `batch-log - Batch Protocol Log Analyzer

Usage:
  batch-log <command> [flags] <file.mlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "batch-log <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name, synopsis string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "batch-log %s - %s\n\nUsage:\n  batch-log %s [flags] <file.mlog>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

// parse reports a bad flag with the command's usage.
func parse(fs *pflag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fs.Usage()
	}
	return err
}

func logPath(fs *pflag.FlagSet) (string, error) {
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := newFlagSet("view", "View log file in human-readable format")
	layer := fs.String("layer", "", "filter by layer (transport, wire, service)")
	direction := fs.String("direction", "", "filter by direction (in, out)")
	category := fs.String("category", "", "filter by category (message, state, error)")
	operation := fs.String("operation", "", "filter by request type, by name or number")
	errorsOnly := fs.Bool("errors", false, "show only failed replies and errors")
	if err := parse(fs, args); err != nil {
		return err
	}

	path, err := logPath(fs)
	if err != nil {
		return err
	}

	filter := commands.ViewFilter{ErrorsOnly: *errorsOnly}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}
	if *operation != "" {
		op, err := commands.ParseOperationFlag(*operation)
		if err != nil {
			return err
		}
		filter.Operation = &op
	}

	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export log file to JSONL or CSV format")
	format := fs.String("format", "jsonl", "output format (jsonl, csv)")
	output := fs.StringP("output", "o", "", "output file (default: stdout)")
	if err := parse(fs, args); err != nil {
		return err
	}

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	var opts commands.FilterOptions
	fs.StringVarP(&opts.Output, "output", "o", "", "output file, .zst for a compressed archive (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "filter by connection ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "filter by layer (transport, wire, service)")
	fs.StringVar(&opts.Direction, "direction", "", "filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "filter by category (message, state, error)")
	fs.StringVar(&opts.Operation, "operation", "", "filter by request type, by name or number")
	fs.BoolVar(&opts.ErrorsOnly, "errors", false, "keep only failed replies and errors")
	if err := parse(fs, args); err != nil {
		return err
	}

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
	return nil
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Show statistics about the log file")
	if err := parse(fs, args); err != nil {
		return err
	}

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}

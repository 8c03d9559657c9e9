package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/geoyin/openpbs/pkg/attr"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/client"
)

// Server is the part of a client connection the shell drives.
type Server interface {
	Addr() string
	StatusJobs(ctx context.Context, id, extend string, attrs ...string) ([]*batch.StatusEntry, error)
	StatusQueues(ctx context.Context, name string, attrs ...string) ([]*batch.StatusEntry, error)
	StatusServer(ctx context.Context, attrs ...string) (*batch.StatusEntry, error)
	SelectJobs(ctx context.Context, criteria ...attr.Fragment) ([]string, error)
	RescQuery(ctx context.Context, names ...string) (*batch.ResourceQuery, error)
	DeleteJob(ctx context.Context, id, modifier string) error
	SignalJob(ctx context.Context, id, sig string) error
	LocateJob(ctx context.Context, id string) (string, error)
}

var _ Server = (*client.Conn)(nil)

// Shell reads commands from a terminal and runs them against one server.
type Shell struct {
	srv Server
	rl  *readline.Instance
	out io.Writer
}

// NewShell creates a shell bound to the terminal.
func NewShell(srv Server) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", srv.Addr()),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{srv: srv, rl: rl, out: rl.Stdout()}, nil
}

func completer() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("stat"),
		readline.PcItem("qstat"),
		readline.PcItem("server"),
		readline.PcItem("select"),
		readline.PcItem("resc"),
		readline.PcItem("delete"),
		readline.PcItem("signal",
			readline.PcItem("SIGTERM"), readline.PcItem("SIGKILL"),
			readline.PcItem("suspend"), readline.PcItem("resume")),
		readline.PcItem("locate"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Run reads and executes commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
		if !s.Execute(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the session goes on.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "stat", "s":
		s.cmdStat(ctx, args)
	case "qstat", "q":
		s.cmdQstat(ctx, args)
	case "server":
		s.cmdServer(ctx, args)
	case "select":
		s.cmdSelect(ctx, args)
	case "resc":
		s.cmdResc(ctx, args)
	case "delete", "del":
		s.cmdDelete(ctx, args)
	case "signal", "sig":
		s.cmdSignal(ctx, args)
	case "locate":
		s.cmdLocate(ctx, args)
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Batch Server Commands:
  Status:
    stat [job-id] [attr...]     - Show one job or every job
    qstat [queue] [attr...]     - Show one queue or every queue
    server [attr...]            - Show the server
    select attr=value...        - List jobs matching every criterion (also attr!=value)
    resc name...                - Show resource counts

  Jobs:
    delete <job-id> [modifier]  - Delete a job (modifier: force, nomail, deletehist)
    signal <job-id> <signal>    - Send a signal, suspend or resume
    locate <job-id>             - Show the server a job lives on

  Other:
    help                        - Show this help
    quit                        - Exit`)
}

func (s *Shell) fail(op string, err error) {
	var ce *client.Error
	if errors.As(err, &ce) && ce.Text == "" {
		fmt.Fprintf(s.out, "%s failed: %s (%d)\n", op, ce.Code.Message(), int(ce.Code))
		return
	}
	fmt.Fprintf(s.out, "%s failed: %v\n", op, err)
}

func (s *Shell) cmdStat(ctx context.Context, args []string) {
	var id string
	if len(args) > 0 {
		id, args = args[0], args[1:]
	}
	list, err := s.srv.StatusJobs(ctx, id, "", args...)
	if err != nil {
		s.fail("stat", err)
		return
	}
	if len(list) == 0 {
		fmt.Fprintln(s.out, "no jobs")
		return
	}
	s.printEntries(list)
}

func (s *Shell) cmdQstat(ctx context.Context, args []string) {
	var name string
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	list, err := s.srv.StatusQueues(ctx, name, args...)
	if err != nil {
		s.fail("qstat", err)
		return
	}
	s.printEntries(list)
}

func (s *Shell) cmdServer(ctx context.Context, args []string) {
	e, err := s.srv.StatusServer(ctx, args...)
	if err != nil {
		s.fail("server", err)
		return
	}
	s.printEntries([]*batch.StatusEntry{e})
}

func (s *Shell) cmdSelect(ctx context.Context, args []string) {
	criteria := make([]attr.Fragment, 0, len(args))
	for _, a := range args {
		if name, value, ok := strings.Cut(a, "!="); ok && name != "" {
			criteria = append(criteria, client.NotEqual(name, value))
			continue
		}
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			fmt.Fprintf(s.out, "Bad criterion: %s (want attr=value)\n", a)
			return
		}
		criteria = append(criteria, client.Equal(name, value))
	}
	ids, err := s.srv.SelectJobs(ctx, criteria...)
	if err != nil {
		s.fail("select", err)
		return
	}
	if len(ids) == 0 {
		fmt.Fprintln(s.out, "no jobs")
		return
	}
	for _, id := range ids {
		fmt.Fprintln(s.out, id)
	}
}

func (s *Shell) cmdResc(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: resc name...")
		return
	}
	q, err := s.srv.RescQuery(ctx, args...)
	if err != nil {
		s.fail("resc", err)
		return
	}
	fmt.Fprintf(s.out, "%-16s %8s %8s %8s %8s\n", "Resource", "Avail", "Alloc", "Resvd", "Down")
	for i, name := range args {
		fmt.Fprintf(s.out, "%-16.16s %8d %8d %8d %8d\n",
			name, at(q.Avail, i), at(q.Alloc, i), at(q.Resvd, i), at(q.Down, i))
	}
}

func at(v []int64, i int) int64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func (s *Shell) cmdDelete(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.out, "Usage: delete <job-id> [modifier]")
		return
	}
	var modifier string
	if len(args) == 2 {
		modifier = args[1]
	}
	if err := s.srv.DeleteJob(ctx, args[0], modifier); err != nil {
		s.fail("delete", err)
		return
	}
	fmt.Fprintf(s.out, "deleted %s\n", args[0])
}

func (s *Shell) cmdSignal(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Usage: signal <job-id> <signal>")
		return
	}
	if err := s.srv.SignalJob(ctx, args[0], args[1]); err != nil {
		s.fail("signal", err)
		return
	}
	fmt.Fprintf(s.out, "sent %s to %s\n", args[1], args[0])
}

func (s *Shell) cmdLocate(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: locate <job-id>")
		return
	}
	where, err := s.srv.LocateJob(ctx, args[0])
	if err != nil {
		s.fail("locate", err)
		return
	}
	fmt.Fprintf(s.out, "%s is on %s\n", args[0], where)
}

func (s *Shell) printEntries(list []*batch.StatusEntry) {
	for _, e := range list {
		fmt.Fprintf(s.out, "%s %s\n", e.Kind, e.Name)
		for _, f := range e.Attrs.Fragments() {
			name := f.Name
			if f.Resource != "" {
				name += "." + f.Resource
			}
			fmt.Fprintf(s.out, "  %-28s %s\n", name, f.Value)
		}
	}
}

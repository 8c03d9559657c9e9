package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/geoyin/openpbs/pkg/batch"
)

// DefaultMailThreshold is how many deletes in one batch may send mail
// when neither the caller nor the server sets a threshold.
const DefaultMailThreshold = 1000

// Delete modifiers sent in the DeleteJob extension.
const (
	ModForce      = "force"
	ModDeleteHist = "deletehist"
	ModNoMail     = "nomail"
)

const (
	suppressEmail  = "suppress_email"
	defaultArgsKey = "-W" + suppressEmail
)

// ErrUnsupportedArgs is returned for a default_qdel_arguments value other
// than -Wsuppress_email=N.
var ErrUnsupportedArgs = errors.New("unsupported default_qdel_arguments")

// Session is the server side of a delete batch. *Conn implements it.
type Session interface {
	DeleteJob(ctx context.Context, id, modifier string) error
	LocateJob(ctx context.Context, id string) (string, error)
	StatusServer(ctx context.Context, attrs ...string) (*batch.StatusEntry, error)
}

var _ Session = (*Conn)(nil)

// DeleteBatch deletes a list of jobs the way the delete command does.
//
// After MailThreshold deletions the modifier gains the nomail prefix for
// the rest of the batch. Deleting job history does not count. A job the
// server does not know is located and the delete retried once on the
// server it moved to.
type DeleteBatch struct {
	Force         bool
	DeleteHistory bool

	// MailThreshold caps the deletions that may send mail. Zero takes
	// the server's default_qdel_arguments, then DefaultMailThreshold.
	MailThreshold int

	// Connect opens a session to another server for relocated jobs. Nil
	// disables the retry. A session implementing io.Closer is closed
	// after use.
	Connect func(ctx context.Context, server string) (Session, error)

	// Logger receives warnings (default: slog.Default()).
	Logger *slog.Logger
}

// Result is the outcome of deleting one job.
type Result struct {
	JobID    string
	Modifier string

	// Server is the location a relocated job was deleted on.
	Server string

	// HistoryDeleted is set when the server purged job history.
	HistoryDeleted bool

	Err error
}

// Report collects the results of a batch.
type Report struct {
	Results   []Result
	AnyFailed bool
}

// Modifier returns the modifier of the batch before mail is suppressed.
func (b *DeleteBatch) Modifier() string {
	switch {
	case b.Force && b.DeleteHistory:
		return ModForce + ModDeleteHist
	case b.Force:
		return ModForce
	case b.DeleteHistory:
		return ModDeleteHist
	default:
		return ""
	}
}

// Run deletes ids through s.
func (b *DeleteBatch) Run(ctx context.Context, s Session, ids []string) *Report {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := b.MailThreshold
	if threshold == 0 {
		threshold = b.serverThreshold(ctx, s, logger)
	}
	if threshold == 0 {
		threshold = DefaultMailThreshold
	}

	base := b.Modifier()
	report := &Report{Results: make([]Result, 0, len(ids))}
	deleted := 0
	nomail := false

	for _, id := range ids {
		res := Result{JobID: id}
		target := s
		located := false
		var closers []io.Closer

		for {
			if deleted == threshold {
				nomail = true
			}
			res.Modifier = base
			if nomail {
				res.Modifier = ModNoMail + base
			}

			err := target.DeleteJob(ctx, id, res.Modifier)
			hist := errors.Is(err, &Error{Code: batch.ErrHistJobDel})
			if !hist {
				deleted++
			}

			if err == nil || hist {
				res.HistoryDeleted = hist
				res.Err = nil
				break
			}
			res.Err = err
			if located || b.Connect == nil || !errors.Is(err, &Error{Code: batch.ErrUnkJobID}) {
				break
			}

			located = true
			loc, lerr := target.LocateJob(ctx, id)
			if lerr != nil {
				break
			}
			next, cerr := b.Connect(ctx, loc)
			if cerr != nil {
				res.Err = fmt.Errorf("%s: relocated to %s: %w", id, loc, cerr)
				break
			}
			if c, ok := next.(io.Closer); ok {
				closers = append(closers, c)
			}
			target = next
			res.Server = loc
		}

		for _, c := range closers {
			c.Close()
		}
		if res.Err != nil {
			report.AnyFailed = true
		}
		report.Results = append(report.Results, res)
	}
	return report
}

// serverThreshold reads -Wsuppress_email from the server's
// default_qdel_arguments. It returns 0 when none is set.
func (b *DeleteBatch) serverThreshold(ctx context.Context, s Session, logger *slog.Logger) int {
	e, err := s.StatusServer(ctx, "default_qdel_arguments")
	if err != nil {
		logger.Debug("server status unavailable", "error", err)
		return 0
	}
	v, ok := e.Value("default_qdel_arguments", "")
	if !ok {
		return 0
	}
	n, err := ParseDefaultArgs(v)
	if err != nil {
		logger.Warn("unsupported default_qdel_arguments", "value", v)
		return 0
	}
	return n
}

// ParseDefaultArgs parses a default_qdel_arguments value of the form
// "-Wsuppress_email=N".
func ParseDefaultArgs(v string) (int, error) {
	key, value, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(key) != defaultArgsKey {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedArgs, v)
	}
	return parseCount(value)
}

// ParseSuppressEmail parses the -W option value "suppress_email=N". It
// reports false when opt is not a suppress_email option.
func ParseSuppressEmail(opt string) (int, bool, error) {
	key, value, ok := strings.Cut(opt, "=")
	if !ok || strings.TrimSpace(key) != suppressEmail {
		return 0, false, nil
	}
	n, err := parseCount(value)
	return n, true, err
}

func parseCount(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("bad mail threshold %q: %w", v, err)
	}
	return n, nil
}

// Package cli holds the connection flags and exit handling shared by the
// client tools.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/geoyin/openpbs/pkg/client"
	"github.com/geoyin/openpbs/pkg/config"
	"github.com/geoyin/openpbs/pkg/discovery"
	"github.com/geoyin/openpbs/pkg/log"
)

// ExitError ends a command with Code after it has written its own
// diagnostics.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Exit terminates the process for the error returned by a command. An
// error carrying an exit code exits silently with that code; any other
// error is printed.
func Exit(prog string, err error) {
	if err == nil {
		return
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", prog, err)
	os.Exit(2)
}

// Parse parses args into fs. A bad flag is reported on w with the usage
// text and becomes exit code 2. A help request returns pflag.ErrHelp,
// which Exit treats as success.
func Parse(fs *pflag.FlagSet, args []string, w io.Writer, prog, usage string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return err
	}
	fmt.Fprintf(w, "%s: %v\n", prog, err)
	fmt.Fprint(w, usage)
	return &ExitError{Code: 2}
}

// Connection holds the flags that choose and reach a batch server.
type Connection struct {
	ConfigFile  string
	Server      string
	ProtocolLog string
	Interface   string
	Timeout     time.Duration

	cfg *config.Client
	log *log.FileLogger
}

// AddFlags registers --config, --server, --protocol-log, --interface and
// --timeout.
func (c *Connection) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", "", "client configuration file (YAML)")
	fs.StringVar(&c.Server, "server", "", "server name or host:port (default: $"+config.ServerEnv+")")
	fs.StringVar(&c.ProtocolLog, "protocol-log", "", "protocol event log (CBOR, .zst to compress)")
	fs.StringVar(&c.Interface, "interface", "", "network interface for server discovery (default: all)")
	fs.DurationVar(&c.Timeout, "timeout", 0, "request timeout (default from config)")
}

// Config loads the client configuration with the flags applied.
func (c *Connection) Config() (*config.Client, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.LoadClient(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	if c.Server != "" {
		cfg.Server = c.Server
	}
	if c.ProtocolLog != "" {
		cfg.ProtocolLog = c.ProtocolLog
	}
	if c.Timeout > 0 {
		cfg.RequestTimeout = config.Duration(c.Timeout)
	}
	c.cfg = cfg
	return cfg, nil
}

// Options returns connection options for the loaded configuration. The
// protocol log is opened on first use and closed by Close.
func (c *Connection) Options() (client.Options, error) {
	cfg, err := c.Config()
	if err != nil {
		return client.Options{}, err
	}
	opts := client.OptionsFrom(cfg)
	if cfg.ProtocolLog != "" {
		if c.log == nil {
			fl, err := log.NewFileLogger(cfg.ProtocolLog)
			if err != nil {
				return client.Options{}, fmt.Errorf("protocol log: %w", err)
			}
			c.log = fl
		}
		opts.ProtocolLogger = c.log
	}
	return opts, nil
}

// Resolve turns a server name into a dialable address. A name with a port
// is used as is. Otherwise the name is looked up over mDNS and, failing
// that, taken as a host on the default port.
func (c *Connection) Resolve(ctx context.Context, name string) (string, error) {
	b := discovery.NewBrowser(discovery.BrowserConfig{Interface: c.Interface})
	addr, err := b.Resolve(ctx, name)
	if errors.Is(err, discovery.ErrNotFound) {
		return net.JoinHostPort(name, strconv.Itoa(discovery.DefaultPort)), nil
	}
	return addr, err
}

// Dial connects to server, or to the configured server when it is empty.
func (c *Connection) Dial(ctx context.Context, server string) (*client.Conn, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	if server == "" {
		server = c.cfg.Server
	}
	addr, err := c.Resolve(ctx, server)
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, addr, opts)
}

// Connect dials server as a delete session.
func (c *Connection) Connect(ctx context.Context, server string) (client.Session, error) {
	conn, err := c.Dial(ctx, server)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close releases the protocol log.
func (c *Connection) Close() error {
	if c.log == nil {
		return nil
	}
	return c.log.Close()
}

// PrintError writes a failed request the way the tools report it:
// "prog: text id".
func PrintError(w io.Writer, prog, id string, err error) {
	text := err.Error()
	var be *client.Error
	if errors.As(err, &be) && be.Text == "" {
		text = be.Code.Message()
	}
	if id == "" {
		fmt.Fprintf(w, "%s: %s\n", prog, text)
		return
	}
	fmt.Fprintf(w, "%s: %s %s\n", prog, text, id)
}

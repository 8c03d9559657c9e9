// Package config loads configuration for the batch server and the client
// tools.
//
// Configuration comes from one YAML file whose values are merged over the
// defaults returned by DefaultServer and DefaultClient. Command-line flags
// override file values in each command.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerEnv names the environment variable holding the default server
// address for client tools.
const ServerEnv = "BATCH_SERVER"

// Duration is a time.Duration written as "30s" or "5m" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server configures batchd.
type Server struct {
	// Name is the server name used in job ids.
	Name string `yaml:"name"`

	// Listen is the TCP listen address.
	Listen string `yaml:"listen"`

	// MaxMessageSize bounds one request frame.
	MaxMessageSize uint32 `yaml:"max_message_size"`

	// WriteTimeout bounds one reply flush. A timed out connection is closed.
	WriteTimeout Duration `yaml:"write_timeout"`

	// ShowHidden includes hidden attributes in status replies.
	ShowHidden bool `yaml:"show_hidden_attributes"`

	// EligibleTime enables eligible time accrual reporting.
	EligibleTime bool `yaml:"eligible_time_enable"`

	// QueryOthers lets users status jobs they do not own.
	QueryOthers bool `yaml:"query_other_jobs"`

	// Managers and Operators list users holding those privileges.
	Managers  []string `yaml:"managers"`
	Operators []string `yaml:"operators"`

	// DefaultQdelArgs is published as default_qdel_arguments, for example
	// "-Wsuppress_email=500".
	DefaultQdelArgs string `yaml:"default_qdel_arguments"`

	// KillDelay is how long a running job has to exit after a delete
	// signal before it is removed.
	KillDelay Duration `yaml:"kill_delay"`

	// History configures finished job retention.
	History HistoryConfig `yaml:"history"`

	// Queues lists the execution queues; the first is the default.
	Queues []string `yaml:"queues"`

	// Resources are published as resources_available.
	Resources map[string]string `yaml:"resources"`

	// StateFile is where jobs are saved. Empty disables saving.
	StateFile string `yaml:"state_file"`

	// ProtocolLog is where protocol events are written. A ".zst" suffix
	// compresses the log. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`

	// MetricsListen is the Prometheus endpoint address. Empty disables it.
	MetricsListen string `yaml:"metrics_listen"`

	// Advertise announces the server over mDNS.
	Advertise bool `yaml:"advertise"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// HistoryConfig configures finished job retention.
type HistoryConfig struct {
	Enable        bool     `yaml:"enable"`
	Duration      Duration `yaml:"duration"`
	PurgeInterval Duration `yaml:"purge_interval"`
}

// Client configures the client tools.
type Client struct {
	// Server is the address of the default server.
	Server string `yaml:"server"`

	// ConnectTimeout bounds connection setup.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds waiting for one reply.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Retry configures reconnect backoff.
	Retry RetryConfig `yaml:"retry"`

	// MailThreshold caps how many deletes in one run may send mail. Zero
	// uses the server's default_qdel_arguments, then 1000.
	MailThreshold int `yaml:"mail_threshold"`

	// ProtocolLog is where protocol events are written. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`
}

// RetryConfig configures reconnect backoff.
type RetryConfig struct {
	Attempts     int      `yaml:"attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() *Server {
	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	if host == "" {
		host = "localhost"
	}
	return &Server{
		Name:           host,
		Listen:         ":15001",
		MaxMessageSize: 1 << 20,
		WriteTimeout:   Duration(10 * time.Second),
		EligibleTime:   false,
		QueryOthers:    true,
		KillDelay:      Duration(10 * time.Second),
		History: HistoryConfig{
			Duration:      Duration(14 * 24 * time.Hour),
			PurgeInterval: Duration(2 * time.Minute),
		},
		Queues:   []string{"workq"},
		Managers: []string{"root"},
		LogLevel: "info",
	}
}

// DefaultClient returns the default client configuration. The server
// address comes from BATCH_SERVER when set.
func DefaultClient() *Client {
	server := os.Getenv(ServerEnv)
	if server == "" {
		server = "localhost:15001"
	}
	return &Client{
		Server:         server,
		ConnectTimeout: Duration(5 * time.Second),
		RequestTimeout: Duration(30 * time.Second),
		Retry: RetryConfig{
			Attempts:     3,
			InitialDelay: Duration(200 * time.Millisecond),
			MaxDelay:     Duration(5 * time.Second),
		},
	}
}

// LoadServer reads path over the defaults. An empty path returns the
// defaults.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadClient reads path over the defaults. An empty path returns the
// defaults.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Validate checks the server configuration.
func (s *Server) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(s.Queues) == 0 {
		errs = append(errs, errors.New("at least one queue is required"))
	}
	if s.WriteTimeout < 0 || s.KillDelay < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if s.History.Enable && s.History.PurgeInterval <= 0 {
		errs = append(errs, errors.New("history.purge_interval must be positive"))
	}
	return errors.Join(errs...)
}

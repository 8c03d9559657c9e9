package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoyin/openpbs/internal/cli"
	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/client"
	"github.com/geoyin/openpbs/pkg/config"
	"github.com/geoyin/openpbs/pkg/job"
	"github.com/geoyin/openpbs/pkg/server"
)

// me is the user name the client sends.
func me() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "nobody"
}

func startServer(t *testing.T, ids ...string) string {
	t.Helper()
	cfg := config.DefaultServer()
	cfg.Name = "svr"
	cfg.Listen = "127.0.0.1:0"

	srv, err := server.New(cfg, server.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, srv.AddJob(job.New(id, "job"+id, me()+"@client", "workq")))
	}
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv.Addr().String()
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ee *cli.ExitError
	require.ErrorAs(t, err, &ee)
	return ee.Code
}

func bdel(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, args, &stderr)
	return exitCode(t, err), stderr.String()
}

func TestDeleteJobs(t *testing.T) {
	addr := startServer(t, "1.svr", "2.svr")
	logPath := filepath.Join(t.TempDir(), "bdel.mlog")

	code, out := bdel(t, "--server", addr, "--protocol-log", logPath, "1.svr", "2.svr")
	assert.Equal(t, 0, code, out)
	assert.Empty(t, out)
	assert.FileExists(t, logPath)

	c, err := client.Dial(context.Background(), addr, client.Options{Attempts: 1, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	_, err = c.StatusJobs(context.Background(), "1.svr", "")
	assert.ErrorIs(t, err, &client.Error{Code: batch.ErrUnkJobID})
}

func TestDeleteReportsEachFailure(t *testing.T) {
	addr := startServer(t, "1.svr")

	code, out := bdel(t, "--server", addr, "99.svr", "1.svr", "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "bdel: illegally formed job identifier: bogus")
	assert.Contains(t, out, "99.svr")
	assert.NotContains(t, out, "1.svr\n")
}

func TestDeleteWithoutServer(t *testing.T) {
	code, out := bdel(t, "--server", "127.0.0.1:1", "--config", writeClientConfig(t), "1.svr")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "cannot connect to server")
}

func writeClientConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connect_timeout: 200ms\nretry:\n  attempts: 1\n"), 0o644))
	return path
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no jobs", nil},
		{"bad option", []string{"-W", "loud", "1.svr"}},
		{"empty option", []string{"-W", "", "1.svr"}},
		{"bad threshold", []string{"-W", "suppress_email=many", "1.svr"}},
		{"unknown flag", []string{"--frobnicate", "1.svr"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := bdel(t, tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, out, "usage:")
		})
	}

	_, out := bdel(t, "--frobnicate", "1.svr")
	assert.Contains(t, out, "bdel: unknown flag: --frobnicate")
}

func TestApplyOption(t *testing.T) {
	var b client.DeleteBatch
	require.NoError(t, applyOption(&b, "force"))
	assert.True(t, b.Force)

	require.NoError(t, applyOption(&b, "suppress_email=25"))
	assert.Equal(t, 25, b.MailThreshold)

	require.NoError(t, applyOption(&b, "suppress_email=0"))
	assert.Equal(t, client.DefaultMailThreshold, b.MailThreshold)

	assert.Error(t, applyOption(&b, "deletehist"))
}

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-W", "force", "-x", "-W", "suppress_email=3", "4.svr", "5.svr"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, opts.batch.Force)
	assert.True(t, opts.batch.DeleteHistory)
	assert.Equal(t, 3, opts.batch.MailThreshold)
	assert.Equal(t, "forcedeletehist", opts.batch.Modifier())
	assert.Equal(t, []string{"4.svr", "5.svr"}, opts.jobIDs)
}

package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandFlagErrors(t *testing.T) {
	for name, run := range map[string]func([]string) error{
		"view":   runView,
		"export": runExport,
		"filter": runFilter,
		"stats":  runStats,
	} {
		t.Run(name, func(t *testing.T) {
			err := run([]string{"--bogus", "server.mlog"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unknown flag: --bogus")

			assert.ErrorIs(t, run([]string{"--help"}), pflag.ErrHelp)
		})
	}
}

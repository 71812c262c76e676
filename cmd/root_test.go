//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"import", "clean", "enrich", "classify", "run", "runs", "serve", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "legis-enrich", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestBatchCommands_Flags(t *testing.T) {
	for _, c := range []struct {
		name      string
		flags     []string
		withKinds bool
	}{
		{"clean", []string{"force", "limit"}, false},
		{"enrich", []string{"force", "limit", "kinds"}, true},
		{"classify", []string{"force", "limit"}, false},
		{"run", []string{"force", "limit", "kinds"}, true},
	} {
		t.Run(c.name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{c.name})
			require.NoError(t, err)
			for _, f := range c.flags {
				assert.NotNil(t, cmd.Flags().Lookup(f), "--%s", f)
			}
			assert.Equal(t, c.withKinds, cmd.Flags().Lookup("kinds") != nil)
			assert.Equal(t, "0", cmd.Flags().Lookup("limit").DefValue)
		})
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_Flags(t *testing.T) {
	for _, name := range []string{"stage", "status", "limit"} {
		assert.NotNil(t, runsCmd.Flags().Lookup(name), "--%s", name)
	}
	assert.Equal(t, "20", runsCmd.Flags().Lookup("limit").DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	assert.NotNil(t, importCmd.Flags().Lookup("propositions"))
	assert.NotNil(t, importCmd.Flags().Lookup("authors"))
}

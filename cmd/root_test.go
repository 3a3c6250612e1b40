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

	for _, name := range []string{"run", "sources", "migrate", "items"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "saas-radar", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"dry-run", "force", "json"} {
		f := runCmd.Flags().Lookup(name)
		require.NotNil(t, f, "run command should have --%s flag", name)
		assert.Equal(t, "false", f.DefValue)
	}

	f := runCmd.Flags().Lookup("deadline")
	require.NotNil(t, f)
	assert.Equal(t, "0s", f.DefValue)
}

func TestSourcesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range sourcesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["reset"])
}

func TestSourcesResetCommand_RequiresID(t *testing.T) {
	assert.Error(t, sourcesResetCmd.Args(sourcesResetCmd, nil))
	assert.NoError(t, sourcesResetCmd.Args(sourcesResetCmd, []string{"hn"}))
}

func TestItemsTopCommand_Flags(t *testing.T) {
	f := itemsTopCmd.Flags().Lookup("limit")
	require.NotNil(t, f)
	assert.Equal(t, "20", f.DefValue)

	require.NotNil(t, itemsTopCmd.Flags().Lookup("category"))
	require.NotNil(t, itemsTopCmd.Flags().Lookup("since"))
	require.NotNil(t, itemsTopCmd.Flags().Lookup("json"))
}

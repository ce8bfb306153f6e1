package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"candidates", "allocate", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "breeding-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestInputCommands_RequiredFlags(t *testing.T) {
	for _, cmd := range []string{"candidates", "allocate"} {
		c, _, err := rootCmd.Find([]string{cmd})
		require.NoError(t, err)
		for _, name := range []string{"bulls", "cows", "eligibility", "format", "out"} {
			assert.NotNil(t, c.Flags().Lookup(name), "%s should have --%s flag", cmd, name)
		}
		bulls := c.Flags().Lookup("bulls")
		assert.Equal(t, []string{"true"}, bulls.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	}
}

func TestAllocateCommand_Flags(t *testing.T) {
	for _, name := range []string{"cohort", "save", "quiet"} {
		assert.NotNil(t, allocateCmd.Flags().Lookup(name), "allocate should have --%s flag", name)
	}
	assert.Equal(t, "false", allocateCmd.Flags().Lookup("save").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "assignments", "export", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}

	assert.Equal(t, "50", runsListCmd.Flags().Lookup("limit").DefValue)
	assert.Equal(t, "24h0m0s", runsStatsCmd.Flags().Lookup("since").DefValue)
}

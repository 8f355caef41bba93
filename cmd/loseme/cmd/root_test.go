package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseme/loseme/internal/scope"
)

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "scan", "runs", "sources", "search", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "loseme")
}

func TestParseHeaderPatterns(t *testing.T) {
	t.Run("valid pairs", func(t *testing.T) {
		patterns, err := parseHeaderPatterns([]string{"From=noreply@*", "Subject=*unsubscribe*"})
		require.NoError(t, err)
		assert.Equal(t, []scope.HeaderPattern{
			{Field: "From", Pattern: "noreply@*"},
			{Field: "Subject", Pattern: "*unsubscribe*"},
		}, patterns)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := parseHeaderPatterns([]string{"noreply@*"})
		assert.Error(t, err)
	})

	t.Run("empty field", func(t *testing.T) {
		_, err := parseHeaderPatterns([]string{"=noreply@*"})
		assert.Error(t, err)
	})
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short text", snippet("short   text", 20))
	assert.Equal(t, "abcde...", snippet("abcdefghij", 5))
}

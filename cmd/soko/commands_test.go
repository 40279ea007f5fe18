package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/soko/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// execute runs the root command with args against isolated local state.
func execute(t *testing.T, state string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args,
		"--provider", "stub",
		"--vector-store", "memory",
		"--cache-backend", "sqlite",
		"--data-dir", state,
		"--registry-path", filepath.Join(state, "registry.json"),
		"--cache-path", filepath.Join(state, "cache.db"),
		"--log-level", "error",
	))
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	return buf.String(), err
}

func TestCommands_Registered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "ask", "search", "status", "reset", "watch", "token"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestSearchCmd_HasLimitFlag(t *testing.T) {
	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "limit flag should exist")
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "0", flag.DefValue)
}

func TestCommands_ArgValidation(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr string
	}{
		{[]string{"ingest"}, "requires at least 1 arg(s)"},
		{[]string{"reset"}, "accepts 1 arg(s)"},
		{[]string{"watch"}, "accepts 1 arg(s)"},
		{[]string{"status", "extra"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := execute(t, t.TempDir(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResetCmd_UnknownTarget(t *testing.T) {
	_, err := execute(t, t.TempDir(), "reset", "everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reset target")
}

func TestIngestCmd(t *testing.T) {
	state := t.TempDir()
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "rings.txt"), []byte("Musashi wrote the Book of Five Rings."), 0o644))

	out, err := execute(t, state, "ingest", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 1 documents as 1 chunks")
	assert.Contains(t, out, "total chunks stored: 1")

	// The memory vector store lives for one run, and so does its registry.
	out, err = execute(t, state, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No directories have been ingested yet.")
	assert.Contains(t, out, "Vector store: 0 chunks")

	out, err = execute(t, state, "ingest", docs)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 1 documents as 1 chunks")

	out, err = execute(t, state, "ingest", filepath.Join(docs, "missing"))
	require.Error(t, err)
	assert.Contains(t, out, "missing")
}

func TestStatusCmd_Empty(t *testing.T) {
	out, err := execute(t, t.TempDir(), "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No directories have been ingested yet.")
	assert.Contains(t, out, "Answer cache: 0 entries")
}

func TestSearchCmd_NoResults(t *testing.T) {
	out, err := execute(t, t.TempDir(), "search", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestTokenCmd(t *testing.T) {
	out, err := execute(t, t.TempDir(), "token", "ops", "--auth-jwt-secret", "s3cret")
	require.NoError(t, err)

	a, err := auth.New("s3cret", true)
	require.NoError(t, err)
	claims, err := a.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t c", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
	assert.Equal(t, "日本...", preview("日本語", 2))
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T, cli *CLI) *kong.Kong {
	t.Helper()
	parser, err := kong.New(cli, kong.Name("respdiff"), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	return parser
}

func TestCLI_DefaultsToServe(t *testing.T) {
	var cli CLI
	ctx, err := newParser(t, &cli).Parse([]string{"--addr", ":9000"})
	require.NoError(t, err)

	assert.Equal(t, "serve", ctx.Command())
	assert.Equal(t, ":9000", cli.Addr)
}

func TestCLI_Compare(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "left.json")
	right := filepath.Join(dir, "right.json")
	require.NoError(t, os.WriteFile(left, []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(right, []byte(`{}`), 0o644))

	var cli CLI
	ctx, err := newParser(t, &cli).Parse([]string{"compare", left, right, "-x", `^meta\.`, "-x", "id", "--full", "--exit-code"})
	require.NoError(t, err)

	assert.Equal(t, "compare <left> <right>", ctx.Command())
	assert.Equal(t, []string{`^meta\.`, "id"}, cli.Compare.Ignore)
	assert.True(t, cli.Compare.Full)
	assert.True(t, cli.Compare.ExitCode)

	_, err = newParser(t, &CLI{}).Parse([]string{"compare", left, filepath.Join(dir, "missing.json")})
	assert.Error(t, err)
}

func TestGlobals_LoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "respdiff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("results_dir: from-file\nlog_level: warn\n"), 0o644))

	g := &Globals{Config: path, ResultsDir: filepath.Join(dir, "results"), LogLevel: "debug"}
	cfg, logger, err := g.load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "results"), cfg.ResultsDir)
	assert.Equal(t, filepath.Join(dir, "progress.db"), cfg.DatabasePath())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NotNil(t, logger)

	_, _, err = (&Globals{Config: path, LogLevel: "loud"}).load()
	assert.Error(t, err)
}

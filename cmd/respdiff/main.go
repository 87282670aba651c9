package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/dshills/respdiff/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errDifferences signals a compare that found differences with --exit-code.
var errDifferences = errors.New("differences found")

// Globals are the flags shared by every command. Non-empty values override
// the loaded configuration.
type Globals struct {
	Config     string `help:"Path to a YAML config file." short:"c" type:"path"`
	ResultsDir string `help:"Directory holding the results folders." type:"path"`
	DB         string `help:"SQLite database for review progress." type:"path"`
	Addr       string `help:"Address the server listens on."`
	LogLevel   string `help:"Log level (debug, info, warn, error)."`
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Serve the review API (default)."`
	Compare CompareCmd `cmd:"" help:"Compare two JSON files and print the differences."`
	Export  ExportCmd  `cmd:"" help:"Export review progress and sessions."`
	Import  ImportCmd  `cmd:"" help:"Import a previously exported review state."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// load resolves the configuration and builds the logger.
func (g *Globals) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, err
	}

	if g.ResultsDir != "" {
		cfg.ResultsDir = g.ResultsDir
	}
	if g.DB != "" {
		cfg.DBPath = g.DB
	}
	if g.Addr != "" {
		cfg.Addr = g.Addr
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("respdiff"),
		kong.Description("Compare JSON API responses and track their review."),
		kong.UsageOnError(),
	)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(&cli.Globals); err != nil {
		if !errors.Is(err, errDifferences) {
			fmt.Fprintf(os.Stderr, "respdiff: %v\n", err)
		}
		os.Exit(1)
	}
}

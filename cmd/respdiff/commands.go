package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/respdiff/internal/api"
	"github.com/dshills/respdiff/internal/config"
	"github.com/dshills/respdiff/internal/diff"
	"github.com/dshills/respdiff/internal/export"
	"github.com/dshills/respdiff/internal/repository/sqlite"
	"github.com/dshills/respdiff/internal/results"
	"github.com/dshills/respdiff/internal/terminal"
	docvalidator "github.com/dshills/respdiff/internal/validator"
)

func openStore(cfg *config.Config) (*sqlite.SQLiteRepository, error) {
	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	repo, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return repo, nil
}

// ServeCmd runs the HTTP API.
type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}

	logger.Info("configuration",
		"results_dir", cfg.ResultsDir,
		"database", cfg.DatabasePath(),
		"addr", cfg.Addr,
		"cors_origins", strings.Join(cfg.CORSOrigins, ","),
		"ignore_patterns", len(cfg.IgnorePatterns),
		"scan_workers", cfg.ScanWorkers)

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	differ, err := diff.NewDiffer(diff.WithExcludePatterns(cfg.IgnorePatterns))
	if err != nil {
		return err
	}
	docs, err := docvalidator.New()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	scanner := results.NewScanner(cfg.ResultsDir, differ, cfg.ScanWorkers, logger)
	handler := api.NewHandler(repo, scanner, docs, logger)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Routes(api.CORSConfig{AllowedOrigins: cfg.CORSOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("shutting down server")
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("server starting", "addr", cfg.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	<-stopped
	logger.Info("server stopped")
	return nil
}

// CompareCmd diffs two JSON files.
type CompareCmd struct {
	Left     string   `arg:"" help:"Left JSON file." type:"existingfile"`
	Right    string   `arg:"" help:"Right JSON file." type:"existingfile"`
	Envelope bool     `help:"Compare the response_data of two response envelopes." short:"e"`
	Ignore   []string `help:"Regular expression matching paths to ignore (repeatable)." short:"x"`
	Full     bool     `help:"Also print line differences." short:"f"`
	JSON     bool     `help:"Print the comparison as JSON." short:"j"`
	NoColor  bool     `help:"Disable coloured output."`
	ExitCode bool     `help:"Exit with status 1 when differences are found."`
}

func (c *CompareCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}

	patterns := append(append([]string{}, cfg.IgnorePatterns...), c.Ignore...)
	differ, err := diff.NewDiffer(diff.WithExcludePatterns(patterns))
	if err != nil {
		return err
	}

	left, err := c.read(c.Left)
	if err != nil {
		return err
	}
	right, err := c.read(c.Right)
	if err != nil {
		return err
	}

	res, err := differ.BuildJSON(left, right)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if err := terminal.Render(os.Stdout, res, terminal.Options{ShowLines: c.Full, NoColor: c.NoColor}); err != nil {
		return err
	}

	if c.ExitCode && res.HasDifferences {
		return errDifferences
	}
	return nil
}

func (c *CompareCmd) read(path string) ([]byte, error) {
	if c.Envelope {
		return results.ReadResponseData(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// ExportCmd writes the review state to a file.
type ExportCmd struct {
	Out string `help:"Output file. Defaults to a timestamped name in the working directory." short:"o" type:"path"`
	Zip bool   `help:"Write a zip archive with a markdown review report."`
}

func (c *ExportCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	doc, err := export.Build(context.Background(), repo)
	if err != nil {
		return err
	}

	out := c.Out
	if out == "" {
		out = export.Filename(doc.ExportedAt)
		if c.Zip {
			out = strings.TrimSuffix(out, ".json") + ".zip"
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if c.Zip {
		err = export.WriteZip(doc, f)
	} else {
		err = export.Write(doc, f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	logger.Info("review state exported",
		slog.String("file", out),
		slog.Int("progress", len(doc.Progress)),
		slog.Int("sessions", len(doc.Sessions)))
	return nil
}

// ImportCmd loads an export document into the review store.
type ImportCmd struct {
	File string `arg:"" help:"Export document to import." type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.File, err)
	}
	docs, err := docvalidator.New()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	summary, err := export.Import(context.Background(), repo, docs, data)
	if err != nil {
		return err
	}

	logger.Info("review state imported",
		slog.String("file", c.File),
		slog.Int("progress", summary.Progress),
		slog.Int("sessions", summary.Sessions))
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("respdiff version %s\n", version)
	return nil
}

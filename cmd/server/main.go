// Command server serves a directory tree over HTTP.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/handlers/staticfileserver"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/router"
	"example.com/staticserve/internal/server"
)

const programName = "staticserve"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run loads the configuration and serves until interrupted. It returns the
// process exit code.
func run(args []string, stderr io.Writer) int {
	// A missing .env is normal; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Warning: could not load .env: %v\n", err)
	}

	opts, err := config.ParseFlags(programName, args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	cfg, err := config.Load(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	lg, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := lg.CloseLogFiles(); err != nil {
			log.Printf("Error closing log files during shutdown: %v", err)
		}
	}()

	handler, err := newHandler(cfg, lg)
	if err != nil {
		lg.Error("Failed to build request handler", logger.LogFields{"error": err.Error()})
		return 1
	}
	srv, err := server.NewServer(cfg, lg, handler)
	if err != nil {
		lg.Error("Failed to create server", logger.LogFields{"error": err.Error()})
		return 1
	}

	lg.Info("Starting server", logger.LogFields{
		"address":    cfg.Server.Address(),
		"root":       cfg.Server.RootDirectory,
		"index_page": cfg.Server.IndexPageName,
	})
	if err := srv.Start(); err != nil {
		lg.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
		return 1
	}
	lg.Info("Server shut down gracefully", nil)
	return 0
}

// newHandler wires the router over the local filesystem.
func newHandler(cfg *config.Config, lg *logger.Logger) (http.Handler, error) {
	fsys := staticfileserver.OSFileSystem{}
	pipeline, err := staticfileserver.NewResponsePipeline(&cfg.Server, fsys, lg)
	if err != nil {
		return nil, fmt.Errorf("creating response pipeline: %w", err)
	}
	rt, err := router.NewRequestRouter(&cfg.Server, fsys, pipeline, lg)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	return rt, nil
}

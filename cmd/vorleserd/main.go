// Package main provides the entry point for vorleserd, the audiobook
// catalog and streaming core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/samber/do/v2"

	"github.com/vorleser/vorleser-server/internal/catalog"
	"github.com/vorleser/vorleser-server/internal/config"
	"github.com/vorleser/vorleser-server/internal/di"
	"github.com/vorleser/vorleser-server/internal/domain"
	"github.com/vorleser/vorleser-server/internal/logger"
	"github.com/vorleser/vorleser-server/internal/scanner"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "scan":
		err = runScan(args)
	case "create_library":
		err = runCreateLibrary(args)
	case "create_user":
		err = runCreateUser(args)
	case "sample-config":
		err = runSampleConfig(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "vorleserd %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vorleserd <serve|scan|create_user|create_library|sample-config> [args]")
}

// runServe starts the HTTP server, the periodic scan loop, and (if
// configured) mDNS advertisement, and blocks until SIGINT/SIGTERM.
func runServe(args []string) error {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	log := do.MustInvoke[*logger.Logger](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := injector.ShutdownWithContext(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("shutdown complete")
	return nil
}

// runScan runs a one-shot scan over every known library, blocking on
// scan.lock if another scan (e.g. the periodic loop in a running `serve`)
// holds it.
func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	full := fs.Bool("full", false, "force a full rescan (recompute every hash)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{Level: logger.ParseLevel(cfg.Logger.Level)})

	cat, err := catalog.Open(cfg.Data.Database, log.Logger)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	s := scanner.New(cat, cfg.Data.Directory, log.Logger)

	libraries, err := cat.ListLibraries(context.Background())
	if err != nil {
		return fmt.Errorf("list libraries: %w", err)
	}
	if len(libraries) == 0 {
		log.Warn("no libraries configured, nothing to scan")
		return nil
	}

	for _, lib := range libraries {
		log.Info("scanning", "library_id", lib.ID, "location", lib.Location, "full", *full)
		if err := s.Scan(context.Background(), lib, *full, scanner.LockBlock); err != nil {
			return fmt.Errorf("scan library %s: %w", lib.ID, err)
		}
	}
	return nil
}

// runCreateLibrary registers a new library rooted at path, matched against
// an optional regex (default: every file).
func runCreateLibrary(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: create_library <path> [regex]")
	}
	path := args[0]
	pattern := ".*"
	if len(args) > 1 {
		pattern = args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{Level: logger.ParseLevel(cfg.Logger.Level)})

	cat, err := catalog.Open(cfg.Data.Database, log.Logger)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	lib := &domain.Library{
		ID:               uuid.NewString(),
		Location:         path,
		AudiobookPattern: pattern,
	}
	if err := cat.CreateLibrary(context.Background(), lib); err != nil {
		return fmt.Errorf("create library: %w", err)
	}

	fmt.Printf("created library %s at %s (pattern %q)\n", lib.ID, lib.Location, lib.AudiobookPattern)
	return nil
}

// runCreateUser is a stub: user accounts, authentication, and the
// surrounding REST surface are an external collaborator's concern (§6);
// the `users` table declared in schema.sql is not touched here.
func runCreateUser(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create_user <email> <password>")
	}
	return fmt.Errorf("user accounts are managed by the REST collaborator, not this core")
}

// runSampleConfig prints an annotated .env template covering every key this
// core consumes.
func runSampleConfig(args []string) error {
	fmt.Print(sampleConfigTemplate)
	return nil
}

const sampleConfigTemplate = `# vorleserd configuration. Copy to .env and edit, or set as real
# environment variables / CLI flags (flags take precedence over env,
# env takes precedence over this file).

ENV=development
LOG_LEVEL=info

# Where cached artifacts (<book_id>.<ext>, img/<book_id>) and scan.lock live.
DATA_DIRECTORY=data
# SQLite path. Defaults to <data_directory>/catalog.db if unset.
DATABASE=

# Background periodic scan.
SCAN_ENABLED=false
SCAN_INTERVAL=1h

# HTTP server.
SERVER_PORT=8080
SERVER_READ_TIMEOUT=15s
SERVER_WRITE_TIMEOUT=15s
SERVER_IDLE_TIMEOUT=60s
ADVERTISE_MDNS=true

# ffmpeg binary override; leave unset to auto-detect on PATH.
FFMPEG_PATH=
`

// Command smbdat lists or extracts a .dat game-asset archive.
//
// Usage:
//
//	smbdat [flags] <archive> [destination]
//
// With only an archive path, every file is listed as "<name> <length>".
// With a destination, the archive is extracted below it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/meigma/smbdat"
)

// logLevelEnv selects the slog level (debug, info, warn, error).
const logLevelEnv = "SMBDAT_LOG_LEVEL"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type config struct {
	archive    string
	dest       string
	workers    int
	digests    bool
	noBounds   bool
	cpuProfile string
	logLevel   slog.Level
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// run is the whole program minus process setup. It returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	cfg, err := parseArgs(args, stderr, getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		printErr(stderr, err)
		return exitUsage
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.logLevel}))

	if cfg.cpuProfile != "" {
		stopProfile, err := startCPUProfile(cfg.cpuProfile)
		if err != nil {
			printErr(stderr, err)
			return exitError
		}
		defer stopProfile()
	}

	if err := execute(ctx, cfg, stdout, logger); err != nil {
		printErr(stderr, err)
		return exitError
	}
	return exitOK
}

// printErr writes err to w with a single "smbdat: " prefix. Library errors
// already carry it.
func printErr(w io.Writer, err error) {
	msg := err.Error()
	if !strings.HasPrefix(msg, "smbdat: ") {
		msg = "smbdat: " + msg
	}
	fmt.Fprintln(w, msg)
}

func parseArgs(args []string, stderr io.Writer, getenv func(string) string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("smbdat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: smbdat [flags] <archive> [destination]")
		fs.PrintDefaults()
	}
	fs.IntVar(&cfg.workers, "workers", 1, "files extracted concurrently")
	fs.BoolVar(&cfg.digests, "digests", false, "print the sha256 digest of every extracted file")
	fs.BoolVar(&cfg.noBounds, "no-bounds-check", false, "skip the payload bounds check before extracting")
	fs.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	switch fs.NArg() {
	case 1:
		cfg.archive = fs.Arg(0)
	case 2:
		cfg.archive, cfg.dest = fs.Arg(0), fs.Arg(1)
	default:
		fs.Usage()
		return cfg, fmt.Errorf("expected 1 or 2 arguments, got %d", fs.NArg())
	}
	if cfg.workers < 1 {
		return cfg, fmt.Errorf("workers must be at least 1, got %d", cfg.workers)
	}

	cfg.logLevel = slog.LevelWarn
	if v := strings.TrimSpace(getenv(logLevelEnv)); v != "" {
		if err := cfg.logLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("%s: %w", logLevelEnv, err)
		}
	}
	return cfg, nil
}

func execute(ctx context.Context, cfg config, stdout io.Writer, logger *slog.Logger) error {
	a, err := smbdat.OpenFile(cfg.archive, smbdat.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.dest == "" {
		fmt.Fprintf(stdout, "Listing contents of %q:\n", cfg.archive)
		return smbdat.WriteListing(stdout, a.Catalog)
	}

	fmt.Fprintf(stdout, "Extracting contents to %q\n", cfg.dest)
	stats, err := a.ExtractTo(ctx, cfg.dest,
		smbdat.ExtractWithLogger(logger),
		smbdat.ExtractWithWorkers(cfg.workers),
		smbdat.ExtractWithDigests(cfg.digests),
		smbdat.ExtractWithBoundsCheck(!cfg.noBounds),
		smbdat.ExtractWithProgress(func(ev smbdat.ProgressEvent) {
			logger.Debug("progress", "stage", ev.Stage, "path", ev.Path,
				"files", ev.FilesDone, "of", ev.FilesTotal,
				"bytes", humanize.Bytes(ev.BytesDone))
		}),
	)
	if err != nil {
		return err
	}

	if cfg.digests {
		names := make([]string, 0, len(stats.Digests))
		for name := range stats.Digests {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(stdout, "%s  %s\n", stats.Digests[name].Encoded(), name)
		}
	}
	fmt.Fprintf(stdout, "%d files, %s\n", stats.Files, humanize.Bytes(stats.Bytes))
	return nil
}

func startCPUProfile(path string) (func(), error) {
	f, err := os.Create(path) //nolint:gosec // user-provided profile path
	if err != nil {
		return nil, fmt.Errorf("cpuprofile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("cpuprofile: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

package smbdat

import "log/slog"

// DefaultMaxEntries is the default per-table record limit used when no
// WithMaxEntries option is set.
const DefaultMaxEntries = 1_000_000

// Option configures catalog construction.
type Option func(*buildConfig)

type buildConfig struct {
	maxEntries uint32
	logger     *slog.Logger
}

// WithMaxEntries limits the folder and file counts a header may declare.
// Counts above the limit fail with ErrTooManyEntries before any record is
// allocated. Set limit to 0 to disable the limit.
func WithMaxEntries(limit uint32) Option {
	return func(c *buildConfig) {
		c.maxEntries = limit
	}
}

// WithLogger sets the logger for catalog construction.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	boundsCheck bool
	digests     bool
	workers     int
	progress    ProgressFunc
	logger      *slog.Logger
}

// ExtractWithBoundsCheck controls whether every entry's byte range is
// checked against the archive size before anything is written (default:
// true). When disabled, an entry that runs past the end of the archive
// fails mid-copy with ErrCopyTruncated.
func ExtractWithBoundsCheck(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.boundsCheck = enabled
	}
}

// ExtractWithDigests computes a sha256 digest of every payload while it is
// written. Digests are reported in progress events and ExtractStats.
func ExtractWithDigests(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.digests = enabled
	}
}

// ExtractWithWorkers sets the number of files written concurrently.
//
// Values > 1 take effect only when the source implements io.ReaderAt; each
// worker then reads through its own section of the source and the shared
// seek position is never used. Values <= 1 extract serially in catalog
// order (the default).
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithProgress sets a callback to receive progress updates.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}

// ExtractWithLogger sets the logger for extraction.
// If not set, logging is disabled.
func ExtractWithLogger(logger *slog.Logger) ExtractOption {
	return func(c *extractConfig) {
		c.logger = logger
	}
}

// discard returns logger, falling back to a discard logger if nil.
func discard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

package smbdat

import (
	"errors"
	"fmt"

	"github.com/meigma/smbdat/internal/copier"
	"github.com/meigma/smbdat/internal/fsutil"
	"github.com/meigma/smbdat/internal/strtab"
	"github.com/meigma/smbdat/internal/table"
)

// Errors re-exported from the internal decoders.
var (
	// ErrTruncatedRead is returned when fewer bytes are available than a
	// fixed-width field or declared blob length requires.
	ErrTruncatedRead = table.ErrTruncated

	// ErrBlobTooLarge is returned when a string table declares more bytes
	// than the stream has left.
	ErrBlobTooLarge = table.ErrBlobTooLarge

	// ErrUnterminatedToken is returned when a string table is missing a
	// terminator before the end of its buffer.
	ErrUnterminatedToken = strtab.ErrUnterminated

	// ErrTooFewTokens is returned when a string table holds fewer names than
	// its records require.
	ErrTooFewTokens = strtab.ErrTooFew

	// ErrNotADirectory is returned when a destination path component exists
	// and is not a directory.
	ErrNotADirectory = fsutil.ErrNotADirectory

	// ErrUnsafePath is returned when an archive name would resolve outside
	// the destination root.
	ErrUnsafePath = fsutil.ErrUnsafePath

	// ErrCopyTruncated is returned when a payload read or write transfers
	// fewer bytes than required.
	ErrCopyTruncated = copier.ErrShort
)

// Sentinel errors specific to the smbdat package.
var (
	// ErrOpenFailed is returned when the archive cannot be opened.
	ErrOpenFailed = errors.New("smbdat: open failed")

	// ErrIOFailure is returned for filesystem or stream failures that are
	// not covered by a more specific kind.
	ErrIOFailure = errors.New("smbdat: i/o failure")

	// ErrOutOfBounds is returned when an entry's byte range extends past
	// the end of the archive.
	ErrOutOfBounds = errors.New("smbdat: entry out of bounds")

	// ErrTooManyEntries is returned when a header declares more records
	// than the configured limit.
	ErrTooManyEntries = errors.New("smbdat: too many entries")

	// ErrNotFound is returned when a named entry is not in the catalog.
	ErrNotFound = errors.New("smbdat: entry not found")
)

// Stage identifies the part of the header being decoded.
type Stage uint8

// Parse stages, in decoding order.
const (
	StageFolderCount Stage = iota
	StageFolderRecords
	StageFileCount
	StageFileRecords
	StageFolderTable
	StageFileTable
	StageFolderNames
	StageFileEntries
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageFolderCount:
		return "folder count"
	case StageFolderRecords:
		return "folder records"
	case StageFileCount:
		return "file count"
	case StageFileRecords:
		return "file records"
	case StageFolderTable:
		return "folder table"
	case StageFileTable:
		return "file table"
	case StageFolderNames:
		return "folder names"
	case StageFileEntries:
		return "file entries"
	default:
		return "unknown"
	}
}

// ParseError reports which stage of catalog construction failed.
type ParseError struct {
	Stage Stage
	// Index is the record being decoded, or -1 when the stage is not
	// per-record.
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("smbdat: parse %s [%d]: %v", e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("smbdat: parse %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractError reports the entry and operation on which extraction failed.
type ExtractError struct {
	Op   string
	Name string
	Err  error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("smbdat: %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

func parseErr(stage Stage, index int, err error) error {
	return &ParseError{Stage: stage, Index: index, Err: err}
}

// ioErr tags an error as ErrIOFailure while keeping it in the chain.
func ioErr(err error) error {
	return fmt.Errorf("%w: %w", ErrIOFailure, err)
}

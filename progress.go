package smbdat

import "github.com/opencontainers/go-digest"

// ProgressEvent represents a progress update during extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the extraction.
	Stage ProgressStage

	// Path is the archive name of the folder or file just completed.
	Path string

	// BytesDone is the number of payload bytes written so far.
	BytesDone uint64

	// BytesTotal is the sum of all file lengths in the catalog.
	BytesTotal uint64

	// FilesDone is the number of folders or files completed in this stage.
	FilesDone int

	// FilesTotal is the number of folders or files in this stage.
	FilesTotal int

	// Digest is the payload digest of the completed file. It is empty
	// unless ExtractWithDigests is enabled.
	Digest digest.Digest
}

// ProgressStage identifies the current phase of an extraction.
type ProgressStage uint8

// Progress stages for extraction.
const (
	// StageFolders indicates folders are being created.
	StageFolders ProgressStage = iota

	// StageFiles indicates file payloads are being written.
	StageFiles
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageFolders:
		return "folders"
	case StageFiles:
		return "files"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during extraction.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

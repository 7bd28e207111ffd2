package testutil

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestFile holds data for building a test archive entry.
type TestFile struct {
	Name     string
	DirIndex uint32
	Data     []byte
}

// Record is a raw file record as stored on the wire.
type Record struct {
	Offset   uint32
	Length   uint32
	DirIndex uint32
}

// RawArchive describes every header field explicitly, so tests can build
// malformed archives. Counts are written as given and need not match the
// number of records or table tokens.
type RawArchive struct {
	FolderCount uint32
	// FolderRecords holds two values per folder. Missing values are
	// written as zero up to FolderCount; extra values are written too.
	FolderRecords []uint32
	FileCount     uint32
	FileRecords   []Record
	FolderTable   []byte
	FileTable     []byte
	// Trailer is appended after the file table (usually payload bytes).
	Trailer []byte
	// OmitTables stops after the file records.
	OmitTables bool
}

// Bytes encodes the archive.
func (a *RawArchive) Bytes() []byte {
	var buf bytes.Buffer
	putU32(&buf, a.FolderCount)
	folderVals := max(2*int(a.FolderCount), len(a.FolderRecords))
	for i := range folderVals {
		var v uint32
		if i < len(a.FolderRecords) {
			v = a.FolderRecords[i]
		}
		putU32(&buf, v)
	}
	putU32(&buf, a.FileCount)
	for _, r := range a.FileRecords {
		putU32(&buf, r.Offset)
		putU32(&buf, r.Length)
		putU32(&buf, r.DirIndex)
	}
	if !a.OmitTables {
		putU32(&buf, uint32(len(a.FolderTable))) //nolint:gosec // test tables are small
		buf.Write(a.FolderTable)
		putU32(&buf, uint32(len(a.FileTable))) //nolint:gosec // test tables are small
		buf.Write(a.FileTable)
	}
	buf.Write(a.Trailer)
	return buf.Bytes()
}

// HeaderSize returns the encoded size of everything before Trailer.
func (a *RawArchive) HeaderSize() int {
	n := 4 + 4*max(2*int(a.FolderCount), len(a.FolderRecords)) + 4 + 12*len(a.FileRecords)
	if !a.OmitTables {
		n += 4 + len(a.FolderTable) + 4 + len(a.FileTable)
	}
	return n
}

// StringTable concatenates names, terminating each with a NUL byte.
func StringTable(names ...string) []byte {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// BuildArchive encodes a well-formed archive. File payloads are stored
// after the string tables in the order given, and each record points at
// its payload by absolute offset.
func BuildArchive(tb testing.TB, folders []string, files []TestFile) []byte {
	tb.Helper()

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	a := &RawArchive{
		FolderCount: uint32(len(folders)), //nolint:gosec // test sizes are small
		FileCount:   uint32(len(files)),   //nolint:gosec // test sizes are small
		FileRecords: make([]Record, len(files)),
		FolderTable: StringTable(folders...),
		FileTable:   StringTable(names...),
	}

	offset := a.HeaderSize()
	var payload bytes.Buffer
	for i, f := range files {
		a.FileRecords[i] = Record{
			Offset:   uint32(offset + payload.Len()), //nolint:gosec // test sizes are small
			Length:   uint32(len(f.Data)),            //nolint:gosec // test sizes are small
			DirIndex: f.DirIndex,
		}
		payload.Write(f.Data)
	}
	a.Trailer = payload.Bytes()
	return a.Bytes()
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

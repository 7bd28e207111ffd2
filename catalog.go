package smbdat

import (
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/meigma/smbdat/internal/sizing"
	"github.com/meigma/smbdat/internal/strtab"
	"github.com/meigma/smbdat/internal/table"
)

// Record sizes on the wire.
const (
	folderRecordSize = 8  // two unused uint32 fields
	fileRecordSize   = 12 // offset, length, dirIndex
)

// FileEntry is one file record paired with its name.
type FileEntry struct {
	// Offset is the absolute position of the payload in the archive.
	Offset uint32

	// Length is the payload size in bytes.
	Length uint32

	// DirIndex is the folder index recorded for the file. It is not used
	// for placement; Name already carries the full relative path.
	DirIndex uint32

	// Name is the file's slash-separated path relative to the archive root.
	Name string
}

// End returns the position one past the last payload byte.
func (e FileEntry) End() uint64 {
	return sizing.End(e.Offset, e.Length)
}

// Catalog is the parsed index of an archive.
//
// A Catalog is immutable once built and safe for concurrent use. It holds
// no reference to the stream it was built from.
type Catalog struct {
	folders     []string
	files       []FileEntry
	folderTable []byte
	fileTable   []byte
	byName      map[string]int
	totalBytes  uint64
	sourceSize  int64

	folderRecordsPos int64
	fileRecordsPos   int64
}

// Build decodes the archive header from r into a Catalog.
//
// Decoding starts at offset 0 and leaves r positioned after the last file
// record. Any failure returns a *ParseError and no Catalog.
//
//nolint:gocognit,gocyclo // staged decoding reads clearer as one function
func Build(r io.ReadSeeker, opts ...Option) (*Catalog, error) {
	cfg := buildConfig{maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := discard(cfg.logger)

	tr := table.NewReader(r)
	if err := tr.Seek(0); err != nil {
		return nil, parseErr(StageFolderCount, -1, ioErr(err))
	}
	size, err := tr.Size()
	if err != nil {
		return nil, parseErr(StageFolderCount, -1, ioErr(err))
	}
	c := &Catalog{sourceSize: size}

	// Folder records carry nothing extraction needs; folder identity comes
	// from the folder string table alone.
	folderCount, err := tr.ReadU32()
	if err != nil {
		return nil, parseErr(StageFolderCount, -1, err)
	}
	if err := cfg.checkCount(folderCount); err != nil {
		return nil, parseErr(StageFolderCount, -1, err)
	}
	if c.folderRecordsPos, err = tr.Pos(); err != nil {
		return nil, parseErr(StageFolderRecords, -1, ioErr(err))
	}
	if err := tr.Skip(int64(folderCount) * folderRecordSize); err != nil {
		return nil, parseErr(StageFolderRecords, -1, ioErr(err))
	}

	fileCount, err := tr.ReadU32()
	if err != nil {
		return nil, parseErr(StageFileCount, -1, err)
	}
	if err := cfg.checkCount(fileCount); err != nil {
		return nil, parseErr(StageFileCount, -1, err)
	}
	if c.fileRecordsPos, err = tr.Pos(); err != nil {
		return nil, parseErr(StageFileRecords, -1, ioErr(err))
	}
	if err := tr.Skip(int64(fileCount) * fileRecordSize); err != nil {
		return nil, parseErr(StageFileRecords, -1, ioErr(err))
	}
	log.Debug("archive header", "folders", folderCount, "files", fileCount, "size", size)

	if c.folderTable, err = readTable(tr, size); err != nil {
		return nil, parseErr(StageFolderTable, -1, err)
	}
	if c.fileTable, err = readTable(tr, size); err != nil {
		return nil, parseErr(StageFileTable, -1, err)
	}
	log.Debug("string tables read", "folder_table", len(c.folderTable), "file_table", len(c.fileTable))

	n, err := sizing.ToInt(uint64(folderCount))
	if err != nil {
		return nil, parseErr(StageFolderNames, -1, err)
	}
	if c.folders, err = strtab.New(c.folderTable).Take(n); err != nil {
		return nil, parseErr(StageFolderNames, -1, err)
	}

	if err := tr.Seek(c.fileRecordsPos); err != nil {
		return nil, parseErr(StageFileEntries, -1, ioErr(err))
	}
	names := strtab.New(c.fileTable)
	c.files = make([]FileEntry, fileCount)
	c.byName = make(map[string]int, fileCount)
	for i := range c.files {
		rec, err := tr.ReadU32s(3)
		if err != nil {
			return nil, parseErr(StageFileEntries, i, err)
		}
		name, ok, err := names.NextString()
		if err != nil {
			return nil, parseErr(StageFileEntries, i, err)
		}
		if !ok {
			return nil, parseErr(StageFileEntries, i,
				fmt.Errorf("%w: got %d, want %d", ErrTooFewTokens, i, fileCount))
		}
		c.files[i] = FileEntry{Offset: rec[0], Length: rec[1], DirIndex: rec[2], Name: name}
		if _, dup := c.byName[name]; !dup {
			c.byName[name] = i
		}
		c.totalBytes += uint64(rec[1])
	}

	log.Debug("catalog built", "folders", len(c.folders), "files", len(c.files), "total_bytes", c.totalBytes)
	return c, nil
}

func (cfg *buildConfig) checkCount(n uint32) error {
	if cfg.maxEntries > 0 && n > cfg.maxEntries {
		return fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyEntries, n, cfg.maxEntries)
	}
	return nil
}

// readTable reads a length-prefixed string table, refusing to allocate
// more than the stream has left.
func readTable(tr *table.Reader, size int64) ([]byte, error) {
	pos, err := tr.Pos()
	if err != nil {
		return nil, ioErr(err)
	}
	var limit uint64
	if rem := size - pos - 4; rem > 0 {
		limit = uint64(rem)
	}
	return tr.ReadBlob(limit)
}

// Len returns the number of files in the catalog.
func (c *Catalog) Len() int {
	return len(c.files)
}

// FolderCount returns the number of folders in the catalog.
func (c *Catalog) FolderCount() int {
	return len(c.folders)
}

// FolderNames returns the folder names in catalog order.
func (c *Catalog) FolderNames() []string {
	return slices.Clone(c.folders)
}

// Folders returns an iterator over folder indexes and names in catalog order.
func (c *Catalog) Folders() iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		for i, name := range c.folders {
			if !yield(i, name) {
				return
			}
		}
	}
}

// Files returns a copy of the file entries in catalog order.
func (c *Catalog) Files() []FileEntry {
	return slices.Clone(c.files)
}

// Entries returns an iterator over file indexes and entries in catalog order.
func (c *Catalog) Entries() iter.Seq2[int, FileEntry] {
	return func(yield func(int, FileEntry) bool) {
		for i, e := range c.files {
			if !yield(i, e) {
				return
			}
		}
	}
}

// File returns the i-th file entry.
func (c *Catalog) File(i int) (FileEntry, bool) {
	if i < 0 || i >= len(c.files) {
		return FileEntry{}, false
	}
	return c.files[i], true
}

// Lookup returns the first file entry with the given name.
func (c *Catalog) Lookup(name string) (FileEntry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return FileEntry{}, false
	}
	return c.files[i], true
}

// FolderOf returns the folder name that e.DirIndex refers to. ok is false
// when the index is out of range.
func (c *Catalog) FolderOf(e FileEntry) (string, bool) {
	if uint64(e.DirIndex) >= uint64(len(c.folders)) {
		return "", false
	}
	return c.folders[e.DirIndex], true
}

// TotalBytes returns the sum of all file lengths.
func (c *Catalog) TotalBytes() uint64 {
	return c.totalBytes
}

// SourceSize returns the size of the stream the catalog was built from.
func (c *Catalog) SourceSize() int64 {
	return c.sourceSize
}

// RecordOffsets returns the archive positions of the first folder record
// and the first file record.
func (c *Catalog) RecordOffsets() (folders, files int64) {
	return c.folderRecordsPos, c.fileRecordsPos
}

// FolderTable returns the raw folder string table.
// The returned slice aliases catalog memory and must be treated as immutable.
func (c *Catalog) FolderTable() []byte {
	return c.folderTable
}

// FileTable returns the raw file string table.
// The returned slice aliases catalog memory and must be treated as immutable.
func (c *Catalog) FileTable() []byte {
	return c.fileTable
}

// Validate checks that every entry lies within a source of the given size.
// It returns an error wrapping ErrOutOfBounds for the first entry that
// does not.
func (c *Catalog) Validate(size int64) error {
	if e, ok := c.outOfBounds(size); ok {
		return outOfBoundsErr(e, size)
	}
	return nil
}

// outOfBounds returns the first entry that extends past size.
func (c *Catalog) outOfBounds(size int64) (FileEntry, bool) {
	for _, e := range c.files {
		if !sizing.InBounds(e.Offset, e.Length, size) {
			return e, true
		}
	}
	return FileEntry{}, false
}

func outOfBoundsErr(e FileEntry, size int64) error {
	return fmt.Errorf("%w: %q range %d+%d, archive size %d", ErrOutOfBounds, e.Name, e.Offset, e.Length, size)
}

package smbdat

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/smbdat/internal/copier"
	"github.com/meigma/smbdat/internal/testutil"
)

// extractAll builds the archive, then extracts it serially to a new temp dir.
func extractAll(t *testing.T, folders []string, files []testutil.TestFile, opts ...ExtractOption) (string, ExtractStats, error) {
	t.Helper()
	c, data := buildCatalog(t, folders, files)
	dest := filepath.Join(t.TempDir(), "out")
	stats, err := Extract(context.Background(), c, testutil.NewSeekOnly(bytes.NewReader(data)), dest, opts...)
	return dest, stats, err
}

func TestExtract_WritesTree(t *testing.T) {
	t.Parallel()

	files := []testutil.TestFile{
		{Name: "a/x.bin", DirIndex: 0, Data: []byte("hello")},
		{Name: "b/y.bin", DirIndex: 1, Data: testutil.Pattern(1000, 3)},
		{Name: "a/sub/z.bin", DirIndex: 2, Data: []byte("z")},
		{Name: "root.bin", Data: []byte("root")},
		{Name: "b/empty.bin", DirIndex: 1},
	}
	dest, stats, err := extractAll(t, []string{"a", "b", "a/sub", "unused"}, files)
	require.NoError(t, err)

	want := make(map[string][]byte, len(files))
	var total uint64
	for _, f := range files {
		want[f.Name] = f.Data
		if f.Data == nil {
			want[f.Name] = []byte{}
		}
		total += uint64(len(f.Data))
	}
	assert.Equal(t, want, testutil.Tree(t, dest))

	info, err := os.Stat(filepath.Join(dest, "unused"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Equal(t, 4, stats.Folders)
	assert.Equal(t, len(files), stats.Files)
	assert.Equal(t, total, stats.Bytes)
	assert.Nil(t, stats.Digests)
}

func TestExtract_ChunkBoundaries(t *testing.T) {
	t.Parallel()

	sizes := []int{copier.ChunkSize - 1, copier.ChunkSize, copier.ChunkSize + 1, 3*copier.ChunkSize + 17}
	files := make([]testutil.TestFile, len(sizes))
	for i, n := range sizes {
		files[i] = testutil.TestFile{Name: fmt.Sprintf("f%d.bin", n), Data: testutil.Pattern(n, byte(i+1))}
	}
	dest, _, err := extractAll(t, nil, files)
	require.NoError(t, err)

	tree := testutil.Tree(t, dest)
	for _, f := range files {
		got, ok := tree[f.Name]
		require.True(t, ok, f.Name)
		assert.Len(t, got, len(f.Data), f.Name)
		assert.True(t, bytes.Equal(f.Data, got), f.Name)
	}
}

func TestExtract_IgnoresDirIndex(t *testing.T) {
	t.Parallel()

	// The record claims folder "a" but the name places the file under "b".
	dest, _, err := extractAll(t, []string{"a", "b"}, []testutil.TestFile{
		{Name: "b/y.bin", DirIndex: 0, Data: []byte("y")},
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "b", "y.bin"))
	assert.NoFileExists(t, filepath.Join(dest, "a", "y.bin"))
}

func TestExtract_CreatesMissingParents(t *testing.T) {
	t.Parallel()

	dest, _, err := extractAll(t, nil, []testutil.TestFile{
		{Name: "deep/er/file.bin", Data: []byte("d")},
		{Name: `win\style.bin`, Data: []byte("w")},
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "deep", "er", "file.bin"))
	assert.FileExists(t, filepath.Join(dest, "win", "style.bin"))
}

func TestExtract_Idempotent(t *testing.T) {
	t.Parallel()

	files := []testutil.TestFile{{Name: "a/x.bin", Data: []byte("new")}}
	c, data := buildCatalog(t, []string{"a"}, files)
	dest := t.TempDir()

	// A longer pre-existing file must be truncated, not overlaid.
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a", "x.bin"), []byte("much longer old content"), 0o644))

	for range 2 {
		_, err := Extract(context.Background(), c, bytes.NewReader(data), dest)
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dest, "a", "x.bin"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	}
}

func TestExtract_DestinationIsFile(t *testing.T) {
	t.Parallel()

	c, data := buildCatalog(t, nil, []testutil.TestFile{{Name: "x", Data: []byte("x")}})
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(dest, []byte("file"), 0o644))

	_, err := Extract(context.Background(), c, bytes.NewReader(data), filepath.Join(dest, "sub"))
	require.ErrorIs(t, err, ErrNotADirectory)

	var xe *ExtractError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "mkdir", xe.Op)
}

func TestExtract_FolderBlockedByFile(t *testing.T) {
	t.Parallel()

	c, data := buildCatalog(t, []string{"a", "b"}, []testutil.TestFile{{Name: "a/x", Data: []byte("x")}})
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "b"), []byte("in the way"), 0o644))

	stats, err := Extract(context.Background(), c, bytes.NewReader(data), dest)
	require.ErrorIs(t, err, ErrNotADirectory)

	var xe *ExtractError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "b", xe.Name)
	assert.Equal(t, 1, stats.Folders)
	assert.Zero(t, stats.Files)
}

func TestExtract_OutOfBounds(t *testing.T) {
	t.Parallel()

	raw := &testutil.RawArchive{
		FileCount:   2,
		FileRecords: []testutil.Record{{Offset: 0, Length: 4}, {Offset: 1 << 20, Length: 4}},
		FileTable:   testutil.StringTable("ok.bin", "bad.bin"),
	}
	data := raw.Bytes()
	c, err := Build(bytes.NewReader(data))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	_, err = Extract(context.Background(), c, bytes.NewReader(data), dest)
	require.ErrorIs(t, err, ErrOutOfBounds)

	var xe *ExtractError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "bad.bin", xe.Name)

	// Validation happens before anything is written.
	assert.NoDirExists(t, dest)
}

func TestExtract_TruncatedPayloadLeavesPartialFile(t *testing.T) {
	t.Parallel()

	payload := testutil.Pattern(copier.ChunkSize+5, 9)
	raw := &testutil.RawArchive{
		FileCount:   1,
		FileRecords: []testutil.Record{{Length: copier.ChunkSize + 10}},
		FileTable:   testutil.StringTable("short.bin"),
		Trailer:     payload,
	}
	raw.FileRecords[0].Offset = uint32(raw.HeaderSize())
	data := raw.Bytes()

	c, err := Build(bytes.NewReader(data))
	require.NoError(t, err)

	dest := t.TempDir()
	_, err = Extract(context.Background(), c, bytes.NewReader(data), dest, ExtractWithBoundsCheck(false))
	require.ErrorIs(t, err, ErrCopyTruncated)

	var xe *ExtractError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, "copy", xe.Op)

	got, err := os.ReadFile(filepath.Join(dest, "short.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload[:copier.ChunkSize], got)
}

func TestExtract_FailFast(t *testing.T) {
	t.Parallel()

	dest, stats, err := extractAll(t, nil, []testutil.TestFile{
		{Name: "first.bin", Data: []byte("1")},
		{Name: "../escape.bin", Data: []byte("2")},
		{Name: "third.bin", Data: []byte("3")},
	})
	require.ErrorIs(t, err, ErrUnsafePath)

	assert.FileExists(t, filepath.Join(dest, "first.bin"))
	assert.NoFileExists(t, filepath.Join(dest, "third.bin"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "escape.bin"))
	assert.Equal(t, 1, stats.Files)
}

func TestExtract_RejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		folders []string
		files   []testutil.TestFile
	}{
		{"folder escape", []string{"../up"}, nil},
		{"folder dot", []string{"a/./b"}, nil},
		{"file escape", nil, []testutil.TestFile{{Name: "a/../../x"}}},
		{"empty file name", nil, []testutil.TestFile{{Name: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := extractAll(t, tt.folders, tt.files)
			require.ErrorIs(t, err, ErrUnsafePath)
		})
	}
}

func TestExtract_LeadingSlashStaysInside(t *testing.T) {
	t.Parallel()

	dest, _, err := extractAll(t, []string{"/abs"}, []testutil.TestFile{{Name: "/abs/f.bin", Data: []byte("f")}})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "abs", "f.bin"))
}

func TestExtract_Digests(t *testing.T) {
	t.Parallel()

	files := []testutil.TestFile{
		{Name: "a.bin", Data: testutil.Pattern(copier.ChunkSize*2+1, 1)},
		{Name: "b.bin", Data: []byte("bee")},
		{Name: "empty.bin"},
	}
	_, stats, err := extractAll(t, nil, files, ExtractWithDigests(true))
	require.NoError(t, err)

	require.Len(t, stats.Digests, len(files))
	for _, f := range files {
		assert.Equal(t, digest.FromBytes(f.Data), stats.Digests[f.Name], f.Name)
	}
}

func TestExtract_Progress(t *testing.T) {
	t.Parallel()

	files := []testutil.TestFile{
		{Name: "a/1", Data: []byte("11")},
		{Name: "a/2", Data: []byte("222")},
	}
	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	_, _, err := extractAll(t, []string{"a"}, files, ExtractWithProgress(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, StageFolders, events[0].Stage)
	assert.Equal(t, "a", events[0].Path)
	assert.Equal(t, 1, events[0].FilesTotal)

	assert.Equal(t, StageFiles, events[1].Stage)
	assert.Equal(t, "a/1", events[1].Path)
	assert.Equal(t, uint64(2), events[1].BytesDone)

	last := events[2]
	assert.Equal(t, 2, last.FilesDone)
	assert.Equal(t, 2, last.FilesTotal)
	assert.Equal(t, uint64(5), last.BytesDone)
	assert.Equal(t, uint64(5), last.BytesTotal)
	assert.Empty(t, last.Digest)
}

func TestExtract_Canceled(t *testing.T) {
	t.Parallel()

	c, data := buildCatalog(t, nil, []testutil.TestFile{{Name: "x", Data: []byte("x")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "out")
	_, err := Extract(ctx, c, bytes.NewReader(data), dest)
	require.ErrorIs(t, err, context.Canceled)

	var xe *ExtractError
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, dest, xe.Name)
	assert.NoDirExists(t, dest)
}

func TestExtract_CanceledMidway(t *testing.T) {
	t.Parallel()

	var files []testutil.TestFile
	for i := range 50 {
		files = append(files, testutil.TestFile{Name: fmt.Sprintf("f%02d", i), Data: []byte{byte(i)}})
	}
	c, data := buildCatalog(t, nil, files)

	for _, workers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			_, err := Extract(ctx, c, bytes.NewReader(data), t.TempDir(),
				ExtractWithWorkers(workers),
				ExtractWithProgress(func(ProgressEvent) { cancel() }))
			require.ErrorIs(t, err, context.Canceled)

			var xe *ExtractError
			require.ErrorAs(t, err, &xe)
			assert.NotEmpty(t, xe.Name)
			assert.NotEqual(t, "f00", xe.Name)
		})
	}
}

func TestExtract_ParallelMatchesSerial(t *testing.T) {
	t.Parallel()

	var files []testutil.TestFile
	folders := []string{"d0", "d1", "d2"}
	for i := range 40 {
		files = append(files, testutil.TestFile{
			Name:     fmt.Sprintf("d%d/file%02d.bin", i%3, i),
			DirIndex: uint32(i % 3), //nolint:gosec // small test values
			Data:     testutil.Pattern((i*7919)%(2*copier.ChunkSize), byte(i)),
		})
	}
	c, data := buildCatalog(t, folders, files)

	serialDest := t.TempDir()
	serialStats, err := Extract(context.Background(), c, testutil.NewSeekOnly(bytes.NewReader(data)), serialDest,
		ExtractWithDigests(true))
	require.NoError(t, err)

	parallelDest := t.TempDir()
	parallelStats, err := Extract(context.Background(), c, bytes.NewReader(data), parallelDest,
		ExtractWithWorkers(4), ExtractWithDigests(true))
	require.NoError(t, err)

	assert.Equal(t, testutil.Tree(t, serialDest), testutil.Tree(t, parallelDest))
	assert.Equal(t, serialStats, parallelStats)
}

func TestExtract_ParallelFailFast(t *testing.T) {
	t.Parallel()

	files := []testutil.TestFile{
		{Name: "ok1", Data: []byte("1")},
		{Name: "../bad", Data: []byte("2")},
		{Name: "ok2", Data: []byte("3")},
	}
	c, data := buildCatalog(t, nil, files)

	_, err := Extract(context.Background(), c, bytes.NewReader(data), t.TempDir(), ExtractWithWorkers(2))
	require.ErrorIs(t, err, ErrUnsafePath)
}

func TestExtract_DuplicateNamesLastWins(t *testing.T) {
	t.Parallel()

	files := []testutil.TestFile{
		{Name: "same.bin", Data: []byte("first")},
		{Name: "same.bin", Data: []byte("second")},
	}
	c, data := buildCatalog(t, nil, files)
	dest := t.TempDir()

	_, err := Extract(context.Background(), c, bytes.NewReader(data), dest, ExtractWithWorkers(8))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dest, "same.bin"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

package blockfs

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stamp = "Jan  2 15:04"

// newTestTree returns a tree over a volume of blocks*blockSize bytes with
// invariant checks on and a fixed clock.
func newTestTree(t *testing.T, blocks, blockSize int64) *Tree {
	t.Helper()
	logger, _ := test.NewNullLogger()
	tree, err := Create(blocks*blockSize, blockSize,
		WithLogger(logger),
		WithInvariantChecks(true),
		WithClock(func() string { return "Feb  3 04:05" }),
	)
	require.NoError(t, err)
	return tree
}

func TestTree(t *testing.T) {
	tree := newTestTree(t, 1024, 16)

	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("/file.%04d.txt", i+2)
		require.NoError(t, tree.AddFile(name, int64(i), stamp))
	}
	require.Len(t, tree.List(), 100)

	require.NoError(t, tree.AddDirectory("dir0001"))
	require.NoError(t, tree.ChangeDirectory("dir0001"))
	require.NoError(t, tree.AddDirectory("dir0002"))
	assert.Equal(t, "/dir0001", tree.Cwd())

	dir, err := tree.ResolveDirectory("/dir0001/dir0002")
	require.NoError(t, err)
	assert.Equal(t, "/dir0001/dir0002", dir.Path)

	// move every file below dir0002
	require.NoError(t, tree.ChangeDirectory("/"))
	for _, name := range tree.List() {
		if !strings.HasPrefix(name, "file") {
			continue
		}
		require.NoError(t, tree.Rename("/"+name, "/dir0001/dir0002/"+name))
	}
	assert.Equal(t, []string{"dir0001"}, tree.List())

	total, err := tree.TotalLogicalSize("/dir0001")
	require.NoError(t, err)
	assert.EqualValues(t, 99*100/2, total)

	var visited int
	err = tree.Walk("/", func(s *Stat, depth int) error {
		visited++
		if s.Kind == KindFile {
			assert.Equal(t, 3, depth, s.Path)
			assert.True(t, strings.HasPrefix(s.Path, "/dir0001/dir0002/file."), s.Path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 103, visited)
	require.NoError(t, tree.Verify())
}

// TestFileGrowth follows a file through growth and shrink with 4 byte blocks.
func TestFileGrowth(t *testing.T) {
	tree := newTestTree(t, 10, 4)
	require.NoError(t, tree.AddDirectory("/a"))

	require.NoError(t, tree.AddFile("/a/b.txt", 5, stamp))
	s, err := tree.Stat("/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, s.Blocks)
	assert.Equal(t, stamp, s.Timestamp)

	require.NoError(t, tree.SetSize("/a/b.txt", 9))
	s, err = tree.Stat("/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, s.Blocks)
	assert.Equal(t, "Feb  3 04:05", s.Timestamp)

	require.NoError(t, tree.SetSize("/a/b.txt", 2))
	s, err = tree.Stat("/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, s.Blocks)
	assert.EqualValues(t, 9, tree.Allocator().FreeTotal())

	// same size again changes nothing
	require.NoError(t, tree.SetSize("/a/b.txt", 2))
	s, err = tree.Stat("/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, s.Blocks)
	assert.EqualValues(t, 2, s.Size())
}

func TestAppendRemove(t *testing.T) {
	tree := newTestTree(t, 8, 10)
	require.NoError(t, tree.AddFile("f", 15, stamp))

	require.NoError(t, tree.Append("f", 30))
	s, err := tree.Stat("f")
	require.NoError(t, err)
	assert.EqualValues(t, 45, s.Bytes)
	assert.Len(t, s.Blocks, 5)

	require.NoError(t, tree.RemoveBytes("f", 20))
	s, err = tree.Stat("f")
	require.NoError(t, err)
	assert.EqualValues(t, 25, s.Bytes)
	assert.Len(t, s.Blocks, 3)

	// underflow clamps at zero
	require.NoError(t, tree.RemoveBytes("f", 1000))
	s, err = tree.Stat("f")
	require.NoError(t, err)
	assert.EqualValues(t, 0, s.Bytes)
	assert.Empty(t, s.Blocks)
	assert.EqualValues(t, 8, tree.Allocator().FreeTotal())

	assert.ErrorIs(t, tree.Append("f", -1), ErrInvalid)
	assert.ErrorIs(t, tree.RemoveBytes("f", -1), ErrInvalid)
	assert.ErrorIs(t, tree.SetSize("f", -1), ErrInvalid)
}

func TestAppendInsufficientSpace(t *testing.T) {
	tree := newTestTree(t, 4, 10)
	require.NoError(t, tree.AddFile("/f", 25, stamp))
	before, err := tree.Stat("/f")
	require.NoError(t, err)

	err = tree.Append("/f", 100)
	require.ErrorIs(t, err, ErrInsufficientSpace)
	var pe *fs.PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "append", pe.Op)
	assert.Equal(t, "/f", pe.Path)

	after, err := tree.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 1, tree.Allocator().FreeTotal())
}

func TestAddFileInsufficientSpace(t *testing.T) {
	tree := newTestTree(t, 4, 10)

	err := tree.AddFile("/big", 41, stamp)
	require.ErrorIs(t, err, ErrInsufficientSpace)
	_, err = tree.Stat("/big")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, tree.List())
	assert.EqualValues(t, 4, tree.Allocator().FreeTotal())
}

func TestHugeSizes(t *testing.T) {
	tree := newTestTree(t, 4, 4096)
	require.NoError(t, tree.AddFile("/f", 1, stamp))
	before, err := tree.Stat("/f")
	require.NoError(t, err)

	err = tree.AddFile("/big", math.MaxInt64, stamp)
	require.ErrorIs(t, err, ErrInsufficientSpace)
	_, err = tree.Stat("/big")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, amount := range []int64{math.MaxInt64 - 10, math.MaxInt64} {
		err = tree.Append("/f", amount)
		require.ErrorIs(t, err, ErrInsufficientSpace, "Append(%d)", amount)
	}
	require.ErrorIs(t, tree.SetSize("/f", math.MaxInt64), ErrInsufficientSpace)

	after, err := tree.Stat("/f")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"f"}, tree.List())
	assert.EqualValues(t, 3, tree.Allocator().FreeTotal())
	require.NoError(t, tree.Verify())
}

// TestDelete covers deleting empty and non-empty directories and files.
func TestDelete(t *testing.T) {
	tree := newTestTree(t, 16, 4)

	require.NoError(t, tree.AddDirectory("/a"))
	require.NoError(t, tree.Delete("/a"))
	_, err := tree.Stat("/a")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, tree.AddDirectory("/a"))
	require.NoError(t, tree.AddFile("/a/x", 1, stamp))
	assert.ErrorIs(t, tree.Delete("/a"), ErrNotEmpty)

	require.NoError(t, tree.Delete("/a/x"))
	assert.EqualValues(t, 16, tree.Allocator().FreeTotal())
	require.NoError(t, tree.Delete("/a"))

	assert.ErrorIs(t, tree.Delete("/"), ErrInvalid)
	assert.ErrorIs(t, tree.Delete("/missing"), ErrNotFound)
	assert.Empty(t, tree.List())
}

func TestDeleteCurrentDirectory(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.AddDirectory("/a"))
	require.NoError(t, tree.AddDirectory("/a/b"))
	require.NoError(t, tree.ChangeDirectory("/a/b"))

	require.NoError(t, tree.Delete("."))
	assert.Equal(t, "/a", tree.Cwd())
	assert.Empty(t, tree.List())
}

func TestAddErrors(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.AddDirectory("/a"))
	require.NoError(t, tree.AddFile("/a/f", 3, stamp))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"duplicate directory", tree.AddDirectory("/a"), ErrAlreadyExists},
		{"directory over file", tree.AddDirectory("/a/f"), ErrAlreadyExists},
		{"file over directory", tree.AddFile("/a", 1, stamp), ErrAlreadyExists},
		{"missing parent", tree.AddDirectory("/b/c"), ErrNotFound},
		{"file as parent", tree.AddFile("/a/f/g", 1, stamp), ErrNotADirectory},
		{"root", tree.AddDirectory("/"), ErrInvalid},
		{"dot", tree.AddDirectory("/a/."), ErrInvalid},
		{"negative size", tree.AddFile("/a/n", -1, stamp), ErrInvalid},
		{"append to directory", tree.Append("/a", 1), ErrIsADirectory},
		{"remove from directory", tree.RemoveBytes("/a", 1), ErrIsADirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
		})
	}
	require.NoError(t, tree.Verify())
}

func TestEscapedNames(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.AddDirectory(`/a\/b`))
	require.NoError(t, tree.AddFile(`/a\/b/c`, 4, stamp))

	s, err := tree.Stat(`//a\/b///c`)
	require.NoError(t, err)
	assert.Equal(t, "c", s.Name())
	assert.Equal(t, `/a\/b/c`, s.Path)

	require.NoError(t, tree.ChangeDirectory(`a\/b`))
	assert.Equal(t, []string{"c"}, tree.List())
	tree.MoveToParent()
	assert.Equal(t, []string{"a/b"}, tree.List())
}

func TestNavigation(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.AddDirectory("/a"))
	require.NoError(t, tree.AddDirectory("/a/b"))
	require.NoError(t, tree.AddFile("/a/f", 1, stamp))

	require.NoError(t, tree.ChangeDirectory("a/b"))
	assert.Equal(t, "/a/b", tree.Cwd())

	tree.MoveToParent()
	assert.Equal(t, "/a", tree.Cwd())
	assert.Equal(t, []string{"b", "f"}, tree.List())

	tree.MoveToParent()
	tree.MoveToParent()
	assert.Equal(t, "/", tree.Cwd())

	assert.ErrorIs(t, tree.ChangeDirectory("/a/f"), ErrNotADirectory)
	assert.ErrorIs(t, tree.ChangeDirectory("/nope"), ErrNotFound)
	assert.Equal(t, "/", tree.Cwd())
}

func TestFragmentation(t *testing.T) {
	tree := newTestTree(t, 100, 8)
	assert.EqualValues(t, 0, tree.Fragmentation())

	require.NoError(t, tree.AddDirectory("/d"))
	require.NoError(t, tree.AddFile("/d/a", 9, stamp)) // 2 blocks, 7 slack
	require.NoError(t, tree.AddFile("/b", 16, stamp))  // 2 blocks, 0 slack
	require.NoError(t, tree.AddFile("/d/c", 1, stamp)) // 1 block, 7 slack
	assert.EqualValues(t, 14, tree.Fragmentation())

	require.NoError(t, tree.Append("/d/c", 7))
	assert.EqualValues(t, 7, tree.Fragmentation())

	total, err := tree.TotalLogicalSize("/d")
	require.NoError(t, err)
	assert.EqualValues(t, 17, total)
	_, err = tree.TotalLogicalSize("/x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHeight(t *testing.T) {
	tree := newTestTree(t, 16, 4)
	assert.Equal(t, 0, tree.Height())

	require.NoError(t, tree.AddDirectory("/a"))
	assert.Equal(t, 1, tree.Height())

	require.NoError(t, tree.AddFile("/a/f", 1, stamp))
	assert.Equal(t, 2, tree.Height())

	require.NoError(t, tree.AddDirectory("/a/b"))
	require.NoError(t, tree.AddDirectory("/a/b/c"))
	assert.Equal(t, 3, tree.Height())

	// files never deepen the tree below their own level
	require.NoError(t, tree.AddFile("/z", 1, stamp))
	assert.Equal(t, 3, tree.Height())
}

func TestPrinters(t *testing.T) {
	tree := newTestTree(t, 10, 4)
	require.NoError(t, tree.LoadDirectories([]string{"/a", "/b", "/a/c"}))
	require.NoError(t, tree.LoadFiles([]FileRecord{
		{Path: "/top", Size: 5, Timestamp: stamp},
		{Path: "/a/c/deep", Size: 4, Timestamp: stamp},
		{Path: "/b/empty", Size: 0, Timestamp: stamp},
	}))

	var dirs strings.Builder
	require.NoError(t, tree.PrintDirectories(&dirs))
	assert.Equal(t, "/\na b\nc\n", dirs.String())

	var files strings.Builder
	require.NoError(t, tree.PrintFiles(&files))
	assert.Equal(t, "/top 5 "+stamp+" [0 1]\n/a/c/deep 4 "+stamp+" [2]\n", files.String())

	var disk strings.Builder
	require.NoError(t, tree.PrintDisk(&disk))
	assert.Equal(t, "In use: 0-2\nFree: 3-9\nFragmentation: 3 bytes\n", disk.String())
}

func TestLoadReportsFailures(t *testing.T) {
	tree := newTestTree(t, 2, 4)
	err := tree.LoadDirectories([]string{"/a", "/a", "/x/y", "/b"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"a", "b"}, tree.List())

	err = tree.LoadFiles([]FileRecord{
		{Path: "/a/one", Size: 4},
		{Path: "/a/huge", Size: 400},
		{Path: "/a/two", Size: 4},
	})
	assert.ErrorIs(t, err, ErrInsufficientSpace)
	require.NoError(t, tree.ChangeDirectory("/a"))
	assert.Equal(t, []string{"one", "two"}, tree.List())
}

func TestInvariantChecksPanic(t *testing.T) {
	tree := newTestTree(t, 4, 4)
	require.NoError(t, tree.AddDirectory("/a"))
	tree.nodes[tree.root].children["a"] = 99 // dangling

	assert.Panics(t, func() { _ = tree.AddDirectory("/b") })
}

func TestVerifyDetectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(tree *Tree)
	}{
		{"prefix", func(tree *Tree) { tree.nodes[2].prefix = "/x/" }},
		{"orphan", func(tree *Tree) { tree.nodes[tree.root].unlink("a") }},
		{"block count", func(tree *Tree) { tree.nodes[3].size = 100 }},
		{"parent", func(tree *Tree) { tree.nodes[3].parent = 42 }},
		{"cwd", func(tree *Tree) { tree.cwd = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			tree, err := Create(64, 4, WithLogger(logger))
			require.NoError(t, err)
			require.NoError(t, tree.AddDirectory("/a"))        // node 2
			require.NoError(t, tree.AddFile("/a/f", 5, stamp)) // node 3
			require.NoError(t, tree.Verify())

			tt.corrupt(tree)
			assert.ErrorIs(t, tree.Verify(), ErrCorrupt)
		})
	}
}

func TestNewAndCreate(t *testing.T) {
	_, err := Create(10, 0)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Create(3, 4)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = New(nil, 4)
	assert.Error(t, err)
	_, err = Create(16, 4, WithClock(nil))
	assert.Error(t, err)
	_, err = Create(16, 4, WithLogger(nil))
	assert.Error(t, err)

	vol := newTestVolume(t, 4)
	tree, err := New(vol, 512)
	require.NoError(t, err)
	assert.EqualValues(t, 512, tree.BlockSize())
	require.NoError(t, tree.AddFile("/f", 1000, stamp))
	assert.EqualValues(t, 2, vol.OccupiedTotal())
}

func TestOperationsAreLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tree, err := Create(16, 4, WithLogger(logger))
	require.NoError(t, err)

	require.NoError(t, tree.AddDirectory("/a"))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "directory added", entry.Message)
	assert.Equal(t, "/a", entry.Data["path"])
	assert.NotEmpty(t, entry.Data["volume"])

	err = tree.AddDirectory("/a")
	require.Error(t, err)
	entry = hook.LastEntry()
	assert.Equal(t, "operation failed", entry.Message)
	assert.Equal(t, "mkdir", entry.Data["op"])
	assert.True(t, errors.Is(entry.Data[logrus.ErrorKey].(error), ErrAlreadyExists))
}

package blockfs

import (
	"io/fs"
	"time"
)

// Stat is a snapshot of one node. It implements fs.FileInfo.
type Stat struct {
	ID        NodeID
	Kind      Kind
	Filename  string
	Path      string
	Bytes     int64
	Timestamp string   // opaque, as supplied by the caller or clock
	Blocks    []uint64 // nil for directories
}

func (t *Tree) stat(n *node) *Stat {
	s := &Stat{
		ID:        n.id,
		Kind:      n.kind,
		Filename:  n.name,
		Path:      n.path(),
		Bytes:     n.size,
		Timestamp: n.timestamp,
	}
	if n.blocks != nil {
		s.Blocks = n.blocks.Blocks()
	}
	return s
}

// Name returns the node's own name, unescaped.
func (s *Stat) Name() string {
	return s.Filename
}

// Size returns the file length in bytes. Directories report zero.
func (s *Stat) Size() int64 {
	return s.Bytes
}

// Mode reports ModeDir|0755 for directories and 0644 for files.
func (s *Stat) Mode() fs.FileMode {
	if s.Kind == KindDirectory {
		return fs.ModeDir | 0755
	}
	return 0644
}

// ModTime is always the zero time; Timestamp holds the opaque stamp.
func (s *Stat) ModTime() time.Time {
	return time.Time{}
}

// IsDir reports whether the snapshot is of a directory.
func (s *Stat) IsDir() bool {
	return s.Kind == KindDirectory
}

// Sys returns the file's block addresses as a []uint64.
func (s *Stat) Sys() any {
	return s.Blocks
}

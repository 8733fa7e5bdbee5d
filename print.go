package blockfs

import (
	"fmt"
	"io"
	"strings"
)

// levels groups the nodes of one kind by depth, 0 through Height.
func (t *Tree) levels(kind Kind) ([][]*Stat, error) {
	levels := make([][]*Stat, t.Height()+1)
	err := t.Walk("/", func(s *Stat, depth int) error {
		if s.Kind == kind {
			levels[depth] = append(levels[depth], s)
		}
		return nil
	})
	return levels, err
}

// PrintDirectories writes the directory names level by level, one line per
// level, starting with the root.
func (t *Tree) PrintDirectories(w io.Writer) error {
	levels, err := t.levels(KindDirectory)
	if err != nil {
		return err
	}
	for _, level := range levels {
		if len(level) == 0 {
			continue
		}
		names := make([]string, len(level))
		for i, s := range level {
			names[i] = s.Filename
		}
		if _, err := fmt.Fprintln(w, strings.Join(names, " ")); err != nil {
			return err
		}
	}
	return nil
}

// PrintFiles writes one line per file, level by level: path, size,
// timestamp and block list.
func (t *Tree) PrintFiles(w io.Writer) error {
	levels, err := t.levels(KindFile)
	if err != nil {
		return err
	}
	for _, level := range levels {
		for _, s := range level {
			if _, err := fmt.Fprintf(w, "%s %d %s %v\n", s.Path, s.Bytes, s.Timestamp, s.Blocks); err != nil {
				return err
			}
		}
	}
	return nil
}

// PrintDisk writes the volume footprint, when the allocator can report one,
// followed by the fragmentation in bytes.
func (t *Tree) PrintDisk(w io.Writer) error {
	if fp, ok := t.alloc.(interface{ WriteFootprint(io.Writer) error }); ok {
		if err := fp.WriteFootprint(w); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Fragmentation: %d bytes\n", t.Fragmentation())
	return err
}

// Package volume tracks block ownership for a simulated storage volume.
//
// A Volume owns the whole block address space [0, BlockCount) as an ordered
// sequence of extents, each either free or occupied. The sequence always
// covers the address space with no gaps or overlaps, and after every
// mutation it is recombined so that no two neighbouring extents share the
// same state (the canonical form).
//
// Extents are indexed by their first block in a B-tree, so finding the
// extent that owns a block is a predecessor query rather than a scan.
//
// # Usage Example
//
//	vol, err := volume.New(10)
//	blocks, err := vol.Allocate(4) // [0 1 2 3]
//	err = vol.Release(blocks)
//	for ext := range vol.Footprint() {
//		fmt.Println(ext) // Free: 0-9
//	}
//
// A Volume is not safe for concurrent use.
package volume

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"syscall"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInsufficientSpace is returned when an allocation asks for more
	// blocks than the volume has free.
	ErrInsufficientSpace = syscall.ENOSPC

	// ErrNotOccupied is returned when a release names a block that is
	// free, out of range, or listed twice.
	ErrNotOccupied = errors.New("block not occupied")

	// ErrInvalidGeometry is returned for a volume without blocks.
	ErrInvalidGeometry = errors.New("invalid volume geometry")

	// ErrCorrupt is reported by Verify when the extent sequence is broken.
	ErrCorrupt = errors.New("extent sequence corrupt")
)

// State is the occupancy tag of an extent.
type State uint8

const (
	Free State = iota
	Occupied
)

func (s State) String() string {
	if s == Free {
		return "Free"
	}
	return "In use"
}

// Extent is a contiguous run of blocks sharing one State.
// It covers blocks [Start, Start+Length).
type Extent struct {
	Start  uint64
	Length uint64
	State  State
}

// End returns the first block after the extent.
func (e Extent) End() uint64 { return e.Start + e.Length }

// Last returns the last block of the extent.
func (e Extent) Last() uint64 { return e.End() - 1 }

// Contains reports whether block lies inside the extent.
func (e Extent) Contains(block uint64) bool {
	return block >= e.Start && block < e.End()
}

// String formats the extent the way footprint reports print it.
func (e Extent) String() string {
	return fmt.Sprintf("%s: %d-%d", e.State, e.Start, e.Last())
}

func byStart(a, b Extent) bool { return a.Start < b.Start }

const btreeDegree = 16

// Volume is the extent allocator for one simulated volume.
type Volume struct {
	id      uuid.UUID
	blocks  uint64
	extents *btree.BTreeG[Extent]

	check  bool
	logger *logrus.Logger
	log    *logrus.Entry
}

// New creates a volume of blockCount blocks, all free.
func New(blockCount uint64, opts ...Option) (*Volume, error) {
	v := &Volume{
		id:     uuid.New(),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	v.log = v.logger.WithField("volume", v.id.String())
	if err := v.Reset(blockCount); err != nil {
		return nil, err
	}
	return v, nil
}

// Reset discards all allocations and leaves a single free extent covering
// [0, blockCount).
func (v *Volume) Reset(blockCount uint64) error {
	if blockCount == 0 {
		return fmt.Errorf("%w: volume needs at least one block", ErrInvalidGeometry)
	}
	v.blocks = blockCount
	v.extents = btree.NewG(btreeDegree, byStart)
	v.extents.ReplaceOrInsert(Extent{Start: 0, Length: blockCount, State: Free})
	v.log.WithField("blocks", blockCount).Debug("volume initialized")
	return nil
}

// ID returns the volume identifier.
func (v *Volume) ID() uuid.UUID { return v.id }

// BlockCount returns the size of the address space.
func (v *Volume) BlockCount() uint64 { return v.blocks }

// Allocate reserves n blocks and returns their addresses in ascending order.
//
// Free extents are consumed first-fit in address order; the last one is
// split when it is larger than what is still needed. The result may span
// several disjoint extents. If n exceeds the free total nothing changes and
// ErrInsufficientSpace is returned.
func (v *Volume) Allocate(n uint64) ([]uint64, error) {
	if n == 0 {
		return nil, nil
	}
	if free := v.FreeTotal(); n > free {
		v.log.WithFields(logrus.Fields{"requested": n, "free": free}).Debug("allocation rejected")
		return nil, fmt.Errorf("%w: requested %d blocks, %d free", ErrInsufficientSpace, n, free)
	}

	// pick the extents before touching the tree; Ascend forbids mutation
	var picked []Extent
	need := n
	v.extents.Ascend(func(e Extent) bool {
		if e.State != Free {
			return true
		}
		picked = append(picked, e)
		if e.Length >= need {
			return false
		}
		need -= e.Length
		return true
	})

	blocks := make([]uint64, 0, n)
	need = n
	for _, e := range picked {
		take := min(e.Length, need)
		v.extents.ReplaceOrInsert(Extent{Start: e.Start, Length: take, State: Occupied})
		if take < e.Length {
			v.extents.ReplaceOrInsert(Extent{Start: e.Start + take, Length: e.Length - take, State: Free})
		}
		for b := e.Start; b < e.Start+take; b++ {
			blocks = append(blocks, b)
		}
		need -= take
	}
	v.recombine()

	v.log.WithFields(logrus.Fields{
		"blocks":  n,
		"extents": len(picked),
		"first":   blocks[0],
		"last":    blocks[len(blocks)-1],
	}).Debug("blocks allocated")
	return blocks, nil
}

// Release frees a set of previously allocated blocks. The addresses may come
// in any order and need not be contiguous. If any block is out of range,
// duplicated or not occupied, nothing changes and ErrNotOccupied is returned.
func (v *Volume) Release(blocks []uint64) error {
	if len(blocks) == 0 {
		return nil
	}
	runs, err := v.runs(blocks)
	if err != nil {
		v.log.WithError(err).Debug("release rejected")
		return err
	}

	for _, r := range runs {
		owner, _ := v.owner(r.Start)
		v.extents.Delete(owner)
		if r.Start > owner.Start {
			v.extents.ReplaceOrInsert(Extent{Start: owner.Start, Length: r.Start - owner.Start, State: Occupied})
		}
		v.extents.ReplaceOrInsert(r)
		if r.End() < owner.End() {
			v.extents.ReplaceOrInsert(Extent{Start: r.End(), Length: owner.End() - r.End(), State: Occupied})
		}
	}
	v.recombine()

	v.log.WithFields(logrus.Fields{"blocks": len(blocks), "runs": len(runs)}).Debug("blocks released")
	return nil
}

// runs groups blocks into maximal contiguous free runs and checks that each
// lies inside a single occupied extent.
func (v *Volume) runs(blocks []uint64) ([]Extent, error) {
	sorted := slices.Clone(blocks)
	slices.Sort(sorted)

	var runs []Extent
	for i, b := range sorted {
		if b >= v.blocks {
			return nil, fmt.Errorf("%w: block %d beyond volume of %d blocks", ErrNotOccupied, b, v.blocks)
		}
		if i > 0 && b == sorted[i-1] {
			return nil, fmt.Errorf("%w: block %d released twice", ErrNotOccupied, b)
		}
		if n := len(runs); n > 0 && runs[n-1].End() == b {
			runs[n-1].Length++
			continue
		}
		runs = append(runs, Extent{Start: b, Length: 1, State: Free})
	}

	for _, r := range runs {
		owner, ok := v.owner(r.Start)
		if !ok || owner.State != Occupied {
			return nil, fmt.Errorf("%w: block %d", ErrNotOccupied, r.Start)
		}
		if r.End() > owner.End() {
			return nil, fmt.Errorf("%w: block %d", ErrNotOccupied, owner.End())
		}
	}
	return runs, nil
}

// owner returns the extent containing block.
func (v *Volume) owner(block uint64) (Extent, bool) {
	var (
		found Extent
		ok    bool
	)
	v.extents.DescendLessOrEqual(Extent{Start: block}, func(e Extent) bool {
		found, ok = e, e.Contains(block)
		return false
	})
	return found, ok
}

// recombine merges neighbouring extents with the same state in one
// left-to-right pass.
func (v *Volume) recombine() {
	var (
		merged   = make([]Extent, 0, v.extents.Len())
		absorbed []Extent
	)
	v.extents.Ascend(func(e Extent) bool {
		if n := len(merged); n > 0 && merged[n-1].State == e.State && merged[n-1].End() == e.Start {
			merged[n-1].Length += e.Length
			absorbed = append(absorbed, e)
			return true
		}
		merged = append(merged, e)
		return true
	})
	if len(absorbed) > 0 {
		for _, e := range absorbed {
			v.extents.Delete(e)
		}
		for _, e := range merged {
			v.extents.ReplaceOrInsert(e)
		}
	}

	if v.check {
		if err := v.Verify(); err != nil {
			panic(err)
		}
	}
}

// FreeTotal returns the number of free blocks.
func (v *Volume) FreeTotal() uint64 { return v.total(Free) }

// OccupiedTotal returns the number of occupied blocks.
func (v *Volume) OccupiedTotal() uint64 { return v.total(Occupied) }

func (v *Volume) total(s State) uint64 {
	var sum uint64
	for e := range v.Footprint() {
		if e.State == s {
			sum += e.Length
		}
	}
	return sum
}

// Footprint returns the extents in address order. The sequence is lazy and
// may be ranged over any number of times; the volume must not be mutated
// while a range over it is in progress.
func (v *Volume) Footprint() iter.Seq[Extent] {
	return func(yield func(Extent) bool) {
		v.extents.Ascend(func(e Extent) bool {
			return yield(e)
		})
	}
}

// Extents returns a snapshot of the extent sequence.
func (v *Volume) Extents() []Extent {
	return slices.Collect(v.Footprint())
}

// WriteFootprint writes one line per extent, e.g. "In use: 0-3".
func (v *Volume) WriteFootprint(w io.Writer) error {
	for e := range v.Footprint() {
		if _, err := fmt.Fprintln(w, e); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks that the extents partition [0, BlockCount) and are in
// canonical form.
func (v *Volume) Verify() error {
	var (
		next uint64
		prev *Extent
		err  error
	)
	v.extents.Ascend(func(e Extent) bool {
		switch {
		case e.Length == 0:
			err = fmt.Errorf("%w: empty extent at block %d", ErrCorrupt, e.Start)
		case e.Start > next:
			err = fmt.Errorf("%w: gap at blocks %d-%d", ErrCorrupt, next, e.Start-1)
		case e.Start < next:
			err = fmt.Errorf("%w: overlap at block %d", ErrCorrupt, e.Start)
		case prev != nil && prev.State == e.State:
			err = fmt.Errorf("%w: adjacent %s extents at block %d", ErrCorrupt, e.State, e.Start)
		}
		if err != nil {
			return false
		}
		next = e.End()
		prev = &e
		return true
	})
	if err != nil {
		return err
	}
	if next != v.blocks {
		return fmt.Errorf("%w: extents end at block %d, volume has %d", ErrCorrupt, next, v.blocks)
	}
	return nil
}

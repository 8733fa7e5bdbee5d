package blockfs

import (
	"fmt"
	"slices"

	"github.com/absfs/blockfs/volume"
)

// Allocator hands out and takes back volume blocks.
//
// *volume.Volume is the implementation used by Create; the interface lets a
// Tree run against any allocator with the same semantics.
type Allocator interface {
	// Allocate reserves n blocks and returns their addresses in ascending
	// order. It either reserves all n or none.
	Allocate(n uint64) ([]uint64, error)

	// Release frees previously allocated blocks, given in any order. It
	// either frees all of them or none.
	Release(blocks []uint64) error

	// OccupiedTotal returns the number of reserved blocks.
	OccupiedTotal() uint64

	// FreeTotal returns the number of unreserved blocks.
	FreeTotal() uint64
}

var _ Allocator = (*volume.Volume)(nil)

// divRoundUp divides a by b, rounding up to the nearest integer. a must not
// be negative.
func divRoundUp(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// BlockCount returns the number of blocks needed to store size bytes.
func BlockCount(size, blockSize int64) int64 {
	if size <= 0 {
		return 0
	}
	return divRoundUp(size, blockSize)
}

// BlockList is the ordered list of volume blocks backing one file.
// The blocks need not be contiguous or sorted.
type BlockList struct {
	alloc     Allocator
	blockSize int64
	blocks    []uint64
}

// NewBlockList returns an empty list drawing blocks from alloc.
func NewBlockList(alloc Allocator, blockSize int64) *BlockList {
	return &BlockList{alloc: alloc, blockSize: blockSize}
}

// SetSize grows or shrinks the list to BlockCount(size) blocks. New blocks
// are appended; surplus blocks are released from the end of the list. On
// error the list is unchanged.
func (l *BlockList) SetSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalid, size)
	}
	want := BlockCount(size, l.blockSize)
	have := int64(len(l.blocks))
	if want < 0 {
		return fmt.Errorf("%w: size %d", ErrInvalid, size)
	}

	switch {
	case want > have:
		got, err := l.alloc.Allocate(uint64(want - have))
		if err != nil {
			return err
		}
		l.blocks = append(l.blocks, got...)
	case want < have:
		if err := l.alloc.Release(l.blocks[want:]); err != nil {
			return err
		}
		l.blocks = l.blocks[:want]
	}
	return nil
}

// Release hands every block back to the allocator and empties the list.
func (l *BlockList) Release() error {
	if err := l.alloc.Release(l.blocks); err != nil {
		return err
	}
	l.blocks = nil
	return nil
}

// Len returns the number of blocks in the list.
func (l *BlockList) Len() int { return len(l.blocks) }

// Blocks returns a copy of the block addresses in list order.
func (l *BlockList) Blocks() []uint64 { return slices.Clone(l.blocks) }

// String renders the block addresses, e.g. "[4 5 9]".
func (l *BlockList) String() string {
	return fmt.Sprint(l.blocks)
}

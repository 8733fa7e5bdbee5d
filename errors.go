package blockfs

import (
	"errors"
	"syscall"

	"github.com/absfs/blockfs/volume"
)

var (
	ErrNotFound      = syscall.ENOENT
	ErrAlreadyExists = syscall.EEXIST
	ErrNotADirectory = syscall.ENOTDIR
	ErrIsADirectory  = syscall.EISDIR
	ErrNotEmpty      = syscall.ENOTEMPTY
	ErrInvalid       = syscall.EINVAL

	// Allocation failures surface from the volume unchanged.
	ErrInsufficientSpace = volume.ErrInsufficientSpace
	ErrNotOccupied       = volume.ErrNotOccupied

	// ErrCorrupt is reported by Verify when the tree is inconsistent.
	ErrCorrupt = errors.New("namespace corrupt")
)

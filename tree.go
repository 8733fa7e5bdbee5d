// Package blockfs implements the namespace of a simulated block volume.
//
// A Tree maps paths to directories and files. Every file owns a BlockList of
// volume blocks sized to ceil(size/blockSize); creating, growing, shrinking
// and deleting files allocates and releases blocks through an Allocator,
// normally a *volume.Volume built by Create. The difference between the bytes
// reserved in occupied blocks and the bytes files actually use is reported by
// Fragmentation.
//
// # Paths
//
// Paths use "/" as separator. A leading "/" starts at the root, anything else
// at the current directory (see ChangeDirectory). "." and ".." are honored;
// ".." at the root stays at the root. A separator inside a name is written
// as "\/" and a literal backslash as "\\".
//
// # Errors
//
// Failed operations return an *fs.PathError wrapping one of the sentinel
// errors (ErrNotFound, ErrAlreadyExists, ErrInsufficientSpace, ...), so use
// errors.Is to test for them. A failed operation leaves the tree and the
// volume exactly as they were.
//
// # Usage Example
//
//	tree, err := blockfs.Create(1<<20, 4096)
//	err = tree.AddDirectory("/src")
//	err = tree.AddFile("/src/main.go", 5000, "Jan  2 15:04")
//	err = tree.Append("/src/main.go", 200)
//	fmt.Println(tree.Fragmentation()) // 2992
//
// A Tree is not safe for concurrent use.
package blockfs

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/absfs/blockfs/volume"
)

// Tree is a directory tree whose files are backed by volume blocks.
type Tree struct {
	alloc     Allocator
	blockSize int64

	ino   Ino
	nodes map[NodeID]*node
	root  NodeID
	cwd   NodeID

	clock  func() string
	check  bool
	logger *logrus.Logger
	log    *logrus.Entry
}

// New creates a tree holding only the root directory. File blocks are
// drawn from alloc in units of blockSize bytes.
func New(alloc Allocator, blockSize int64, opts ...Option) (*Tree, error) {
	if alloc == nil {
		return nil, errors.New("nil allocator")
	}
	t, err := newTree(blockSize, opts)
	if err != nil {
		return nil, err
	}
	t.attach(alloc)
	return t, nil
}

// Create builds a volume of volumeSize/blockSize blocks and an empty tree
// on top of it.
func Create(volumeSize, blockSize int64, opts ...Option) (*Tree, error) {
	t, err := newTree(blockSize, opts)
	if err != nil {
		return nil, err
	}
	if volumeSize < blockSize {
		return nil, fmt.Errorf("%w: volume of %d bytes cannot hold a %d byte block", ErrInvalid, volumeSize, blockSize)
	}
	vol, err := volume.New(uint64(volumeSize/blockSize),
		volume.WithLogger(t.logger),
		volume.WithInvariantChecks(t.check),
	)
	if err != nil {
		return nil, err
	}
	t.attach(vol)
	return t, nil
}

func newTree(blockSize int64, opts []Option) (*Tree, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", ErrInvalid, blockSize)
	}
	t := &Tree{
		blockSize: blockSize,
		nodes:     make(map[NodeID]*node),
		clock:     defaultClock,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) attach(alloc Allocator) {
	t.alloc = alloc

	fields := logrus.Fields{"blockSize": t.blockSize}
	if v, ok := alloc.(interface{ ID() uuid.UUID }); ok {
		fields["volume"] = v.ID().String()
	}
	t.log = t.logger.WithFields(fields)

	root := &node{
		id:       t.ino.Next(),
		kind:     KindDirectory,
		name:     "/",
		parent:   noParent,
		children: make(map[string]NodeID),
	}
	t.nodes[root.id] = root
	t.root, t.cwd = root.id, root.id
}

// Allocator returns the allocator backing the tree's files.
func (t *Tree) Allocator() Allocator { return t.alloc }

// BlockSize returns the block size in bytes.
func (t *Tree) BlockSize() int64 { return t.blockSize }

// lookup walks p from the root or the current directory.
func (t *Tree) lookup(p string) (*node, error) {
	n := t.nodes[t.cwd]
	name, rest := PopPath(p)
	if name == "/" {
		n = t.nodes[t.root]
		name, rest = PopPath(rest)
	}
	for name != "" {
		if !n.isDir() {
			return nil, ErrNotADirectory
		}
		switch name {
		case ".":
		case "..":
			if !n.isRoot() {
				n = t.nodes[n.parent]
			}
		default:
			id, ok := n.children[name]
			if !ok {
				return nil, ErrNotFound
			}
			n = t.nodes[id]
		}
		name, rest = PopPath(rest)
	}
	return n, nil
}

// parentAndLeaf resolves the directory that holds (or would hold) p.
func (t *Tree) parentAndLeaf(p string) (*node, string, error) {
	parent, leaf := Split(p)
	switch leaf {
	case "", ".", "..":
		return nil, "", ErrInvalid
	}
	dir, err := t.lookup(parent)
	if err != nil {
		return nil, "", err
	}
	if !dir.isDir() {
		return nil, "", ErrNotADirectory
	}
	return dir, leaf, nil
}

func (t *Tree) newNode(kind Kind, name string, parent *node) *node {
	n := &node{
		id:     t.ino.Next(),
		kind:   kind,
		name:   name,
		prefix: parent.childPrefix(),
		parent: parent.id,
	}
	if kind == KindDirectory {
		n.children = make(map[string]NodeID)
	}
	t.nodes[n.id] = n
	parent.link(name, n.id)
	return n
}

func (t *Tree) fail(op, path string, err error) error {
	t.log.WithFields(logrus.Fields{"op": op, "path": path}).WithError(err).Debug("operation failed")
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// ResolveDirectory returns the directory at path. Every component must
// exist and be a directory.
func (t *Tree) ResolveDirectory(path string) (*Stat, error) {
	n, err := t.lookup(path)
	if err != nil {
		return nil, t.fail("resolve", path, err)
	}
	if !n.isDir() {
		return nil, t.fail("resolve", path, ErrNotADirectory)
	}
	return t.stat(n), nil
}

// Stat returns the directory or file at path.
func (t *Tree) Stat(path string) (*Stat, error) {
	n, err := t.lookup(path)
	if err != nil {
		return nil, t.fail("stat", path, err)
	}
	return t.stat(n), nil
}

// AddDirectory creates an empty directory. Its parent must exist.
func (t *Tree) AddDirectory(path string) error {
	const op = "mkdir"
	parent, name, err := t.parentAndLeaf(path)
	if err != nil {
		return t.fail(op, path, err)
	}
	if _, ok := parent.children[name]; ok {
		return t.fail(op, path, ErrAlreadyExists)
	}

	d := t.newNode(KindDirectory, name, parent)
	t.log.WithField("path", d.path()).Debug("directory added")
	t.verify()
	return nil
}

// AddFile creates a file of size bytes and reserves its blocks. Nothing is
// created if the volume cannot hold it.
func (t *Tree) AddFile(path string, size int64, timestamp string) error {
	const op = "create"
	if size < 0 {
		return t.fail(op, path, ErrInvalid)
	}
	parent, name, err := t.parentAndLeaf(path)
	if err != nil {
		return t.fail(op, path, err)
	}
	if _, ok := parent.children[name]; ok {
		return t.fail(op, path, ErrAlreadyExists)
	}

	blocks := NewBlockList(t.alloc, t.blockSize)
	if err := blocks.SetSize(size); err != nil {
		return t.fail(op, path, err)
	}
	f := t.newNode(KindFile, name, parent)
	f.size, f.timestamp, f.blocks = size, timestamp, blocks

	t.log.WithFields(logrus.Fields{"path": f.path(), "size": size, "blocks": blocks.Len()}).Debug("file added")
	t.verify()
	return nil
}

// Append grows a file by amount bytes.
func (t *Tree) Append(path string, amount int64) error {
	if amount < 0 {
		return t.fail("append", path, ErrInvalid)
	}
	return t.resize("append", path, func(size int64) (int64, error) {
		if amount > math.MaxInt64-size {
			return 0, fmt.Errorf("%w: appending %d bytes to %d overflows the file size", ErrInsufficientSpace, amount, size)
		}
		return size + amount, nil
	})
}

// RemoveBytes shrinks a file by amount bytes. The size stops at zero.
func (t *Tree) RemoveBytes(path string, amount int64) error {
	if amount < 0 {
		return t.fail("remove", path, ErrInvalid)
	}
	return t.resize("remove", path, func(size int64) (int64, error) {
		if amount >= size {
			return 0, nil
		}
		return size - amount, nil
	})
}

// SetSize sets a file's size.
func (t *Tree) SetSize(path string, size int64) error {
	if size < 0 {
		return t.fail("truncate", path, ErrInvalid)
	}
	return t.resize("truncate", path, func(int64) (int64, error) {
		return size, nil
	})
}

func (t *Tree) resize(op, path string, next func(size int64) (int64, error)) error {
	n, err := t.lookup(path)
	if err != nil {
		return t.fail(op, path, err)
	}
	if n.isDir() {
		return t.fail(op, path, ErrIsADirectory)
	}

	size, err := next(n.size)
	if err != nil {
		return t.fail(op, path, err)
	}
	if err := n.blocks.SetSize(size); err != nil {
		return t.fail(op, path, err)
	}
	n.size = size
	n.timestamp = t.clock()

	t.log.WithFields(logrus.Fields{"path": n.path(), "size": size, "blocks": n.blocks.Len()}).Debug("file resized")
	t.verify()
	return nil
}

// Delete removes a file, releasing its blocks, or an empty directory.
func (t *Tree) Delete(path string) error {
	const op = "delete"
	n, err := t.lookup(path)
	if err != nil {
		return t.fail(op, path, err)
	}
	switch {
	case n.isRoot():
		return t.fail(op, path, ErrInvalid)
	case n.isDir() && len(n.children) > 0:
		return t.fail(op, path, ErrNotEmpty)
	case !n.isDir():
		if err := n.blocks.Release(); err != nil {
			return t.fail(op, path, err)
		}
	}

	parent := t.nodes[n.parent]
	parent.unlink(n.name)
	if t.cwd == n.id {
		t.cwd = parent.id
	}
	delete(t.nodes, n.id)

	t.log.WithField("path", n.path()).Debug("node deleted")
	t.verify()
	return nil
}

// Rename moves a file or directory from oldpath to newpath. Nothing may
// exist at newpath, and a directory cannot move beneath itself.
func (t *Tree) Rename(oldpath, newpath string) error {
	const op = "rename"
	src, err := t.lookup(oldpath)
	if err != nil {
		return t.fail(op, oldpath, err)
	}
	if src.isRoot() {
		return t.fail(op, oldpath, ErrInvalid)
	}
	dst, name, err := t.parentAndLeaf(newpath)
	if err != nil {
		return t.fail(op, newpath, err)
	}
	if _, ok := dst.children[name]; ok {
		return t.fail(op, newpath, ErrAlreadyExists)
	}
	for a := dst; ; a = t.nodes[a.parent] {
		if a.id == src.id {
			return t.fail(op, newpath, ErrInvalid)
		}
		if a.isRoot() {
			break
		}
	}

	from := src.path()
	t.nodes[src.parent].unlink(src.name)
	src.name, src.parent = name, dst.id
	dst.link(name, src.id)
	t.reprefix(src)

	t.log.WithFields(logrus.Fields{"from": from, "to": src.path()}).Debug("node renamed")
	t.verify()
	return nil
}

// reprefix rewrites the prefix of n and everything below it.
func (t *Tree) reprefix(n *node) {
	queue := []*node{n}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		m.prefix = t.nodes[m.parent].childPrefix()
		for _, name := range m.entries {
			queue = append(queue, t.nodes[m.children[name]])
		}
	}
}

// ChangeDirectory moves the current directory to path.
func (t *Tree) ChangeDirectory(path string) error {
	n, err := t.lookup(path)
	if err != nil {
		return t.fail("cd", path, err)
	}
	if !n.isDir() {
		return t.fail("cd", path, ErrNotADirectory)
	}
	t.cwd = n.id
	return nil
}

// MoveToParent moves the current directory up one level. At the root it
// does nothing.
func (t *Tree) MoveToParent() {
	if cwd := t.nodes[t.cwd]; !cwd.isRoot() {
		t.cwd = cwd.parent
	}
}

// Cwd returns the path of the current directory.
func (t *Tree) Cwd() string { return t.nodes[t.cwd].path() }

// List returns the names in the current directory in creation order.
func (t *Tree) List() []string {
	return slices.Clone(t.nodes[t.cwd].entries)
}

// TotalLogicalSize sums the sizes of all files at or below path.
func (t *Tree) TotalLogicalSize(path string) (int64, error) {
	n, err := t.lookup(path)
	if err != nil {
		return 0, t.fail("du", path, err)
	}
	return t.subtreeSize(n), nil
}

func (t *Tree) subtreeSize(n *node) int64 {
	var total int64
	stack := []*node{n}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total += m.size
		for _, id := range m.children {
			stack = append(stack, t.nodes[id])
		}
	}
	return total
}

// Fragmentation returns the bytes reserved in occupied blocks beyond what
// the files in the tree use.
func (t *Tree) Fragmentation() int64 {
	reserved := int64(t.alloc.OccupiedTotal()) * t.blockSize
	return reserved - t.subtreeSize(t.nodes[t.root])
}

// Height returns the deepest level the level printers visit: a node with
// children reaches one level below itself and further through its
// subdirectories, a node without children reaches its own level.
func (t *Tree) Height() int {
	type item struct {
		n     *node
		depth int
	}
	height := 0
	stack := []item{{t.nodes[t.root], 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(it.n.children) == 0 {
			continue
		}
		height = max(height, it.depth+1)
		for _, id := range it.n.children {
			if child := t.nodes[id]; child.isDir() {
				stack = append(stack, item{child, it.depth + 1})
			}
		}
	}
	return height
}

func (t *Tree) verify() {
	if !t.check {
		return
	}
	if err := t.Verify(); err != nil {
		panic(err)
	}
}

// Verify checks parent back-references, path prefixes and block list
// lengths across the whole tree.
func (t *Tree) Verify() error {
	root, ok := t.nodes[t.root]
	if !ok || !root.isRoot() || !root.isDir() {
		return fmt.Errorf("%w: bad root", ErrCorrupt)
	}
	if cwd, ok := t.nodes[t.cwd]; !ok || !cwd.isDir() {
		return fmt.Errorf("%w: current directory %d is not a directory", ErrCorrupt, t.cwd)
	}

	reached := 0
	queue := []*node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if reached++; reached > len(t.nodes) {
			return fmt.Errorf("%w: cycle through %s", ErrCorrupt, n)
		}

		if !n.isRoot() {
			p, ok := t.nodes[n.parent]
			if !ok {
				return fmt.Errorf("%w: %s has dangling parent %d", ErrCorrupt, n, n.parent)
			}
			if p.children[n.name] != n.id {
				return fmt.Errorf("%w: %s not linked from its parent", ErrCorrupt, n)
			}
			if n.prefix != p.childPrefix() {
				return fmt.Errorf("%w: %s has prefix %q, want %q", ErrCorrupt, n, n.prefix, p.childPrefix())
			}
		}

		if !n.isDir() {
			if want := BlockCount(n.size, t.blockSize); int64(n.blocks.Len()) != want {
				return fmt.Errorf("%w: %s holds %d blocks for %d bytes, want %d", ErrCorrupt, n, n.blocks.Len(), n.size, want)
			}
			continue
		}
		if len(n.entries) != len(n.children) {
			return fmt.Errorf("%w: %s lists %d entries for %d children", ErrCorrupt, n, len(n.entries), len(n.children))
		}
		for _, name := range n.entries {
			child, ok := t.nodes[n.children[name]]
			if !ok {
				return fmt.Errorf("%w: %s has dangling child %q", ErrCorrupt, n, name)
			}
			if child.parent != n.id {
				return fmt.Errorf("%w: %s does not point back to %s", ErrCorrupt, child, n)
			}
			queue = append(queue, child)
		}
	}
	if reached != len(t.nodes) {
		return fmt.Errorf("%w: %d of %d nodes unreachable", ErrCorrupt, len(t.nodes)-reached, len(t.nodes))
	}
	return nil
}

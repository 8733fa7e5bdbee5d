package blockfs

import (
	"fmt"
	"slices"
)

// NodeID identifies a node in a Tree. IDs are never reused.
type NodeID uint64

// noParent marks the root, which has no parent.
const noParent NodeID = 0

// Ino is a node number allocator. Each call to Next returns a new NodeID,
// starting at 1.
type Ino uint64

// Next returns the next unused NodeID.
func (n *Ino) Next() NodeID {
	*n++
	return NodeID(*n)
}

// Kind tells directories from files. A node never changes kind.
type Kind uint8

const (
	KindDirectory Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// node is a single entry in the tree's arena.
type node struct {
	id     NodeID
	kind   Kind
	name   string
	prefix string // canonical path of the parent directory
	parent NodeID

	// directories: entries keeps insertion order, children indexes it
	entries  []string
	children map[string]NodeID

	// files
	size      int64
	timestamp string
	blocks    *BlockList
}

func (n *node) isDir() bool { return n.kind == KindDirectory }

func (n *node) isRoot() bool { return n.parent == noParent }

// path returns the node's absolute path.
func (n *node) path() string {
	if n.isRoot() {
		return "/"
	}
	return JoinName(n.prefix, n.name)
}

// childPrefix returns the prefix children of this directory carry.
func (n *node) childPrefix() string {
	if n.isRoot() {
		return "/"
	}
	return n.path() + "/"
}

// link adds a directory entry. The caller checks for collisions.
func (n *node) link(name string, child NodeID) {
	n.children[name] = child
	n.entries = append(n.entries, name)
}

// unlink removes a directory entry, keeping the order of the others.
func (n *node) unlink(name string) {
	delete(n.children, name)
	if i := slices.Index(n.entries, name); i >= 0 {
		n.entries = slices.Delete(n.entries, i, i+1)
	}
}

func (n *node) String() string {
	return fmt.Sprintf("node{%d %s %q}", n.id, n.kind, n.path())
}

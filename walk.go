package blockfs

import "errors"

// SkipDir may be returned by a WalkFunc to skip the children of a directory.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called by Walk for every node with its depth below the
// starting node.
type WalkFunc func(s *Stat, depth int) error

// Walk visits path and everything below it breadth first: all nodes at one
// depth before any node at the next, siblings in creation order.
func (t *Tree) Walk(path string, fn WalkFunc) error {
	start, err := t.lookup(path)
	if err != nil {
		return t.fail("walk", path, err)
	}

	type item struct {
		n     *node
		depth int
	}
	queue := []item{{start, 0}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		err := fn(t.stat(it.n), it.depth)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		for _, name := range it.n.entries {
			queue = append(queue, item{t.nodes[it.n.children[name]], it.depth + 1})
		}
	}
	return nil
}

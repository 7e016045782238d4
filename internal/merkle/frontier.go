package merkle

// Frontier tracks the roots of the perfect subtrees covering the leaves
// appended so far, one per set bit of the leaf count. It yields the same root
// as Root over the full sequence in O(log n) memory.
//
// A Frontier is not safe for concurrent use.
type Frontier struct {
	size  uint64
	nodes []Digest // largest subtree first
}

// Push appends one leaf hash.
func (f *Frontier) Push(leaf Digest) {
	f.nodes = append(f.nodes, leaf)
	// Each trailing one bit of the old size is a subtree of equal height
	// that merges with the new node.
	for s := f.size; s&1 == 1; s >>= 1 {
		n := len(f.nodes)
		f.nodes[n-2] = NodeHash(f.nodes[n-2], f.nodes[n-1])
		f.nodes = f.nodes[:n-1]
	}
	f.size++
}

// Size returns the number of leaves pushed.
func (f *Frontier) Size() uint64 {
	return f.size
}

// Root returns the root of the tree over all pushed leaves.
func (f *Frontier) Root() Digest {
	if len(f.nodes) == 0 {
		return EmptyRoot()
	}
	acc := f.nodes[len(f.nodes)-1]
	for i := len(f.nodes) - 2; i >= 0; i-- {
		acc = NodeHash(f.nodes[i], acc)
	}
	return acc
}

// Clone returns an independent copy of f.
func (f *Frontier) Clone() *Frontier {
	nodes := make([]Digest, len(f.nodes))
	copy(nodes, f.nodes)
	return &Frontier{size: f.size, nodes: nodes}
}

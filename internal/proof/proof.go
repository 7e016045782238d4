// Package proof builds and checks inclusion proofs over the transparency log.
//
// Proofs are self-contained: Verify needs nothing but the proof itself, so
// it can run offline in a verifier that has no access to the log.
package proof

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/realitylog/internal/merkle"
)

// ErrMalformedProof is returned when a proof is not structurally valid:
// non-digest fields, an impossible index/size pair, or a path whose length
// or directions do not fit the tree shape.
var ErrMalformedProof = errors.New("proof: malformed proof")

// Step is one audit path entry on the wire.
type Step struct {
	Direction string `json:"direction"` // "left" or "right"
	Hash      string `json:"hash"`
}

// InclusionProof is the wire form of a proof that Leaf sits at Index in the
// tree of TreeSize leaves whose root is Root.
type InclusionProof struct {
	Index    uint64 `json:"index"`
	TreeSize uint64 `json:"tree_size"`
	Leaf     string `json:"leaf"`
	Root     string `json:"root"`
	Path     []Step `json:"path"`
}

// Result is the outcome of verifying a well-formed proof.
type Result struct {
	Valid        bool          `json:"valid"`
	ComputedRoot merkle.Digest `json:"computed_root"`
	ExpectedRoot merkle.Digest `json:"expected_root"`
}

// checked is a proof whose fields have been parsed and shape-checked.
type checked struct {
	index, size uint64
	leaf, root  merkle.Digest
	path        []merkle.Digest
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedProof, fmt.Sprintf(format, args...))
}

// validate parses every field and rejects proofs that cannot describe any
// leaf of any tree.
func (p *InclusionProof) validate() (*checked, error) {
	if p == nil {
		return nil, malformed("nil proof")
	}
	if p.TreeSize == 0 {
		return nil, malformed("tree_size must be positive")
	}
	if p.Index >= p.TreeSize {
		return nil, malformed("index %d not below tree_size %d", p.Index, p.TreeSize)
	}
	leaf, err := merkle.ParseDigest(p.Leaf)
	if err != nil {
		return nil, malformed("leaf: %v", err)
	}
	root, err := merkle.ParseDigest(p.Root)
	if err != nil {
		return nil, malformed("root: %v", err)
	}

	sides, _ := merkle.PathSides(p.Index, p.TreeSize)
	if len(p.Path) != len(sides) {
		return nil, malformed("path has %d entries, tree shape needs %d", len(p.Path), len(sides))
	}
	path := make([]merkle.Digest, len(p.Path))
	for i, step := range p.Path {
		if step.Direction != sides[i].String() {
			return nil, malformed("path[%d] direction %q, tree shape needs %q", i, step.Direction, sides[i])
		}
		if path[i], err = merkle.ParseDigest(step.Hash); err != nil {
			return nil, malformed("path[%d]: %v", i, err)
		}
	}
	return &checked{index: p.Index, size: p.TreeSize, leaf: leaf, root: root, path: path}, nil
}

// Verify checks p without consulting any log. It returns ErrMalformedProof
// for structurally invalid input; otherwise Result.Valid reports whether the
// path recomputes Leaf into exactly Root.
func Verify(p *InclusionProof) (Result, error) {
	c, err := p.validate()
	if err != nil {
		return Result{}, err
	}
	computed, ok := merkle.ComputeRoot(c.leaf, c.index, c.size, c.path)
	if !ok {
		return Result{}, malformed("path does not fit tree shape")
	}
	return Result{
		Valid:        computed == c.root,
		ComputedRoot: computed,
		ExpectedRoot: c.root,
	}, nil
}

// fromSteps converts an audit path into its wire form.
func fromSteps(steps []merkle.Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = Step{Direction: s.Side.String(), Hash: s.Hash.String()}
	}
	return out
}

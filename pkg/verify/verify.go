// Package verify checks inclusion proofs offline. It needs nothing but the
// proof document: no network access and no trust in the log operator.
//
//	ok := verify.VerifyInclusion(string(proofJSON))
package verify

import (
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/jmerrifield20/realitylog/internal/proof"
)

// ErrMalformed is returned for documents that are not a well-formed
// inclusion proof. It matches proof.ErrMalformedProof with errors.Is.
var ErrMalformed = proof.ErrMalformedProof

var parsers fastjson.ParserPool

// Step is one audit path entry of a Proof.
type Step struct {
	Direction string `json:"direction"`
	Hash      string `json:"hash"`
}

// Proof is the JSON shape of an inclusion proof, as served by GET /prove/:index.
type Proof struct {
	Index    uint64 `json:"index"`
	TreeSize uint64 `json:"tree_size"`
	Leaf     string `json:"leaf"`
	Root     string `json:"root"`
	Path     []Step `json:"path"`
}

// Result is the outcome of checking a well-formed proof.
type Result struct {
	Valid        bool
	ComputedRoot string
	ExpectedRoot string
}

// VerifyInclusion reports whether doc is a well-formed inclusion proof whose
// path leads from its leaf to its root. Any parse or shape error is false.
func VerifyInclusion(doc string) bool {
	res, err := Verify([]byte(doc))
	return err == nil && res.Valid
}

// Verify parses doc and checks it. A proof that parses but does not
// reproduce its root is a Result with Valid false and a nil error.
func Verify(doc []byte) (Result, error) {
	p, err := parse(doc)
	if err != nil {
		return Result{}, err
	}
	return check(p)
}

// VerifyProof checks an already decoded proof, such as one fetched with the
// client SDK.
func VerifyProof(p *Proof) (Result, error) {
	if p == nil {
		return Result{}, fmt.Errorf("%w: nil proof", ErrMalformed)
	}
	ip := &proof.InclusionProof{
		Index:    p.Index,
		TreeSize: p.TreeSize,
		Leaf:     p.Leaf,
		Root:     p.Root,
		Path:     make([]proof.Step, len(p.Path)),
	}
	for i, s := range p.Path {
		ip.Path[i] = proof.Step{Direction: s.Direction, Hash: s.Hash}
	}
	return check(ip)
}

func check(p *proof.InclusionProof) (Result, error) {
	res, err := proof.Verify(p)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Valid:        res.Valid,
		ComputedRoot: res.ComputedRoot.String(),
		ExpectedRoot: res.ExpectedRoot.String(),
	}, nil
}

func parse(doc []byte) (*proof.InclusionProof, error) {
	parser := parsers.Get()
	defer parsers.Put(parser)

	v, err := parser.ParseBytes(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: proof must be a JSON object", ErrMalformed)
	}

	var p proof.InclusionProof
	if p.Index, err = uintField(v, "index"); err != nil {
		return nil, err
	}
	if p.TreeSize, err = uintField(v, "tree_size"); err != nil {
		return nil, err
	}
	if p.Leaf, err = stringField(v, "leaf"); err != nil {
		return nil, err
	}
	if p.Root, err = stringField(v, "root"); err != nil {
		return nil, err
	}

	path := v.Get("path")
	if path == nil {
		return nil, fmt.Errorf("%w: missing path", ErrMalformed)
	}
	steps, err := path.Array()
	if err != nil {
		return nil, fmt.Errorf("%w: path: %v", ErrMalformed, err)
	}
	p.Path = make([]proof.Step, len(steps))
	for i, s := range steps {
		if s.Type() != fastjson.TypeObject {
			return nil, fmt.Errorf("%w: path[%d] must be an object", ErrMalformed, i)
		}
		if p.Path[i].Direction, err = stringField(s, "direction"); err != nil {
			return nil, fmt.Errorf("path[%d]: %w", i, err)
		}
		if p.Path[i].Hash, err = stringField(s, "hash"); err != nil {
			return nil, fmt.Errorf("path[%d]: %w", i, err)
		}
	}
	return &p, nil
}

func uintField(v *fastjson.Value, key string) (uint64, error) {
	f := v.Get(key)
	if f == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformed, key)
	}
	n, err := f.Uint64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return n, nil
}

func stringField(v *fastjson.Value, key string) (string, error) {
	f := v.Get(key)
	if f == nil {
		return "", fmt.Errorf("%w: missing %s", ErrMalformed, key)
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return string(b), nil
}

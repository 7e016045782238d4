package merkle_test

import (
	"fmt"
	"testing"

	"github.com/jmerrifield20/realitylog/internal/merkle"
)

func leaves(payloads ...string) []merkle.Digest {
	out := make([]merkle.Digest, len(payloads))
	for i, p := range payloads {
		out[i] = merkle.LeafHash([]byte(p))
	}
	return out
}

func numbered(n int) []merkle.Digest {
	out := make([]merkle.Digest, n)
	for i := range out {
		out[i] = merkle.LeafHash([]byte(fmt.Sprintf("payload-%d", i)))
	}
	return out
}

func digests(steps []merkle.Step) []merkle.Digest {
	out := make([]merkle.Digest, len(steps))
	for i, s := range steps {
		out[i] = s.Hash
	}
	return out
}

func TestLeafHash_deterministic(t *testing.T) {
	a := merkle.LeafHash([]byte("hello"))
	b := merkle.LeafHash([]byte("hello"))
	if a != b {
		t.Fatal("same payload hashed to different digests")
	}
	if a == merkle.LeafHash([]byte("world")) {
		t.Fatal("different payloads hashed to the same digest")
	}
}

func TestLeafHash_domainSeparated(t *testing.T) {
	l, r := merkle.LeafHash([]byte("l")), merkle.LeafHash([]byte("r"))
	node := merkle.NodeHash(l, r)

	// A leaf whose payload is the concatenation of two children must not
	// collide with the interior node built from them.
	concat := append(append([]byte{}, l[:]...), r[:]...)
	if merkle.LeafHash(concat) == node {
		t.Fatal("leaf hash collides with node hash")
	}
}

func TestRoot_knownVectors(t *testing.T) {
	tests := []struct {
		payloads []string
		want     string
	}{
		{nil, "cc1d2f838445db7aec431df9ee8a871f40e7aa5e064fc056633ef8c60fab7b06"},
		{[]string{"a"}, "022a6979e6dab7aa5ae4c3e5e45f7e977112a7e63593820dbec1ec738a24f93c"},
		{[]string{"a", "b"}, "b137985ff484fb600db93107c77b0365c80d78f5b429ded0fd97361d077999eb"},
		{[]string{"a", "b", "c"}, "36642e73c2540ab121e3a6bf9545b0a24982cd830eb13d3cd19de3ce6c021ec1"},
		{[]string{"a", "b", "c", "d"}, "33376a3bd63e9993708a84ddfe6c28ae58b83505dd1fed711bd924ec5a6239f0"},
		{[]string{"a", "b", "c", "d", "e"}, "fe14a5426fbd70c0fa73f52342afed0da0bd23c4838662ccf6b88a3070ead97b"},
	}
	for _, tt := range tests {
		got := merkle.Root(leaves(tt.payloads...)).String()
		if got != tt.want {
			t.Errorf("Root(%v) = %s, want %s", tt.payloads, got, tt.want)
		}
	}
}

func TestRoot_singleLeafIsLeaf(t *testing.T) {
	l := leaves("only")
	if merkle.Root(l) != l[0] {
		t.Fatal("single-leaf root must equal the leaf hash")
	}
}

func TestRoot_sensitivity(t *testing.T) {
	base := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	want := merkle.Root(leaves(base...))

	for i := range base {
		mutated := append([]string{}, base...)
		b := []byte(mutated[i])
		b[0] ^= 0x01
		mutated[i] = string(b)
		if merkle.Root(leaves(mutated...)) == want {
			t.Errorf("flipping a bit in leaf %d did not change the root", i)
		}
	}

	swapped := []string{"beta", "alpha", "gamma", "delta", "epsilon"}
	if merkle.Root(leaves(swapped...)) == want {
		t.Error("reordering leaves did not change the root")
	}
}

func TestFrontier_matchesRoot(t *testing.T) {
	all := numbered(130)
	var f merkle.Frontier
	if f.Root() != merkle.EmptyRoot() {
		t.Fatal("empty frontier root mismatch")
	}
	for i, l := range all {
		f.Push(l)
		if f.Size() != uint64(i+1) {
			t.Fatalf("size = %d, want %d", f.Size(), i+1)
		}
		if got, want := f.Root(), merkle.Root(all[:i+1]); got != want {
			t.Fatalf("n=%d: frontier root %s, want %s", i+1, got, want)
		}
	}
}

func TestFrontier_cloneIsIndependent(t *testing.T) {
	var f merkle.Frontier
	for _, l := range numbered(3) {
		f.Push(l)
	}
	c := f.Clone()
	f.Push(merkle.LeafHash([]byte("extra")))
	if c.Size() != 3 || c.Root() != merkle.Root(numbered(3)) {
		t.Fatal("clone changed after pushing to the original")
	}
}

func TestAuditPath_roundTripAllSizes(t *testing.T) {
	for n := 1; n <= 64; n++ {
		ls := numbered(n)
		root := merkle.Root(ls)
		for i := 0; i < n; i++ {
			steps, err := merkle.AuditPath(uint64(i), ls)
			if err != nil {
				t.Fatalf("n=%d i=%d: %v", n, i, err)
			}
			sides, ok := merkle.PathSides(uint64(i), uint64(n))
			if !ok || len(sides) != len(steps) {
				t.Fatalf("n=%d i=%d: sides %v do not match path length %d", n, i, sides, len(steps))
			}
			for j := range sides {
				if sides[j] != steps[j].Side {
					t.Fatalf("n=%d i=%d: step %d side %v, want %v", n, i, j, steps[j].Side, sides[j])
				}
			}
			if !merkle.Verify(ls[i], uint64(i), uint64(n), digests(steps), root) {
				t.Fatalf("n=%d i=%d: valid proof rejected", n, i)
			}
		}
	}
}

func TestAuditPath_outOfRange(t *testing.T) {
	if _, err := merkle.AuditPath(3, numbered(3)); err != merkle.ErrIndexOutOfRange {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := merkle.AuditPath(0, nil); err != merkle.ErrIndexOutOfRange {
		t.Fatalf("expected ErrIndexOutOfRange on empty tree, got %v", err)
	}
}

func TestAuditPath_singleLeaf(t *testing.T) {
	ls := leaves("solo")
	steps, err := merkle.AuditPath(0, ls)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 0 {
		t.Fatalf("expected empty path, got %d steps", len(steps))
	}
	if !merkle.Verify(ls[0], 0, 1, nil, ls[0]) {
		t.Fatal("single-leaf proof rejected")
	}
}

func TestVerify_negative(t *testing.T) {
	ls := numbered(11)
	root := merkle.Root(ls)
	const idx = 6
	steps, err := merkle.AuditPath(idx, ls)
	if err != nil {
		t.Fatal(err)
	}
	path := digests(steps)

	for i := range path {
		for _, bit := range []int{0, 17, 31} {
			mutated := append([]merkle.Digest{}, path...)
			mutated[i][bit] ^= 0x80
			if merkle.Verify(ls[idx], idx, 11, mutated, root) {
				t.Errorf("mutated path entry %d byte %d accepted", i, bit)
			}
		}
	}

	badLeaf := ls[idx]
	badLeaf[5] ^= 0x01
	if merkle.Verify(badLeaf, idx, 11, path, root) {
		t.Error("mutated leaf accepted")
	}

	badRoot := root
	badRoot[31] ^= 0x01
	if merkle.Verify(ls[idx], idx, 11, path, badRoot) {
		t.Error("mutated root accepted")
	}

	if merkle.Verify(ls[idx], idx+1, 11, path, root) {
		t.Error("wrong index accepted")
	}
}

func TestVerify_malformedShapes(t *testing.T) {
	ls := numbered(5)
	root := merkle.Root(ls)
	steps, _ := merkle.AuditPath(2, ls)
	path := digests(steps)

	tests := []struct {
		name  string
		index uint64
		size  uint64
		path  []merkle.Digest
	}{
		{"index equals size", 5, 5, path},
		{"index beyond size", 9, 5, path},
		{"zero size", 0, 0, nil},
		{"path too short", 2, 5, path[:1]},
		{"path too long", 2, 5, append(append([]merkle.Digest{}, path...), root)},
		{"nil path", 2, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if merkle.Verify(ls[2], tt.index, tt.size, tt.path, root) {
				t.Fatal("malformed proof accepted")
			}
		})
	}
}

func TestVerify_staleRootRejected(t *testing.T) {
	ls := leaves("a", "b", "c")
	root3 := merkle.Root(ls)
	root2 := merkle.Root(ls[:2])

	steps, err := merkle.AuditPath(1, ls)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 {
		t.Fatalf("leaf 1 of 3: expected 2 steps, got %d", len(steps))
	}
	if !merkle.Verify(ls[1], 1, 3, digests(steps), root3) {
		t.Fatal("proof rejected against its own root")
	}
	if merkle.Verify(ls[1], 1, 3, digests(steps), root2) {
		t.Fatal("proof accepted against the stale size-2 root")
	}

	last, _ := merkle.AuditPath(2, ls)
	if len(last) != 1 || last[0].Side != merkle.Left || last[0].Hash != root2 {
		t.Fatalf("leaf 2 of 3: expected single left sibling equal to the size-2 root, got %+v", last)
	}
}

func TestParseDigest(t *testing.T) {
	d := merkle.LeafHash([]byte("x"))
	got, err := merkle.ParseDigest(d.String())
	if err != nil || got != d {
		t.Fatalf("ParseDigest round trip: %v", err)
	}
	upper, err := merkle.ParseDigest("022A6979E6DAB7AA5AE4C3E5E45F7E977112A7E63593820DBEC1EC738A24F93C")
	if err != nil || upper != merkle.LeafHash([]byte("a")) {
		t.Fatalf("uppercase hex not accepted: %v", err)
	}
	for _, bad := range []string{"", "zz", d.String()[:62], d.String() + "00", "g" + d.String()[1:]} {
		if _, err := merkle.ParseDigest(bad); err == nil {
			t.Errorf("ParseDigest(%q) accepted", bad)
		}
	}
}

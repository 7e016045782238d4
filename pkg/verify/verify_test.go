package verify_test

import (
	"context"
	"encoding/json"
	"errors"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	"github.com/jmerrifield20/realitylog/internal/proof"
	"github.com/jmerrifield20/realitylog/internal/tlog"
	"github.com/jmerrifield20/realitylog/pkg/client"
	"github.com/jmerrifield20/realitylog/pkg/verify"
)

const root3 = "36642e73c2540ab121e3a6bf9545b0a24982cd830eb13d3cd19de3ce6c021ec1"

// proofDocs returns the JSON inclusion proof of every leaf of a log
// holding payloads "a".."c".
func proofDocs(t *testing.T) []string {
	t.Helper()
	l, err := tlog.Open(context.Background(), tlog.NewMemoryBackend(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"a", "b", "c"} {
		if _, err := l.Append(context.Background(), []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	svc := proof.NewService(l)
	var docs []string
	for i := uint64(0); i < 3; i++ {
		p, err := svc.Prove(i)
		if err != nil {
			t.Fatal(err)
		}
		b, _ := json.Marshal(p)
		docs = append(docs, string(b))
	}
	return docs
}

func TestVerifyInclusion_valid(t *testing.T) {
	for i, doc := range proofDocs(t) {
		if !verify.VerifyInclusion(doc) {
			t.Errorf("proof %d rejected: %s", i, doc)
		}
	}
}

func TestVerify_result(t *testing.T) {
	res, err := verify.Verify([]byte(proofDocs(t)[1]))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid || res.ComputedRoot != root3 || res.ExpectedRoot != root3 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestVerifyInclusion_tampered(t *testing.T) {
	var p proof.InclusionProof
	if err := json.Unmarshal([]byte(proofDocs(t)[0]), &p); err != nil {
		t.Fatal(err)
	}
	p.Leaf = merkle.LeafHash([]byte("x")).String()
	tampered, _ := json.Marshal(p)
	if verify.VerifyInclusion(string(tampered)) {
		t.Error("proof with substituted leaf accepted")
	}

	doc := proofDocs(t)[0]
	res, err := verify.Verify([]byte(strings.Replace(doc, root3, strings.Repeat("0", 64), 1)))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Valid {
		t.Error("proof against a different root accepted")
	}
}

func TestVerify_malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"not json", `{"index":`},
		{"array", `[]`},
		{"negative index", `{"index":-1,"tree_size":1,"leaf":"` + root3 + `","root":"` + root3 + `","path":[]}`},
		{"fractional size", `{"index":0,"tree_size":1.5,"leaf":"` + root3 + `","root":"` + root3 + `","path":[]}`},
		{"missing root", `{"index":0,"tree_size":1,"leaf":"` + root3 + `","path":[]}`},
		{"numeric leaf", `{"index":0,"tree_size":1,"leaf":1,"root":"` + root3 + `","path":[]}`},
		{"missing path", `{"index":0,"tree_size":1,"leaf":"` + root3 + `","root":"` + root3 + `"}`},
		{"path step not object", `{"index":0,"tree_size":2,"leaf":"` + root3 + `","root":"` + root3 + `","path":["x"]}`},
		{"short digest", `{"index":0,"tree_size":1,"leaf":"abcd","root":"` + root3 + `","path":[]}`},
		{"index past size", `{"index":1,"tree_size":1,"leaf":"` + root3 + `","root":"` + root3 + `","path":[]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if verify.VerifyInclusion(tc.doc) {
				t.Error("malformed proof accepted")
			}
			if _, err := verify.Verify([]byte(tc.doc)); !errors.Is(err, verify.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestVerifyProof_clientShape(t *testing.T) {
	var p client.Proof // same type as verify.Proof
	if err := json.Unmarshal([]byte(proofDocs(t)[2]), &p); err != nil {
		t.Fatal(err)
	}
	res, err := verify.VerifyProof(&p)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !res.Valid {
		t.Error("client proof rejected")
	}

	if _, err := verify.VerifyProof(nil); !errors.Is(err, verify.ErrMalformed) {
		t.Errorf("expected ErrMalformed for nil proof, got %v", err)
	}
}

// TestVerify_noNetworkDependency walks the module packages this one builds
// on and fails if any of them pulls in HTTP or the client SDK.
func TestVerify_noNetworkDependency(t *testing.T) {
	const module = "github.com/jmerrifield20/realitylog/"
	forbidden := map[string]bool{"net/http": true, module + "pkg/client": true}

	seen := map[string]bool{}
	queue := []string{module + "pkg/verify"}
	for len(queue) > 0 {
		pkg := queue[0]
		queue = queue[1:]
		if seen[pkg] {
			continue
		}
		seen[pkg] = true

		dir := filepath.Join("..", "..", filepath.FromSlash(strings.TrimPrefix(pkg, module)))
		files, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			if strings.HasSuffix(f, "_test.go") {
				continue
			}
			af, err := parser.ParseFile(token.NewFileSet(), f, nil, parser.ImportsOnly)
			if err != nil {
				t.Fatal(err)
			}
			for _, imp := range af.Imports {
				path, _ := strconv.Unquote(imp.Path.Value)
				if forbidden[path] {
					t.Errorf("%s imports %s", f, path)
				}
				if strings.HasPrefix(path, module) {
					queue = append(queue, path)
				}
			}
		}
	}
}

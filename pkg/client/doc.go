// Package client is the Go SDK for the reality log daemon.
//
// # Appending
//
// Producers append opaque payloads and receive the assigned index together
// with the tree size and root that now include it:
//
//	c, err := client.New("http://127.0.0.1:8080",
//	    client.WithBearerToken(os.Getenv("RLOG_TOKEN")),
//	)
//	res, err := c.Append(ctx, `{"sha256":"…","source":"camera-17"}`)
//	fmt.Println(res.Index, res.Root)
//
// # Proving inclusion
//
// A proof is self-contained. Fetch it once, store it next to the content,
// and anyone can check it later without trusting the log operator:
//
//	p, err := c.Prove(ctx, res.Index)
//	res, err := verify.VerifyProof(p) // package github.com/jmerrifield20/realitylog/pkg/verify
//
// The daemon can also check a proof for callers that cannot run the
// verifier themselves:
//
//	v, err := c.Verify(ctx, p)
//	fmt.Println(v.Valid)
//
// # Anchors
//
// The anchor loop records the root every period. Anchors lists them in
// append order:
//
//	anchors, err := c.Anchors(ctx)
package client

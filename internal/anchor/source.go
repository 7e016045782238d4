package anchor

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	"github.com/jmerrifield20/realitylog/internal/tlog"
	"github.com/jmerrifield20/realitylog/pkg/client"
)

// RootSource is the read surface the loop anchors from.
type RootSource interface {
	CurrentRoot(ctx context.Context) (tlog.TreeState, error)
}

// RootSourceFunc adapts a function to RootSource.
type RootSourceFunc func(ctx context.Context) (tlog.TreeState, error)

// CurrentRoot implements RootSource.
func (f RootSourceFunc) CurrentRoot(ctx context.Context) (tlog.TreeState, error) {
	return f(ctx)
}

// LocalSource reads the root of a log in the same process.
func LocalSource(l *tlog.Log) RootSource {
	return RootSourceFunc(func(context.Context) (tlog.TreeState, error) {
		return l.CurrentRoot(), nil
	})
}

// RemoteSource reads the root from a log daemon over HTTP.
func RemoteSource(c *client.Client) RootSource {
	return RootSourceFunc(func(ctx context.Context) (tlog.TreeState, error) {
		resp, err := c.Root(ctx)
		if err != nil {
			return tlog.TreeState{}, err
		}
		root, err := merkle.ParseDigest(resp.Root)
		if err != nil {
			return tlog.TreeState{}, fmt.Errorf("remote root: %w", err)
		}
		return tlog.TreeState{Size: resp.TreeSize, Root: root}, nil
	})
}

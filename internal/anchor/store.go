package anchor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Store is the durable, append-only sequence of anchor records.
// FileStore and SQLiteStore implement this interface.
type Store interface {
	// Append durably stores r after all previously appended records.
	Append(ctx context.Context, r Record) error

	// List returns every record in append order.
	List(ctx context.Context) ([]Record, error)

	// Close releases the store's resources.
	Close() error
}

// OpenStore opens the store named by driver ("file" or "sqlite") under dir.
func OpenStore(driver, dir string, logger *zap.Logger) (Store, error) {
	switch driver {
	case "file":
		s, err := OpenFileStore(dir, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		s, err := OpenSQLiteStore(filepath.Join(dir, "anchors.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown anchor driver %q (want file or sqlite)", driver)
	}
}

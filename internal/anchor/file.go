package anchor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const anchorsFileName = "anchors.jsonl"

// FileStore keeps anchor records as JSON lines in one append-only file.
// Each record is written with its newline and synced before Append returns;
// a final line with no newline, or one that does not parse, is a torn write
// and is cut off when the store is opened.
type FileStore struct {
	file   *os.File
	logger *zap.Logger

	mu      sync.RWMutex
	records []Record
	size    int64
}

// OpenFileStore opens or creates anchors.jsonl in dir.
func OpenFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, anchorsFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open anchors file: %w", err)
	}

	s := &FileStore{file: f, logger: logger}
	if err := s.load(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek anchors file: %w", err)
	}
	data, err := io.ReadAll(s.file)
	if err != nil {
		return fmt.Errorf("read anchors file: %w", err)
	}

	var off int64
	r := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			// Anything left over lacks its newline and was never acknowledged.
			break
		}
		if err != nil {
			return fmt.Errorf("read anchors file: %w", err)
		}

		var rec Record
		if jerr := json.Unmarshal(line, &rec); jerr != nil || !rec.Valid() {
			last := off+int64(len(line)) == int64(len(data))
			if last {
				break
			}
			return fmt.Errorf("%w: record %d at offset %d", ErrCorrupt, len(s.records), off)
		}
		s.records = append(s.records, rec)
		off += int64(len(line))
	}

	if off != int64(len(data)) {
		s.logger.Warn("discarding incomplete anchor record",
			zap.Int64("size", int64(len(data))),
			zap.Int64("keep", off),
		)
		if err := s.file.Truncate(off); err != nil {
			return fmt.Errorf("truncate anchors file: %w", err)
		}
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("sync anchors file: %w", err)
		}
	}
	s.size = off
	return nil
}

// Append implements Store.
func (s *FileStore) Append(_ context.Context, r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal anchor: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		s.rollback()
		return fmt.Errorf("%w: write anchor: %w", ErrStorageFailure, err)
	}
	if err := s.file.Sync(); err != nil {
		s.rollback()
		return fmt.Errorf("%w: sync anchors file: %w", ErrStorageFailure, err)
	}

	s.records = append(s.records, r)
	s.size += int64(len(line))
	return nil
}

// rollback cuts a partially written record. Caller holds mu.
func (s *FileStore) rollback() {
	if err := s.file.Truncate(s.size); err != nil {
		s.logger.Error("rollback of failed anchor write failed", zap.Error(err))
	}
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

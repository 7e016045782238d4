package tlog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmerrifield20/realitylog/internal/merkle"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

// FileBackend stores the log in two append-only files in one directory.
//
// leaves.dat holds one 32-byte leaf hash per entry, nothing else, so the tree
// can be rebuilt without touching payloads.
//
// entries.dat holds one framed record per entry:
//
//	[4]byte: message length n (big endian)
//	[n]byte: protobuf wire message
//	           1: index       (varint)
//	           2: received_at (varint, unix nanoseconds)
//	           3: payload     (bytes)
//	           4: leaf hash   (bytes)
//	[4]byte: CRC-32C of the message
//
// An entry is written and synced before its leaf, so after a crash
// entries.dat is never shorter than leaves.dat. Open truncates both files to
// the longest prefix that is complete in each.
type FileBackend struct {
	dir     string
	entries *os.File
	leaves  *os.File
	logger  *zap.Logger

	mu        sync.RWMutex
	offsets   []int64 // start offset of each entry in entries.dat
	entrySize int64   // bytes of complete records in entries.dat
	broken    error   // set when a failed append could not be rolled back
}

const (
	entriesFileName = "entries.dat"
	leavesFileName  = "leaves.dat"

	frameHeaderSize  = 4
	frameTrailerSize = 4
)

const (
	fieldIndex      protowire.Number = 1
	fieldReceivedAt protowire.Number = 2
	fieldPayload    protowire.Number = 3
	fieldLeafHash   protowire.Number = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// errTornTail marks a trailing record that was only partially written.
var errTornTail = errors.New("torn tail record")

// OpenFileBackend opens or creates the log files in dir, validating every
// record and discarding a partially written tail.
func OpenFileBackend(dir string, logger *zap.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	entries, err := os.OpenFile(filepath.Join(dir, entriesFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open entries file: %w", err)
	}
	leaves, err := os.OpenFile(filepath.Join(dir, leavesFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		_ = entries.Close()
		return nil, fmt.Errorf("open leaves file: %w", err)
	}

	b := &FileBackend{dir: dir, entries: entries, leaves: leaves, logger: logger}
	if err := b.recover(); err != nil {
		_ = entries.Close()
		_ = leaves.Close()
		return nil, err
	}
	return b, nil
}

// recover scans both files, cross-checks them and truncates away an entry
// whose leaf was never written, or a partial record at the end of either file.
func (b *FileBackend) recover() error {
	entryHashes, offsets, entryEnd, err := scanEntries(b.entries)
	if err != nil {
		return err
	}

	fi, err := b.leaves.Stat()
	if err != nil {
		return fmt.Errorf("stat leaves file: %w", err)
	}
	leafCount := uint64(fi.Size() / merkle.Size)

	// Entries are synced before their leaves, so a complete leaf always has
	// a complete entry. More leaves than entries means acknowledged records
	// were lost from entries.dat.
	if leafCount > uint64(len(entryHashes)) {
		return fmt.Errorf("%w: %d leaves but only %d readable entries", ErrCorrupt, leafCount, len(entryHashes))
	}
	n := leafCount

	if _, err := b.leaves.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek leaves file: %w", err)
	}
	r := bufio.NewReader(b.leaves)
	var leaf merkle.Digest
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(r, leaf[:]); err != nil {
			return fmt.Errorf("read leaf %d: %w", i, err)
		}
		if leaf != entryHashes[i] {
			return fmt.Errorf("%w: leaf %d does not match its entry", ErrCorrupt, i)
		}
	}

	entryKeep := entryEnd
	if n < uint64(len(offsets)) {
		entryKeep = offsets[n]
	}
	leafKeep := int64(n) * merkle.Size

	if err := truncateTo(b.entries, entryKeep, b.logger, entriesFileName); err != nil {
		return err
	}
	if err := truncateTo(b.leaves, leafKeep, b.logger, leavesFileName); err != nil {
		return err
	}

	b.offsets = offsets[:n]
	b.entrySize = entryKeep
	return nil
}

func truncateTo(f *os.File, size int64, logger *zap.Logger, name string) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if fi.Size() == size {
		return nil
	}
	logger.Warn("discarding incomplete tail",
		zap.String("file", name),
		zap.Int64("size", fi.Size()),
		zap.Int64("keep", size),
	)
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", name, err)
	}
	return nil
}

// scanEntries validates every record of entries.dat and returns the leaf hash
// and start offset of each complete record, plus the end of the last one.
func scanEntries(f *os.File) (hashes []merkle.Digest, offsets []int64, end int64, err error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("stat entries file: %w", err)
	}
	size := fi.Size()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, 0, fmt.Errorf("seek entries file: %w", err)
	}
	r := bufio.NewReader(f)

	var off int64
	for off < size {
		e, n, err := readFrame(r, size-off)
		if errors.Is(err, errTornTail) {
			break
		}
		if err != nil {
			return nil, nil, 0, fmt.Errorf("%w: entry at offset %d: %v", ErrCorrupt, off, err)
		}
		if e.Index != uint64(len(hashes)) {
			return nil, nil, 0, fmt.Errorf("%w: entry at offset %d has index %d, want %d", ErrCorrupt, off, e.Index, len(hashes))
		}
		if merkle.LeafHash(e.Payload) != e.LeafHash {
			return nil, nil, 0, fmt.Errorf("%w: entry %d leaf hash does not match payload", ErrCorrupt, e.Index)
		}
		hashes = append(hashes, e.LeafHash)
		offsets = append(offsets, off)
		off += n
	}
	return hashes, offsets, off, nil
}

// readFrame reads one framed entry. remaining is the number of bytes left in
// the file from the start of the frame. A frame that does not fit, or whose
// checksum fails while ending exactly at end of file, is a torn tail.
func readFrame(r io.Reader, remaining int64) (Entry, int64, error) {
	var hdr [frameHeaderSize]byte
	if remaining < frameHeaderSize {
		return Entry{}, 0, errTornTail
	}
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Entry{}, 0, fmt.Errorf("read header: %w", err)
	}
	msgLen := int64(binary.BigEndian.Uint32(hdr[:]))
	total := frameHeaderSize + msgLen + frameTrailerSize
	if total > remaining {
		return Entry{}, 0, errTornTail
	}

	buf := make([]byte, msgLen+frameTrailerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Entry{}, 0, fmt.Errorf("read record: %w", err)
	}
	msg, sum := buf[:msgLen], binary.BigEndian.Uint32(buf[msgLen:])
	if crc32.Checksum(msg, castagnoli) != sum {
		if total == remaining {
			return Entry{}, 0, errTornTail
		}
		return Entry{}, 0, errors.New("checksum mismatch")
	}

	e, err := decodeEntry(msg)
	if err != nil {
		return Entry{}, 0, err
	}
	return e, total, nil
}

func encodeEntry(e Entry) []byte {
	msg := make([]byte, 0, 64+len(e.Payload))
	msg = protowire.AppendTag(msg, fieldIndex, protowire.VarintType)
	msg = protowire.AppendVarint(msg, e.Index)
	msg = protowire.AppendTag(msg, fieldReceivedAt, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(e.ReceivedAt.UnixNano()))
	msg = protowire.AppendTag(msg, fieldPayload, protowire.BytesType)
	msg = protowire.AppendBytes(msg, e.Payload)
	msg = protowire.AppendTag(msg, fieldLeafHash, protowire.BytesType)
	msg = protowire.AppendBytes(msg, e.LeafHash[:])

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(msg)+frameTrailerSize)
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	frame = append(frame, msg...)
	return binary.BigEndian.AppendUint32(frame, crc32.Checksum(msg, castagnoli))
}

func decodeEntry(msg []byte) (Entry, error) {
	var e Entry
	var seenLeaf bool
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return Entry{}, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		msg = msg[n:]

		switch {
		case num == fieldIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return Entry{}, fmt.Errorf("decode index: %w", protowire.ParseError(n))
			}
			e.Index = v
			msg = msg[n:]
		case num == fieldReceivedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return Entry{}, fmt.Errorf("decode received_at: %w", protowire.ParseError(n))
			}
			e.ReceivedAt = time.Unix(0, int64(v)).UTC()
			msg = msg[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return Entry{}, fmt.Errorf("decode payload: %w", protowire.ParseError(n))
			}
			e.Payload = append([]byte{}, v...)
			msg = msg[n:]
		case num == fieldLeafHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return Entry{}, fmt.Errorf("decode leaf hash: %w", protowire.ParseError(n))
			}
			if len(v) != merkle.Size {
				return Entry{}, fmt.Errorf("leaf hash is %d bytes", len(v))
			}
			copy(e.LeafHash[:], v)
			seenLeaf = true
			msg = msg[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return Entry{}, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			msg = msg[n:]
		}
	}
	if !seenLeaf {
		return Entry{}, errors.New("missing leaf hash")
	}
	if e.Payload == nil {
		e.Payload = []byte{}
	}
	return e, nil
}

// Leaves implements Backend by streaming leaves.dat.
func (b *FileBackend) Leaves(ctx context.Context, fn func(Leaf) error) error {
	b.mu.RLock()
	n := uint64(len(b.offsets))
	b.mu.RUnlock()

	r := bufio.NewReader(io.NewSectionReader(b.leaves, 0, int64(n)*merkle.Size))
	var h merkle.Digest
	for i := uint64(0); i < n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return fmt.Errorf("read leaf %d: %w", i, err)
		}
		if err := fn(Leaf{Index: i, Hash: h}); err != nil {
			return err
		}
	}
	return nil
}

// Append implements Backend.
func (b *FileBackend) Append(_ context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken != nil {
		return fmt.Errorf("backend unusable after failed rollback: %w", b.broken)
	}
	if e.Index != uint64(len(b.offsets)) {
		return fmt.Errorf("non-contiguous append: have %d entries, got index %d", len(b.offsets), e.Index)
	}

	frame := encodeEntry(e)
	entryStart := b.entrySize
	leafStart := int64(len(b.offsets)) * merkle.Size

	if err := writeSync(b.entries, frame); err != nil {
		b.rollback(entryStart, leafStart)
		return fmt.Errorf("write entry: %w", err)
	}
	if err := writeSync(b.leaves, e.LeafHash[:]); err != nil {
		b.rollback(entryStart, leafStart)
		return fmt.Errorf("write leaf: %w", err)
	}

	b.offsets = append(b.offsets, entryStart)
	b.entrySize = entryStart + int64(len(frame))
	return nil
}

func writeSync(f *os.File, data []byte) error {
	n, err := f.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(data))
	}
	return f.Sync()
}

// rollback restores both files to their sizes before a failed append.
// Caller holds mu.
func (b *FileBackend) rollback(entrySize, leafSize int64) {
	for _, t := range []struct {
		f    *os.File
		size int64
	}{{b.entries, entrySize}, {b.leaves, leafSize}} {
		if err := t.f.Truncate(t.size); err != nil {
			b.broken = err
			b.logger.Error("rollback of failed append failed", zap.String("file", t.f.Name()), zap.Error(err))
			return
		}
	}
}

// Entry implements Backend.
func (b *FileBackend) Entry(_ context.Context, index uint64) (Entry, error) {
	b.mu.RLock()
	if index >= uint64(len(b.offsets)) {
		b.mu.RUnlock()
		return Entry{}, ErrOutOfRange
	}
	start := b.offsets[index]
	end := b.entrySize
	if index+1 < uint64(len(b.offsets)) {
		end = b.offsets[index+1]
	}
	b.mu.RUnlock()

	e, _, err := readFrame(io.NewSectionReader(b.entries, start, end-start), end-start)
	if err != nil {
		return Entry{}, fmt.Errorf("read entry %d: %w", index, err)
	}
	return e, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.entries.Close(), b.leaves.Close())
}

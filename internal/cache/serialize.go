package cache

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/pipec/internal/checksum"
)

// Serialized cache layout, little-endian:
//
//	header: magic "PCCH", version u32, entry count u32
//	entry:  compact key u64, size u32, blake3-256 of data, data
const (
	serialMagic   = "PCCH"
	serialVersion = 1

	// maxEntrySize guards Deserialize against absurd size fields.
	maxEntrySize = 1 << 30
)

type serialEntry struct {
	key  uint64
	data []byte
}

// Serialize writes every Ready entry, including entries only present in a
// store that can list them, to w.
func (c *Cache) Serialize(ctx context.Context, w io.Writer) error {
	c.mu.Lock()
	entries := make([]serialEntry, 0, c.ready.Len())
	seen := make(map[uint64]bool, c.ready.Len())
	for _, e := range c.ready.Values() {
		entries = append(entries, serialEntry{key: e.key, data: e.data})
		seen[e.key] = true
	}
	c.mu.Unlock()

	if l, ok := c.store.(Lister); ok {
		err := l.ForEach(ctx, func(name string, data []byte) error {
			k, err := checksum.ParseCompact(name)
			if err != nil {
				c.logger.Warn("skipping persisted entry with malformed key", "key", name)
				return nil
			}
			if !seen[k] {
				entries = append(entries, serialEntry{key: k, data: data})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("list persistent cache: %w", err)
		}
	}

	bw := bufio.NewWriter(w)
	var hdr [12]byte
	copy(hdr[:4], serialMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], serialVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(entries)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var eh [12]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint64(eh[:8], e.key)
		binary.LittleEndian.PutUint32(eh[8:12], uint32(len(e.data)))
		sum := blake3.Sum256(e.data)
		if _, err := bw.Write(eh[:]); err != nil {
			return err
		}
		if _, err := bw.Write(sum[:]); err != nil {
			return err
		}
		if _, err := bw.Write(e.data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Deserialize loads entries written by Serialize into the memory tier.
// Entries already present are kept. Nothing is loaded if any part of r is
// malformed.
func (c *Cache) Deserialize(r io.Reader) (int, error) {
	br := bufio.NewReader(r)

	var hdr [12]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return 0, fmt.Errorf("read header: %w", invalidData(err))
	}
	if string(hdr[:4]) != serialMagic {
		return 0, fmt.Errorf("bad magic %q: %w", hdr[:4], ErrInvalidData)
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != serialVersion {
		return 0, fmt.Errorf("unsupported version %d: %w", v, ErrInvalidData)
	}
	count := binary.LittleEndian.Uint32(hdr[8:12])

	var entries []serialEntry
	var eh [12]byte
	var sum [32]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(br, eh[:]); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, invalidData(err))
		}
		key := binary.LittleEndian.Uint64(eh[:8])
		size := binary.LittleEndian.Uint32(eh[8:12])
		if size > maxEntrySize {
			return 0, fmt.Errorf("entry %d: size %d: %w", i, size, ErrInvalidData)
		}
		if _, err := io.ReadFull(br, sum[:]); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, invalidData(err))
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, invalidData(err))
		}
		if blake3.Sum256(data) != sum {
			return 0, fmt.Errorf("entry %d (%s): checksum mismatch: %w", i, checksum.FormatCompact(key), ErrInvalidData)
		}
		entries = append(entries, serialEntry{key: key, data: data})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	loaded := 0
	for _, se := range entries {
		if c.ready.Contains(se.key) {
			continue
		}
		if _, busy := c.pending[se.key]; busy {
			continue
		}
		e := &entry{key: se.key, state: Ready, data: se.data, sum: blake3.Sum256(se.data), done: closedChan()}
		c.ready.Add(se.key, e)
		c.bytes += int64(len(se.data))
		loaded++
	}
	return loaded, nil
}

// Persist writes every entry of the memory tier to the store, so that
// deserialized entries outlive the process. It is a no-op without a store.
func (c *Cache) Persist(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	c.mu.Lock()
	entries := make([]serialEntry, 0, c.ready.Len())
	for _, e := range c.ready.Values() {
		entries = append(entries, serialEntry{key: e.key, data: e.data})
	}
	c.mu.Unlock()

	for i, e := range entries {
		if err := c.store.Put(ctx, checksum.FormatCompact(e.key), e.data); err != nil {
			return i, fmt.Errorf("persist %s: %w", checksum.FormatCompact(e.key), err)
		}
	}
	return len(entries), nil
}

func invalidData(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("truncated: %w", ErrInvalidData)
	}
	return err
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

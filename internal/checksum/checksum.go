// Package checksum implements the streaming MD5 accumulator used to derive
// pipeline and shader cache keys.
//
// The byte order of every typed update is little-endian and fixed. Cache
// entries persisted by one process are looked up by another, so the digest of
// a given update sequence must never change between releases.
package checksum

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

// Size is the length of a full digest in bytes.
const Size = md5.Size

// Hash is a full 128-bit digest.
type Hash [Size]byte

// Context accumulates bytes into a digest. The zero value is not usable;
// call New or Init first.
type Context struct {
	h   hash.Hash
	buf [8]byte
}

// New returns an initialized accumulator.
func New() *Context {
	c := &Context{}
	c.Init()
	return c
}

// Init resets the accumulator to a fresh state.
func (c *Context) Init() {
	if c.h == nil {
		c.h = md5.New()
		return
	}
	c.h.Reset()
}

// Update folds b into the accumulator.
func (c *Context) Update(b []byte) {
	// hash.Hash.Write never returns an error.
	_, _ = c.h.Write(b)
}

func (c *Context) UpdateUint32(v uint32) {
	binary.LittleEndian.PutUint32(c.buf[:4], v)
	c.Update(c.buf[:4])
}

func (c *Context) UpdateUint64(v uint64) {
	binary.LittleEndian.PutUint64(c.buf[:8], v)
	c.Update(c.buf[:8])
}

// UpdateBool folds a single byte, 1 for true.
func (c *Context) UpdateBool(v bool) {
	c.buf[0] = 0
	if v {
		c.buf[0] = 1
	}
	c.Update(c.buf[:1])
}

// UpdateString folds the raw bytes of s without a length prefix or
// terminator.
func (c *Context) UpdateString(s string) {
	_, _ = c.h.Write([]byte(s))
}

func (c *Context) UpdateHash(h Hash) {
	c.Update(h[:])
}

// Final returns the digest of everything folded so far. The accumulator may
// continue to be updated afterwards.
func (c *Context) Final() Hash {
	var out Hash
	copy(out[:], c.h.Sum(nil))
	return out
}

// FromBuffer is a one-shot digest of b.
func FromBuffer(b []byte) Hash {
	return Hash(md5.Sum(b))
}

// Compact64 reduces a digest to 64 bits by XOR-ing its two little-endian
// qwords.
func Compact64(h Hash) uint64 {
	return binary.LittleEndian.Uint64(h[0:8]) ^ binary.LittleEndian.Uint64(h[8:16])
}

// Compact64 is shorthand for Compact64(h).
func (h Hash) Compact64() uint64 {
	return Compact64(h)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero digest.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// FormatCompact renders a compact hash the way it appears in logs and file
// names, e.g. 0x00000000DEADBEEF.
func FormatCompact(v uint64) string {
	return fmt.Sprintf("0x%016X", v)
}

// ParseCompact parses a hash rendered by FormatCompact.
func ParseCompact(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse compact hash %q: %w", s, err)
	}
	return v, nil
}

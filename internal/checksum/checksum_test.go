package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBufferKnownDigests(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		digest  string
		compact uint64
	}{
		{name: "empty", in: "", digest: "d41d8cd98f00b204e9800998ecf8427e", compact: 0x7AF0F86341859D3D},
		{name: "abc", in: "abc", digest: "900150983cd24fb0d6963f7d28e17f72", compact: 0xC2303314E56F9746},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := FromBuffer([]byte(tt.in))
			assert.Equal(t, tt.digest, h.String())
			assert.Equal(t, tt.compact, Compact64(h))
			assert.Equal(t, tt.compact, h.Compact64())
		})
	}
}

func TestTypedUpdatesAreLittleEndian(t *testing.T) {
	c := New()
	c.UpdateUint32(7)
	c.UpdateBool(true)
	c.UpdateString("main")
	c.UpdateUint64(0x1122334455667788)

	assert.Equal(t, "a92b44e25eeb31c1b01ca8fb433fca4e", c.Final().String())
}

func TestInitResetsState(t *testing.T) {
	c := New()
	c.UpdateString("something else")
	c.Init()
	c.UpdateString("abc")

	assert.Equal(t, FromBuffer([]byte("abc")), c.Final())
}

func TestStreamingMatchesOneShot(t *testing.T) {
	c := New()
	c.Update([]byte("ab"))
	c.Update([]byte("c"))
	assert.Equal(t, FromBuffer([]byte("abc")), c.Final())
}

func TestCompactRoundTrip(t *testing.T) {
	s := FormatCompact(0xDEADBEEF)
	assert.Equal(t, "0x00000000DEADBEEF", s)

	v, err := ParseCompact(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEF), v)

	_, err = ParseCompact("0xnothex")
	assert.Error(t, err)
}

func TestIsZero(t *testing.T) {
	assert.True(t, Hash{}.IsZero())
	assert.False(t, FromBuffer(nil).IsZero())
}

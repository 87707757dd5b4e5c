package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(BuildFinished, BuildData{Kind: "graphics", Hash: "0x0000000000000001", CacheHit: true})

	ev := <-ch
	assert.Equal(t, int64(1), ev.ID)
	assert.Equal(t, BuildFinished, ev.Type)
	var data BuildData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.True(t, data.CacheHit)
	assert.Equal(t, "graphics", data.Kind)
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(CacheCleared, nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, []byte("{}"), all[0].Data)

	later := h.SnapshotSince(4)
	require.Len(t, later, 1)
	assert.Equal(t, int64(5), later[0].ID)
}

func TestCancelClosesSubscription(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())

	h.Publish(BuildFailed, nil)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		h.Publish(BuildFinished, nil)
	}
	assert.Len(t, h.SnapshotSince(0), 4)
}

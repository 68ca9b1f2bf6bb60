package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RingBuffer(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("dispatch.matched", map[string]int{"n": i})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.JSONEq(t, `{"n":2}`, string(snap[0].Data))

	assert.Len(t, h.SnapshotSince(4), 1)
	assert.Empty(t, h.SnapshotSince(5))
}

func TestHub_Subscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish("reply.sent", nil)
	rec := <-ch
	assert.Equal(t, "reply.sent", rec.Type)
	assert.Equal(t, json.RawMessage("{}"), rec.Data)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	h.Publish("reply.sent", nil) // no subscribers left
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		h.Publish("dispatch.dropped", nil)
	}
	assert.Equal(t, int64(subscriberBuffer*2), h.Counts()["dispatch.dropped"])
}

func TestHub_Counts(t *testing.T) {
	h := NewHub(0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish("b", nil)
			h.Publish("a", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int64{"a": 10, "b": 10}, h.Counts())
}

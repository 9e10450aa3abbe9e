package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/event"
	"github.com/stretchr/testify/assert"
)

func TestEnqueueRacingCloseIsSafe(t *testing.T) {
	th := newTestHub(t)
	env := event.Wrap(event.KindServerMessage, "conv-1", event.ServerMessagePayload{MessageID: "m1"}, 0)

	for i := 0; i < 200; i++ {
		c := newClient("dev-1", "acc-a", newFakeTransport(), th.hub)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				c.enqueue(env)
			}
		}()
		go func() {
			defer wg.Done()
			c.close()
		}()
		wg.Wait()

		assert.False(t, c.enqueue(env), "a closed client must refuse new envelopes")
	}
}

func TestEnqueueAfterCloseDropsImmediately(t *testing.T) {
	th := newTestHub(t)
	env := event.Wrap(event.KindServerMessage, "conv-1", event.ServerMessagePayload{MessageID: "m1"}, 0)

	c := newClient("dev-1", "acc-a", newFakeTransport(), th.hub)
	c.close()

	start := time.Now()
	assert.False(t, c.enqueue(env))
	assert.Less(t, time.Since(start), sendTimeout, "closed clients drop without waiting out the send timeout")
}

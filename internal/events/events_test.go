package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter(t *testing.T, batchSize int) *Emitter {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	e := New(client, nil, true, batchSize)
	e.Ping(context.Background())
	return e
}

// subscribe opens a second client against the same miniredis instance and
// returns a channel of decoded Events seen on the given channel.
func subscribe(t *testing.T, e *Emitter, channel string) <-chan Event {
	t.Helper()
	sub := e.client.Subscribe(context.Background(), channel)
	t.Cleanup(func() { sub.Close() })

	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	out := make(chan Event, 16)
	go func() {
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
				out <- ev
			}
		}
	}()
	return out
}

func TestEmitSyncStarted_PublishesToSyncChannel(t *testing.T) {
	e := newTestEmitter(t, 2)
	ch := subscribe(t, e, ChannelSync)

	e.EmitSyncStarted(context.Background(), "https://ris.example.de/oparl", "Example City", true)

	select {
	case ev := <-ch:
		assert.Equal(t, SyncStarted, ev.EventType)
		require.NotNil(t, ev.SourceURL)
		assert.Equal(t, "https://ris.example.de/oparl", *ev.SourceURL)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync:started event")
	}
}

func TestEmitEntityCreated_BatchFlushesAtBatchSize(t *testing.T) {
	e := newTestEmitter(t, 2)
	ch := subscribe(t, e, ChannelEntities)

	ctx := context.Background()
	e.EmitEntityCreated(ctx, "meeting", "id-1", "ext-1", nil, true)

	select {
	case <-ch:
		t.Fatal("first batched event should not flush yet")
	case <-time.After(200 * time.Millisecond):
	}

	e.EmitEntityCreated(ctx, "meeting", "id-2", "ext-2", nil, true)

	select {
	case ev := <-ch:
		assert.Equal(t, EntityBatch, ev.EventType)
		require.NotNil(t, ev.EntityCount)
		assert.Equal(t, 2, *ev.EntityCount)
		assert.ElementsMatch(t, []string{"ext-1", "ext-2"}, ev.EntityIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for entity:batch flush")
	}
}

func TestEmitEntityCreated_PriorityBypassesBatch(t *testing.T) {
	e := newTestEmitter(t, 50)
	ch := subscribe(t, e, ChannelEntities)

	e.EmitEntityCreated(context.Background(), "paper", "id-1", "ext-1", nil, false)

	select {
	case ev := <-ch:
		assert.Equal(t, EntityCreated, ev.EventType)
		require.NotNil(t, ev.EntityType)
		assert.Equal(t, "paper", *ev.EntityType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for priority entity:created event")
	}
}

func TestEmitSyncCompleted_FlushesPendingBatch(t *testing.T) {
	e := newTestEmitter(t, 50)
	entityCh := subscribe(t, e, ChannelEntities)
	syncCh := subscribe(t, e, ChannelSync)

	ctx := context.Background()
	e.EmitEntityCreated(ctx, "person", "id-1", "ext-1", nil, true)
	e.EmitSyncCompleted(ctx, "https://ris.example.de/oparl", "Example City", 2*time.Second, 1, 0)

	select {
	case ev := <-entityCh:
		assert.Equal(t, EntityBatch, ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flushed batch before sync:completed")
	}

	select {
	case ev := <-syncCh:
		assert.Equal(t, SyncCompleted, ev.EventType)
		require.NotNil(t, ev.EntitiesSynced)
		assert.Equal(t, 1, *ev.EntitiesSynced)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync:completed event")
	}
}

func TestDisabledEmitter_NeverPublishes(t *testing.T) {
	e := New(nil, nil, true, 0)
	ctx := context.Background()
	e.EmitSyncStarted(ctx, "https://ris.example.de/oparl", "Example City", false)
	e.EmitEntityCreated(ctx, "meeting", "id-1", "ext-1", nil, false)
	require.NoError(t, e.Close(ctx))
}

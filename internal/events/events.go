// Package events publishes sync lifecycle and entity notifications to
// Redis Pub/Sub channels so other services (the web backend, alerting)
// can react to ingestion activity in real time.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis channels used by the emitter.
const (
	ChannelSync     = "mandari:sync"
	ChannelEntities = "mandari:entities"
)

// Type identifies the kind of event carried by an Event.
type Type string

const (
	SyncStarted   Type = "sync:started"
	SyncCompleted Type = "sync:completed"
	SyncFailed    Type = "sync:failed"
	EntityCreated Type = "entity:created"
	EntityUpdated Type = "entity:updated"
	EntityBatch   Type = "entity:batch"
)

const defaultBatchSize = 50

// Event is the wire shape published to Redis. Fields are omitted when
// zero so a "meeting created" event doesn't carry empty sync-completion
// fields alongside it.
type Event struct {
	EventType Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	SourceURL        *string `json:"source_url,omitempty"`
	SourceName       *string `json:"source_name,omitempty"`
	BodyName         *string `json:"body_name,omitempty"`
	BodyExternalID   *string `json:"body_external_id,omitempty"`

	EntityType       *string `json:"entity_type,omitempty"`
	EntityID         *string `json:"entity_id,omitempty"`
	EntityExternalID *string `json:"entity_external_id,omitempty"`
	EntityName       *string `json:"entity_name,omitempty"`

	EntityCount *int     `json:"entity_count,omitempty"`
	EntityIDs   []string `json:"entity_ids,omitempty"`

	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	EntitiesSynced  *int     `json:"entities_synced,omitempty"`
	ErrorsCount     *int     `json:"errors_count,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Emitter publishes sync events to Redis. It tolerates Redis being
// unreachable: publish failures are logged, never returned to the
// sync orchestrator as fatal.
type Emitter struct {
	client    *redis.Client
	logger    *slog.Logger
	enabled   bool
	batchSize int

	mu    sync.Mutex
	batch []Event
}

// New creates an Emitter. If client is nil or enabled is false, every
// Emit call is a silent no-op.
func New(client *redis.Client, logger *slog.Logger, enabled bool, batchSize int) *Emitter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Emitter{
		client:    client,
		logger:    logger,
		enabled:   enabled && client != nil,
		batchSize: batchSize,
	}
}

// Ping verifies the Redis connection is reachable, disabling the
// emitter on failure rather than letting every subsequent publish fail.
func (e *Emitter) Ping(ctx context.Context) {
	if !e.enabled {
		return
	}
	if err := e.client.Ping(ctx).Err(); err != nil {
		e.logf("event emitter disabled, redis unreachable", "err", err)
		e.enabled = false
	}
}

// Close flushes any buffered batch events and closes the Redis client.
func (e *Emitter) Close(ctx context.Context) error {
	e.flushBatch(ctx)
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *Emitter) publish(ctx context.Context, channel string, ev Event) {
	if !e.enabled {
		return
	}
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		e.logf("failed to marshal event", "err", err, "event_type", ev.EventType)
		return
	}
	if err := e.client.Publish(ctx, channel, data).Err(); err != nil {
		e.logf("failed to emit event", "err", err, "channel", channel, "event_type", ev.EventType)
	}
}

func (e *Emitter) logf(msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(msg, args...)
}

// EmitSyncStarted announces the start of a sync run for a source.
func (e *Emitter) EmitSyncStarted(ctx context.Context, sourceURL, sourceName string, fullSync bool) {
	e.publish(ctx, ChannelSync, Event{
		EventType:  SyncStarted,
		SourceURL:  &sourceURL,
		SourceName: &sourceName,
		Metadata:   map[string]any{"full_sync": fullSync},
	})
}

// EmitSyncCompleted announces a successful sync run, flushing any
// buffered entity-batch events first so downstream consumers see the
// batch notifications before the completion summary.
func (e *Emitter) EmitSyncCompleted(ctx context.Context, sourceURL, sourceName string, duration time.Duration, entitiesSynced, errorsCount int) {
	e.flushBatch(ctx)

	seconds := duration.Seconds()
	e.publish(ctx, ChannelSync, Event{
		EventType:       SyncCompleted,
		SourceURL:       &sourceURL,
		SourceName:      &sourceName,
		DurationSeconds: &seconds,
		EntitiesSynced:  &entitiesSynced,
		ErrorsCount:     &errorsCount,
	})
}

// EmitSyncFailed announces a sync run that ended in error.
func (e *Emitter) EmitSyncFailed(ctx context.Context, sourceURL, sourceName, errMsg string, duration time.Duration) {
	e.flushBatch(ctx)

	seconds := duration.Seconds()
	e.publish(ctx, ChannelSync, Event{
		EventType:       SyncFailed,
		SourceURL:       &sourceURL,
		SourceName:      &sourceName,
		DurationSeconds: &seconds,
		Metadata:        map[string]any{"error": errMsg},
	})
}

// EmitEntityCreated records a newly synced entity. When batch is true
// (the default for bulk sync traffic) the event is buffered and folded
// into an entity:batch event once batchSize is reached or the run
// completes; high-value entities (meetings, papers) should pass
// batch=false for immediate delivery.
func (e *Emitter) EmitEntityCreated(ctx context.Context, entityType, entityID, entityExternalID string, entityName *string, batch bool) {
	ev := Event{
		EventType:        EntityCreated,
		EntityType:       &entityType,
		EntityID:         &entityID,
		EntityExternalID: &entityExternalID,
		EntityName:       entityName,
	}

	if !batch {
		e.publish(ctx, ChannelEntities, ev)
		return
	}

	e.mu.Lock()
	e.batch = append(e.batch, ev)
	full := len(e.batch) >= e.batchSize
	e.mu.Unlock()

	if full {
		e.flushBatch(ctx)
	}
}

// EmitEntityUpdated records an existing entity being re-synced with
// changed fields.
func (e *Emitter) EmitEntityUpdated(ctx context.Context, entityType, entityID, entityExternalID string, entityName *string, changes map[string]any) {
	meta := map[string]any{}
	if len(changes) > 0 {
		meta["changes"] = changes
	}
	e.publish(ctx, ChannelEntities, Event{
		EventType:        EntityUpdated,
		EntityType:       &entityType,
		EntityID:         &entityID,
		EntityExternalID: &entityExternalID,
		EntityName:       entityName,
		Metadata:         meta,
	})
}

// flushBatch groups buffered entity:created events by entity type and
// emits one entity:batch event per type, capping each at 100 IDs so a
// single batch event stays bounded.
func (e *Emitter) flushBatch(ctx context.Context) {
	e.mu.Lock()
	pending := e.batch
	e.batch = nil
	e.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	byType := make(map[string][]string)
	for _, ev := range pending {
		if ev.EntityType == nil || ev.EntityExternalID == nil {
			continue
		}
		byType[*ev.EntityType] = append(byType[*ev.EntityType], *ev.EntityExternalID)
	}

	for entityType, ids := range byType {
		if len(ids) > 100 {
			ids = ids[:100]
		}
		count := len(ids)
		entityType := entityType
		e.publish(ctx, ChannelEntities, Event{
			EventType:   EntityBatch,
			EntityType:  &entityType,
			EntityCount: &count,
			EntityIDs:   ids,
		})
	}
}

// NewClient is a small convenience wrapper so callers don't need to
// import go-redis directly just to parse a connection URL.
func NewClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

package collaboration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"canvas-relay/internal/models"
)

// DefaultMaxSnapshotBytes bounds a single document snapshot
const DefaultMaxSnapshotBytes = 1 << 20

// DocumentChannel relays whole-document snapshots. Each snapshot fully
// replaces the previous one on every receiver; the relay keeps no copy.
type DocumentChannel struct {
	registry *Registry
	relay    *Relay
	maxBytes int
}

func NewDocumentChannel(registry *Registry, relay *Relay, maxBytes int) *DocumentChannel {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSnapshotBytes
	}
	return &DocumentChannel{
		registry: registry,
		relay:    relay,
		maxBytes: maxBytes,
	}
}

// MaxBytes returns the snapshot size cap
func (d *DocumentChannel) MaxBytes() int {
	return d.maxBytes
}

// Publish relays shapes to every other member of roomCode. shapes must be a
// JSON array; its elements are passed through untouched.
func (d *DocumentChannel) Publish(ctx context.Context, id, roomCode string, shapes json.RawMessage) error {
	if _, ok := d.registry.Username(roomCode, id); !ok {
		return ErrNotJoined
	}

	if len(shapes) > d.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrSnapshotTooLarge, len(shapes), d.maxBytes)
	}

	trimmed := bytes.TrimSpace(shapes)
	if len(trimmed) == 0 || trimmed[0] != '[' || !json.Valid(trimmed) {
		return fmt.Errorf("%w: shapes must be a JSON array", ErrMalformed)
	}

	data, err := models.EncodeDocumentSnapshot(id, trimmed)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", models.MessageTypeDocumentSnapshot, err)
	}
	d.relay.BroadcastFrame(ctx, id, roomCode, Frame{
		Type:  models.MessageTypeDocumentSnapshot,
		Data:  data,
		Class: ClassOf(models.MessageTypeDocumentSnapshot),
		Key:   id,
	})
	return nil
}

// Package relay carries archive events between hourglass instances over
// a message bus.
//
// A Publisher listens to a task store and publishes one JSON event per
// archive or unarchive. Follow consumes those events and drives any
// GrainSink, typically a hourglass.Glass in another process:
//
//	pub, _ := relay.NewPublisher(store, b, relay.PublisherConfig{Prefix: "office"})
//	defer pub.Close()
//
//	go relay.Follow(ctx, b, "office", glass)
package relay

import (
	"encoding/json"
	"fmt"
)

// Event types.
const (
	EventArchived   = "archived"
	EventUnarchived = "unarchived"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "hourglass"

// Event is the wire form of one archive transition.
type Event struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	At     int64  `json:"at"` // UTC unix seconds

	// Origin identifies the publishing instance.
	Origin string `json:"origin,omitempty"`
}

// ArchiveSource is the part of a task store a Publisher listens to.
type ArchiveSource interface {
	OnArchive(fn func(id string)) func()
	OnUnarchive(fn func(id string)) func()
}

// GrainSink is what Follow drives.
type GrainSink interface {
	AddGrain()
	RemoveGrain()
}

// Subject returns the subject for an event type under prefix.
func Subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

func encodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	switch e.Type {
	case EventArchived, EventUnarchived:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.TaskID == "" {
		return Event{}, fmt.Errorf("event without task id")
	}
	return e, nil
}

// Package bus provides pub/sub message bus clients used to relay archive
// events between hourglass instances.
//
// # Overview
//
// Archive events are local to one task store. A bus carries them to
// other processes so a second hourglass, for example on a wall display,
// fills as tasks are archived elsewhere.
//
// # Available Implementations
//
//   - NATSBus: messaging across processes and hosts using NATS
//   - MemoryBus: in-process implementation for tests and single-process use
//
// # Usage
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	sub, _ := b.Subscribe("hourglass.*")
//	b.Publish("hourglass.archived", data)
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// Delivery is best effort. A subscriber whose buffer is full misses
// messages rather than blocking the publisher.
package bus

// Package state provides the durable key-value store that backs task and
// theme persistence.
//
// A StateStore is one view onto storage shared by every open view of the
// same profile. Writes are visible to all views, and each view can Watch
// keys to learn about writes made elsewhere. Every KeyValue carries the
// Origin of the view that wrote it so a view can ignore its own echoes.
//
// # Backends
//
//   - MemoryStore: in-process. View() opens another view on the same data.
//   - FileStore: one JSON envelope per key in a directory, change
//     notifications via fsnotify. Works across processes.
//   - NATSStore: a JetStream KV bucket. Works across hosts.
//
// # Usage
//
//	store, _ := state.NewFileStore(filepath.Join(home, ".local", "share", "hourglass"))
//	defer store.Close()
//
//	store.Put("theme", []byte("dark"))
//	val, _ := store.Get("theme")
//
//	ch, _ := store.Watch(ctx, "tasks")
//	for kv := range ch {
//	    if kv.Origin != store.ID() {
//	        fmt.Printf("another view wrote %s\n", kv.Key)
//	    }
//	}
package state

// Package tasks provides the task list store.
//
// A Store owns one ordered list of tasks. Every write goes through a named
// operation that replaces the affected task with an updated copy and then
// re-persists the whole list as JSON under a single key of a
// state.StateStore. Reads are filtered copies computed on demand.
//
// # Basic Usage
//
//	store := tasks.NewStore(tasks.StoreConfig{State: state.NewMemoryStore()})
//	defer store.Close()
//
//	t := store.AddTask("  buy milk ")
//	store.CompleteTask(t.ID)
//	store.ArchiveTask(t.ID)
//
//	for _, t := range store.ActiveTasks() {
//	    fmt.Println(t.Description)
//	}
//
// # Archive Notifications
//
// OnArchive and OnUnarchive register callbacks that run synchronously,
// in registration order, after the list has been persisted. They fire
// only when a task exists and its archived state actually flips.
//
//	unsubscribe := store.OnArchive(func(id string) {
//	    glass.AddGrain()
//	})
//	defer unsubscribe()
//
// # Cross-View Sync
//
// The store watches its key on the backing store. When another view
// writes the key, the in-memory list is replaced wholesale by the newly
// validated contents. There is no merge: the last write wins.
//
// # Failure Handling
//
// No operation returns an error. A missing or closed backing store turns
// reads into empty results and writes into in-memory-only changes; a
// corrupt persisted value loads as an empty list and individual invalid
// records are dropped. All of these are logged.
package tasks

// Package hourglass implements the sand-glass animation state machine.
//
// A Glass counts settled grains (capped at MaxGrains) and animates each
// newly added grain through three timed phases before it settles:
//
//	none -> falling -> bouncing -> settling -> none
//
// While falling, a cursor moves one row per FallFrame from the waist
// toward the top of the pile. Grains added while a run is in flight are
// queued and start one at a time, QueueDelay after the previous settles.
//
// The glass only holds state. Renderers poll the getters or Snapshot,
// or register OnChange to redraw on every transition.
//
//	g := hourglass.New(hourglass.Config{})
//	g.SetInitialCount(len(store.ArchivedTasks()))
//	store.OnArchive(func(string) { g.AddGrain() })
//	store.OnUnarchive(func(string) { g.RemoveGrain() })
package hourglass

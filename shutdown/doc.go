// Package shutdown closes hourglass components in a fixed order.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	stop := coord.HandleSignals() // SIGTERM, SIGINT
//	defer stop()
//
//	coord.RegisterWithPhase("relay", shutdown.Closer(pub.Close), shutdown.PhaseRelay)
//	coord.RegisterWithPhase("tasks", shutdown.Closer(store.Close), shutdown.PhaseStores)
//	coord.RegisterWithPhase("state", shutdown.Closer(backing.Close), shutdown.PhaseBackends)
//
//	<-coord.Done()
//
// # Phases
//
// Lower phase numbers are shut down first; handlers in the same phase
// run concurrently. The app uses:
//
//   - 10 relay: stop publishing and following events
//   - 20 glass: stop the animation timer
//   - 30 stores: close task and theme stores
//   - 40 backends: close the backing store and bus
//
// A store closed before its backend never writes to a closed backend.
package shutdown

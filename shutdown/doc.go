// Package shutdown runs ordered, phased shutdown of the server's
// components on SIGINT/SIGTERM or on demand.
//
// Handlers are registered with a phase. Lower phases run first; handlers in
// one phase run concurrently. The server uses three phases:
//
//   - PhaseTransport (10): stop accepting connections.
//   - PhaseServer (20): stop dispatching and let in-flight tool calls finish.
//   - PhaseStores (30): close task stores, the work log index and the NATS
//     connection.
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	stop := coord.HandleSignals()
//	defer stop()
//
//	coord.RegisterFunc("listener", shutdown.PhaseTransport, closeListener)
//	coord.RegisterFunc("tasks", shutdown.PhaseStores, svc.Close)
//
//	<-coord.Stopping()
//	<-coord.Done()
package shutdown

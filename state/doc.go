// Package state provides a shared key-value store with named locks.
//
// Two backends implement StateStore:
//
//   - MemoryStore: in-process, for tests and single-process deployments
//   - NATSStore: NATS JetStream KV, shared by every process pointing at the
//     same bucket
//
// The task service uses a store for two things: holding the task collection
// (tasks.KVStore) and serializing mutations across processes (Lock).
//
// # Usage
//
//	conn, _ := state.ConnectNATS(state.NATSConnConfig{URL: "nats://localhost:4222"})
//	store, _ := state.NewNATSStore(ctx, state.NATSStoreConfig{Conn: conn, Bucket: "devsupport"})
//
//	lock, err := store.Lock(ctx, "tasks", 30*time.Second)
//	if err == state.ErrLockHeld {
//	    // someone else is mutating; retry later
//	}
//	defer lock.Unlock()
//
// Update gives compare-and-swap on a key's revision; revision 0 means
// "create only if absent".
package state

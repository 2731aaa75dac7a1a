/*
Package storage provides durable state for the control plane using BoltDB.

The Store interface covers the two kinds of state Flotilla persists: node
rows served through the registry, and artifact metadata plus blob content
written by the artifact store. Everything else in the control plane is
in-memory and rebuilt from external signals after a restart.

BoltStore keeps each kind in its own bucket and stores records as JSON.
Artifact metadata and content use separate buckets so listing artifacts
never pages blob bytes into memory.

	store, err := storage.NewBoltStore(dataDir)
	if err != nil { ... }
	defer store.Close()
*/
package storage

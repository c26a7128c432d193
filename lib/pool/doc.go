// Package pool owns the physical database connections of a broker and maps
// logical connections (db ids) to them.
//
// Every connection lives in a Slot, a connection plus the mutex that must be
// held for any work on it. All slots are opened once by New and stay open for
// the lifetime of the pool; a slot that loses its session is reconnected in
// place and keeps its index.
//
// Slot layout for PoolSize=N and ExclusiveSize=E:
//
//	[0, N)       pooled      shared by any number of db ids, picked at random
//	[N, N+E)     exclusive   leased to one db id at a time
//	N+E          consistent  shared by every db id asking for a consistent connection
//
// Assignment policies:
//
//   - PolicyPooled: a random shared slot. Several db ids may share one slot,
//     the slot mutex keeps their operations from interleaving.
//
//   - PolicyExclusive: a leased slot. Assign waits up to LeaseWait for a free
//     one and fails with ErrLeaseExhausted otherwise. A lease that is not
//     released within LeaseTTL is reclaimed by the sweeper; its db id is
//     forgotten and the OnExpire callback runs. Release and expiry may race,
//     exactly one of them returns the slot.
//
//   - PolicyConsistent: always the same slot, for work that must see a single
//     session across callers (e.g. named database locks).
//
// Reconnect and retry:
//
// Slot.Do runs a function with the slot mutex held. If it fails with an error
// classified by sqldb.IsConnectivityError, the connection is reconnected and
// the function runs exactly once more. A second failure is returned to the
// caller. Reconnects are counted in the dbroker_reconnects_total metric.
//
// Usage:
//
//	p, err := pool.New(pool.Config{PoolSize: 10, ExclusiveSize: 2}, factory)
//	idx, err := p.Assign(dbID, pool.PolicyExclusive)
//	slot, err := p.Lookup(dbID)
//	err = slot.Do(func(conn sqldb.IConn) error { return conn.Commit() })
//	p.Release(dbID)
package pool

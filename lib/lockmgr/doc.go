// Package lockmgr implements a named, distributed mutex on top of
// database-native lock primitives.
//
// The broker does not invent its own locking protocol. Every database it
// talks to already has named locks bound to a session (MySQL GET_LOCK,
// PostgreSQL advisory locks, SQL Server application locks). IPrimitives
// wraps the three operations needed from such a backend:
//
//   - IsFree(name): is anybody holding the lock right now
//   - TryAcquire(name, bound): take the lock, waiting at most bound
//   - Release(name): give it back
//
// PollingLock turns these into a mutex with an overall timeout:
//
//	Polling   --IsFree=true-->      Acquiring
//	Polling   --timeout-->          Failed
//	Acquiring --TryAcquire=true-->  Held
//	Acquiring --timeout-->          Failed
//	Held      --fn returns-->       Released
//
// Release runs in a deferred cleanup, so it also happens when the wrapped
// function fails or panics. A Failed acquisition is not an error: Do returns
// done=false and the work is skipped. Callers that must run the work have to
// check done.
//
// Backends:
//
//   - NewSQLPrimitives: statements executed through the broker proxy. By
//     default the connection is opened with the consistent policy so that all
//     lock traffic of all clients goes through one database session.
//   - NewLocalPrimitives: an in-process LockTable, for single process setups
//     and tests.
//   - rpc/client.NewRPCLockPrimitives: a LockTable hosted by the dbroker
//     server as a lock table shard.
//
// Caveat: with the consistent policy all clients share one MySQL session. In
// MySQL a session can re-acquire a lock it already holds, so two clients on
// the shared session do not exclude each other through GET_LOCK alone. Use
// one dedicated connection per client (Options.Consistent=false together
// with Exclusive) when the lock must exclude clients of the same broker.
package lockmgr

// Package sqltest provides an in-memory implementation of sqldb.IConn for tests.
//
// A Server stands in for a database server: connections opened from it share
// its rows, its named locks and its counters. Statements are executed by a
// Handler (DefaultHandler implements a tiny single table database plus the
// MySQL named lock functions) and can be slowed down with SetDelay or made to
// fail with InjectFaults, which is how tests simulate dropped sessions.
//
// Stats exposes the number of executed statements, commits, rollbacks and
// reconnects, and the highest number of statements that ran concurrently on
// one connection. Tests use the latter to verify that a connection is never
// used by two callers at the same time.
//
// Usage:
//
//	srv := sqltest.NewServer(sqldb.DialectMySQL)
//	p, _ := pool.New(pool.Config{PoolSize: 2, ExclusiveSize: 1}, srv.Factory())
//	srv.InjectFaults(nil) // the next statement fails with driver.ErrBadConn
package sqltest

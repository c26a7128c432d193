// Package lqueue implements queue.IQueue in memory.
//
// Each key owns a slice based FIFO guarded by its own mutex, the keys live in
// an xsync.MapOf so independent queues never contend. Poppers do not poll: a
// push closes the list's notify channel, which wakes every waiting popper, and
// the first one to re-take the list mutex gets the value.
//
// Reply queues are single use. A client that timed out never pops its reply,
// so with a retention configured a janitor drops values older than the
// retention and removes empty lists nobody is waiting on.
//
// Timers come from a juju/clock.Clock, tests drive them with testclock.
package lqueue

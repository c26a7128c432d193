// Package queue defines the message queue the broker is built on.
//
// Clients and the dispatcher never talk to each other directly. A client pushes
// a JSON encoded command to the well known command queue and then blocks on a
// queue that only it knows about (its reply key). The dispatcher pops commands
// from the command queue and pushes the answer to the reply key named in the
// command. Only two guarantees are needed for this to work:
//
//   - values pushed to one key are popped in FIFO order
//   - every value is delivered to exactly one popper
//
// Implementations:
//
//   - lqueue: in-process queues, used by the queue server and by tests
//   - rpc/client.NewRPCQueue: a client for queues hosted by a remote dbroker
//     server, reachable over tcp, unix sockets or http
package queue

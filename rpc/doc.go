// Package rpc is the network layer of dBroker. It carries the queue operations
// (push, pop, len) between broker clients, the server hosting the queues and a
// remote dispatcher, plus the operations of the lock table shards.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC clients implementing queue.IQueue and lockmgr.IPrimitives, so the
//     broker proxy and the polling lock work the same against a remote server.
//
//   - server: The RPC server hosting queue and lock table shards.
package rpc

// Package common provides core data structures and utilities shared across
// the broker's RPC layer. It defines the message protocol, the configuration
// structures and the logging setup used by the other packages.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between clients
//     and the queue server. The same structure is used for requests and
//     responses, the fields in use depend on the MessageType. Factory methods
//     exist for every request and response.
//
//   - MessageType: Enumeration of all supported operations, split into queue
//     operations (push, pop, len), lock primitive operations (isFree,
//     tryAcquire, release) and control messages.
//
//   - ServerConfig: Configuration of the RPC server, listing the shards it
//     serves together with transport, retention and metrics settings.
//
//   - ClientConfig: Configuration for client components, controlling endpoints,
//     timeouts, connection fan-out and retry behavior.
//
//   - Logger: Custom formatting for the dragonboat logger facade. Every package
//     of the broker obtains its logger through logger.GetLogger and
//     InitLoggers sets the level for all of them at once.
package common

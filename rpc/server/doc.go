// Package server implements the RPC server of dBroker. A server hosts any number of
// shards, each one either a set of named queues or a lock table, and routes every
// request to the adapter of its shard.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface of all server adapters, its Handle method turns a
//     request message into a response message.
//
//   - NewQueueServerAdapter: Adapter translating push, pop and len requests into
//     queue.IQueue calls. Blocking pops are served by the transport worker of the
//     request, the client splits long waits into chunks below its timeout.
//
//   - NewLockTableServerAdapter: Adapter for the isFree, tryAcquire and release
//     requests of a lockmgr.LockTable.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalIQueue},
//	    {ShardID: 200, Type: common.ShardTypeLocalLockTable},
//	  },
//	  Transport:            common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  QueueRetentionSecond: 3600,
//	  LogLevel:             "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	// optional: run the dispatcher in process on the queue shard
//	_ = s.Init()
//	q, _ := s.Queue(100)
//	d, _ := dispatcher.Open(ctx, brokerConfig, q)
//	d.Start()
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// When MetricsEndpoint is set, all VictoriaMetrics metrics of the process are
// served at /metrics in prometheus text format.
//
// Thread Safety:
//
//	The server handles concurrent requests across multiple connections.
//	Serve should be called only once.
package server

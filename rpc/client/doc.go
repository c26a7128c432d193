// Package client implements the RPC clients of dBroker.
//
//   - NewRPCQueue: a queue.IQueue whose operations run on a queue shard of a
//     remote server. It is what proxy.Connect and a remote dispatcher use.
//
//   - NewRPCLockPrimitives: lockmgr.IPrimitives backed by a lock table shard.
//     Each instance has its own owner id.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 10,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	q, err := client.NewRPCQueue(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//	db, err := proxy.Connect(q, proxy.Options{})
//
// A Pop longer than half the client timeout is split into several requests, so a
// caller may block on a reply for longer than the transport timeout allows.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client

package client

import (
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/ValentinKolb/dBroker/rpc/serializer"
	"github.com/ValentinKolb/dBroker/rpc/transport"
	"time"
)

// minPopChunk is the shortest server side wait a single pop request is split into
const minPopChunk = time.Second

// NewRPCQueue creates a new RPC queue
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a queue.IQueue and an error
func NewRPCQueue(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (queue.IQueue, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC queue
	q := rpcQueue{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	// Return the RPC queue
	return &q, nil
}

type rpcQueue struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the queue package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcQueue) Push(key string, value []byte) error {
	req := common.NewPushRequest(key, value)
	_, err := invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
	return err
}

// Pop splits long waits into chunks shorter than the client timeout,
// so a blocking pop never trips the transport's request timeout.
func (i *rpcQueue) Pop(key string, timeout time.Duration) ([]byte, bool, error) {
	chunk := i.maxPopChunk()
	deadline := time.Now().Add(timeout)

	for {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		if wait > chunk {
			wait = chunk
		}

		req := common.NewPopRequest(key, uint64(wait.Milliseconds()))
		resp, err := invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
		if err != nil {
			return nil, false, err
		}
		if resp.Ok {
			return resp.Value, true, nil
		}
		if !time.Now().Before(deadline) {
			return nil, false, nil
		}
	}
}

func (i *rpcQueue) Len(key string) (int, error) {
	req := common.NewLenRequest(key)
	resp, err := invokeRPCRequest(i.shardId, req, i.transport, i.serializer)
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (i *rpcQueue) Close() error {
	return i.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// maxPopChunk returns the longest wait a single pop request may ask the server for
func (i *rpcQueue) maxPopChunk() time.Duration {
	if i.config.TimeoutSecond <= 0 {
		return time.Minute
	}
	chunk := time.Duration(i.config.TimeoutSecond) * time.Second / 2
	if chunk < minPopChunk {
		chunk = minPopChunk
	}
	return chunk
}

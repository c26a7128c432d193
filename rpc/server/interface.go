package server

import (
	"github.com/ValentinKolb/dBroker/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// The adapter owns the backing implementation of its shard (queue, lock table, ...)
	// If an error occurs, it should be set in the response
	Handle(req *common.Message) (resp *common.Message)
}

package server

import (
	"fmt"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"time"
)

// maxPopWait caps how long a single pop request may block a server worker
const maxPopWait = 60 * time.Second

func NewQueueServerAdapter(q queue.IQueue) IRPCServerAdapter {
	return &iQueueServerAdapterImpl{queue: q}
}

type iQueueServerAdapterImpl struct {
	queue queue.IQueue
}

func (adapter *iQueueServerAdapterImpl) Handle(req *common.Message) *common.Message {
	// Check for nil queue
	if adapter.queue == nil {
		return common.NewErrorResponse("handler: queue is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTQPush:
		err := adapter.queue.Push(req.Key, req.Value)
		return common.NewPushResponse(err)
	case common.MsgTQPop:
		wait := min(time.Duration(req.TimeoutMs)*time.Millisecond, maxPopWait)
		val, ok, err := adapter.queue.Pop(req.Key, wait)
		return common.NewPopResponse(val, ok, err)
	case common.MsgTQLen:
		n, err := adapter.queue.Len(req.Key)
		return common.NewLenResponse(n, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IQueueAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

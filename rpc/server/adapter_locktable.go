package server

import (
	"fmt"
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"time"
)

// maxAcquireBound caps how long a single tryAcquire request may block a server worker
const maxAcquireBound = 10 * time.Second

func NewLockTableServerAdapter(table *lockmgr.LockTable) IRPCServerAdapter {
	return &lockTableServerAdapter{table: table}
}

type lockTableServerAdapter struct {
	table *lockmgr.LockTable
}

func (adapter *lockTableServerAdapter) Handle(req *common.Message) (resp *common.Message) {

	// Check for nil table
	if adapter.table == nil {
		return common.NewErrorResponse("handler: lock table is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTLCKIsFree:
		return common.NewIsFreeResponse(adapter.table.IsFree(req.Key), nil)
	case common.MsgTLCKTryAcquire:
		if len(req.Value) == 0 {
			return common.NewTryAcquireResponse(false, fmt.Errorf("owner must not be empty"))
		}
		bound := min(time.Duration(req.TimeoutMs)*time.Millisecond, maxAcquireBound)
		ok := adapter.table.TryAcquire(req.Key, string(req.Value), bound)
		return common.NewTryAcquireResponse(ok, nil)
	case common.MsgTLCKRelease:
		ok := adapter.table.Release(req.Key, string(req.Value))
		return common.NewReleaseResponse(ok, nil)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockTableAdapter - Unsupported message type: %s", req.MsgType))
	}
}

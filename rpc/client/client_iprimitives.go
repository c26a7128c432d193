package client

import (
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/ValentinKolb/dBroker/rpc/serializer"
	"github.com/ValentinKolb/dBroker/rpc/transport"
	"github.com/google/uuid"
	"time"
)

// NewRPCLockPrimitives creates lock primitives backed by a remote lock table shard
// Every instance gets its own owner id, locks taken by one instance can only be
// released by the same instance.
func NewRPCLockPrimitives(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.IPrimitives, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &rpcLockPrimitives{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		owner: []byte(uuid.NewString()),
	}, nil
}

type rpcLockPrimitives struct {
	rpcClientAdapter
	owner []byte
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (l *rpcLockPrimitives) IsFree(name string) (bool, error) {
	req := common.NewIsFreeRequest(name)
	resp, err := invokeRPCRequest(l.shardId, req, l.transport, l.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (l *rpcLockPrimitives) TryAcquire(name string, bound time.Duration) (bool, error) {
	req := common.NewTryAcquireRequest(name, l.owner, uint64(bound.Milliseconds()))
	resp, err := invokeRPCRequest(l.shardId, req, l.transport, l.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (l *rpcLockPrimitives) Release(name string) error {
	req := common.NewReleaseRequest(name, l.owner)
	_, err := invokeRPCRequest(l.shardId, req, l.transport, l.serializer)
	return err
}

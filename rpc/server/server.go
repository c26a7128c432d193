package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/lib/queue/lqueue"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/ValentinKolb/dBroker/rpc/serializer"
	"github.com/ValentinKolb/dBroker/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/juju/clock"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the backing implementation it encapsulates and the adapter
// that handles requests for it
type serverShard struct {
	Queue   queue.IQueue
	Locks   *lockmgr.LockTable
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer hosts queue and lock table shards behind a transport
type RPCServer struct {
	config        common.ServerConfig
	transport     transport.IRPCServerTransport
	serializer    serializer.IRPCSerializer
	shards        *xsync.MapOf[uint64, serverShard]
	initOnce      sync.Once
	initErr       error
	metricsServer *http.Server
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get appropriate shard
		shard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     "shard not found",
			}
		} else {
			// Decode the request
			err := s.serializer.Deserialize(req, &msg)

			if err != nil {
				respMsg = common.Message{
					MsgType: common.MsgTError,
					Err:     fmt.Sprintf("failed to deserialize request: %s", err),
				}
			} else {
				// Let the adapter handle the request
				start := time.Now()
				respMsg = *shard.Adapter.Handle(&msg)
				metrics.GetOrCreateHistogram(
					fmt.Sprintf(`dbroker_rpc_request_duration_seconds{type=%q}`, msg.MsgType.String()),
				).UpdateDuration(start)
			}
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("failed to serialize response: %s", err),
			}
			val, _ = s.serializer.Serialize(respMsg)
		}
		return val
	})
}

// Init creates all shards and registers the transport handler
// It is called by Serve, calling it earlier gives access to the shards (see Queue)
func (s *RPCServer) Init() error {
	s.initOnce.Do(func() {
		s.initErr = s.init()
	})
	return s.initErr
}

func (s *RPCServer) init() error {

	// Init logger
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	retention := time.Duration(s.config.QueueRetentionSecond) * time.Second

	// CREATE SHARDS

	/*
		Note: A single RPC Server can have any number of shards.
		Each shard is either a queue set or a lock table. The following loop
		creates all the shards and stores them for the RPC server.
	*/

	for _, shardConfig := range s.config.Shards {
		switch shardConfig.Type {
		case common.ShardTypeLocalIQueue:
			q := lqueue.NewLocalQueue(lqueue.Options{Retention: retention})
			s.shards.Store(shardConfig.ShardID, serverShard{
				Queue:   q,
				Adapter: NewQueueServerAdapter(q),
			})
			Logger.Infof("created local queue for shard %d", shardConfig.ShardID)

		case common.ShardTypeLocalLockTable:
			table := lockmgr.NewLockTable(clock.WallClock)
			s.shards.Store(shardConfig.ShardID, serverShard{
				Locks:   table,
				Adapter: NewLockTableServerAdapter(table),
			})
			Logger.Infof("created local lock table for shard %d", shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}

	// Expose prometheus metrics
	if s.config.MetricsEndpoint != "" {
		s.startMetricsEndpoint()
	}

	Logger.Infof("dBroker server setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Queue returns the queue hosted by the given shard
// This allows an in-process dispatcher to consume commands without a network hop
func (s *RPCServer) Queue(shardId uint64) (queue.IQueue, bool) {
	shard, ok := s.shards.Load(shardId)
	if !ok || shard.Queue == nil {
		return nil, false
	}
	return shard.Queue, true
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close stops the transport and releases all shards
func (s *RPCServer) Close() error {
	err := s.transport.Close()

	s.shards.Range(func(id uint64, shard serverShard) bool {
		if shard.Queue != nil {
			if qErr := shard.Queue.Close(); qErr != nil {
				Logger.Warningf("failed to close queue of shard %d: %v", id, qErr)
			}
		}
		return true
	})

	if s.metricsServer != nil {
		err = errors.Join(err, s.metricsServer.Close())
	}
	return err
}

// startMetricsEndpoint serves all registered metrics in prometheus text format
func (s *RPCServer) startMetricsEndpoint() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	s.metricsServer = &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux}

	go func() {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint stopped: %v", err)
		}
	}()
}

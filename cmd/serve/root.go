package serve

import (
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dBroker/cmd/util"
	"github.com/ValentinKolb/dBroker/lib/broker/dispatcher"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/ValentinKolb/dBroker/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
	"strings"
)

var Logger = logger.GetLogger("broker")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dBroker server",
		Long:    `Start the dBroker server with the specified configuration. The server hosts the queue and lock table shards; with --dispatch it also runs the dispatcher that owns the database connections. The configuration can be set via command line flags or environment variables. The format of the environment variables is DBROKER_<flag> (e.g. DBROKER_POOL_SIZE=20)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "shards"
	ServeCmd.PersistentFlags().String(key, "100=queue,200=locks", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: queue, locks"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Idle timeout of a client connection in seconds (0 disables it)"))

	key = "queue-retention"
	ServeCmd.PersistentFlags().Int64(key, 3600, cmdUtil.WrapString("Values not popped within this many seconds are dropped, e.g. replies nobody waits for anymore (0 keeps them forever)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. http:localhost:8080, /tmp/dbroker.sock, ...)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the prometheus /metrics endpoint (e.g. localhost:9100, empty disables it)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "dispatch"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Run the dispatcher in this process, consuming the queue shard given by --dispatch-shard"))

	key = "dispatch-shard"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("Queue shard the in-process dispatcher consumes"))

	cmdUtil.SetupBrokerFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.QueueRetentionSecond = viper.GetInt64("queue-retention")
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if viper.GetBool("dispatch") {
		id := viper.GetUint64("dispatch-shard")
		found := false
		for _, shard := range serveCmdConfig.Shards {
			if shard.ShardID == id && shard.Type == common.ShardTypeLocalIQueue {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("--dispatch needs a queue shard with ID %d", id)
		}
	}

	return nil
}

// parseShards parses a shard list like "100=queue,200=locks"
func parseShards(shardsConfig string) ([]common.ServerShard, error) {
	shards := []common.ServerShard{}
	for _, shardConfig := range strings.Split(shardsConfig, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		// Parse shard ID
		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}

		// Parse shard type
		var shardType common.ServerShardType
		switch strings.TrimSpace(parts[1]) {
		case "queue":
			shardType = common.ShardTypeLocalIQueue
		case "locks":
			shardType = common.ShardTypeLocalLockTable
		default:
			return nil, fmt.Errorf("invalid shard type: %s (expected one of: queue, locks)", parts[1])
		}

		shards = append(shards, common.ServerShard{
			ShardID: shardID,
			Type:    shardType,
		})
	}
	return shards, nil
}

// run starts the dBroker server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)
	if err := serv.Init(); err != nil {
		return err
	}

	var d *dispatcher.Dispatcher
	if viper.GetBool("dispatch") {
		cfg, err := cmdUtil.GetBrokerConfig()
		if err != nil {
			return err
		}
		Logger.Infof(cfg.String())

		q, _ := serv.Queue(viper.GetUint64("dispatch-shard"))
		d, err = dispatcher.Open(context.Background(), *cfg, q)
		if err != nil {
			return err
		}
		d.Start()
	}

	go func() {
		sig := cmdUtil.WaitForSignal()
		Logger.Infof("received %s, shutting down", sig)
		if d != nil {
			if err := d.Stop(); err != nil {
				Logger.Errorf("failed to stop dispatcher: %v", err)
			}
		}
		if err := serv.Close(); err != nil {
			Logger.Errorf("failed to close server: %v", err)
		}
	}()

	return serv.Serve()
}

package util

import (
	"fmt"
	"github.com/ValentinKolb/dBroker/lib/broker"
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/ValentinKolb/dBroker/rpc/client"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/ValentinKolb/dBroker/rpc/serializer"
	"github.com/ValentinKolb/dBroker/rpc/transport"
	"github.com/ValentinKolb/dBroker/rpc/transport/http"
	"github.com/ValentinKolb/dBroker/rpc/transport/tcp"
	"github.com/ValentinKolb/dBroker/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and lets viper read DBROKER_<FLAG> environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dbroker")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// WaitForSignal blocks until SIGINT or SIGTERM is received
func WaitForSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	return <-ch
}

// --------------------------------------------------------------------------
// RPC client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dBroker server (e.g. localhost:8080, http://localhost:8080, /tmp/dbroker.sock). For transports that support load balancing, multiple endpoints can be specified as a comma-separated list"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint - for transports that support this feature"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for TCPConf)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for TCPConf)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for TCPConf)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}

	return conf
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetTransport creates a client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPDefaultServerTransport(), nil
	case "unix":
		return unix.NewUnixDefaultServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// ConnectQueue connects to the queue shard given by the client flags
func ConnectQueue() (queue.IQueue, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}
	return client.NewRPCQueue(GetShardID(), *GetClientConfig(), t, s)
}

// ConnectLockTable connects to the lock table shard given by shardId
func ConnectLockTable(shardId uint64) (lockmgr.IPrimitives, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}
	return client.NewRPCLockPrimitives(shardId, *GetClientConfig(), t, s)
}

// --------------------------------------------------------------------------
// Broker
// --------------------------------------------------------------------------

// SetupBrokerFlags adds the dispatcher and connection pool flags to a command
func SetupBrokerFlags(cmd *cobra.Command) {
	def := broker.DefaultBrokerConfig()

	key := "db-driver"
	cmd.PersistentFlags().String(key, def.Driver, WrapString("Database driver of the pooled connections (mysql, postgres, sqlserver, sqlite3)"))

	key = "db-dsn"
	cmd.PersistentFlags().String(key, "", WrapString("Data source name of the database, e.g. user:pass@tcp(localhost:3306)/app for mysql. Prefer DBROKER_DB_DSN to keep credentials out of the process list"))

	key = "db-autocommit"
	cmd.PersistentFlags().Bool(key, def.Autocommit, WrapString("Run every statement in its own transaction instead of waiting for commit"))

	key = "pool-size"
	cmd.PersistentFlags().Int(key, def.PoolSize, WrapString("Number of shared connections"))

	key = "exclusive-size"
	cmd.PersistentFlags().Int(key, def.ExclusiveSize, WrapString("Number of connections that can be leased exclusively"))

	key = "lease-ttl"
	cmd.PersistentFlags().Int64(key, def.LeaseTTLSecond, WrapString("Seconds after which an exclusive lease is reclaimed"))

	key = "lease-wait"
	cmd.PersistentFlags().Int64(key, def.LeaseWaitSecond, WrapString("Seconds a new exclusive connection waits for a free lease"))

	key = "workers"
	cmd.PersistentFlags().Int(key, def.Workers, WrapString("Number of commands executed concurrently"))

	key = "backlog"
	cmd.PersistentFlags().Int(key, def.Backlog, WrapString("Number of popped commands waiting for a worker"))

	key = "command-queue"
	cmd.PersistentFlags().String(key, def.CommandQueue, WrapString("Queue key the commands are read from"))
}

// GetBrokerConfig reads the broker configuration from viper
func GetBrokerConfig() (*broker.BrokerConfig, error) {
	conf := &broker.BrokerConfig{
		Driver:          viper.GetString("db-driver"),
		DSN:             viper.GetString("db-dsn"),
		Autocommit:      viper.GetBool("db-autocommit"),
		PoolSize:        viper.GetInt("pool-size"),
		ExclusiveSize:   viper.GetInt("exclusive-size"),
		LeaseTTLSecond:  viper.GetInt64("lease-ttl"),
		LeaseWaitSecond: viper.GetInt64("lease-wait"),
		Workers:         viper.GetInt("workers"),
		Backlog:         viper.GetInt("backlog"),
		CommandQueue:    viper.GetString("command-queue"),
	}

	if conf.DSN == "" {
		return nil, fmt.Errorf("a data source name is required (--db-dsn or DBROKER_DB_DSN)")
	}
	return conf, nil
}

package sql

import (
	"github.com/ValentinKolb/dBroker/cmd/util"
	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	"github.com/ValentinKolb/dBroker/lib/queue"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"time"
)

var (
	rpcQueue queue.IQueue

	// SQLCommands represents the sql command group
	SQLCommands = &cobra.Command{
		Use:               "sql",
		Short:             "Run statements through the broker",
		PersistentPreRunE: setupSQLClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the sql command
	util.SetupRPCClientFlags(SQLCommands)

	SQLCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the queue shard the dispatcher consumes"))
	SQLCommands.PersistentFlags().Bool("exclusive", false, util.WrapString("Use an exclusively leased connection"))
	SQLCommands.PersistentFlags().Bool("consistent", false, util.WrapString("Use the connection shared by all consistent clients"))
	SQLCommands.PersistentFlags().Int("reply-timeout", 30, util.WrapString("Seconds to wait for the reply of a single call"))
	SQLCommands.PersistentFlags().String("command-queue", "", util.WrapString("Queue key the dispatcher reads commands from (default broker:commands)"))

	// Add subcommands
	SQLCommands.AddCommand(queryCmd)
	SQLCommands.AddCommand(execCmd)
	SQLCommands.AddCommand(escapeCmd)
	SQLCommands.AddCommand(perfTestCmd)
}

// setupSQLClient connects to the queue shard of the broker
func setupSQLClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcQueue, err = util.ConnectQueue()
	return err
}

// proxyOptions reads the connection options from the flags
func proxyOptions() proxy.Options {
	return proxy.Options{
		Exclusive:    viper.GetBool("exclusive"),
		Consistent:   viper.GetBool("consistent"),
		ReplyTimeout: time.Duration(viper.GetInt("reply-timeout")) * time.Second,
		CommandQueue: viper.GetString("command-queue"),
	}
}

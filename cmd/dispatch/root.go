package dispatch

import (
	"context"
	"github.com/ValentinKolb/dBroker/cmd/util"
	"github.com/ValentinKolb/dBroker/lib/broker/dispatcher"
	"github.com/ValentinKolb/dBroker/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("broker")

// DispatchCmd runs a dispatcher against the queue shard of a remote dBroker server
var DispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run a dispatcher consuming a remote queue shard",
	Long: `Run a dispatcher that pops commands from the queue shard of a dBroker server and executes them on its own connection pool.
Only one dispatcher may consume a command queue, since cursors and exclusive leases live in its memory.`,
	PreRunE: bind,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(DispatchCmd)
	util.SetupBrokerFlags(DispatchCmd)

	DispatchCmd.PersistentFlags().Int("shard", 100, util.WrapString("ID of the queue shard to consume"))
	DispatchCmd.PersistentFlags().String("log-level", "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

func bind(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	cfg, err := util.GetBrokerConfig()
	if err != nil {
		return err
	}
	Logger.Infof(cfg.String())

	q, err := util.ConnectQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	d, err := dispatcher.Open(context.Background(), *cfg, q)
	if err != nil {
		return err
	}
	d.Start()

	sig := util.WaitForSignal()
	Logger.Infof("received %s, stopping dispatcher", sig)
	return d.Stop()
}

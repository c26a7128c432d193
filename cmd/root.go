package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dBroker/cmd/dispatch"
	"github.com/ValentinKolb/dBroker/cmd/lock"
	"github.com/ValentinKolb/dBroker/cmd/serve"
	"github.com/ValentinKolb/dBroker/cmd/sql"
	"github.com/ValentinKolb/dBroker/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dbroker",
		Short: "database connection broker",
		Long: fmt.Sprintf(`dBroker (v%s)

A database connection broker written in Go. Many short lived processes share
a small, fixed set of database connections through a message queue, with
exclusive leases for session work and named locks for cluster wide mutexes.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dBroker",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dBroker v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(dispatch.DispatchCmd)
	RootCmd.AddCommand(sql.SQLCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

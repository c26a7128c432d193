package lock

import (
	"fmt"
	"github.com/ValentinKolb/dBroker/cmd/util"
	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	"github.com/ValentinKolb/dBroker/lib/lockmgr"
	"github.com/ValentinKolb/dBroker/lib/sqldb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/exec"
	"time"
)

var (
	prims   lockmgr.IPrimitives
	cleanup func()

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Run commands under a named lock",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: teardownLockClient,
	}

	// runCmd represents the run command
	runCmd = &cobra.Command{
		Use:   "run [name] -- [command...]",
		Short: "Run a command while holding the lock",
		Long:  "Acquire the lock, run the command and release the lock afterwards. If the lock cannot be acquired within --lock-timeout, the command is skipped and nothing happens.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runLocked,
	}

	// freeCmd represents the free command
	freeCmd = &cobra.Command{
		Use:   "free [name]",
		Short: "Check whether a lock is currently free",
		Args:  cobra.ExactArgs(1),
		RunE:  runFree,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(runCmd)
	LockCommands.AddCommand(freeCmd)

	// Add common RPC flags to the lock command
	util.SetupRPCClientFlags(LockCommands)

	key := "backend"
	LockCommands.PersistentFlags().String(key, "table", util.WrapString("Where the locks live: table (lock table shard of the server) or sql (named locks of the database behind the broker)"))
	key = "shard"
	LockCommands.PersistentFlags().Int(key, 200, util.WrapString("ID of the lock table shard, or of the queue shard for the sql backend"))
	key = "dialect"
	LockCommands.PersistentFlags().String(key, "mysql", util.WrapString("SQL dialect of the database for the sql backend (mysql, postgres, sqlserver)"))

	key = "lock-timeout"
	runCmd.Flags().Int(key, 60, util.WrapString("Seconds to wait for the lock before skipping the command"))
	key = "poll-interval"
	runCmd.Flags().Int(key, 1000, util.WrapString("Milliseconds between two checks while the lock is taken"))
}

// setupLockClient creates the lock primitives of the selected backend
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	switch viper.GetString("backend") {
	case "table":
		p, err := util.ConnectLockTable(util.GetShardID())
		if err != nil {
			return err
		}
		prims = p
		cleanup = func() {}
		return nil

	case "sql":
		dialect, err := sqldb.DialectFor(viper.GetString("dialect"))
		if err != nil {
			return err
		}
		q, err := util.ConnectQueue()
		if err != nil {
			return err
		}

		// session locks need a session of our own
		db, err := proxy.Connect(q, proxy.Options{Exclusive: true})
		if err != nil {
			_ = q.Close()
			return err
		}
		p, err := lockmgr.NewSQLPrimitives(db, dialect)
		if err != nil {
			_ = db.Close()
			_ = q.Close()
			return err
		}
		prims = p
		cleanup = func() {
			_ = db.Close()
			_ = q.Close()
		}
		return nil

	default:
		return fmt.Errorf("invalid lock backend %s (expected table or sql)", viper.GetString("backend"))
	}
}

func teardownLockClient(_ *cobra.Command, _ []string) error {
	if cleanup != nil {
		cleanup()
	}
	return nil
}

// runLocked runs the command given after the lock name under the lock
func runLocked(_ *cobra.Command, args []string) error {
	name := args[0]
	command := args[1:]

	var l lockmgr.ILockManager = lockmgr.NewPollingLock(prims, lockmgr.Options{
		PollInterval: time.Duration(viper.GetInt("poll-interval")) * time.Millisecond,
	})

	done, err := l.Do(name, time.Duration(viper.GetInt("lock-timeout"))*time.Second, func() error {
		c := exec.Command(command[0], command[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	})
	if err != nil {
		return err
	}
	if !done {
		fmt.Printf("skipped=true, lock %q is held by someone else\n", name)
	}
	return nil
}

func runFree(_ *cobra.Command, args []string) error {
	free, err := prims.IsFree(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("free=%v\n", free)
	return nil
}

package sql

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dBroker/cmd/util"
	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for dBroker",
		Long: `Measures round trips through the broker. The insert and select benchmarks need a table created beforehand, e.g.
CREATE TABLE dbroker_perf (id INTEGER PRIMARY KEY AUTO_INCREMENT, payload VARCHAR(255))`,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfOps        = 1000
	perfTable      = "dbroker_perf"
	perfSkip       = make([]string, 0)
)

// perfBenchmark is one measured operation, run once per iteration
type perfBenchmark struct {
	name string
	op   func(db *proxy.DB, cur *proxy.Cursor, i int) error
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. connect,insert)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent clients"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per benchmark and client"))
	key = "table"
	perfTestCmd.Flags().String(key, "dbroker_perf", util.WrapString("Table used by the insert and select benchmarks"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfOps = max(viper.GetInt("ops"), 1)
	perfTable = viper.GetString("table")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dBroker")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Clients: %d, Operations per client: %d\n", perfNumThreads, perfOps)
	fmt.Println()

	benchmarks := []perfBenchmark{
		{"escape", func(db *proxy.DB, _ *proxy.Cursor, _ int) error {
			_, err := db.EscapeString("it's a benchmark")
			return err
		}},
		{"connect", func(_ *proxy.DB, _ *proxy.Cursor, _ int) error {
			db, err := proxy.Connect(rpcQueue, proxyOptions())
			if err != nil {
				return err
			}
			return db.Close()
		}},
		{"insert", func(db *proxy.DB, cur *proxy.Cursor, i int) error {
			if _, err := cur.Execute("INSERT INTO "+perfTable+" (payload) VALUES (?)", fmt.Sprintf("perf-%d", i)); err != nil {
				return err
			}
			return db.Commit(proxy.CommitOptions{})
		}},
		{"select", func(_ *proxy.DB, cur *proxy.Cursor, _ int) error {
			if _, err := cur.Execute("SELECT id, payload FROM " + perfTable + " LIMIT 10"); err != nil {
				return err
			}
			_, err := cur.FetchAll()
			return err
		}},
	}

	fmt.Println("starting tests...")

	registry := gometrics.NewRegistry()
	for _, b := range benchmarks {
		if slices.Contains(perfSkip, b.name) {
			fmt.Printf("%-20sskipped\n", b.name)
			continue
		}
		timer := gometrics.GetOrRegisterTimer(b.name, registry)
		errs := gometrics.GetOrRegisterCounter(b.name+".errors", registry)
		runBenchmark(b, timer, errs)
		printResult(b.name, timer, errs)
	}

	if !slices.Contains(perfSkip, "insert") {
		cleanupPerfTable()
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, registry); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", csvPath)
	}
	return nil
}

// runBenchmark runs b with perfNumThreads clients, each with its own proxy connection
func runBenchmark(b perfBenchmark, timer gometrics.Timer, errs gometrics.Counter) {
	var wg sync.WaitGroup
	for c := 0; c < perfNumThreads; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			db, err := proxy.Connect(rpcQueue, proxyOptions())
			if err != nil {
				log.Printf("(%s) - error connecting: %v\n", b.name, err)
				errs.Inc(int64(perfOps))
				return
			}
			defer db.Close()

			cur, err := db.Cursor()
			if err != nil {
				log.Printf("(%s) - error opening cursor: %v\n", b.name, err)
				errs.Inc(int64(perfOps))
				return
			}

			for i := 0; i < perfOps; i++ {
				start := time.Now()
				if err := b.op(db, cur, c*perfOps+i); err != nil {
					errs.Inc(1)
					log.Printf("(%s) - error: %v\n", b.name, err)
					continue
				}
				timer.UpdateSince(start)
			}
		}()
	}
	wg.Wait()
}

// cleanupPerfTable removes the rows written by the insert benchmark
func cleanupPerfTable() {
	db, err := proxy.Connect(rpcQueue, proxyOptions())
	if err != nil {
		log.Printf("(cleanup) - error connecting: %v\n", err)
		return
	}
	defer db.Close()

	err = proxy.UnitOfWork(db, nil, func() error {
		cur, err := db.Cursor()
		if err != nil {
			return err
		}
		_, err = cur.Execute("DELETE FROM " + perfTable + " WHERE payload LIKE 'perf-%'")
		return err
	})
	if err != nil {
		log.Printf("(cleanup) - error deleting rows: %v\n", err)
	}
}

// printResult prints the result of a benchmark in a formatted way
func printResult(test string, timer gometrics.Timer, errs gometrics.Counter) {
	if timer.Count() == 0 {
		fmt.Printf("%-20sno successful operations (%d errors)\n", test, errs.Count())
		return
	}
	fmt.Printf("%-20smean %s\tp50 %s\tp99 %s\t%.0f ops/sec\t%d errors\n",
		test,
		time.Duration(timer.Mean()),
		time.Duration(timer.Percentile(0.5)),
		time.Duration(timer.Percentile(0.99)),
		timer.RateMean(),
		errs.Count(),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, registry gometrics.Registry) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Count", "Errors", "MeanNs", "P50Ns", "P99Ns", "OpsPerSec",
		"Endpoints", "Serializer", "Transport", "Clients", "OpsPerClient", "Exclusive", "Consistent",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	config := util.GetClientConfig()
	var writeErr error
	registry.Each(func(name string, metric interface{}) {
		timer, ok := metric.(gometrics.Timer)
		if !ok || writeErr != nil {
			return
		}
		var errCount int64
		if c, ok := registry.Get(name + ".errors").(gometrics.Counter); ok {
			errCount = c.Count()
		}

		row := []string{
			name,
			strconv.FormatInt(timer.Count(), 10),
			strconv.FormatInt(errCount, 10),
			fmt.Sprintf("%.0f", timer.Mean()),
			fmt.Sprintf("%.0f", timer.Percentile(0.5)),
			fmt.Sprintf("%.0f", timer.Percentile(0.99)),
			fmt.Sprintf("%.0f", timer.RateMean()),
			strings.Join(config.Transport.Endpoints, ";"),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfOps),
			strconv.FormatBool(viper.GetBool("exclusive")),
			strconv.FormatBool(viper.GetBool("consistent")),
		}
		if err := writer.Write(row); err != nil {
			writeErr = fmt.Errorf("failed to write row for test %s: %v", name, err)
		}
	})
	return writeErr
}

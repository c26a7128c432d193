package sql

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dBroker/lib/broker/proxy"
	"github.com/spf13/cobra"
	"os"
	"strings"
)

var (
	// queryCmd represents the query command
	queryCmd = &cobra.Command{
		Use:   "query [statement] [args...]",
		Short: "Run a statement and print its rows as JSON lines",
		Long:  "Run a statement and print its rows as JSON lines. Arguments are bound to the placeholders of the statement; numeric arguments are sent as numbers.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}

	// execCmd represents the exec command
	execCmd = &cobra.Command{
		Use:   "exec [statement] [args...]",
		Short: "Run a statement, commit and print the affected rows",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}

	// escapeCmd represents the escape command
	escapeCmd = &cobra.Command{
		Use:   "escape [text]",
		Short: "Escape text with the rules of the broker's database",
		Args:  cobra.ExactArgs(1),
		RunE:  runEscape,
	}
)

func init() {
	queryCmd.Flags().Bool("header", false, "Print the column names before the rows")
}

func runQuery(cmd *cobra.Command, args []string) error {
	db, err := proxy.Connect(rpcQueue, proxyOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	cur, err := db.Cursor()
	if err != nil {
		return err
	}

	if _, err := cur.Execute(args[0], parseArgs(args[1:])...); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if header, _ := cmd.Flags().GetBool("header"); header {
		cols, err := cur.Description()
		if err != nil {
			return err
		}
		if err := enc.Encode(cols); err != nil {
			return err
		}
	}

	rows, err := cur.FetchAll()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}

	// read only, nothing to keep
	return db.Rollback()
}

func runExec(_ *cobra.Command, args []string) error {
	db, err := proxy.Connect(rpcQueue, proxyOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	cur, err := db.Cursor()
	if err != nil {
		return err
	}

	var affected int64
	err = proxy.UnitOfWork(db, nil, func() error {
		affected, err = cur.Execute(args[0], parseArgs(args[1:])...)
		return err
	})
	if err != nil {
		return err
	}

	id, err := cur.LastRowID()
	if err != nil {
		return err
	}
	fmt.Printf("affected=%d, lastRowId=%d\n", affected, id)
	return nil
}

func runEscape(_ *cobra.Command, args []string) error {
	db, err := proxy.Connect(rpcQueue, proxyOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	escaped, err := db.EscapeString(args[0])
	if err != nil {
		return err
	}
	fmt.Println(escaped)
	return nil
}

// parseArgs turns command line arguments into statement arguments.
// Arguments that are valid JSON numbers, booleans or null are sent as such, everything else as a string.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a

		trimmed := strings.TrimSpace(a)
		if trimmed == "" || strings.HasPrefix(trimmed, "\"") || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			out[i] = v
		}
	}
	return out
}

package broker

import (
	"fmt"
	"strconv"
	"strings"
)

// BrokerConfig holds all configuration parameters of a dispatcher
type BrokerConfig struct {
	// Database driver (mysql, postgres, sqlserver, sqlite3) and data source name
	Driver string
	DSN    string

	// Autocommit runs every statement in its own transaction
	Autocommit bool

	// Number of shared and leasable connections
	PoolSize      int
	ExclusiveSize int

	// Exclusive lease settings
	LeaseTTLSecond  int64
	LeaseWaitSecond int64

	// Number of workers executing commands and the size of the backlog feeding them
	Workers int
	Backlog int

	// Queue the commands are popped from
	CommandQueue string
}

// DefaultBrokerConfig returns the configuration used when no flags are given
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Driver:          "mysql",
		PoolSize:        10,
		ExclusiveSize:   2,
		LeaseTTLSecond:  120,
		LeaseWaitSecond: 10,
		Workers:         10,
		Backlog:         100,
		CommandQueue:    DefaultCommandQueue,
	}
}

// String returns a formatted string representation of the configuration.
// The DSN is not printed since it usually contains credentials.
func (c *BrokerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Database")
	addField("Driver", c.Driver)
	addField("Autocommit", strconv.FormatBool(c.Autocommit))

	addSection("Connection Pool")
	addField("Pooled Connections", strconv.Itoa(c.PoolSize))
	addField("Exclusive Connections", strconv.Itoa(c.ExclusiveSize))
	addField("Lease TTL", fmt.Sprintf("%d sec", c.LeaseTTLSecond))
	addField("Lease Wait", fmt.Sprintf("%d sec", c.LeaseWaitSecond))

	addSection("Dispatcher")
	addField("Command Queue", c.CommandQueue)
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Backlog", strconv.Itoa(c.Backlog))

	return sb.String()
}

package sqldb

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", sql.ErrConnDone, true},
		{"wrapped bad conn", pkgerrors.Wrap(driver.ErrBadConn, "execute"), true},
		{"fmt wrapped bad conn", fmt.Errorf("execute: %w", driver.ErrBadConn), true},
		{"eof", io.EOF, true},
		{"mysql invalid conn", mysql.ErrInvalidConn, true},
		{"mysql server gone", &mysql.MySQLError{Number: 2006, Message: "gone"}, true},
		{"mysql killed", &mysql.MySQLError{Number: 1927, Message: "killed"}, true},
		{"mysql syntax", &mysql.MySQLError{Number: 1064, Message: "syntax"}, false},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "duplicate"}, false},
		{"pq connection failure", &pq.Error{Code: "08006"}, true},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"pq query canceled", &pq.Error{Code: "57014"}, false},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"sqlite cant open", sqlite3.Error{Code: sqlite3.ErrCantOpen}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"net op error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, true},
		{"text broken pipe", errors.New("write: broken pipe"), true},
		{"text refused", errors.New("dial tcp 127.0.0.1:3306: connection refused"), true},
		{"plain application error", errors.New("table t does not exist"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectivityError(tt.err); got != tt.want {
				t.Errorf("IsConnectivityError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

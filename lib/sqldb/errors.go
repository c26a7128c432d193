package sqldb

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// mysqlConnCodes are server error numbers after which the session is unusable
var mysqlConnCodes = map[uint16]struct{}{
	1053: {}, // ER_SERVER_SHUTDOWN
	1077: {}, // ER_NORMAL_SHUTDOWN
	1078: {}, // ER_GOT_SIGNAL
	1079: {}, // ER_SHUTDOWN_COMPLETE
	1152: {}, // ER_ABORTING_CONNECTION
	1153: {}, // ER_NET_PACKET_TOO_LARGE
	1927: {}, // ER_CONNECTION_KILLED
	2006: {}, // CR_SERVER_GONE_ERROR
	2013: {}, // CR_SERVER_LOST
}

// pgConnCodes are the admin shutdown codes of class 57
var pgConnCodes = map[pq.ErrorCode]struct{}{
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
}

// connTexts are fragments of error messages drivers use for dropped sessions
var connTexts = []string{
	"bad connection",
	"connection refused",
	"connection reset",
	"broken pipe",
	"server has gone away",
	"lost connection",
}

// IsConnectivityError reports whether err means that the session dropped.
// Such errors are worth one reconnect and retry, every other error is an application error.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlConnCodes[myErr.Number]
		return ok
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		if pgErr.Code.Class() == "08" {
			return true
		}
		_, ok := pgConnCodes[pgErr.Code]
		return ok
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrCantOpen || liteErr.Code == sqlite3.ErrIoErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, text := range connTexts {
		if strings.Contains(msg, text) {
			return true
		}
	}
	return false
}

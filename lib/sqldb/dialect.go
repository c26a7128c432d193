package sqldb

import (
	"fmt"
	"strings"
	"time"
)

// Dialect identifies the SQL flavour of a database and doubles as the database/sql driver name
type Dialect string

const (
	DialectMySQL     Dialect = "mysql"
	DialectPostgres  Dialect = "postgres"
	DialectSQLServer Dialect = "sqlserver"
	DialectSQLite    Dialect = "sqlite3"
)

// pgLockNamespace is the first key of every advisory lock taken by the broker,
// the second key is the hash of the lock name
const pgLockNamespace = 0x6442

// DialectFor maps a driver name (or a common alias of it) to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported driver %q (expected mysql, postgres, sqlserver or sqlite3)", driver)
	}
}

// --------------------------------------------------------------------------
// String escaping
// --------------------------------------------------------------------------

// EscapeString escapes s for use inside a single quoted string literal.
// The surrounding quotes are not added.
func (d Dialect) EscapeString(s string) string {
	if d == DialectMySQL {
		return escapeBackslash(s)
	}
	return strings.ReplaceAll(s, "'", "''")
}

// escapeBackslash escapes like mysql_real_escape_string does without NO_BACKSLASH_ESCAPES
func escapeBackslash(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + len(s)/8)

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '"':
			sb.WriteString(`\"`)
		case '\032':
			sb.WriteString(`\Z`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Named lock statements
// --------------------------------------------------------------------------

/*
	Every lock statement returns a single row with a single column that is truthy
	if the operation succeeded. The locks are bound to the database session, so
	all three statements of one lock must run on the same physical connection.
*/

// IsFreeLockSQL returns a statement reporting whether the named lock is free
func (d Dialect) IsFreeLockSQL(name string) (string, []any, error) {
	switch d {
	case DialectMySQL:
		return "SELECT IS_FREE_LOCK(?)", []any{name}, nil
	case DialectPostgres:
		return "SELECT NOT EXISTS (SELECT 1 FROM pg_locks WHERE locktype = 'advisory' " +
			"AND classid = $1::int4::oid AND objid = hashtext($2)::oid AND objsubid = 2)", []any{pgLockNamespace, name}, nil
	case DialectSQLServer:
		return "SELECT APPLOCK_TEST('public', @p1, 'Exclusive', 'Session')", []any{name}, nil
	default:
		return "", nil, fmt.Errorf("named locks are not supported by %s", d)
	}
}

// AcquireLockSQL returns a statement that tries to take the named lock, waiting at most bound.
// PostgreSQL has no bounded wait, the statement there is a single attempt.
func (d Dialect) AcquireLockSQL(name string, bound time.Duration) (string, []any, error) {
	switch d {
	case DialectMySQL:
		return "SELECT GET_LOCK(?, ?)", []any{name, int64(bound / time.Second)}, nil
	case DialectPostgres:
		return "SELECT pg_try_advisory_lock($1, hashtext($2))", []any{pgLockNamespace, name}, nil
	case DialectSQLServer:
		return "DECLARE @r int; " +
			"EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = @p2; " +
			"SELECT CASE WHEN @r >= 0 THEN 1 ELSE 0 END", []any{name, bound.Milliseconds()}, nil
	default:
		return "", nil, fmt.Errorf("named locks are not supported by %s", d)
	}
}

// ReleaseLockSQL returns a statement that releases the named lock if this session holds it
func (d Dialect) ReleaseLockSQL(name string) (string, []any, error) {
	switch d {
	case DialectMySQL:
		return "SELECT RELEASE_LOCK(?)", []any{name}, nil
	case DialectPostgres:
		return "SELECT pg_advisory_unlock($1, hashtext($2))", []any{pgLockNamespace, name}, nil
	case DialectSQLServer:
		return "DECLARE @r int = -1; " +
			"IF APPLOCK_MODE('public', @p1, 'Session') <> 'NoLock' " +
			"EXEC @r = sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'; " +
			"SELECT CASE WHEN @r = 0 THEN 1 ELSE 0 END", []any{name}, nil
	default:
		return "", nil, fmt.Errorf("named locks are not supported by %s", d)
	}
}

// --------------------------------------------------------------------------
// Statement classification
// --------------------------------------------------------------------------

// rowKeywords are the leading keywords of statements that produce a result set
var rowKeywords = map[string]struct{}{
	"SELECT":   {},
	"WITH":     {},
	"SHOW":     {},
	"DESCRIBE": {},
	"DESC":     {},
	"EXPLAIN":  {},
	"PRAGMA":   {},
	"VALUES":   {},
	"TABLE":    {},
	"DECLARE":  {},
}

// returnsRows guesses whether a statement produces a result set
func returnsRows(query string) bool {
	q := strings.TrimLeft(query, " \t\r\n(")
	end := strings.IndexFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(q)
	}
	if _, ok := rowKeywords[strings.ToUpper(q[:end])]; ok {
		return true
	}

	upper := strings.ToUpper(q)
	return strings.Contains(upper, " RETURNING ") ||
		strings.Contains(upper, " OUTPUT INSERTED.") || strings.Contains(upper, " OUTPUT DELETED.")
}

package sqltest

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dBroker/lib/sqldb"
)

// Result is what a Handler produces for one statement
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	LastInsertID int64
}

// Handler executes one statement for the given connection
type Handler func(conn *Conn, query string, args []any) (*Result, error)

// Stats are counters collected by a Server
type Stats struct {
	Executes   int
	Commits    int
	Rollbacks  int
	Reconnects int
	// MaxInFlight is the highest number of statements that ever ran on one connection at the same time
	MaxInFlight int
}

// Server is an in-memory stand-in for a database server.
// Connections opened from it share its data, named locks and counters.
// Named locks belong to a session and are released when it is closed or reconnected.
type Server struct {
	mu      sync.Mutex
	dialect sqldb.Dialect
	handler Handler
	delay   time.Duration
	faults  []error

	rows  [][]any
	locks map[string]int // lock name -> connection id

	nextConnID int
	stats      Stats
}

// NewServer creates a server speaking the given dialect with the default handler
func NewServer(dialect sqldb.Dialect) *Server {
	s := &Server{
		dialect: dialect,
		locks:   make(map[string]int),
	}
	s.handler = s.DefaultHandler
	return s
}

// SetHandler replaces the statement handler
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetDelay makes every statement take at least d
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// InjectFaults makes the next len(errs) statements fail with the given errors
// before they reach the handler. A nil entry injects driver.ErrBadConn.
func (s *Server) InjectFaults(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, err := range errs {
		if err == nil {
			err = driver.ErrBadConn
		}
		s.faults = append(s.faults, err)
	}
}

// Open creates a new connection
func (s *Server) Open() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConnID++
	return &Conn{server: s, id: s.nextConnID}
}

// Factory returns a connection factory with the signature the pool expects
func (s *Server) Factory() func(index int) (sqldb.IConn, error) {
	return func(int) (sqldb.IConn, error) {
		return s.Open(), nil
	}
}

// Rows returns a copy of the rows stored by the default handler
func (s *Server) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.rows))
	copy(out, s.rows)
	return out
}

// Stats returns a snapshot of the counters
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// --------------------------------------------------------------------------
// Default handler
// --------------------------------------------------------------------------

// DefaultHandler implements a tiny single table database:
//
//	INSERT ...           stores the arguments as one row
//	SELECT COUNT(*) ...  returns the number of rows
//	SELECT ...           returns all rows
//	DELETE ...           removes all rows
//	FAIL ...             fails with a syntax error
//
// and the MySQL named lock functions IS_FREE_LOCK, GET_LOCK and RELEASE_LOCK,
// which makes it usable with the lock statements of sqldb.DialectMySQL.
// Everything else succeeds without effect.
func (s *Server) DefaultHandler(conn *Conn, query string, args []any) (*Result, error) {
	upper := strings.ToUpper(strings.TrimSpace(query))

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(upper, "SELECT IS_FREE_LOCK"):
		_, held := s.locks[fmt.Sprint(args[0])]
		return boolResult(!held), nil

	case strings.HasPrefix(upper, "SELECT GET_LOCK"):
		name := fmt.Sprint(args[0])
		if owner, held := s.locks[name]; held && owner != conn.id {
			return boolResult(false), nil
		}
		s.locks[name] = conn.id
		return boolResult(true), nil

	case strings.HasPrefix(upper, "SELECT RELEASE_LOCK"):
		name := fmt.Sprint(args[0])
		if owner, held := s.locks[name]; !held || owner != conn.id {
			return boolResult(false), nil
		}
		delete(s.locks, name)
		return boolResult(true), nil

	case strings.HasPrefix(upper, "INSERT"):
		row := make([]any, len(args))
		copy(row, args)
		s.rows = append(s.rows, row)
		return &Result{RowsAffected: 1, LastInsertID: int64(len(s.rows))}, nil

	case strings.HasPrefix(upper, "SELECT COUNT"):
		return &Result{Columns: []string{"count"}, Rows: [][]any{{int64(len(s.rows))}}}, nil

	case strings.HasPrefix(upper, "SELECT"):
		rows := make([][]any, len(s.rows))
		copy(rows, s.rows)
		width := 1
		if len(rows) > 0 {
			width = len(rows[0])
		}
		columns := make([]string, width)
		for i := range columns {
			columns[i] = fmt.Sprintf("c%d", i)
		}
		return &Result{Columns: columns, Rows: rows}, nil

	case strings.HasPrefix(upper, "DELETE"):
		n := len(s.rows)
		s.rows = nil
		return &Result{RowsAffected: int64(n)}, nil

	case strings.HasPrefix(upper, "FAIL"):
		return nil, fmt.Errorf("syntax error near %q", query)

	default:
		return &Result{}, nil
	}
}

func boolResult(ok bool) *Result {
	v := int64(0)
	if ok {
		v = 1
	}
	return &Result{Columns: []string{"result"}, Rows: [][]any{{v}}}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// run executes one statement for conn, applying injected faults and the delay
func (s *Server) run(conn *Conn, query string, args []any) (*Result, error) {
	if err := s.fault(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.Executes++
	handler := s.handler
	delay := s.delay
	s.mu.Unlock()

	conn.inTx = true
	conn.enter()
	defer conn.leave()

	if delay > 0 {
		time.Sleep(delay)
	}
	return handler(conn, query, args)
}

// fault pops the next injected fault, if any
func (s *Server) fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) == 0 {
		return nil
	}
	err := s.faults[0]
	s.faults = s.faults[1:]
	return err
}

// reopen gives conn a new session id, the named locks of the old session are released
func (s *Server) reopen(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocksLocked(conn.id)
	s.nextConnID++
	conn.id = s.nextConnID
}

func (s *Server) dropLocks(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocksLocked(conn.id)
}

func (s *Server) releaseLocksLocked(id int) {
	for name, owner := range s.locks {
		if owner == id {
			delete(s.locks, name)
		}
	}
}

func (s *Server) count(f func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.stats)
}

func (s *Server) observeInFlight(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.stats.MaxInFlight {
		s.stats.MaxInFlight = n
	}
}

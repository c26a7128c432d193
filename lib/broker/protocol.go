package broker

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultCommandQueue is the queue key the dispatcher consumes commands from
	DefaultCommandQueue = "broker:commands"
	// ResponseKeyPrefix starts every reply queue key
	ResponseKeyPrefix = "response:"
)

// NewResponseKey returns a fresh reply queue key
func NewResponseKey() string {
	return ResponseKeyPrefix + uuid.NewString()
}

// --------------------------------------------------------------------------
// Command Types
// --------------------------------------------------------------------------

// CommandType is the type of a command envelope
type CommandType string

const (
	CmdNewConnection   CommandType = "new_connection"
	CmdCloseConnection CommandType = "close_connection"
	CmdNewCursor       CommandType = "new_cursor"
	CmdCommit          CommandType = "commit"
	CmdRollback        CommandType = "rollback"
	CmdEscapeString    CommandType = "escape_string"
	CmdCursorFunction  CommandType = "cursor_function"
	CmdCursorAttribute CommandType = "cursor_attribute"
)

// --------------------------------------------------------------------------
// Cursor Operations
// --------------------------------------------------------------------------

// CursorOp is one entry of the closed set of operations a cursor command may name
type CursorOp string

const (
	OpExecute     CursorOp = "execute"
	OpExecuteMany CursorOp = "executemany"
	OpFetchOne    CursorOp = "fetchone"
	OpFetchMany   CursorOp = "fetchmany"
	OpFetchAll    CursorOp = "fetchall"
	OpClose       CursorOp = "close"

	AttrRowCount    CursorOp = "rowcount"
	AttrLastRowID   CursorOp = "lastrowid"
	AttrDescription CursorOp = "description"
)

// cursorOps maps every known operation to whether it is an attribute read
var cursorOps = map[CursorOp]bool{
	OpExecute:       false,
	OpExecuteMany:   false,
	OpFetchOne:      false,
	OpFetchMany:     false,
	OpFetchAll:      false,
	OpClose:         false,
	AttrRowCount:    true,
	AttrLastRowID:   true,
	AttrDescription: true,
}

// ParseCursorOp validates an operation name from the wire
func ParseCursorOp(name string) (CursorOp, error) {
	op := CursorOp(name)
	if _, ok := cursorOps[op]; !ok {
		return "", fmt.Errorf("unknown cursor operation %q", name)
	}
	return op, nil
}

// IsAttribute reports whether the operation is a read-only attribute access
// (sent as cursor_attribute) rather than a method call (sent as cursor_function)
func (o CursorOp) IsAttribute() bool {
	return cursorOps[o]
}

// CommandType returns the command type used to send this operation
func (o CursorOp) CommandType() CommandType {
	if o.IsAttribute() {
		return CmdCursorAttribute
	}
	return CmdCursorFunction
}

// --------------------------------------------------------------------------
// Envelopes
// --------------------------------------------------------------------------

// Command is the unit of work placed on the command queue
type Command struct {
	Type        CommandType                `json:"type"`
	Name        string                     `json:"name,omitempty"`
	DBID        string                     `json:"db_id,omitempty"`
	CurrID      string                     `json:"curr_id,omitempty"`
	Args        []json.RawMessage          `json:"args"`
	Kwargs      map[string]json.RawMessage `json:"kwargs"`
	ResponseKey string                     `json:"response_key"`
}

// NewCommand builds a command and encodes its arguments
func NewCommand(t CommandType, name, dbID, currID string, args []any, kwargs map[string]any) (*Command, error) {
	cmd := &Command{
		Type:        t,
		Name:        name,
		DBID:        dbID,
		CurrID:      currID,
		Args:        make([]json.RawMessage, 0, len(args)),
		Kwargs:      make(map[string]json.RawMessage, len(kwargs)),
		ResponseKey: NewResponseKey(),
	}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d of %s: %w", i, t, err)
		}
		cmd.Args = append(cmd.Args, raw)
	}
	for k, v := range kwargs {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode keyword argument %q of %s: %w", k, t, err)
		}
		cmd.Kwargs[k] = raw
	}
	return cmd, nil
}

// Arg decodes the positional argument i into v
func (c *Command) Arg(i int, v any) error {
	if i >= len(c.Args) {
		return fmt.Errorf("%s %s: missing argument %d", c.Type, c.Name, i)
	}
	if err := json.Unmarshal(c.Args[i], v); err != nil {
		return fmt.Errorf("%s %s: argument %d: %w", c.Type, c.Name, i, err)
	}
	return nil
}

// Kwarg decodes the keyword argument key into v, it returns false if the key is absent
func (c *Command) Kwarg(key string, v any) (bool, error) {
	raw, ok := c.Kwargs[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("%s %s: keyword argument %q: %w", c.Type, c.Name, key, err)
	}
	return true, nil
}

// Response is pushed to the reply queue named by the command's response key
type Response struct {
	ErrorStatus bool            `json:"error_status"`
	ErrorText   string          `json:"error_text"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// NewDataResponse builds a successful response carrying v
func NewDataResponse(v any) (*Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Response{Data: raw}, nil
}

// NewErrorResponse builds a failed response
func NewErrorResponse(kind ErrorKind, text string) *Response {
	return &Response{
		ErrorStatus: true,
		ErrorText:   text,
		ErrorKind:   kind,
		Data:        json.RawMessage("null"),
	}
}

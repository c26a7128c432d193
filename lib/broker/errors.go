package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrResponseTimeout is returned by the proxy if no reply arrived within the reply timeout.
	// It means that the broker is overloaded or down, the command may or may not have run.
	ErrResponseTimeout = errors.New("broker did not respond in time")

	// ErrExclusiveLeaseExhausted is returned by the proxy if no exclusive connection
	// became available within the lease wait of the broker
	ErrExclusiveLeaseExhausted = errors.New("no exclusive connection available")
)

// ErrorKind classifies a failed response
type ErrorKind string

const (
	KindApplication    ErrorKind = "application"
	KindConnectivity   ErrorKind = "connectivity"
	KindLeaseExhausted ErrorKind = "lease_exhausted"
	KindDecode         ErrorKind = "decode"
)

// ApplicationError is a failure reported by the broker for a single command,
// e.g. bad SQL, a constraint violation or an unknown connection id
type ApplicationError struct {
	Kind    ErrorKind
	Command CommandType
	Name    string
	DBID    string
	CurrID  string
	Text    string
}

func (e *ApplicationError) Error() string {
	op := string(e.Command)
	if e.Name != "" {
		op += " " + e.Name
	}
	return fmt.Sprintf("broker: %s failed: %s", op, e.Text)
}

// ErrorFromResponse converts a failed response into the matching client error
func ErrorFromResponse(cmd *Command, resp *Response) error {
	if !resp.ErrorStatus {
		return nil
	}
	if resp.ErrorKind == KindLeaseExhausted {
		return fmt.Errorf("%w: %s", ErrExclusiveLeaseExhausted, resp.ErrorText)
	}
	kind := resp.ErrorKind
	if kind == "" {
		kind = KindApplication
	}
	return &ApplicationError{
		Kind:    kind,
		Command: cmd.Type,
		Name:    cmd.Name,
		DBID:    cmd.DBID,
		CurrID:  cmd.CurrID,
		Text:    resp.ErrorText,
	}
}

package broker

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCursorOp(t *testing.T) {
	tests := []struct {
		name      string
		attribute bool
		wantErr   bool
	}{
		{"execute", false, false},
		{"executemany", false, false},
		{"fetchone", false, false},
		{"fetchmany", false, false},
		{"fetchall", false, false},
		{"close", false, false},
		{"rowcount", true, false},
		{"lastrowid", true, false},
		{"description", true, false},
		{"__class__", false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := ParseCursorOp(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.attribute, op.IsAttribute())
			if tt.attribute {
				assert.Equal(t, CmdCursorAttribute, op.CommandType())
			} else {
				assert.Equal(t, CmdCursorFunction, op.CommandType())
			}
		})
	}
}

func TestCommandEnvelope(t *testing.T) {
	cmd, err := NewCommand(CmdCursorFunction, "execute", "db", "cur",
		[]any{"SELECT ?", []any{1}}, map[string]any{"exclusive": true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cmd.ResponseKey, ResponseKeyPrefix))

	raw, err := json.Marshal(cmd)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "cursor_function", wire["type"])
	assert.Equal(t, "execute", wire["name"])
	assert.Equal(t, "db", wire["db_id"])
	assert.Equal(t, "cur", wire["curr_id"])
	assert.Equal(t, cmd.ResponseKey, wire["response_key"])

	var query string
	require.NoError(t, cmd.Arg(0, &query))
	assert.Equal(t, "SELECT ?", query)
	assert.Error(t, cmd.Arg(2, &query))

	var exclusive bool
	found, err := cmd.Kwarg("exclusive", &exclusive)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, exclusive)

	found, err = cmd.Kwarg("consistent", &exclusive)
	require.NoError(t, err)
	assert.False(t, found)

	// every command gets its own response key
	other, err := NewCommand(CmdCommit, "", "db", "", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, cmd.ResponseKey, other.ResponseKey)
}

func TestDecodeValues(t *testing.T) {
	var rows [][]any
	require.NoError(t, DecodeValues(json.RawMessage(`[[1, 2.5, "x", null, [3]], [9007199254740993]]`), &rows))
	assert.Equal(t, [][]any{
		{int64(1), 2.5, "x", nil, []any{int64(3)}},
		{int64(9007199254740993)},
	}, rows)

	var v any
	require.NoError(t, DecodeValues(json.RawMessage(`{"n": 4}`), &v))
	assert.Equal(t, map[string]any{"n": int64(4)}, v)

	var n int64
	require.NoError(t, DecodeValues(nil, &n))
	assert.Error(t, DecodeValues(json.RawMessage(`"x"`), &n))
}

func TestErrorFromResponse(t *testing.T) {
	cmd := &Command{Type: CmdCursorFunction, Name: "execute", DBID: "db", CurrID: "cur"}

	ok, err := NewDataResponse(3)
	require.NoError(t, err)
	assert.NoError(t, ErrorFromResponse(cmd, ok))

	err = ErrorFromResponse(cmd, NewErrorResponse(KindConnectivity, "gone away"))
	var appErr *ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, KindConnectivity, appErr.Kind)
	assert.Equal(t, "db", appErr.DBID)
	assert.Contains(t, err.Error(), "cursor_function execute")
	assert.Contains(t, err.Error(), "gone away")

	err = ErrorFromResponse(cmd, &Response{ErrorStatus: true, ErrorText: "old broker"})
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, KindApplication, appErr.Kind)

	err = ErrorFromResponse(cmd, NewErrorResponse(KindLeaseExhausted, "waited 10s"))
	assert.ErrorIs(t, err, ErrExclusiveLeaseExhausted)
}

func TestDefaultBrokerConfig(t *testing.T) {
	cfg := DefaultBrokerConfig()
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 2, cfg.ExclusiveSize)
	assert.Equal(t, DefaultCommandQueue, cfg.CommandQueue)
	assert.Contains(t, cfg.String(), "Pooled Connections")
	assert.NotContains(t, cfg.String(), "DSN")
}

package sql

import (
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{"42", "1.5", "true", "null", "abc", `"7"`, "[1]", "", "007x"})
	want := []any{float64(42), 1.5, true, nil, "abc", `"7"`, "[1]", "", "007x"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseArgs() = %#v, want %#v", got, want)
	}
}

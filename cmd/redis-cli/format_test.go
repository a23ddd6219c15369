package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pior/redis/resp"
)

func bulk(s string) *resp.Reply {
	return resp.NewBulkString([]byte(s))
}

func TestFormatReply(t *testing.T) {
	tests := []struct {
		name     string
		reply    *resp.Reply
		expected string
	}{
		{name: "status", reply: resp.NewStatus([]byte("OK")), expected: "OK"},
		{name: "error", reply: resp.NewError([]byte("ERR wrong")), expected: "(error) ERR wrong"},
		{name: "integer", reply: resp.NewInteger(-3), expected: "(integer) -3"},
		{name: "bulk", reply: bulk("hello \"world\"\n"), expected: `"hello \"world\"\n"`},
		{name: "nil", reply: resp.Nil(), expected: "(nil)"},
		{name: "empty array", reply: resp.NewArray(), expected: "(empty array)"},
		{
			name:     "array",
			reply:    resp.NewArray(bulk("a"), resp.NewInteger(2), resp.Nil()),
			expected: "1) \"a\"\n2) (integer) 2\n3) (nil)",
		},
		{
			name:     "nested array",
			reply:    resp.NewArray(resp.NewArray(bulk("a"), bulk("b")), bulk("c")),
			expected: "1) 1) \"a\"\n   2) \"b\"\n2) \"c\"",
		},
		{
			name: "aligned indexes",
			reply: resp.NewArray(
				bulk("1"), bulk("2"), bulk("3"), bulk("4"), bulk("5"),
				bulk("6"), bulk("7"), bulk("8"), bulk("9"), bulk("10"),
			),
			expected: " 1) \"1\"\n 2) \"2\"\n 3) \"3\"\n 4) \"4\"\n 5) \"5\"\n" +
				" 6) \"6\"\n 7) \"7\"\n 8) \"8\"\n 9) \"9\"\n10) \"10\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, formatReply(tt.reply))
		})
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line     string
		expected []string
		wantErr  bool
	}{
		{line: "GET key", expected: []string{"GET", "key"}},
		{line: "  SET   key\tvalue  ", expected: []string{"SET", "key", "value"}},
		{line: `SET key "hello world"`, expected: []string{"SET", "key", "hello world"}},
		{line: `SET key "a\"b\n"`, expected: []string{"SET", "key", "a\"b\n"}},
		{line: `SET key 'it\s raw'`, expected: []string{"SET", "key", `it\s raw`}},
		{line: `SET key ""`, expected: []string{"SET", "key", ""}},
		{line: `SET key "open`, wantErr: true},
		{line: `SET key 'open`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			args, err := splitArgs(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, args)
		})
	}
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pior/redis/resp"
)

// formatReply renders a reply the way redis-cli does.
func formatReply(reply *resp.Reply) string {
	var sb strings.Builder
	writeReply(&sb, reply, 0)
	return strings.TrimSuffix(sb.String(), "\n")
}

func writeReply(sb *strings.Builder, reply *resp.Reply, indent int) {
	switch reply.Type() {
	case resp.TypeStatus:
		sb.WriteString(reply.Text())
	case resp.TypeError:
		sb.WriteString("(error) ")
		sb.WriteString(reply.Text())
	case resp.TypeInteger:
		sb.WriteString("(integer) ")
		sb.WriteString(strconv.FormatInt(reply.Integer(), 10))
	case resp.TypeString:
		sb.WriteString(strconv.Quote(reply.Text()))
	case resp.TypeNil:
		sb.WriteString("(nil)")
	case resp.TypeArray:
		if reply.Len() == 0 {
			sb.WriteString("(empty array)")
			break
		}

		width := len(strconv.Itoa(reply.Len()))
		for i, e := range reply.Elements() {
			if i > 0 {
				sb.WriteString(strings.Repeat(" ", indent))
			}
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			sb.WriteString(prefix)
			writeReply(sb, e, indent+len(prefix))
			if i < reply.Len()-1 {
				sb.WriteByte('\n')
			}
		}
	}
}

// splitArgs splits a prompt line into arguments. Double-quoted arguments may
// contain spaces and the escapes understood by strconv.Unquote; single-quoted
// arguments are taken verbatim.
func splitArgs(line string) ([]string, error) {
	var args []string

	for i := 0; i < len(line); {
		switch c := line[i]; {
		case c == ' ' || c == '\t':
			i++

		case c == '"':
			end := i + 1
			for end < len(line) && line[end] != '"' {
				if line[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(line) {
				return nil, errors.New("unbalanced quotes")
			}
			arg, err := strconv.Unquote(line[i : end+1])
			if err != nil {
				return nil, fmt.Errorf("invalid quoted argument: %w", err)
			}
			args = append(args, arg)
			i = end + 1

		case c == '\'':
			end := strings.IndexByte(line[i+1:], '\'')
			if end < 0 {
				return nil, errors.New("unbalanced quotes")
			}
			args = append(args, line[i+1:i+1+end])
			i += end + 2

		default:
			end := strings.IndexAny(line[i:], " \t")
			if end < 0 {
				end = len(line) - i
			}
			args = append(args, line[i:i+end])
			i += end
		}
	}

	return args, nil
}

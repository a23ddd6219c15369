package codec

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	"google.golang.org/protobuf/proto"

	"github.com/pior/redis/resp"
)

// ErrNil is returned when decoding a nil reply.
var ErrNil = errors.New("codec: nil reply")

// MaxDecodedSize bounds the size of a snappy payload once decompressed.
const MaxDecodedSize = 512 * 1024 * 1024

// payload returns the bytes of a bulk string or status reply.
func payload(reply *resp.Reply) ([]byte, error) {
	switch reply.Type() {
	case resp.TypeString, resp.TypeStatus:
		return reply.Bytes(), nil
	case resp.TypeNil:
		return nil, ErrNil
	case resp.TypeError:
		return nil, reply.Err()
	}
	return nil, fmt.Errorf("codec: cannot decode a %s reply", reply.Type())
}

// DecodeJSON unmarshals a JSON bulk string into v.
func DecodeJSON(reply *resp.Reply, v any) error {
	b, err := payload(reply)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(b, v)
}

// DecodeCBOR unmarshals a CBOR bulk string into v.
func DecodeCBOR(reply *resp.Reply, v any) error {
	b, err := payload(reply)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(b, v)
}

// DecodeProto unmarshals a protocol buffer bulk string into m.
func DecodeProto(reply *resp.Reply, m proto.Message) error {
	b, err := payload(reply)
	if err != nil {
		return err
	}
	return proto.Unmarshal(b, m)
}

// DecodeSnappy decompresses a snappy bulk string and passes the result to
// decode, for example DecodeJSON.
func DecodeSnappy(reply *resp.Reply, v any, decode func(*resp.Reply, any) error) error {
	b, err := payload(reply)
	if err != nil {
		return err
	}

	if n, err := snappy.DecodedLen(b); err == nil && n > MaxDecodedSize {
		return fmt.Errorf("codec: snappy decoded payload too large: %d > %d", n, MaxDecodedSize)
	}
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return fmt.Errorf("codec: snappy: %w", err)
	}
	return decode(resp.NewBulkString(raw), v)
}

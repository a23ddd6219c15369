// Package codec provides serializers for the %b verb of command templates,
// and the matching decoders for bulk string replies.
//
// A connection tries its serializers in registration order and uses the first
// one that accepts the value, so catch-all serializers such as JSON and CBOR
// belong at the end of the chain:
//
//	conn := redis.NewConnection(transport, redis.ConnConfig{
//		Serializers: codec.Chain(codec.Bytes(), codec.Proto(), codec.JSON()),
//	})
//	conn.Send(ctx, "SET user:%s %b", id, user)
package codec

import (
	"fmt"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
	"google.golang.org/protobuf/proto"

	"github.com/pior/redis/resp"
)

// Chain returns a copy of the serializers, in registration order, for
// ConnConfig.Serializers. It panics on a nil serializer so a misconfigured
// chain fails where it is built rather than on the first %b argument.
func Chain(serializers ...resp.Serializer) []resp.Serializer {
	for i, s := range serializers {
		if s == nil {
			panic(fmt.Sprintf("codec: nil serializer at position %d", i))
		}
	}
	return slices.Clone(serializers)
}

// Bytes passes []byte values through unchanged.
func Bytes() resp.Serializer {
	return resp.SerializerFunc{
		Accept: func(v any) bool {
			_, ok := v.([]byte)
			return ok
		},
		Encode: func(v any) ([]byte, error) {
			return v.([]byte), nil
		},
	}
}

// Text encodes strings and fmt.Stringer values as their text.
func Text() resp.Serializer {
	return resp.SerializerFunc{
		Accept: func(v any) bool {
			switch v.(type) {
			case string, fmt.Stringer:
				return true
			}
			return false
		},
		Encode: func(v any) ([]byte, error) {
			if s, ok := v.(string); ok {
				return []byte(s), nil
			}
			return []byte(v.(fmt.Stringer).String()), nil
		},
	}
}

// JSON encodes any value with sonic.
func JSON() resp.Serializer {
	return resp.SerializerFunc{
		Accept: func(v any) bool { return true },
		Encode: func(v any) ([]byte, error) {
			return sonic.Marshal(v)
		},
	}
}

// CBOR encodes any value as CBOR.
func CBOR() resp.Serializer {
	return resp.SerializerFunc{
		Accept: func(v any) bool { return true },
		Encode: func(v any) ([]byte, error) {
			return cbor.Marshal(v)
		},
	}
}

// Proto encodes protocol buffer messages.
func Proto() resp.Serializer {
	return resp.SerializerFunc{
		Accept: func(v any) bool {
			_, ok := v.(proto.Message)
			return ok
		},
		Encode: func(v any) ([]byte, error) {
			return proto.Marshal(v.(proto.Message))
		},
	}
}

// Snappy compresses the output of inner. It accepts what inner accepts.
func Snappy(inner resp.Serializer) resp.Serializer {
	return resp.SerializerFunc{
		Accept: inner.CanSerialize,
		Encode: func(v any) ([]byte, error) {
			raw, err := inner.Serialize(v)
			if err != nil {
				return nil, err
			}
			return snappy.Encode(nil, raw), nil
		},
	}
}

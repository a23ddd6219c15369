package resp

// Serializer converts %b arguments of a command template to raw bytes.
//
// A Writer asks its serializers in registration order; the first one whose
// CanSerialize returns true encodes the value.
type Serializer interface {
	CanSerialize(v any) bool
	Serialize(v any) ([]byte, error)
}

// SerializerFunc builds a Serializer from a predicate and an encoder.
type SerializerFunc struct {
	Accept func(v any) bool
	Encode func(v any) ([]byte, error)
}

var _ Serializer = SerializerFunc{}

func (s SerializerFunc) CanSerialize(v any) bool {
	return s.Accept(v)
}

func (s SerializerFunc) Serialize(v any) ([]byte, error) {
	return s.Encode(v)
}

package serializer

import (
	"github.com/hashicorp/go-msgpack/codec"
)

var _ Serializer = (*Msgpack)(nil)

// Msgpack is the default binary serializer.
type Msgpack struct {
	handle codec.MsgpackHandle
}

func NewMsgpack() *Msgpack {
	return &Msgpack{}
}

func (s *Msgpack) Marshal(v any) ([]byte, error) {
	var buf []byte

	enc := codec.NewEncoderBytes(&buf, &s.handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf, nil
}

func (s *Msgpack) Unmarshal(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, &s.handle)

	return dec.Decode(v)
}

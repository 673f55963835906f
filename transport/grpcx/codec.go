package grpcx

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/maxpoletaev/cohort/transport"
)

// rawMessage carries pre-encoded bytes through grpc without a generated
// message type.
type rawMessage struct {
	data []byte
}

// rawCodec passes rawMessage payloads through grpc untouched.
type rawCodec struct{}

func (rawCodec) Name() string { return "cohort-raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected message type %T", v)
	}

	return msg.data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", v)
	}

	msg.data = data

	return nil
}

// Envelope wire format, protobuf-encoded by hand:
//
//	1: topic (string)
//	2: cluster_id (varint)
//	3: protocol_id (varint)
//	4: sender (string)
//	5: payload (bytes)
const (
	fieldTopic      = 1
	fieldClusterID  = 2
	fieldProtocolID = 3
	fieldSender     = 4
	fieldPayload    = 5
)

func encodeEnvelope(env *transport.Envelope) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendString(b, env.Topic)
	b = protowire.AppendTag(b, fieldClusterID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.ClusterID))
	b = protowire.AppendTag(b, fieldProtocolID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.ProtocolID))
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendString(b, env.Sender)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Payload)

	return b
}

func decodeEnvelope(b []byte) (*transport.Envelope, error) {
	env := &transport.Envelope{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}

		b = b[n:]

		switch num {
		case fieldTopic, fieldSender, fieldPayload:
			value, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}

			switch num {
			case fieldTopic:
				env.Topic = string(value)
			case fieldSender:
				env.Sender = string(value)
			case fieldPayload:
				env.Payload = append([]byte(nil), value...)
			}

			b = b[n:]
		case fieldClusterID, fieldProtocolID:
			value, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}

			if num == fieldClusterID {
				env.ClusterID = uint32(value)
			} else {
				env.ProtocolID = uint32(value)
			}

			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}

			b = b[n:]
		}
	}

	return env, nil
}

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"sdkbridge/envelope"
)

// BinaryCodec hand-packs the envelope as length-prefixed fields. The payload
// itself stays JSON: only primitives cross the channel, so the payload is
// small and the envelope framing dominates the cost.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *envelope.Message
	msg, ok := v.(*envelope.Message)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *envelope.Message")
	}

	// Calculate the total length of the packed message
	total := 2 + len(msg.ID) +
		2 + len(msg.Target) +
		1 + len(msg.Status) +
		2 + len(msg.ErrorKind) +
		2 + len(msg.ErrorMessage) +
		4 + len(msg.Payload)
	buf := make([]byte, total)

	offset := 0
	offset = putString16(buf, offset, msg.ID)
	offset = putString16(buf, offset, msg.Target)

	// Status -- 1-byte length prefix ("", "ok" or "error")
	buf[offset] = byte(len(msg.Status))
	offset++
	copy(buf[offset:], msg.Status)
	offset += len(msg.Status)

	offset = putString16(buf, offset, msg.ErrorKind)
	offset = putString16(buf, offset, msg.ErrorMessage)

	// Payload -- 4 bytes length + n bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4
	copy(buf[offset:], msg.Payload)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *envelope.Message
	msg, ok := v.(*envelope.Message)
	if !ok {
		return errors.New("BinaryCodec: v must be *envelope.Message")
	}

	offset := 0
	var err error

	if msg.ID, offset, err = getString16(data, offset); err != nil {
		return err
	}
	if msg.Target, offset, err = getString16(data, offset); err != nil {
		return err
	}

	if offset+1 > len(data) {
		return errors.New("BinaryCodec: truncated status")
	}
	statusLen := int(data[offset])
	offset++
	if offset+statusLen > len(data) {
		return errors.New("BinaryCodec: truncated status")
	}
	msg.Status = string(data[offset : offset+statusLen])
	offset += statusLen

	if msg.ErrorKind, offset, err = getString16(data, offset); err != nil {
		return err
	}
	if msg.ErrorMessage, offset, err = getString16(data, offset); err != nil {
		return err
	}

	if offset+4 > len(data) {
		return errors.New("BinaryCodec: truncated payload length")
	}
	payloadLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if offset+int(payloadLen) > len(data) {
		return errors.New("BinaryCodec: truncated payload")
	}
	msg.Payload = make([]byte, payloadLen)
	copy(msg.Payload, data[offset:offset+int(payloadLen)])

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func putString16(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s)))
	offset += 2
	copy(buf[offset:], s)
	return offset + len(s)
}

func getString16(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", 0, fmt.Errorf("BinaryCodec: truncated length prefix at offset %d", offset)
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+n > len(data) {
		return "", 0, fmt.Errorf("BinaryCodec: truncated string at offset %d", offset)
	}
	return string(data[offset : offset+n]), offset + n, nil
}

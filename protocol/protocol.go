// Package protocol implements the binary frame layer of the sdkbridge
// channel.
//
// The channel is a byte stream (a pipe pair between the supervisor and the
// worker process), so message boundaries must be imposed explicitly: a
// fixed-size 14-byte header followed by a variable-length body. The receiver
// reads the header first to determine the body length, then reads exactly
// that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...   │
//	│ sdb  │01│  │  │ uint32  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "sdb". Used to reject garbage on the pipe immediately
// (e.g. a worker binary that printed to stdout before the runtime took over).
const (
	MagicByte1 byte = 0x73 // 's'
	MagicByte2 byte = 0x64 // 'd'
	MagicByte3 byte = 0x62 // 'b'
	Version    byte = 0x01
	HeaderSize int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)
)

// MsgType distinguishes the frame kinds crossing the channel.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Executor → Worker: one call request
	MsgTypeResponse  MsgType = 1 // Worker → Executor: the matching response
	MsgTypeHeartbeat MsgType = 2 // Executor → Worker: liveness probe, no body
	MsgTypeInit      MsgType = 3 // Worker → Executor: native initialization report
	MsgTypeShutdown  MsgType = 4 // Executor → Worker: graceful stop request
)

// Codec type constants, mirrored from the codec package to avoid a circular
// import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the fixed 14-byte frame header.
type Header struct {
	CodecType byte    // Serialization format of the body: 0=JSON, 1=Binary
	MsgType   MsgType // Request, Response, Heartbeat, Init or Shutdown
	Seq       uint32  // Sequence number; a response must echo its request's seq
	BodyLen   uint32  // Body length in bytes
}

// Encode writes a complete frame (header + body) to w. The caller must hold
// the channel's write lock if multiple goroutines share the writer, otherwise
// frames interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)

	copy(buf[0:3], []byte{MagicByte1, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	// Body may be nil for heartbeat frames
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads one complete frame (header + body) from r. It validates the
// magic number, version, codec type and message type, and uses io.ReadFull
// so partial reads never split a frame. An io.EOF (or io.ErrUnexpectedEOF)
// from the underlying reader is the channel-closed condition the executor
// treats as a worker crash.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType > byte(MsgTypeShutdown) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}

// Package channel implements the duplex, ordered, message-framed transport
// connecting the executor and the worker runtime.
//
// The transport is local-only: in production it is the anonymous pipe pair of
// the spawned worker process (executor writes the worker's stdin, reads its
// stdout); in tests it is an in-memory io.Pipe pair. It is never bound to a
// network address.
//
// The protocol is strictly request/response: the executor never sends a
// second request before the previous one is answered, so no sequence
// multiplexing map is needed; a single blocking Recv suffices. The sending
// mutex still guards writes because heartbeat probes may share the writer
// with the call path.
package channel

import (
	"io"
	"sync"

	"sdkbridge/codec"
	"sdkbridge/envelope"
	"sdkbridge/protocol"
)

// Channel is one endpoint of the duplex transport.
type Channel struct {
	r io.Reader
	w io.Writer
	c []io.Closer

	codec   codec.CodecType
	seq     uint32     // Monotonically increasing sequence number (guarded by sending)
	sending sync.Mutex // Write lock so one frame (header + body) hits the pipe atomically

	closeOnce sync.Once
	closeErr  error
}

// New wraps a reader/writer pair into a channel endpoint. Closers are closed
// (in order) by Close; pass the pipe ends so closing the channel tears down
// the transport and unblocks the peer's Recv with EOF.
func New(r io.Reader, w io.Writer, ct codec.CodecType, closers ...io.Closer) *Channel {
	return &Channel{r: r, w: w, codec: ct, c: closers}
}

// Pipe returns a cross-connected in-memory channel pair. Frames sent on one
// endpoint are received on the other. Used by the in-process worker host and
// by tests; closing either endpoint surfaces as a closed-pipe error on the
// peer, the same signal a dead worker process produces.
func Pipe(ct codec.CodecType) (*Channel, *Channel) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := New(ar, aw, ct, ar, aw)
	b := New(br, bw, ct, br, bw)
	return a, b
}

// NextSeq hands out the sequence number for the next outgoing request.
func (ch *Channel) NextSeq() uint32 {
	ch.sending.Lock()
	defer ch.sending.Unlock()
	ch.seq++
	return ch.seq
}

// Send serializes msg with the channel's codec and writes one frame. A nil
// msg writes a bodyless frame (heartbeats).
func (ch *Channel) Send(msgType protocol.MsgType, seq uint32, msg *envelope.Message) error {
	var body []byte
	if msg != nil {
		cdc := codec.GetCodec(ch.codec)
		var err error
		body, err = cdc.Encode(msg)
		if err != nil {
			return err
		}
	}

	header := protocol.Header{
		CodecType: byte(ch.codec),
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	ch.sending.Lock()
	defer ch.sending.Unlock()
	return protocol.Encode(ch.w, &header, body)
}

// Recv blocks until one complete frame arrives and returns it decoded. A
// transport-level error (EOF, closed pipe) means the peer is gone: this is
// the sole crash signal, and it is always distinguishable from a well-formed
// error response.
func (ch *Channel) Recv() (*protocol.Header, *envelope.Message, error) {
	header, body, err := protocol.Decode(ch.r)
	if err != nil {
		return nil, nil, err
	}

	if header.BodyLen == 0 {
		return header, nil, nil
	}

	msg := &envelope.Message{}
	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	if err := cdc.Decode(body, msg); err != nil {
		return nil, nil, err
	}
	return header, msg, nil
}

// Close tears down the transport. Safe to call more than once; the peer's
// blocked Recv unblocks with an error.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		for _, c := range ch.c {
			if err := c.Close(); err != nil && ch.closeErr == nil {
				ch.closeErr = err
			}
		}
	})
	return ch.closeErr
}

package transport

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameBytes bounds a single frame's body size so a malformed or
// malicious peer can't force an unbounded allocation; spec.md §7 treats a
// frame exceeding this as a protocol violation.
const MaxFrameBytes = 16 * 1024 * 1024

// frameHeaderSize is the fixed 4-byte body-size header spec.md §6 names.
const frameHeaderSize = 4

// Conn frames Messages over an underlying stream using a 4-byte
// big-endian body-size header followed by a msgpack-encoded Message.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

// NewConn wraps rw for framed Message read/write.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw}
}

// ReadMessage blocks for the next frame and decodes it as a Message. It
// returns an error wrapping io.EOF on clean peer close.
func (c *Conn) ReadMessage() (Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return Message{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameBytes {
		return Message{}, errors.Errorf("transport: frame of %d bytes exceeds limit %d", size, MaxFrameBytes)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return Message{}, errors.Wrap(err, "transport: read frame body")
	}

	var msg Message
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return Message{}, errors.Wrap(err, "transport: decode message")
	}
	return msg, nil
}

// WriteMessage encodes msg as msgpack and writes it as a single framed
// write (header + body in one Write call, so partial frames are never
// observable to a concurrent reader on a shared pipe).
func (c *Conn) WriteMessage(msg Message) error {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "transport: encode message")
	}
	if len(body) > MaxFrameBytes {
		return errors.Errorf("transport: outgoing frame of %d bytes exceeds limit %d", len(body), MaxFrameBytes)
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:frameHeaderSize], uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	_, err = c.w.Write(frame)
	return errors.Wrap(err, "transport: write frame")
}

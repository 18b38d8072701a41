package tcp

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/monzo/terrors"

	"github.com/tallyhq/tally/transport"
)

// MaxFrameSize bounds a single frame on the wire.
const MaxFrameSize = 4 << 20

func writeFrame(w io.Writer, f transport.Frame) error {
	b, err := transport.MarshalFrame(f)
	if err != nil {
		return err
	}
	if len(b) > MaxFrameSize {
		return terrors.BadRequest("frame_too_large", "Frame exceeds "+strconv.Itoa(MaxFrameSize)+" bytes", nil)
	}
	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	_, err = w.Write(buf)
	return err
}

func readFrame(r *bufio.Reader) (transport.Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return transport.Frame{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return transport.Frame{}, terrors.BadRequest("frame_too_large", "Frame exceeds "+strconv.Itoa(MaxFrameSize)+" bytes", nil)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return transport.Frame{}, err
	}
	return transport.UnmarshalFrame(b)
}

package filesipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The pipe carries no message boundaries of its own: every JSON document is
// prefixed with a 4-byte little-endian length counting only the payload
// bytes. No trailing delimiter.

// maxFrameSize bounds a single document in either direction. Anything larger
// is almost certainly a desynchronized stream, not a real payload.
const maxFrameSize = 64 << 20

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return &FramingError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit", len(payload))}
	}
	// Header and payload go out in a single Write so bytes from another
	// writer can never land between them.
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// readFrame blocks for the next complete document. A clean close on a frame
// boundary is io.EOF; a close mid-header or mid-payload is a FramingError.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FramingError{Reason: "truncated frame header", Err: err}
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("declared frame length %d exceeds limit", length)}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FramingError{Reason: fmt.Sprintf("short read, wanted %d payload bytes", length), Err: err}
	}
	return payload, nil
}

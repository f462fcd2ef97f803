package network

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// maxFrameSize is the maximum allowed frame payload size (1 MB).
	maxFrameSize = 1 << 20

	// headerSize is the frame header: 1 kind byte + 4 length bytes.
	headerSize = 5
)

// Frame kinds.
const (
	// kindMessage carries a JSON message envelope.
	kindMessage byte = 0x01

	// kindProbe is a heartbeat liveness probe with no payload.
	kindProbe byte = 0x02
)

// writeFrame writes a kind-tagged, length-prefixed frame to the writer.
// Format: [1 byte kind] [4 bytes big-endian length] [payload]
func writeFrame(w io.Writer, kind byte, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(payload), maxFrameSize)
	}

	var header [headerSize]byte
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if len(payload) == 0 {
		return nil
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readFrame reads one frame, returning its kind and payload.
func readFrame(r io.Reader) (byte, []byte, error) {
	var header [headerSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	kind := header[0]
	length := binary.BigEndian.Uint32(header[1:])

	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	if length == 0 {
		return kind, nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read payload: %w", err)
	}

	return kind, payload, nil
}
